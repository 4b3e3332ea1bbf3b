package models

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
)

const beaconModelID = 0x0018

const (
	opBeaconStart = 0xC0
	opBeaconStop  = 0xC2
)

// Beacon implements the Beacon vendor model: starts and
// stops a node's periodic connectable advertisement.
type Beacon struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger

	tidMu sync.Mutex
	tid   byte
}

// NewBeacon builds the model and subscribes its passive ack handler.
func NewBeacon(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Beacon {
	m := &Beacon{tx: tx, bus: bus, queue: queue, log: log.Named("beacon")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Beacon) nextTID() byte {
	m.tidMu.Lock()
	defer m.tidMu.Unlock()
	tid := m.tid
	if m.tid < 100 {
		m.tid++
	} else {
		m.tid = 0
	}
	return tid
}

func (m *Beacon) start(n *node.Node, periodMS uint16, tid byte) {
	buf := append(wire.EncodeModelOpcode3(opBeaconStart, beaconModelID), byte(periodMS), byte(periodMS>>8), tid)
	m.tx.SendToNode(buf, n)
}

func (m *Beacon) stop(n *node.Node, tid byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opBeaconStop, beaconModelID), tid), n)
}

func (m *Beacon) handle(ev events.Event) {
	p, ok := ev.Payload.(events.RawPayload)
	if !ok || len(p.Data) < 1 {
		return
	}
	switch ev.Kind {
	case events.KindBeaconStartAck:
		m.log.Debug("beacon start ack", zap.Uint8("tid", p.Data[0]))
	case events.KindBeaconStopAck:
		m.log.Debug("beacon stop ack", zap.Uint8("tid", p.Data[0]))
	}
}

// StartBeacon schedules starting a periodic beacon at periodMS.
func (m *Beacon) StartBeacon(n *node.Node, periodMS uint16) {
	tid := m.nextTID()
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "beacon_start",
		Send:         func() { m.start(n, periodMS, tid) },
		SuccessOn:    []events.Kind{events.KindBeaconStartAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("beacon started", zap.String("mac", n.MACString()), zap.Uint16("period_ms", periodMS))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "beacon_start"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}

// StopBeacon schedules stopping the beacon.
func (m *Beacon) StopBeacon(n *node.Node) {
	tid := m.nextTID()
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "beacon_stop",
		Send:         func() { m.stop(n, tid) },
		SuccessOn:    []events.Kind{events.KindBeaconStopAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("beacon stopped", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "beacon_stop"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
