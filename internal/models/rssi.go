package models

import (
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
)

const rssiModelID = 0x000E

const (
	opRssiNeighbrReq = 0xC1
	opRssiStatusReq  = 0xC3
	opRssiPing       = 0xC5
	opRssiPingAck    = 0xC6
)

// Rssi implements the Rssi vendor model: neighbour table
// and link-quality reporting, plus a reflective ping used for
// connectivity checks.
type Rssi struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewRssi builds the model and subscribes its handlers.
func NewRssi(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Rssi {
	m := &Rssi{tx: tx, bus: bus, queue: queue, log: log.Named("rssi")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Rssi) neighbrReq(n *node.Node)  { m.tx.SendToNode(wire.EncodeModelOpcode3(opRssiNeighbrReq, rssiModelID), n) }
func (m *Rssi) statusReq(n *node.Node)   { m.tx.SendToNode(wire.EncodeModelOpcode3(opRssiStatusReq, rssiModelID), n) }
func (m *Rssi) ping(n *node.Node)        { m.tx.SendToNode(wire.EncodeModelOpcode3(opRssiPing, rssiModelID), n) }
func (m *Rssi) pingAck(n *node.Node)     { m.tx.SendToNode(wire.EncodeModelOpcode3(opRssiPingAck, rssiModelID), n) }

func (m *Rssi) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindRssiPing:
		m.pingAck(ev.Node)
	case events.KindRssiStatusAck:
		p, ok := ev.Payload.(events.RawPayload)
		if ok && len(p.Data) >= 1 {
			m.log.Debug("rssi status", zap.Int8("rssi", int8(p.Data[0])))
		}
	case events.KindRssiPingAck:
		m.log.Info("ping ack", zap.String("mac", ev.Node.MACString()))
	}
}

// GetNeighbrRssiData schedules a neighbour-table request.
func (m *Rssi) GetNeighbrRssiData(n *node.Node) {
	m.queue.AddTask(m.simpleTask(n, "rssi_neighbr", func() { m.neighbrReq(n) }, events.KindRssiNeighbrAck))
}

// GetStatusRssiData schedules a link-RSSI status request.
func (m *Rssi) GetStatusRssiData(n *node.Node) {
	m.queue.AddTask(m.simpleTask(n, "rssi_status", func() { m.statusReq(n) }, events.KindRssiStatusAck))
}

// PingToNode schedules a connectivity ping.
func (m *Rssi) PingToNode(n *node.Node) {
	m.queue.AddTask(m.simpleTask(n, "rssi_ping", func() { m.ping(n) }, events.KindRssiPingAck))
}

func (m *Rssi) simpleTask(n *node.Node, name string, send func(), successKind events.Kind) taskqueue.Task {
	return taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         name,
		Send:         send,
		SuccessOn:    []events.Kind{successKind},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      10 * time.Second,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info(name+" succeeded", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", name), zap.String("mac", n.MACString()))
		},
	})
}
