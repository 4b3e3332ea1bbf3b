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

const hwmModelID = 0x0016

const opHwmReq = 0xC1

// Hwm implements the Hwm vendor model: the hardware
// self-test report (heater, shutdown, flash, pressure sensor statuses).
type Hwm struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewHwm builds the model and subscribes its telemetry handler.
func NewHwm(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Hwm {
	m := &Hwm{tx: tx, bus: bus, queue: queue, log: log.Named("hwm")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Hwm) request(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode3(opHwmReq, hwmModelID), n)
}

func (m *Hwm) handle(ev events.Event) {
	if ev.Kind != events.KindHwmData {
		return
	}
	p, ok := ev.Payload.(events.RawPayload)
	if !ok || len(p.Data) < 4 {
		return
	}
	m.log.Debug("selftest data", zap.String("mac", ev.Node.MACString()),
		zap.Uint8("hts", p.Data[0]), zap.Uint8("sht", p.Data[1]),
		zap.Uint8("fxx", p.Data[2]), zap.Uint8("lps", p.Data[3]))
}

// GetSelftestData schedules a hardware self-test report request.
func (m *Hwm) GetSelftestData(n *node.Node) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "hwm_get",
		Send:         func() { m.request(n) },
		SuccessOn:    []events.Kind{events.KindHwmAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      10 * time.Second,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("selftest received", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "hwm_get"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
