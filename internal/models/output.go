package models

import (
	"math"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
)

const outputModelID = 0x001E

const (
	opOutputDac = 0xC0
	opOutputDig = 0xC2
)

// Output implements the Output vendor model: the
// analogue DAC output and a digital (on/off) output.
type Output struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewOutput builds the model and subscribes its passive ack handlers.
func NewOutput(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Output {
	m := &Output{tx: tx, bus: bus, queue: queue, log: log.Named("output")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Output) dac(n *node.Node, value float32) {
	bits := math.Float32bits(value)
	buf := wire.EncodeModelOpcode3(opOutputDac, outputModelID)
	buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	m.tx.SendToNode(buf, n)
}

func (m *Output) dig(n *node.Node, status byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opOutputDig, outputModelID), status), n)
}

func (m *Output) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindOutputDacAck:
		m.log.Debug("dac ack received")
	case events.KindOutputDigAck:
		m.log.Debug("digital output ack received")
	}
}

// SetDac schedules a DAC analogue output change.
func (m *Output) SetDac(n *node.Node, value float32) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "output_dac",
		Send:         func() { m.dac(n, value) },
		SuccessOn:    []events.Kind{events.KindOutputDacAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("dac value changed", zap.String("mac", n.MACString()), zap.Float32("value", value))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "output_dac"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}

// SetDigital schedules a digital output change.
func (m *Output) SetDigital(n *node.Node, status byte) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "output_dig",
		Send:         func() { m.dig(n, status) },
		SuccessOn:    []events.Kind{events.KindOutputDigAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("digital output changed", zap.String("mac", n.MACString()), zap.Uint8("status", status))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "output_dig"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
