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

const tapModelID = 0x0006

const opTapState = 0xC1

// Tap implements the Tap vendor model: the capacitive-tap
// sensor's accelerometer enable/disable switch and tap notifications.
type Tap struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewTap builds the model and subscribes its notification handler.
func NewTap(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Tap {
	m := &Tap{tx: tx, bus: bus, queue: queue, log: log.Named("tap")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Tap) state(n *node.Node, state byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opTapState, tapModelID), state), n)
}

func (m *Tap) handle(ev events.Event) {
	if ev.Kind != events.KindTapNotify {
		return
	}
	p, ok := ev.Payload.(events.RawPayload)
	if !ok || len(p.Data) < 3 {
		return
	}
	m.log.Debug("tap notify", zap.String("mac", ev.Node.MACString()),
		zap.Uint8("type", p.Data[0]), zap.Uint8("color", p.Data[1]), zap.Uint8("tid", p.Data[2]))
}

// SetAccelState schedules enabling or disabling the accelerometer.
func (m *Tap) SetAccelState(n *node.Node, state byte) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "tap_accel",
		Send:         func() { m.state(n, state) },
		SuccessOn:    []events.Kind{events.KindTapAckConf},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("accel state changed", zap.String("mac", n.MACString()), zap.Uint8("state", state))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "tap_accel"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
