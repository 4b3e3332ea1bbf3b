package models

import (
	"time"

	"go.uber.org/zap"

	"ttgw-go/errcode"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
	"ttgw-go/internal/x/mathx"
)

const powerModelID = 0x0014

const opPower = 0xC0

// Power implements the Power vendor model: radio
// transmit power and DC-DC regulator mode.
type Power struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewPower builds the model and subscribes its passive ack handler.
func NewPower(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Power {
	m := &Power{tx: tx, bus: bus, queue: queue, log: log.Named("power")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Power) power(n *node.Node, radioPower int8, dcdcMode byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opPower, powerModelID), byte(radioPower), dcdcMode), n)
}

func (m *Power) handle(ev events.Event) {
	if ev.Kind == events.KindPowerAck {
		m.log.Debug("power ack received")
	}
}

// SetPower schedules a transmit-power and DC-DC mode change. dcdcMode
// must be 0 (disabled) or 1 (enabled): the firmware silently ignores
// any other value, so this is validated here rather than sent and
// forgotten.
func (m *Power) SetPower(n *node.Node, radioPower int8, dcdcMode byte) error {
	if !mathx.Between(dcdcMode, 0, 1) {
		return errcode.New("set_power", errcode.InvalidArgument, nil)
	}
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "power",
		Send:         func() { m.power(n, radioPower, dcdcMode) },
		SuccessOn:    []events.Kind{events.KindPowerAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("power config changed", zap.String("mac", n.MACString()),
				zap.Int8("radio_power", radioPower), zap.Uint8("dcdc_mode", dcdcMode))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "power"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
	return nil
}
