package models

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ttgw-go/errcode"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
)

const lightModelID = 0x0008

const (
	opLight = 0xC0
	opBlink = 0xC2
)

// Light implements the Light vendor model: RGB LED
// control, with an optional blink repeat count.
type Light struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewLight builds the model.
func NewLight(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Light {
	return &Light{tx: tx, bus: bus, queue: queue, log: log.Named("light")}
}

func parseHexColor(color string) (r, g, b byte, err error) {
	var ri, gi, bi int
	if _, err := fmt.Sscanf(color, "#%02x%02x%02x", &ri, &gi, &bi); err != nil {
		return 0, 0, 0, err
	}
	return byte(ri), byte(gi), byte(bi), nil
}

func (m *Light) light(n *node.Node, color string) error {
	r, g, b, err := parseHexColor(color)
	if err != nil {
		return err
	}
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opLight, lightModelID), r, g, b), n)
	return nil
}

func (m *Light) blink(n *node.Node, color string, rep uint16) error {
	r, g, b, err := parseHexColor(color)
	if err != nil {
		return err
	}
	buf := append(wire.EncodeModelOpcode3(opBlink, lightModelID), r, g, b)
	buf = binary.LittleEndian.AppendUint16(buf, rep)
	m.tx.SendToNode(buf, n)
	return nil
}

// SetLed schedules a solid LED color change; color is "#RRGGBB".
func (m *Light) SetLed(n *node.Node, color string) error {
	return m.scheduleLight(n, color, false, 0)
}

// SetBlink schedules a blinking LED color change with rep repeats (0 =
// indefinite).
func (m *Light) SetBlink(n *node.Node, color string, rep uint16) error {
	return m.scheduleLight(n, color, true, rep)
}

// StopBlink stops any running blink by requesting a solid "off" blink.
func (m *Light) StopBlink(n *node.Node) error {
	return m.scheduleLight(n, "#000000", true, 0)
}

func (m *Light) scheduleLight(n *node.Node, color string, blink bool, rep uint16) error {
	if _, _, _, err := parseHexColor(color); err != nil {
		return errcode.New("set_light", errcode.InvalidArgument, fmt.Errorf("invalid color %q: %w", color, err))
	}
	send := func() { _ = m.light(n, color) }
	if blink {
		send = func() { _ = m.blink(n, color, rep) }
	}
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "light",
		Send:         send,
		SuccessOn:    []events.Kind{events.KindLightAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("led color changed", zap.String("mac", n.MACString()), zap.String("color", color))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "light"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
	return nil
}
