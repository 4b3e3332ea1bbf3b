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

const datetimeModelID = 0x000A

const opDatetime = 0xC1

// DefaultDatetimePeriod is the node's default time-resync interval, 24
// hours.
const DefaultDatetimePeriod uint32 = 86400

// Datetime implements the Datetime vendor model: the
// gateway answers a node's time requests with its own wall clock.
type Datetime struct {
	tx    Sender
	bus   *eventbus.Bus
	queue *taskqueue.Queue
	log   *zap.Logger
}

// NewDatetime builds the model and subscribes its request handler.
func NewDatetime(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, log *zap.Logger) *Datetime {
	m := &Datetime{tx: tx, bus: bus, queue: queue, log: log.Named("datetime")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Datetime) send(n *node.Node, unix uint32) {
	buf := wire.EncodeModelOpcode3(opDatetime, datetimeModelID)
	buf = append(buf, byte(unix), byte(unix>>8), byte(unix>>16), byte(unix>>24))
	m.tx.SendToNode(buf, n)
}

func (m *Datetime) handle(ev events.Event) {
	if ev.Kind != events.KindDatetimeReq {
		return
	}
	m.SendDatetime(ev.Node)
}

// SendDatetime schedules sending the gateway's current time to n.
func (m *Datetime) SendDatetime(n *node.Node) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "datetime",
		Send:         func() { m.send(n, uint32(time.Now().Unix())) },
		SuccessOn:    []events.Kind{events.KindDatetimeAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Debug("datetime sent", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "datetime"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
