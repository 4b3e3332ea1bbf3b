package models

import (
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/replay"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
)

const opNodeReset = 0x8049

// ConfigurationClient implements the standard Configuration Client's
// Node Reset operation: it carries no vendor ID, so its opcode is the
// 2-byte standard form, big-endian.
type ConfigurationClient struct {
	tx    Sender
	bus   *eventbus.Bus
	cache *replay.Cache
	db    node.Database
	log   *zap.Logger
	queue *taskqueue.Queue
}

// NewConfigurationClient builds the model.
func NewConfigurationClient(tx Sender, bus *eventbus.Bus, cache *replay.Cache, db node.Database, queue *taskqueue.Queue, log *zap.Logger) *ConfigurationClient {
	return &ConfigurationClient{tx: tx, bus: bus, cache: cache, db: db, queue: queue, log: log.Named("configclient")}
}

func (m *ConfigurationClient) send(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode2(opNodeReset), n)
}

// ResetNode schedules a Node Reset for n, removing it from the replay
// cache and node database once the device confirms (or fails to
// respond within the timeout, which is treated as success here exactly
// as the source does).
func (m *ConfigurationClient) ResetNode(n *node.Node) {
	m.log.Info("scheduled reset", zap.String("mac", n.MACString()))
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:      n,
		Name:      "reset",
		Send:      func() { m.send(n) },
		SuccessOn: []events.Kind{events.KindNodeReset, events.KindTaskTimeout},
		FailureOn: []events.Kind{events.KindWakeNotify},
		Timeout:   10500 * time.Millisecond,
		Bus:       m.bus,
		OnSuccess: func(ev events.Event) {
			m.log.Info("node reset and removed", zap.String("mac", n.MACString()))
			m.cache.Remove(n.UnicastAddr)
			m.db.RemoveNode(n)
		},
	})
	m.queue.AddTask(t.WithRole(taskqueue.RoleReset))
}
