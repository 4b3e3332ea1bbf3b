package models

import (
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
)

const otaModelID = 0x0012

const (
	opOtaNotifyUpdate = 0xC0
	opOtaStatus       = 0xC2
	opOtaStoreUpdate  = 0xC4
	opOtaRelayUpdate  = 0xC6
)

// Ota implements the Ota vendor model: the firmware
// over-the-air update handshake — notify, status check, store, and
// relay — followed by a scheduled reboot-to-bootloader task.
type Ota struct {
	tx     Sender
	bus    *eventbus.Bus
	queue  *taskqueue.Queue
	taskGw *TaskGw
	log    *zap.Logger

	pendingMu sync.Mutex
	pending   []*node.Node
}

// NewOta builds the model.
func NewOta(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, taskGw *TaskGw, log *zap.Logger) *Ota {
	return &Ota{tx: tx, bus: bus, queue: queue, taskGw: taskGw, log: log.Named("ota")}
}

// ClearPendingNodes drops the tracked set of nodes awaiting reboot into
// bootloader mode.
func (m *Ota) ClearPendingNodes() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending = nil
}

func (m *Ota) notifyUpdateSend(n *node.Node, updateType, versionMajor, versionMinor, versionFix byte, sdVersion uint16, size uint32) {
	buf := wire.EncodeModelOpcode3(opOtaNotifyUpdate, otaModelID)
	buf = append(buf, updateType, versionMajor, versionMinor, versionFix)
	buf = binary.LittleEndian.AppendUint16(buf, sdVersion)
	buf = binary.LittleEndian.AppendUint32(buf, size)
	m.tx.SendToNode(buf, n)
}

func (m *Ota) getStatus(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode3(opOtaStatus, otaModelID), n)
}

func (m *Ota) storeUpdateSend(n *node.Node, size uint32) {
	buf := binary.LittleEndian.AppendUint32(wire.EncodeModelOpcode3(opOtaStoreUpdate, otaModelID), size)
	m.tx.SendToNode(buf, n)
}

func (m *Ota) relayUpdateSend(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode3(opOtaRelayUpdate, otaModelID), n)
}

// updateTask schedules the node's reboot into bootloader mode.
func (m *Ota) updateTask(n *node.Node, rebootAt uint32) {
	m.queue.AddTask(m.taskGw.NewTask(n, TaskOpUpdate, rebootAt, 0, ClockReal))
}

func statusByte(p any) (byte, bool) {
	raw, ok := p.(events.RawPayload)
	if !ok || len(raw.Data) < 1 {
		return 0, false
	}
	return raw.Data[0], true
}

// UpdateNotify schedules notifying n of an available update; on a
// success status of 0, the node's reboot-to-bootloader task is
// scheduled automatically.
func (m *Ota) UpdateNotify(n *node.Node, updateType, versionMajor, versionMinor, versionFix byte, sdVersion uint16, size uint32, rebootAt uint32) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "ota_notify",
		Send:         func() { m.notifyUpdateSend(n, updateType, versionMajor, versionMinor, versionFix, sdVersion, size) },
		SuccessOn:    []events.Kind{events.KindOtaVersionAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(ev events.Event) {
			status, _ := statusByte(ev.Payload)
			m.log.Info("update notify rsp", zap.String("mac", n.MACString()), zap.Uint8("status", status))
			if status == 0 {
				m.updateTask(n, rebootAt)
				m.pendingMu.Lock()
				m.pending = append(m.pending, n)
				m.pendingMu.Unlock()
			}
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "ota_notify"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}

// Status schedules an update-status query.
func (m *Ota) Status(n *node.Node) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "ota_status",
		Send:         func() { m.getStatus(n) },
		SuccessOn:    []events.Kind{events.KindOtaStatusAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(ev events.Event) {
			status, _ := statusByte(ev.Payload)
			m.log.Info("ota status received", zap.String("mac", n.MACString()), zap.Uint8("status", status))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "ota_status"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}

// StoreUpdate schedules committing the staged update image of the
// given size; a success status of 0 schedules the reboot task.
func (m *Ota) StoreUpdate(n *node.Node, size uint32, rebootAt uint32) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "ota_store",
		Send:         func() { m.storeUpdateSend(n, size) },
		SuccessOn:    []events.Kind{events.KindOtaStoreAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(ev events.Event) {
			status, _ := statusByte(ev.Payload)
			m.log.Info("store update rsp", zap.String("mac", n.MACString()), zap.Uint8("status", status))
			if status == 0 {
				m.updateTask(n, rebootAt)
			}
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "ota_store"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}

// RelayUpdate schedules relaying a staged image to n's mesh neighbours;
// a success status of 0 schedules the reboot task.
func (m *Ota) RelayUpdate(n *node.Node, rebootAt uint32) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "ota_relay",
		Send:         func() { m.relayUpdateSend(n) },
		SuccessOn:    []events.Kind{events.KindOtaRelayAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(ev events.Event) {
			status, _ := statusByte(ev.Payload)
			m.log.Info("relay update rsp", zap.String("mac", n.MACString()), zap.Uint8("status", status))
			if status == 0 {
				m.updateTask(n, rebootAt)
			}
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "ota_relay"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
