package models

import (
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
	"ttgw-go/internal/x/timex"
)

const wakeUpModelID = 0x0000

const (
	opWakeSleep    = 0xC1
	opWakeWait     = 0xC2
	opWakeAlive    = 0xC7
	opWakeResetAck = 0xC6
)

// DefaultSleepTime is the sleep period (seconds) assumed until a node's
// rate is explicitly changed via TaskGw.
const DefaultSleepTime uint32 = 600

var resetReasons = map[byte]string{
	0: "UNKNOWN", 1: "RESETPIN", 2: "DOG", 3: "SREQ", 4: "LOCKUP",
	5: "OFF", 6: "LPCOMP", 7: "DIF", 8: "NFC", 9: "VBUS", 10: "MULTIPLE",
}

// WakeUp implements the WakeUp vendor model: wake/sleep/
// alive/reset-ack commands to low-power nodes. It also satisfies
// taskqueue.WakeUp, since the Task Queue constructs these tasks itself
// rather than receiving them from a caller.
type WakeUp struct {
	tx        Sender
	bus       *eventbus.Bus
	log       *zap.Logger
	sleepTime uint32
}

// NewWakeUp builds the WakeUp model.
func NewWakeUp(tx Sender, bus *eventbus.Bus, log *zap.Logger) *WakeUp {
	return &WakeUp{tx: tx, bus: bus, log: log.Named("wakeup"), sleepTime: DefaultSleepTime}
}

// ResetReasonString renders a firmware reset-reason code for logging.
func (m *WakeUp) ResetReasonString(code byte) string {
	if s, ok := resetReasons[code]; ok {
		return s
	}
	return "UNKNOWN"
}

// SleepTime returns the gateway's currently configured wake period.
func (m *WakeUp) SleepTime() uint32 { return m.sleepTime }

// SetSleepTime updates the period the gateway expects nodes to use; it
// does not itself reconfigure any node (TaskGw does that).
func (m *WakeUp) SetSleepTime(seconds uint32) { m.sleepTime = seconds }

func (m *WakeUp) sendSleep(n *node.Node, configured bool) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opWakeSleep, wakeUpModelID), boolByte(configured)), n)
}

func (m *WakeUp) sendAlive(n *node.Node, configured bool) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opWakeAlive, wakeUpModelID), boolByte(configured)), n)
}

func (m *WakeUp) sendWait(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode3(opWakeWait, wakeUpModelID), n)
}

// ResetAck acknowledges a node's WAKE_RESET once it has entered a
// configuration session.
func (m *WakeUp) ResetAck(n *node.Node) {
	m.log.Debug("wake reset ack", zap.Uint16("addr", n.UnicastAddr))
	m.tx.SendToNode(wire.EncodeModelOpcode3(opWakeResetAck, wakeUpModelID), n)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// NewWakeTask builds the task that wakes a low-power node: no timeout
// is armed (a non-responding node simply never progresses and the
// WAKE_NOTIFY it eventually sends drives a fresh attempt), matching the
// source exactly.
func (m *WakeUp) NewWakeTask(n *node.Node) taskqueue.Task {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:      n,
		Name:      "wake",
		Send:      func() { m.sendWait(n) },
		SuccessOn: []events.Kind{events.KindWakeAckWait},
		FailureOn: []events.Kind{events.KindWakeNotify},
		Bus:       m.bus,
		OnSuccess: func(events.Event) { m.log.Info("node awaked", zap.String("mac", n.MACString())) },
	})
	return t.WithRole(taskqueue.RoleWake)
}

// NewSleepTask builds the task that puts a low-power node back to
// sleep; a 10.5s timeout with no reply is treated as success (the node
// is presumed to have gone to sleep already), matching the source.
func (m *WakeUp) NewSleepTask(n *node.Node) taskqueue.Task {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:      n,
		Name:      "sleep",
		Send:      func() { m.sendSleep(n, true) },
		SuccessOn: []events.Kind{events.KindWakeAckSleep, events.KindTaskTimeout},
		FailureOn: []events.Kind{events.KindWakeNotify},
		Timeout:   10500 * time.Millisecond,
		Bus:       m.bus,
		OnSuccess: func(events.Event) {
			n.SleepTS = timex.NowMs()
			m.log.Debug("node slept", zap.String("mac", n.MACString()), zap.Uint32("period", m.sleepTime))
		},
	})
	return t.WithRole(taskqueue.RoleSleep)
}

// NewAliveTask builds the task that keeps a mains-powered node's
// session alive; same timeout-as-success shape as Sleep.
func (m *WakeUp) NewAliveTask(n *node.Node) taskqueue.Task {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:      n,
		Name:      "alive",
		Send:      func() { m.sendAlive(n, true) },
		SuccessOn: []events.Kind{events.KindWakeAckAlive, events.KindTaskTimeout},
		FailureOn: []events.Kind{events.KindWakeNotify},
		Timeout:   10500 * time.Millisecond,
		Bus:       m.bus,
		OnSuccess: func(events.Event) { m.log.Debug("node alive", zap.String("mac", n.MACString())) },
	})
	return t.WithRole(taskqueue.RoleAlive)
}
