package models

import (
	"testing"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
)

type stubWakeUp struct{}

func (stubWakeUp) NewWakeTask(n *node.Node) taskqueue.Task   { return nil }
func (stubWakeUp) NewSleepTask(n *node.Node) taskqueue.Task  { return nil }
func (stubWakeUp) NewAliveTask(n *node.Node) taskqueue.Task  { return nil }
func (stubWakeUp) SleepTime() uint32                         { return 0 }
func (stubWakeUp) ResetAck(n *node.Node)                     {}
func (stubWakeUp) ResetReasonString(code byte) string        { return "" }

type recordingSender struct {
	sent [][]byte
}

func (s *recordingSender) SendToNode(data []byte, n *node.Node) {
	s.sent = append(s.sent, data)
}
func (s *recordingSender) SendToAddr(data []byte, addr uint16, lowPriority bool) {
	s.sent = append(s.sent, data)
}

func newTestQueue() *taskqueue.Queue {
	bus := eventbus.New(zap.NewNop())
	return taskqueue.New(bus, stubWakeUp{}, func() bool { return false }, func() bool { return false },
		func(*node.Node) bool { return true }, func() bool { return false }, zap.NewNop())
}

func TestSetPowerRejectsInvalidDCDCMode(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	queue := newTestQueue()
	p := NewPower(&recordingSender{}, bus, queue, zap.NewNop())
	n := node.NewNode([6]byte{1}, [16]byte{1}, 21)

	if err := p.SetPower(n, 0, 2); err == nil {
		t.Fatal("expected an error for dcdc_mode > 1")
	}
}

func TestSetPowerAcceptsValidModesAndEnqueues(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	queue := newTestQueue()
	tx := &recordingSender{}
	p := NewPower(tx, bus, queue, zap.NewNop())
	n := node.NewNode([6]byte{1}, [16]byte{31}, 21) // board id 31: Thor, mains-powered

	for _, mode := range []byte{0, 1} {
		if err := p.SetPower(n, 10, mode); err != nil {
			t.Fatalf("SetPower(mode=%d): unexpected error %v", mode, err)
		}
	}
	if len(tx.sent) != 1 {
		t.Fatalf("expected 1 frame sent (only the head-of-line task executes immediately), got %d", len(tx.sent))
	}
	if got := len(queue.GetTasks(n)); got != 2 {
		t.Fatalf("expected both power tasks queued for the node, got %d", got)
	}
}
