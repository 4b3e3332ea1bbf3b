package taskqueue

import (
	"testing"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
)

type recordingRescheduler struct {
	rescheduled []*node.Node
}

func (r *recordingRescheduler) RescheduleTasks(n *node.Node) {
	r.rescheduled = append(r.rescheduled, n)
}

func newTestSimpleTask(t *testing.T, retryLimited bool, onExhausted func(*node.Node)) (*SimpleTask, *int, *recordingRescheduler) {
	t.Helper()
	sends := 0
	resched := &recordingRescheduler{}
	n := node.NewNode([6]byte{1}, [16]byte{1}, 21)
	task := NewSimpleTask(SimpleTaskSpec{
		Node:         n,
		Name:         "test-task",
		Send:         func() { sends++ },
		SuccessOn:    []events.Kind{events.KindAppEvent},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		RetryLimited: retryLimited,
		Bus:          eventbus.New(zap.NewNop()),
		Resched:      resched,
		OnExhausted:  onExhausted,
	})
	return task, &sends, resched
}

func TestSimpleTaskExecuteSends(t *testing.T) {
	task, sends, _ := newTestSimpleTask(t, true, nil)
	task.Execute()
	if *sends != 1 {
		t.Fatalf("got %d sends, want 1", *sends)
	}
}

func TestSimpleTaskHandlerSuccessReturnsDone(t *testing.T) {
	task, _, _ := newTestSimpleTask(t, true, nil)
	task.Execute()
	if done := task.Handler(events.Event{Kind: events.KindAppEvent}); !done {
		t.Fatal("expected Handler to report done on a success event")
	}
}

func TestSimpleTaskRetriesUntilExhausted(t *testing.T) {
	exhaustedFor := []*node.Node(nil)
	task, sends, resched := newTestSimpleTask(t, true, func(n *node.Node) {
		exhaustedFor = append(exhaustedFor, n)
	})
	task.Execute()

	for i := 0; i < maxRetries-1; i++ {
		if done := task.Handler(events.Event{Kind: events.KindTaskTimeout}); done {
			t.Fatalf("retry %d: Handler should not report done while retries remain", i)
		}
	}
	if *sends != maxRetries {
		t.Fatalf("got %d sends after %d retries, want %d", *sends, maxRetries-1, maxRetries)
	}

	done := task.Handler(events.Event{Kind: events.KindTaskTimeout})
	if done {
		t.Fatal("an exhausted retry-limited task must return false, not true, on giving up")
	}
	if len(exhaustedFor) != 1 {
		t.Fatalf("expected OnExhausted to fire exactly once, got %d", len(exhaustedFor))
	}
	if len(resched.rescheduled) != 1 {
		t.Fatal("expected RescheduleTasks to be called once the task gives up")
	}
}

func TestSimpleTaskNonRetryLimitedRetriesForever(t *testing.T) {
	task, sends, resched := newTestSimpleTask(t, false, nil)
	task.Execute()
	for i := 0; i < maxRetries+5; i++ {
		if done := task.Handler(events.Event{Kind: events.KindTaskTimeout}); done {
			t.Fatalf("retry %d: a non-retry-limited task should never report done on failure", i)
		}
	}
	if *sends != maxRetries+6 {
		t.Fatalf("got %d sends, want %d", *sends, maxRetries+6)
	}
	if len(resched.rescheduled) != 0 {
		t.Fatal("a non-retry-limited task must never reschedule")
	}
}

func TestSimpleTaskIgnoresUnrelatedEvents(t *testing.T) {
	task, _, _ := newTestSimpleTask(t, true, nil)
	task.Execute()
	if done := task.Handler(events.Event{Kind: events.KindEcho}); done {
		t.Fatal("an unrelated event kind must not be treated as success or failure")
	}
}
