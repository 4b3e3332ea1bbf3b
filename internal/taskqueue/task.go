// Package taskqueue implements the Task Queue: the
// per-node state machine that serializes model operations, coordinates
// wake/sleep with low-power nodes, and runs bounded configuration
// sessions.
package taskqueue

import (
	"time"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
)

// maxRetries is the shared retry ceiling for every retry-limited task.
const maxRetries = 4

// Task is the single contract every model operation implements.
// Handler is called with every event while the task is head-of-line; it
// returns true when the queue should pop it (success only — a task that
// is retrying, or that gives up and asks to be rescheduled, returns
// false and the queue leaves it in place or clears the whole queue via
// the Rescheduler it was built with).
type Task interface {
	Node() *node.Node
	Execute()
	Handler(ev events.Event) (done bool)
	String() string
}

// Rescheduler lets a task ask the owning queue to reschedule or cancel
// its node's queue after giving up, without importing the queue package
// from model code (it is implemented by *Queue).
type Rescheduler interface {
	RescheduleTasks(n *node.Node)
}

// Retry is the shared attempt counter embedded by every retry-limited
// task variant.
type Retry struct {
	attempts int
}

// NewRetry returns a fresh counter with the standard ceiling.
func NewRetry() *Retry { return &Retry{} }

// Attempt records one execution attempt.
func (r *Retry) Attempt() { r.attempts++ }

// Exhausted reports whether the task has used all its retries.
func (r *Retry) Exhausted() bool { return r.attempts >= maxRetries }

// ArmTimeout schedules a TaskTimeout event for n after d and returns a
// cancel function, mirroring the original's TimeEvent/TaskTimeout (a
// threading.Timer that posts an event on expiry) with time.AfterFunc
// instead of a busy-wait.
func ArmTimeout(bus *eventbus.Bus, n *node.Node, d time.Duration) (cancel func()) {
	timer := time.AfterFunc(d, func() {
		bus.Publish(events.Event{Kind: events.KindTaskTimeout, Node: n})
	})
	return func() { timer.Stop() }
}

// SimpleTask implements the uniform "transmit, await ack event(s), retry
// on timeout" shape used by nearly every model task. Models supply the wire send and the success/exhaustion
// callbacks; SimpleTask owns the retry bookkeeping and timer.
//
// retryLimited distinguishes the two shapes seen in the source: most
// tasks give up after maxRetries and ask the queue to reschedule
// (Tap/Light/Power/Hwm/Rssi/Datetime/TaskGw/Ota/Beacon/Pwmt/Output/
// NrfTemp); a few (WakeUp's Sleep/Alive, ConfigurationClient's Reset)
// retry unconditionally on their designated error event and treat a
// timeout as success instead of failure, matching the source exactly.
type SimpleTask struct {
	node *node.Node
	name string

	send    func()
	success map[events.Kind]struct{}
	failure map[events.Kind]struct{}

	timeout      time.Duration
	retryLimited bool

	bus     *eventbus.Bus
	resched Rescheduler

	retry  *Retry
	cancel func()

	onSuccess   func(ev events.Event)
	onExhausted func(n *node.Node)

	role Role
}

// SimpleTaskSpec configures a NewSimpleTask call.
type SimpleTaskSpec struct {
	Node         *node.Node
	Name         string
	Send         func()
	SuccessOn    []events.Kind
	FailureOn    []events.Kind
	Timeout      time.Duration
	RetryLimited bool
	Bus          *eventbus.Bus
	Resched      Rescheduler
	OnSuccess    func(ev events.Event)
	OnExhausted  func(n *node.Node)
}

// NewSimpleTask builds a SimpleTask from spec.
func NewSimpleTask(spec SimpleTaskSpec) *SimpleTask {
	succ := make(map[events.Kind]struct{}, len(spec.SuccessOn))
	for _, k := range spec.SuccessOn {
		succ[k] = struct{}{}
	}
	fail := make(map[events.Kind]struct{}, len(spec.FailureOn))
	for _, k := range spec.FailureOn {
		fail[k] = struct{}{}
	}
	return &SimpleTask{
		node:         spec.Node,
		name:         spec.Name,
		send:         spec.Send,
		success:      succ,
		failure:      fail,
		timeout:      spec.Timeout,
		retryLimited: spec.RetryLimited,
		bus:          spec.Bus,
		resched:      spec.Resched,
		retry:        NewRetry(),
		onSuccess:    spec.OnSuccess,
		onExhausted:  spec.OnExhausted,
	}
}

func (t *SimpleTask) Node() *node.Node { return t.node }
func (t *SimpleTask) String() string   { return t.name }

// Execute transmits the request and arms the per-attempt timeout.
func (t *SimpleTask) Execute() {
	t.retry.Attempt()
	t.send()
	if t.timeout > 0 {
		t.cancel = ArmTimeout(t.bus, t.node, t.timeout)
	}
}

func (t *SimpleTask) Handler(ev events.Event) bool {
	if _, ok := t.success[ev.Kind]; ok {
		if t.cancel != nil {
			t.cancel()
		}
		if t.onSuccess != nil {
			t.onSuccess(ev)
		}
		return true
	}
	if _, ok := t.failure[ev.Kind]; ok {
		if t.cancel != nil {
			t.cancel()
		}
		if t.retryLimited && t.retry.Exhausted() {
			if t.onExhausted != nil {
				t.onExhausted(t.node)
			}
			t.resched.RescheduleTasks(t.node)
			return false
		}
		t.Execute()
	}
	return false
}
