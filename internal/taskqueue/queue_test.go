package taskqueue

import (
	"time"

	"testing"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
)

// fakeTask is a minimal Task used to exercise the queue's own
// bookkeeping without dragging in a model's SimpleTask wiring.
type fakeTask struct {
	node  *node.Node
	name  string
	execs int
}

func newFakeTask(n *node.Node, name string) *fakeTask { return &fakeTask{node: n, name: name} }

func (f *fakeTask) Node() *node.Node         { return f.node }
func (f *fakeTask) Execute()                 { f.execs++ }
func (f *fakeTask) Handler(events.Event) bool { return false }
func (f *fakeTask) String() string           { return f.name }

// queueWakeUp is a WakeUp stub that hands out real, role-tagged
// SimpleTasks so isRole checks in the queue behave as they would with
// the production WakeUp model.
type queueWakeUp struct {
	sleepTime uint32
	resetAcks []*node.Node
}

func newQueueWakeUp() *queueWakeUp { return &queueWakeUp{} }

func roleTask(n *node.Node, name string, role Role) *SimpleTask {
	return NewSimpleTask(SimpleTaskSpec{Node: n, Name: name, Send: func() {}}).WithRole(role)
}

func (w *queueWakeUp) NewWakeTask(n *node.Node) Task  { return roleTask(n, "wake", RoleWake) }
func (w *queueWakeUp) NewSleepTask(n *node.Node) Task { return roleTask(n, "sleep", RoleSleep) }
func (w *queueWakeUp) NewAliveTask(n *node.Node) Task { return roleTask(n, "alive", RoleAlive) }
func (w *queueWakeUp) SleepTime() uint32              { return w.sleepTime }
func (w *queueWakeUp) ResetAck(n *node.Node)          { w.resetAcks = append(w.resetAcks, n) }
func (w *queueWakeUp) ResetReasonString(byte) string  { return "test" }

type queueTaskGw struct {
	extra []Task
}

func (g *queueTaskGw) NewSetSleepTimeTasks(n *node.Node, firstTime, legacy bool) []Task {
	return g.extra
}

func newQueue(wu *queueWakeUp, isListener, isProvisioner func() bool) *Queue {
	bus := eventbus.New(zap.NewNop())
	return New(bus, wu, isListener, isProvisioner, func(*node.Node) bool { return true }, func() bool { return false }, zap.NewNop())
}

func no() bool  { return false }
func yes() bool { return true }

// mainsNode and lowPowerNode pick board ids whose Board.IsLowPower()
// differ, matching node.BoardFromID's table.
func mainsNode(addr uint16) *node.Node    { return node.NewNode([6]byte{1}, [16]byte{31}, addr) } // BoardThor
func lowPowerNode(addr uint16) *node.Node { return node.NewNode([6]byte{2}, [16]byte{1}, addr) }  // BoardIris

func TestAddTaskExecutesImmediatelyForMainsNodeWithEmptyQueue(t *testing.T) {
	q := newQueue(newQueueWakeUp(), no, no)
	n := mainsNode(21)
	task := newFakeTask(n, "t1")

	q.AddTask(task)

	if task.execs != 1 {
		t.Fatalf("expected the only task to execute immediately, got %d execs", task.execs)
	}
	if got := len(q.GetTasks(n)); got != 1 {
		t.Fatalf("expected 1 task tracked for the node, got %d", got)
	}
}

func TestAddTaskSeedsWakeTaskForLowPowerNode(t *testing.T) {
	q := newQueue(newQueueWakeUp(), no, no)
	n := lowPowerNode(22)
	task := newFakeTask(n, "t1")

	q.AddTask(task)

	if task.execs != 0 {
		t.Fatal("a low-power node's task must not execute until woken")
	}
	tasks := q.queue[n]
	if len(tasks) != 2 {
		t.Fatalf("expected a seeded wake task plus the real task, got %d entries", len(tasks))
	}
	if !isRole(tasks[0], RoleWake) {
		t.Fatal("expected the first queued entry to be the seeded wake task")
	}
	if tasks[1] != Task(task) {
		t.Fatal("expected the real task to follow the seeded wake task")
	}
}

func TestAddTaskRefusedInListenerOrProvisionerMode(t *testing.T) {
	for _, tc := range []struct {
		name          string
		isListener    func() bool
		isProvisioner func() bool
	}{
		{"listener", yes, no},
		{"provisioner", no, yes},
	} {
		t.Run(tc.name, func(t *testing.T) {
			q := newQueue(newQueueWakeUp(), tc.isListener, tc.isProvisioner)
			n := mainsNode(21)
			task := newFakeTask(n, "t1")

			q.AddTask(task)

			if task.execs != 0 {
				t.Fatal("a task must never execute while the gateway is listener/provisioner-only")
			}
			if len(q.queue) != 0 {
				t.Fatal("the queue must stay empty while the gateway is listener/provisioner-only")
			}
		})
	}
}

func TestCancelTasksDropsQueue(t *testing.T) {
	q := newQueue(newQueueWakeUp(), no, no)
	n := mainsNode(21)
	q.queue[n] = []Task{newFakeTask(n, "t1"), newFakeTask(n, "t2")}

	q.CancelTasks(n)

	if _, ok := q.queue[n]; ok {
		t.Fatal("expected CancelTasks to drop the node's queue entirely")
	}
}

func TestRescheduleTasksLowPowerReinsertsWakeTask(t *testing.T) {
	q := newQueue(newQueueWakeUp(), no, no)
	n := lowPowerNode(22)
	task := newFakeTask(n, "t1")
	q.queue[n] = []Task{task}

	q.RescheduleTasks(n)

	tasks := q.queue[n]
	if len(tasks) != 2 {
		t.Fatalf("expected a wake task reinserted ahead of the surviving task, got %d entries", len(tasks))
	}
	if !isRole(tasks[0], RoleWake) {
		t.Fatal("expected the reinserted task to carry RoleWake")
	}
	if tasks[1] != Task(task) {
		t.Fatal("expected the original task to survive the reschedule")
	}
}

func TestRescheduleTasksMainsNodeDropsQueue(t *testing.T) {
	q := newQueue(newQueueWakeUp(), no, no)
	n := mainsNode(21)
	q.queue[n] = []Task{newFakeTask(n, "t1")}

	q.RescheduleTasks(n)

	if _, ok := q.queue[n]; ok {
		t.Fatal("a mains-powered node's queue must be dropped outright on exhaustion")
	}
}

func TestRescheduleTasksListenerModeCancelsOutright(t *testing.T) {
	q := newQueue(newQueueWakeUp(), yes, no)
	n := lowPowerNode(22)
	q.queue[n] = []Task{newFakeTask(n, "t1")}

	q.RescheduleTasks(n)

	if _, ok := q.queue[n]; ok {
		t.Fatal("listener mode must cancel outright rather than reinsert a wake task")
	}
}

func TestConfigTimeoutHandlerClearsState(t *testing.T) {
	q := newQueue(newQueueWakeUp(), no, no)
	n := mainsNode(21)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	q.configNodes[n] = timer
	q.configuring[n] = struct{}{}
	q.queue[n] = []Task{newFakeTask(n, "t1")}

	q.configTimeoutHandler(events.Event{Kind: events.KindConfigurationTimeout, Node: n})

	if _, ok := q.configNodes[n]; ok {
		t.Fatal("expected configNodes entry cleared on timeout")
	}
	if _, ok := q.configuring[n]; ok {
		t.Fatal("expected configuring entry cleared on timeout")
	}
	if _, ok := q.queue[n]; ok {
		t.Fatal("expected the node's queue cleared on timeout")
	}
}

func TestWakeResetLockedArmsConfigSessionAndAcksReset(t *testing.T) {
	wu := newQueueWakeUp()
	q := newQueue(wu, no, no)
	n := mainsNode(21)

	q.handleEvent(events.Event{Kind: events.KindWakeReset, Node: n, Payload: events.WakeResetPayload{ResetReason: 3}})
	defer func() {
		if timer, ok := q.configNodes[n]; ok {
			timer.Stop()
		}
	}()

	if _, ok := q.configNodes[n]; !ok {
		t.Fatal("expected a configuration-session timer armed for the reset node")
	}
	if len(wu.resetAcks) != 1 || wu.resetAcks[0] != n {
		t.Fatal("expected ResetAck to be sent exactly once for the reset node")
	}
}

func TestWakeResetLockedRefusesBeyondMaxConfigNodes(t *testing.T) {
	wu := newQueueWakeUp()
	q := newQueue(wu, no, no)
	for i := 0; i < maxConfigNodes; i++ {
		n := mainsNode(uint16(100 + i))
		timer := time.NewTimer(time.Hour)
		defer timer.Stop()
		q.configNodes[n] = timer
	}

	overflow := mainsNode(999)
	q.handleEvent(events.Event{Kind: events.KindWakeReset, Node: overflow, Payload: events.WakeResetPayload{ResetReason: 1}})

	if _, ok := q.configNodes[overflow]; ok {
		t.Fatal("expected the configuration-session cap to refuse a new session")
	}
	if len(wu.resetAcks) != 0 {
		t.Fatal("expected no ResetAck once the configuration-session cap is reached")
	}
}

func TestNotifyLockedSchedulesSleepForIdleNode(t *testing.T) {
	wu := newQueueWakeUp()
	wu.sleepTime = 600
	q := newQueue(wu, no, no)
	n := mainsNode(21)

	q.handleEvent(events.Event{Kind: events.KindWakeNotify, Node: n, Payload: events.WakeNotifyPayload{Extended: false}})

	tasks := q.queue[n]
	if len(tasks) != 1 || !isRole(tasks[0], RoleAlive) {
		t.Fatal("expected a mains-powered node to be scheduled an alive task on a plain notify")
	}
}

func TestNotifyLockedEndsConfigSessionOnPlainNotify(t *testing.T) {
	wu := newQueueWakeUp()
	q := newQueue(wu, no, no)
	n := mainsNode(21)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	q.configNodes[n] = timer
	q.queue[n] = []Task{newFakeTask(n, "cfg-task")}
	n.SleepPeriod = 42
	var cbFired []*node.Node
	q.SetConfigurationCB(func(n *node.Node) { cbFired = append(cbFired, n) })

	q.handleEvent(events.Event{Kind: events.KindWakeNotify, Node: n, Payload: events.WakeNotifyPayload{Extended: false}})

	if _, ok := q.queue[n]; ok {
		t.Fatal("expected the node's queue cleared when a plain notify ends its configuration session")
	}
	if n.SleepPeriod != 0 {
		t.Fatal("expected SleepPeriod reset so the node is reconfigured from scratch")
	}
	if len(cbFired) != 1 || cbFired[0] != n {
		t.Fatal("expected the configuration callback to fire exactly once")
	}
}

func TestNotifyLockedEntersConfiguringAndRequeuesPending(t *testing.T) {
	wu := newQueueWakeUp()
	q := newQueue(wu, no, no)
	n := mainsNode(21)
	pending := newFakeTask(n, "pending")
	q.queue[n] = []Task{pending}
	var cbFired int
	q.SetConfigurationCB(func(*node.Node) { cbFired++ })

	q.handleEvent(events.Event{Kind: events.KindWakeNotify, Node: n, Payload: events.WakeNotifyPayload{Extended: true, Configured: false}})
	defer func() {
		if timer, ok := q.configNodes[n]; ok {
			timer.Stop()
		}
	}()

	if _, ok := q.configNodes[n]; !ok {
		t.Fatal("expected a configuration-session timer armed")
	}
	if _, ok := q.configuring[n]; !ok {
		t.Fatal("expected the node marked as configuring")
	}
	if cbFired != 1 {
		t.Fatalf("expected the configuration callback to fire once, got %d", cbFired)
	}
	// Requeuing happens while the node is already marked as in a
	// configuration session, so addTaskLocked seeds a wake task ahead
	// of the requeued pending task, same as any other mid-session add.
	requeued := q.queue[n]
	if len(requeued) != 2 {
		t.Fatalf("expected a seeded wake task plus the requeued pending task, got %d entries", len(requeued))
	}
	if !isRole(requeued[0], RoleWake) {
		t.Fatal("expected the requeue to seed a wake task first")
	}
	if requeued[1] != Task(pending) {
		t.Fatal("expected the original pending task to be requeued")
	}
}

func TestNotifyLockedLowPowerNodeSchedulesWakeAndSleepOnPeriodChange(t *testing.T) {
	wu := newQueueWakeUp()
	wu.sleepTime = 600
	q := newQueue(wu, no, no)
	extraTask := newFakeTask(nil, "sleep-time-change")
	q.SetTaskGw(&queueTaskGw{extra: []Task{extraTask}})
	n := lowPowerNode(22)
	n.SleepPeriod = 300

	q.handleEvent(events.Event{Kind: events.KindWakeNotify, Node: n, Payload: events.WakeNotifyPayload{Extended: false}})

	tasks := q.queue[n]
	if len(tasks) != 3 {
		t.Fatalf("expected wake + sleep-time-change task + sleep, got %d entries", len(tasks))
	}
	if !isRole(tasks[0], RoleWake) {
		t.Fatal("expected the first entry to be a wake task")
	}
	if tasks[1] != Task(extraTask) {
		t.Fatal("expected the TaskGw-supplied sleep-time-change task in the middle")
	}
	if !isRole(tasks[2], RoleSleep) {
		t.Fatal("expected the last entry to be the sleep task")
	}
}

func TestNotifyLockedConfiguredExtendedSchedulesSleepIfIdle(t *testing.T) {
	wu := newQueueWakeUp()
	wu.sleepTime = 600
	q := newQueue(wu, no, no)
	n := mainsNode(21)

	q.handleEvent(events.Event{Kind: events.KindWakeNotify, Node: n, Payload: events.WakeNotifyPayload{Extended: true, Configured: true}})

	tasks := q.queue[n]
	if len(tasks) != 1 || !isRole(tasks[0], RoleAlive) {
		t.Fatal("expected a configured, idle mains node to be scheduled an alive task")
	}
}
