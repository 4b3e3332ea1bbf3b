package taskqueue

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"ttgw-go/errcode"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/util"
)

const (
	configTimeout  = 120 * time.Second
	maxConfigNodes = 10
)

// Role distinguishes the queue-internal task variants (Wake/Sleep/
// Alive/Reset) that the queue itself must recognize by identity, not
// just by Task interface.
type Role int

const (
	RoleGeneric Role = iota
	RoleWake
	RoleSleep
	RoleAlive
	RoleReset
)

// WithRole tags a SimpleTask so the queue can recognize it; used only by
// the WakeUp and ConfigurationClient models.
func (t *SimpleTask) WithRole(r Role) *SimpleTask { t.role = r; return t }

// WakeUp is implemented by the WakeUp model: the queue constructs its
// own Wake/Sleep/Alive tasks on demand rather than the caller supplying
// them.
type WakeUp interface {
	NewWakeTask(n *node.Node) Task
	NewSleepTask(n *node.Node) Task
	NewAliveTask(n *node.Node) Task
	SleepTime() uint32
	ResetAck(n *node.Node)
	ResetReasonString(code byte) string
}

// TaskGw is implemented by the TaskGw model: it supplies the task
// value(s) needed to change a node's configured sleep period, without
// itself calling back into the queue.
type TaskGw interface {
	NewSetSleepTimeTasks(n *node.Node, firstTime, legacy bool) []Task
}

// Queue is the Task Queue: a per-node FIFO plus the wake/sleep/
// configuration-session state machine.
type Queue struct {
	log *zap.Logger
	bus *eventbus.Bus

	isListener    func() bool
	isProvisioner func() bool
	isWhitelisted func(n *node.Node) bool
	legacyMode    func() bool

	wakeUp WakeUp
	taskGw TaskGw

	mu          sync.Mutex
	queue       map[*node.Node][]Task
	configNodes map[*node.Node]*time.Timer
	configuring map[*node.Node]struct{}

	configurationCB func(n *node.Node)
}

// New builds a Queue. taskGw may be nil until the TaskGw model finishes
// constructing (it is set with SetTaskGw once available), since TaskGw
// and the queue are mutually referential only at the interface level.
func New(bus *eventbus.Bus, wakeUp WakeUp, isListener, isProvisioner func() bool, isWhitelisted func(*node.Node) bool, legacyMode func() bool, log *zap.Logger) *Queue {
	q := &Queue{
		log:             log.Named("taskqueue"),
		bus:             bus,
		isListener:      isListener,
		isProvisioner:   isProvisioner,
		isWhitelisted:   isWhitelisted,
		legacyMode:      legacyMode,
		wakeUp:          wakeUp,
		queue:           make(map[*node.Node][]Task),
		configNodes:     make(map[*node.Node]*time.Timer),
		configuring:     make(map[*node.Node]struct{}),
		configurationCB: func(*node.Node) {},
	}
	bus.Subscribe(q.handleEvent)
	return q
}

// SetTaskGw wires the TaskGw collaborator once the model graph is fully
// constructed.
func (q *Queue) SetTaskGw(t TaskGw) { q.taskGw = t }

// SetConfigurationCB installs the user callback invoked when a node
// enters a configuration session.
func (q *Queue) SetConfigurationCB(cb func(n *node.Node)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.configurationCB = cb
}

// AddTask enqueues t for its node, seeding a WakeTask first if the node
// is low-power or mid-configuration and has no queue yet.
func (q *Queue) AddTask(t Task) {
	if q.isListener() || q.isProvisioner() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addTaskLocked(t)
}

func (q *Queue) addTaskLocked(t Task) {
	n := t.Node()
	_, inConfig := q.configNodes[n]
	if inConfig || n.IsLowPower() {
		if _, ok := q.queue[n]; !ok {
			q.queue[n] = []Task{q.wakeUp.NewWakeTask(n)}
		}
		q.queue[n] = append(q.queue[n], t)
		return
	}
	if _, ok := q.queue[n]; !ok {
		q.queue[n] = []Task{t}
		t.Execute()
	} else {
		q.queue[n] = append(q.queue[n], t)
	}
}

// CancelTasks drops n's queue outright.
func (q *Queue) CancelTasks(n *node.Node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queue, n)
}

// RescheduleTasks implements Rescheduler: called by a task that has
// exhausted its retries.
func (q *Queue) RescheduleTasks(n *node.Node) {
	if q.isListener() || q.isProvisioner() {
		q.CancelTasks(n)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if n.IsLowPower() {
		tasks, ok := q.queue[n]
		if ok && len(tasks) > 0 && !isRole(tasks[0], RoleWake) {
			q.queue[n] = append([]Task{q.wakeUp.NewWakeTask(n)}, tasks...)
		}
		return
	}
	delete(q.queue, n)
}

// GetTasks returns n's pending non-wake/sleep tasks.
func (q *Queue) GetTasks(n *node.Node) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Task
	for _, t := range q.queue[n] {
		if !isRole(t, RoleWake) && !isRole(t, RoleSleep) {
			out = append(out, t)
		}
	}
	return out
}

// NodeIsInQueue reports whether n has any active queue or session
// state.
func (q *Queue) NodeIsInQueue(n *node.Node) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queue[n]; ok {
		return true
	}
	if _, ok := q.configNodes[n]; ok {
		return true
	}
	_, ok := q.configuring[n]
	return ok
}

// NodeCancelTasks drops every piece of state the queue holds for n.
func (q *Queue) NodeCancelTasks(n *node.Node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queue, n)
	if timer, ok := q.configNodes[n]; ok {
		timer.Stop()
		delete(q.configNodes, n)
	}
	delete(q.configuring, n)
}

func (q *Queue) sleepNodeLocked(n *node.Node) {
	if !n.IsLowPower() {
		q.queue[n] = []Task{q.wakeUp.NewAliveTask(n)}
		return
	}
	sleepTask := q.wakeUp.NewSleepTask(n)
	if n.SleepPeriod == q.wakeUp.SleepTime() {
		q.queue[n] = []Task{sleepTask}
		return
	}
	_, firstTime := q.configNodes[n]
	extra := q.taskGw.NewSetSleepTimeTasks(n, firstTime, q.legacyMode())
	if _, exists := q.queue[n]; !exists {
		q.queue[n] = append([]Task{q.wakeUp.NewWakeTask(n)}, extra...)
	} else {
		q.queue[n] = append(q.queue[n], extra...)
	}
	q.queue[n] = append(q.queue[n], sleepTask)
}

func (q *Queue) handleEvent(ev events.Event) {
	if ev.Kind == events.KindConfigurationTimeout {
		q.configTimeoutHandler(ev)
		return
	}
	n := ev.Node
	if n == nil {
		return
	}
	if q.isListener() || q.isProvisioner() {
		return
	}
	if !q.isWhitelisted(n) {
		q.log.Debug("event from non-whitelisted node dropped",
			zap.Error(errcode.New("handle_event", errcode.NotWhitelisted, nil)),
			zap.Uint16("addr", n.UnicastAddr))
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if ev.Kind == events.KindWakeReset {
		q.wakeResetLocked(ev)
	}
	if ev.Kind == events.KindWakeNotify {
		q.notifyLocked(ev)
	}
	if timer, ok := q.configNodes[n]; ok {
		util.ResetTimer(timer, configTimeout)
	}

	tasks, ok := q.queue[n]
	if !ok || len(tasks) == 0 {
		return
	}
	head := tasks[0]
	if !head.Handler(ev) {
		return
	}
	rest := tasks[1:]
	if isRole(head, RoleAlive) || isRole(head, RoleSleep) || isRole(head, RoleReset) {
		if timer, ok := q.configNodes[n]; ok {
			timer.Stop()
			delete(q.configNodes, n)
		}
		delete(q.configuring, n)
		delete(q.queue, n)
		return
	}
	if len(rest) > 0 {
		q.queue[n] = rest
		rest[0].Execute()
		return
	}
	q.queue[n] = rest
	if _, inConfig := q.configNodes[n]; inConfig || n.IsLowPower() {
		q.sleepNodeLocked(n)
		q.queue[n][0].Execute()
		return
	}
	delete(q.queue, n)
}

func (q *Queue) configTimeoutHandler(ev events.Event) {
	n := ev.Node
	if n == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.configNodes[n]; ok {
		delete(q.configNodes, n)
		delete(q.configuring, n)
	}
	delete(q.queue, n)
}

func (q *Queue) wakeResetLocked(ev events.Event) {
	n := ev.Node
	p, _ := ev.Payload.(events.WakeResetPayload)
	q.log.Info("node reset", zap.String("reason", q.wakeUp.ResetReasonString(p.ResetReason)), zap.Uint16("addr", n.UnicastAddr))
	if len(q.configNodes) < maxConfigNodes {
		if _, ok := q.configNodes[n]; !ok {
			q.configNodes[n] = time.AfterFunc(configTimeout, func() {
				q.bus.Publish(events.Event{Kind: events.KindConfigurationTimeout, Node: n})
			})
		}
	}
	if _, ok := q.configNodes[n]; ok {
		q.wakeUp.ResetAck(n)
	}
}

func (q *Queue) notifyLocked(ev events.Event) {
	n := ev.Node
	p, _ := ev.Payload.(events.WakeNotifyPayload)

	if !p.Extended {
		if _, ok := q.configNodes[n]; ok {
			delete(q.queue, n)
			n.SleepPeriod = 0
			q.configurationCB(n)
		} else if _, ok := q.queue[n]; !ok {
			q.sleepNodeLocked(n)
		}
		return
	}

	if !p.Configured {
		if len(q.configNodes) < maxConfigNodes {
			if _, ok := q.configNodes[n]; !ok {
				q.configNodes[n] = time.AfterFunc(configTimeout, func() {
					q.bus.Publish(events.Event{Kind: events.KindConfigurationTimeout, Node: n})
				})
			}
		}
		if _, ok := q.configNodes[n]; ok {
			if _, already := q.configuring[n]; !already {
				pending := q.getTasksLocked(n)
				delete(q.queue, n)
				n.SleepPeriod = 0
				q.configurationCB(n)
				for _, pt := range pending {
					q.addTaskLocked(pt)
				}
				q.configuring[n] = struct{}{}
			}
		}
		return
	}

	if _, ok := q.queue[n]; !ok {
		q.sleepNodeLocked(n)
	}
}

func (q *Queue) getTasksLocked(n *node.Node) []Task {
	var out []Task
	for _, t := range q.queue[n] {
		if !isRole(t, RoleWake) && !isRole(t, RoleSleep) {
			out = append(out, t)
		}
	}
	return out
}

func isRole(t Task, r Role) bool {
	st, ok := t.(*SimpleTask)
	return ok && st.role == r
}
