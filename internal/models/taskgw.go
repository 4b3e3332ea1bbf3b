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

const taskGwModelID = 0x000C

const (
	opTaskConfReal   = 0xC9
	opTaskConfMono   = 0xCA
	opTaskDel        = 0xC2
	opTaskDelOp      = 0xC4
	opTaskGet        = 0xC6
	opTaskChangeReal = 0xCB
	opTaskChangeMono = 0xCC
)

const (
	ClockMono = 0
	ClockReal = 1
)

// Task opcodes: the firmware's catalogue of schedulable node-side
// tasks. TaskOpString returns "UNKNOWN_TASK" for any opcode not
// listed here.
const (
	TaskOpConf          = 0x01
	TaskOpNrftemp       = 0x02
	TaskOpBat           = 0x03
	TaskOpSetBlueLED    = 0x04
	TaskOpReqDatetime   = 0x05
	TaskOpUpdate        = 0x07
	TaskOpSendNodes     = 0x08
	TaskOpReboot        = 0x09
	TaskOpNrftempStartIAQ = 0x0A
	TaskOpNrftempReadIAQ  = 0x0B
	TaskOpNrftempStopIAQ  = 0x0C
	TaskOpNrftempCO2      = 0x0D
	TaskOpNrftempStartCO2 = 0x0E
	TaskOpNrftempStopCO2  = 0x0F
	TaskOpNrftempReliable = 0x10
	TaskOpLedsDispTemp  = 0x12
	TaskOpLedsDispHumd  = 0x13
	TaskOpLedsDispPress = 0x14
	TaskOpLedsDispCO2   = 0x15
	TaskOpLedsDispIAQ   = 0x16
	TaskOpLedsDispBat   = 0x18
	TaskOpLedsDispRssi  = 0x19
	TaskOpCO2ZeroCalib  = 0x1B
	TaskOpCO2TargetCalib = 0x1C
	TaskOpPwmtRead  = 0x1D
	TaskOpPwmtStart = 0x1E
	TaskOpPwmtStop  = 0x1F
	TaskOpBlinkStart = 0x20
	TaskOpBlinkStop  = 0x21
)

var taskOpNames = map[byte]string{
	TaskOpConf: "CONF", TaskOpNrftemp: "NRFTEMP", TaskOpBat: "BAT",
	TaskOpSetBlueLED: "SET_BLUE_LED", TaskOpReqDatetime: "REQ_DATETIME",
	TaskOpUpdate: "UPDATE", TaskOpSendNodes: "SEND_NODES", TaskOpReboot: "REBOOT",
	TaskOpNrftempStartIAQ: "NRFTEMP_START_IAQ", TaskOpNrftempReadIAQ: "NRFTEMP_READ_IAQ",
	TaskOpNrftempStopIAQ: "NRFTEMP_STOP_IAQ", TaskOpNrftempCO2: "NRFTEMP_CO2",
	TaskOpNrftempStartCO2: "NRFTEMP_START_CO2", TaskOpNrftempStopCO2: "NRFTEMP_STOP_CO2",
	TaskOpNrftempReliable: "NRFTEMP_RELIABLE", TaskOpLedsDispTemp: "LEDS_DISP_TEMP",
	TaskOpLedsDispHumd: "LEDS_DISP_HUMD", TaskOpLedsDispPress: "LEDS_DISP_PRESS",
	TaskOpLedsDispCO2: "LEDS_DISP_CO2", TaskOpLedsDispIAQ: "LEDS_DISP_IAQ",
	TaskOpLedsDispBat: "LEDS_DISP_BAT", TaskOpLedsDispRssi: "LEDS_DISP_RSSI",
	TaskOpCO2ZeroCalib: "CO2_ZERO_CALIB", TaskOpCO2TargetCalib: "CO2_TARGET_CALIB",
	TaskOpPwmtRead: "PWMT_READ", TaskOpPwmtStart: "PWMT_START", TaskOpPwmtStop: "PWMT_STOP",
	TaskOpBlinkStart: "BLINK_START", TaskOpBlinkStop: "BLINK_STOP",
}

// TaskOpString renders a task opcode for logging.
func TaskOpString(op byte) string {
	if s, ok := taskOpNames[op]; ok {
		return s
	}
	return "UNKNOWN_TASK"
}

var taskErrors = map[int8]string{
	0: "TASK_SUCCESS", -1: "TASK_ERR_INVALID_OP", -2: "TASK_ERR_ARRAY_FULL",
	-3: "TASK_ERR_ALRDY_SCHD", -4: "TASK_ERR_INVALID_ID", -5: "TASK_ERR_NOT_CONFIG",
}

func taskErrorString(code int8) string {
	if s, ok := taskErrors[code]; ok {
		return s
	}
	return "UNKNOWN"
}

// TaskGw implements the TaskGw vendor model: node-side
// scheduled-task configuration, including the wake/sleep rate changes
// the Task Queue drives directly.
type TaskGw struct {
	tx    Sender
	bus   *eventbus.Bus
	wake  *WakeUp
	queue *taskqueue.Queue
	log   *zap.Logger

	tidMu sync.Mutex
	tid   byte

	tasksMu sync.Mutex
	tasks   map[[6]byte][]string // configured task names, by node MAC
}

// NewTaskGw builds the model. wake supplies the gateway's configured
// sleep period for set_sleep_time/set_sleep_time_legacy.
func NewTaskGw(tx Sender, bus *eventbus.Bus, wake *WakeUp, queue *taskqueue.Queue, log *zap.Logger) *TaskGw {
	return &TaskGw{tx: tx, bus: bus, wake: wake, queue: queue, log: log.Named("taskgw"), tasks: make(map[[6]byte][]string)}
}

func pack3LE(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16)} }

func (m *TaskGw) sendConf(n *node.Node, op byte, opcode byte, eventDate uint32, period uint32, clockType int) {
	buf := append(wire.EncodeModelOpcode3(op, taskGwModelID), opcode)
	buf = binary.LittleEndian.AppendUint32(buf, eventDate)
	buf = append(buf, pack3LE(period)...)
	m.tx.SendToNode(buf, n)
}

func (m *TaskGw) sendConfReal(n *node.Node, opcode byte, eventDate, period uint32) {
	m.sendConf(n, opTaskConfReal, opcode, eventDate, period, ClockReal)
}

func (m *TaskGw) sendConfMono(n *node.Node, opcode byte, eventDate, period uint32) {
	m.sendConf(n, opTaskConfMono, opcode, eventDate, period, ClockMono)
}

func (m *TaskGw) sendChangeReal(n *node.Node, opcode byte, eventDate, period uint32) {
	m.sendConf(n, opTaskChangeReal, opcode, eventDate, period, ClockReal)
}

func (m *TaskGw) sendChangeMono(n *node.Node, opcode byte, eventDate, period uint32) {
	m.sendConf(n, opTaskChangeMono, opcode, eventDate, period, ClockMono)
}

func (m *TaskGw) sendDelete(n *node.Node, index, tid byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opTaskDel, taskGwModelID), index, tid), n)
}

func (m *TaskGw) sendDeleteOp(n *node.Node, opcode, tid byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opTaskDelOp, taskGwModelID), opcode, tid), n)
}

func (m *TaskGw) sendGetTasks(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode3(opTaskGet, taskGwModelID), n)
}

func (m *TaskGw) nextTID() byte {
	m.tidMu.Lock()
	defer m.tidMu.Unlock()
	tid := m.tid
	if m.tid < 100 {
		m.tid++
	} else {
		m.tid = 0
	}
	return tid
}

func (m *TaskGw) markConfigured(n *node.Node, op byte) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	name := TaskOpString(op)
	for _, existing := range m.tasks[n.MAC] {
		if existing == name {
			return
		}
	}
	m.tasks[n.MAC] = append(m.tasks[n.MAC], name)
}

func (m *TaskGw) unmarkConfigured(n *node.Node, op byte) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	name := TaskOpString(op)
	list := m.tasks[n.MAC]
	for i, existing := range list {
		if existing == name {
			m.tasks[n.MAC] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// ConfiguredTasks returns the task names n's configuration session has
// successfully scheduled, or nil if the node has no recorded session.
func (m *TaskGw) ConfiguredTasks(n *node.Node) []string {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	return append([]string(nil), m.tasks[n.MAC]...)
}

// HandleWakeReset seeds an empty configured-task record for a
// newly-reset node, mirroring the source's task_ack_handler branch for
// WAKE_RESET.
func (m *TaskGw) HandleWakeReset(n *node.Node) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	if _, ok := m.tasks[n.MAC]; !ok {
		m.tasks[n.MAC] = nil
	}
}

// HandleSendTasks logs one TASK_SEND_TASKS entry returned by a get
// request. TASK_ACK/TASK_CHANGE_ACK/TASK_DELETE_ACK/TASK_DELETE_OP_ACK
// are consumed by the pending SimpleTask's success callback for the
// node-tasks bookkeeping; this just mirrors the source's passive log
// for TASK_SEND_TASKS.
func (m *TaskGw) HandleSendTasks(p events.TaskSendTasksPayload) {
	m.log.Debug("task entry received",
		zap.Uint8("opcode", p.Opcode), zap.String("op", TaskOpString(p.Opcode)),
		zap.Uint32("event_date", p.EventDate), zap.Uint32("period", p.Period))
}

// NewTask schedules a new task (CONF) on n.
func (m *TaskGw) NewTask(n *node.Node, opcode byte, eventDate, period uint32, clockType int) taskqueue.Task {
	return m.confTask(n, opcode, eventDate, period, clockType, false)
}

// ChangeTask reschedules an already-configured task on n.
func (m *TaskGw) ChangeTask(n *node.Node, opcode byte, eventDate, period uint32, clockType int) taskqueue.Task {
	return m.confTask(n, opcode, eventDate, period, clockType, true)
}

func (m *TaskGw) confTask(n *node.Node, opcode byte, eventDate, period uint32, clockType int, change bool) taskqueue.Task {
	name := "task_new"
	success := events.KindTaskAck
	send := func() {
		if clockType == ClockMono {
			m.sendConfMono(n, opcode, eventDate, period)
		} else {
			m.sendConfReal(n, opcode, eventDate, period)
		}
	}
	if change {
		name = "task_change"
		success = events.KindTaskChangeAck
		send = func() {
			if clockType == ClockMono {
				m.sendChangeMono(n, opcode, eventDate, period)
			} else {
				m.sendChangeReal(n, opcode, eventDate, period)
			}
		}
	}
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         name,
		Send:         send,
		SuccessOn:    []events.Kind{success},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      6 * time.Second,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(ev events.Event) {
			if opcode == TaskOpConf {
				n.SleepPeriod = period
			}
			p, _ := ev.Payload.(events.TaskAckPayload)
			if p.TaskIndex < 0 && p.TaskIndex != -3 {
				m.log.Info("task ack error", zap.String("op", TaskOpString(opcode)),
					zap.String("mac", n.MACString()), zap.String("code", taskErrorString(p.TaskIndex)))
			} else {
				m.log.Info("task ack", zap.String("op", TaskOpString(opcode)), zap.String("mac", n.MACString()))
			}
			if (p.TaskIndex >= 0 || p.TaskIndex == -3) && period != 0 {
				m.markConfigured(n, opcode)
			}
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", TaskOpString(opcode)), zap.String("mac", n.MACString()))
		},
	})
	return t
}

// DeleteTask removes a scheduled task by firmware index.
func (m *TaskGw) DeleteTask(n *node.Node, index byte) taskqueue.Task {
	tid := m.nextTID()
	return taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "task_delete",
		Send:         func() { m.sendDelete(n, index, tid) },
		SuccessOn:    []events.Kind{events.KindTaskDeleteAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      6 * time.Second,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("delete task ack", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "task_delete"), zap.String("mac", n.MACString()))
		},
	})
}

// DeleteTaskOp removes a scheduled task by opcode.
func (m *TaskGw) DeleteTaskOp(n *node.Node, opcode byte) taskqueue.Task {
	tid := m.nextTID()
	return taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "task_delete_op",
		Send:         func() { m.sendDeleteOp(n, opcode, tid) },
		SuccessOn:    []events.Kind{events.KindTaskDeleteOpAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      6 * time.Second,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("delete task op ack", zap.String("mac", n.MACString()))
			m.unmarkConfigured(n, opcode)
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "task_delete_op"), zap.String("mac", n.MACString()))
		},
	})
}

// GetTasks requests the node's full configured-task list (TASK_SEND_TASKS
// entries arrive separately and are logged via HandleSendTasks).
func (m *TaskGw) GetTasks(n *node.Node) taskqueue.Task {
	return taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "task_get",
		Send:         func() { m.sendGetTasks(n) },
		SuccessOn:    []events.Kind{events.KindTaskGetTasksAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      6 * time.Second,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("get tasks succeeded", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "task_get"), zap.String("mac", n.MACString()))
		},
	})
}

// SetRate schedules a task-rate change via the non-legacy (change-only)
// path.
func (m *TaskGw) SetRate(n *node.Node, opcode byte, rate uint32) taskqueue.Task {
	now := uint32(time.Now().Unix())
	return m.ChangeTask(n, opcode, now, rate, ClockReal)
}

// NewSetSleepTimeTasks implements taskqueue.TaskGw: builds the task(s)
// needed to bring n's sleep rate in line with the gateway's configured
// sleep_time, without calling back into the queue — the tasks are
// constructed while the queue's own mutex is already held.
func (m *TaskGw) NewSetSleepTimeTasks(n *node.Node, firstTime, legacy bool) []taskqueue.Task {
	now := uint32(time.Now().Unix())
	sleepTime := m.wake.SleepTime()
	firstAwake := now + sleepTime
	if !legacy {
		return []taskqueue.Task{m.ChangeTask(n, TaskOpConf, firstAwake, sleepTime, ClockReal)}
	}
	var out []taskqueue.Task
	if !firstTime {
		out = append(out, m.DeleteTaskOp(n, TaskOpConf))
	}
	out = append(out, m.NewTask(n, TaskOpConf, firstAwake, sleepTime, ClockReal))
	return out
}
