package models

import (
	"encoding/binary"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/wire"
	"ttgw-go/internal/x/timex"
)

const pwmtModelID = 0x001C

const (
	opPwmtConf = 0xC1
	opPwmtConv = 0xC3
)

// DefaultPwmtPeriod is the power-meter's default read interval, 30s.
const DefaultPwmtPeriod uint32 = 30

// Pwmt implements the Pwmt vendor model: power-meter
// configuration, CT conversion factors, and telemetry (per-phase
// voltage/current/power and totals).
type Pwmt struct {
	tx     Sender
	bus    *eventbus.Bus
	queue  *taskqueue.Queue
	taskGw *TaskGw
	log    *zap.Logger
}

// NewPwmt builds the model and subscribes its telemetry handler.
func NewPwmt(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, taskGw *TaskGw, log *zap.Logger) *Pwmt {
	m := &Pwmt{tx: tx, bus: bus, queue: queue, taskGw: taskGw, log: log.Named("pwmt")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Pwmt) conf(n *node.Node, phases, stats, valuesPh, valuesTot byte) {
	c1 := (phases & 0b1111) | (stats&0b111)<<4
	c2 := (valuesPh & 0b1111) | (valuesTot&0b1111)<<4
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opPwmtConf, pwmtModelID), c1, c2), n)
}

func (m *Pwmt) conv(n *node.Node, kv, ki uint32) {
	k := uint64(ki&0xFFFFFFF) | uint64(kv&0xFFFFFFF)<<28
	buf := wire.EncodeModelOpcode3(opPwmtConv, pwmtModelID)
	for i := 0; i < 7; i++ {
		buf = append(buf, byte(k>>(8*i)))
	}
	m.tx.SendToNode(buf, n)
}

func (m *Pwmt) handle(ev events.Event) {
	if ev.Kind != events.KindPwmtData {
		return
	}
	p, ok := ev.Payload.(events.RawPayload)
	if !ok || len(p.Data) < 1 {
		return
	}
	ctl := p.Data[0]
	phaseID := ctl & 0b11
	messageID := (ctl >> 2) & 0b11
	calcStatus := (ctl >> 6) & 0b11
	if calcStatus == 1 {
		m.log.Debug("pwmt invalid data", zap.Uint8("phase", phaseID))
		return
	}
	d := p.Data
	switch {
	case phaseID == 0 && messageID == 0 && len(d) >= 7:
		m.log.Debug("pwmt totals", zap.String("mac", ev.Node.MACString()),
			zap.Int16("p_tot", int16(binary.LittleEndian.Uint16(d[1:3]))),
			zap.Int16("q_tot", int16(binary.LittleEndian.Uint16(d[3:5]))),
			zap.Int16("s_tot", int16(binary.LittleEndian.Uint16(d[5:7]))))
	case phaseID == 0 && messageID == 1 && len(d) >= 7:
		m.log.Debug("pwmt phase angles", zap.String("mac", ev.Node.MACString()),
			zap.Float64("ph12", float64(int16(binary.LittleEndian.Uint16(d[1:3])))/100),
			zap.Float64("ph23", float64(int16(binary.LittleEndian.Uint16(d[3:5])))/100),
			zap.Float64("ph31", float64(int16(binary.LittleEndian.Uint16(d[5:7])))/100))
	case phaseID == 0 && messageID == 2 && len(d) >= 7:
		m.log.Debug("pwmt voltages", zap.String("mac", ev.Node.MACString()),
			zap.Float64("v12", float64(binary.LittleEndian.Uint16(d[1:3]))/100),
			zap.Float64("v23", float64(binary.LittleEndian.Uint16(d[3:5]))/100),
			zap.Float64("v31", float64(binary.LittleEndian.Uint16(d[5:7]))/100))
	case phaseID == 0 && messageID == 3 && len(d) >= 5:
		m.log.Debug("pwmt energy total", zap.String("mac", ev.Node.MACString()),
			zap.Int32("e_tot", int32(binary.LittleEndian.Uint32(d[1:5]))))
	case phaseID != 0 && messageID == 0 && len(d) >= 7:
		m.log.Debug("pwmt line", zap.String("mac", ev.Node.MACString()), zap.Uint8("phase", phaseID),
			zap.Float64("v", float64(binary.LittleEndian.Uint16(d[1:3]))/100),
			zap.Float64("i", float64(binary.LittleEndian.Uint16(d[3:5]))/100),
			zap.Float64("f", float64(binary.LittleEndian.Uint16(d[5:7]))/100))
	case phaseID != 0 && messageID == 1 && len(d) >= 5:
		pf := binary.LittleEndian.Uint16(d[3:5])
		m.log.Debug("pwmt power", zap.String("mac", ev.Node.MACString()), zap.Uint8("phase", phaseID),
			zap.Int16("p", int16(binary.LittleEndian.Uint16(d[1:3]))),
			zap.Float64("pf", float64(pf&0x7F)/100), zap.Bool("inductive", pf>>16&1 != 0))
	case phaseID != 0 && messageID == 2 && len(d) >= 7:
		m.log.Debug("pwmt reactive", zap.String("mac", ev.Node.MACString()), zap.Uint8("phase", phaseID),
			zap.Int16("q", int16(binary.LittleEndian.Uint16(d[1:3]))),
			zap.Int16("s", int16(binary.LittleEndian.Uint16(d[3:5]))),
			zap.Float64("ph", float64(int16(binary.LittleEndian.Uint16(d[5:7])))/100))
	case phaseID != 0 && messageID == 3 && len(d) >= 5:
		m.log.Debug("pwmt energy", zap.String("mac", ev.Node.MACString()), zap.Uint8("phase", phaseID),
			zap.Int32("e", int32(binary.LittleEndian.Uint32(d[1:5]))))
	}
	ev.Node.LastMsgTS = timex.NowMs()
}

// SetPwmtRate schedules a new power-meter read rate.
func (m *Pwmt) SetPwmtRate(n *node.Node, rate uint32) {
	m.queue.AddTask(m.taskGw.SetRate(n, TaskOpPwmtRead, rate))
}

// SetPwmtConf schedules a power-meter configuration change.
func (m *Pwmt) SetPwmtConf(n *node.Node, phases, stats, valuesPh, valuesTot byte) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "pwmt_conf",
		Send:         func() { m.conf(n, phases, stats, valuesPh, valuesTot) },
		SuccessOn:    []events.Kind{events.KindPwmtConfigAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("power meter config changed", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "pwmt_conf"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}

// SetPwmtConv schedules a CT/VT conversion-factor change.
func (m *Pwmt) SetPwmtConv(n *node.Node, kv, ki uint32) {
	t := taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         "pwmt_conv",
		Send:         func() { m.conv(n, kv, ki) },
		SuccessOn:    []events.Kind{events.KindPwmtConvAck},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info("power meter conversion factor changed", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", "pwmt_conv"), zap.String("mac", n.MACString()))
		},
	})
	m.queue.AddTask(t)
}
