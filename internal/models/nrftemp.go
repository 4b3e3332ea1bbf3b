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

const nrfTempModelID = 0x0002

const (
	opNrfTempIA       = 0xC2
	opNrfTempDataAck  = 0xC5
	opNrfTempConfig   = 0xC7
	opNrfTempCalib    = 0xC9
	opNrfTempCalReset = 0xCB
)

// Default sense periods, in seconds.
const (
	DefaultNrfTempPeriod    uint32 = 600
	DefaultNrfTempIAQPeriod uint32 = 300
	DefaultNrfTempCO2Period uint32 = 300
)

// SHT4xConfigModes names the SHT4x sensor's sampling/heater modes.
var SHT4xConfigModes = map[byte]string{
	0: "SHT4X_REP_HIGH", 1: "SHT4X_REP_MED", 2: "SHT4X_REP_LOW",
	3: "SHT4X_REP_HEAT_H_1S", 4: "SHT4X_REP_HEAT_H_0_1S",
	5: "SHT4X_REP_HEAT_M_1S", 6: "SHT4X_REP_HEAT_M_0_1S",
	7: "SHT4X_REP_HEAT_L_1S", 8: "SHT4X_REP_HEAT_L_0_1S",
}

// NrfTemp implements the NrfTemp vendor model:
// temperature/humidity/pressure telemetry plus the IAQ and CO2 sensor
// add-ons.
type NrfTemp struct {
	tx     Sender
	bus    *eventbus.Bus
	queue  *taskqueue.Queue
	taskGw *TaskGw
	log    *zap.Logger
}

// NewNrfTemp builds the model and subscribes its telemetry handlers.
func NewNrfTemp(tx Sender, bus *eventbus.Bus, queue *taskqueue.Queue, taskGw *TaskGw, log *zap.Logger) *NrfTemp {
	m := &NrfTemp{tx: tx, bus: bus, queue: queue, taskGw: taskGw, log: log.Named("nrftemp")}
	bus.Subscribe(m.handle)
	return m
}

func (m *NrfTemp) ia(n *node.Node, status, count byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opNrfTempIA, nrfTempModelID), status, count), n)
}

func (m *NrfTemp) dataAck(n *node.Node) {
	m.tx.SendToNode(wire.EncodeModelOpcode3(opNrfTempDataAck, nrfTempModelID), n)
}

func (m *NrfTemp) config(n *node.Node, mode byte) {
	m.tx.SendToNode(append(wire.EncodeModelOpcode3(opNrfTempConfig, nrfTempModelID), mode), n)
}

func (m *NrfTemp) calibrate(n *node.Node, tempOffsetCenti int16, humdOffset int8, pressOffset int32) {
	buf := append(wire.EncodeModelOpcode3(opNrfTempCalib, nrfTempModelID), byte(tempOffsetCenti), byte(tempOffsetCenti>>8), byte(humdOffset))
	buf = append(buf, pack3LE(uint32(pressOffset))...)
	m.tx.SendToNode(buf, n)
}

func (m *NrfTemp) calibReset(n *node.Node, temp int16, humd int8, press int32) {
	buf := append(wire.EncodeModelOpcode3(opNrfTempCalReset, nrfTempModelID), byte(temp), byte(temp>>8), byte(humd))
	buf = append(buf, pack3LE(uint32(press))...)
	m.tx.SendToNode(buf, n)
}

func (m *NrfTemp) handle(ev events.Event) {
	p, ok := ev.Payload.(events.RawPayload)
	switch ev.Kind {
	case events.KindTempData, events.KindTempDataReliable:
		if !ok || len(p.Data) < 7 {
			return
		}
		if ev.Kind == events.KindTempDataReliable {
			m.dataAck(ev.Node)
		}
		temp := binary.LittleEndian.Uint16(p.Data[0:2])
		hum := p.Data[2]
		press := uint32(p.Data[3]) | uint32(p.Data[4])<<8 | uint32(p.Data[5])<<16
		tid := p.Data[6]
		m.log.Debug("temp received", zap.String("mac", ev.Node.MACString()),
			zap.Uint16("temp", temp), zap.Uint8("hum", hum), zap.Uint32("press", press),
			zap.Uint8("tid", tid), zap.Int8("rssi", ev.Header.RSSI), zap.Uint8("ttl", ev.Header.TTL))
		ev.Node.LastMsgTS = timex.NowMs()
	case events.KindIAQData:
		if !ok || len(p.Data) < 7 {
			return
		}
		iaq := p.Data[0]
		tvoc := binary.LittleEndian.Uint16(p.Data[1:3])
		etoh := p.Data[3]
		eco2 := binary.LittleEndian.Uint16(p.Data[4:6])
		m.log.Debug("iaq received", zap.String("mac", ev.Node.MACString()),
			zap.Uint8("iaq", iaq), zap.Uint16("tvoc", tvoc), zap.Uint8("etoh", etoh), zap.Uint16("eco2", eco2))
	case events.KindCO2Data:
		if !ok || len(p.Data) < 6 {
			return
		}
		co2 := binary.LittleEndian.Uint16(p.Data[0:2])
		calStatus := p.Data[2]
		abcTime := binary.LittleEndian.Uint16(p.Data[3:5])
		m.log.Debug("co2 received", zap.String("mac", ev.Node.MACString()),
			zap.Uint16("co2", co2), zap.Uint8("cal_status", calStatus), zap.Uint16("abc_time", abcTime))
	}
}

// SetNrfTempRate schedules a new sense-task rate for the main sensor.
func (m *NrfTemp) SetNrfTempRate(n *node.Node, rate uint32) {
	m.queue.AddTask(m.taskGw.SetRate(n, TaskOpNrftemp, rate))
}

// SetIAQRate schedules a new rate for the IAQ read task.
func (m *NrfTemp) SetIAQRate(n *node.Node, rate uint32) {
	m.queue.AddTask(m.taskGw.SetRate(n, TaskOpNrftempReadIAQ, rate))
}

// SetCO2Rate schedules a new rate for the CO2 read task.
func (m *NrfTemp) SetCO2Rate(n *node.Node, rate uint32) {
	m.queue.AddTask(m.taskGw.SetRate(n, TaskOpNrftempCO2, rate))
}

// SetIA requests the node change its comfort-indicator LED status.
func (m *NrfTemp) SetIA(n *node.Node, status, count byte) {
	m.queue.AddTask(m.simpleTask(n, "nrftemp_ia", func() { m.ia(n, status, count) }, events.KindIAAck))
}

// SetConfiguration requests a sensor sampling/heater mode change.
func (m *NrfTemp) SetConfiguration(n *node.Node, mode byte) {
	m.queue.AddTask(m.simpleTask(n, "nrftemp_config", func() { m.config(n, mode) }, events.KindTempConfigAck))
}

// SetCalibration requests an offset calibration.
func (m *NrfTemp) SetCalibration(n *node.Node, tempOffsetCenti int16, humdOffset int8, pressOffset int32) {
	m.queue.AddTask(m.simpleTask(n, "nrftemp_calib", func() { m.calibrate(n, tempOffsetCenti, humdOffset, pressOffset) }, events.KindTempCalibAck))
}

// ResetCalibration resets the calibration offsets to fixed values.
func (m *NrfTemp) ResetCalibration(n *node.Node, temp int16, humd int8, press int32) {
	m.queue.AddTask(m.simpleTask(n, "nrftemp_calib_reset", func() { m.calibReset(n, temp, humd, press) }, events.KindTempCalibResetAck))
}

func (m *NrfTemp) simpleTask(n *node.Node, name string, send func(), successKind events.Kind) taskqueue.Task {
	return taskqueue.NewSimpleTask(taskqueue.SimpleTaskSpec{
		Node:         n,
		Name:         name,
		Send:         send,
		SuccessOn:    []events.Kind{successKind},
		FailureOn:    []events.Kind{events.KindTaskTimeout},
		Timeout:      2500 * time.Millisecond,
		RetryLimited: true,
		Bus:          m.bus,
		Resched:      m.queue,
		OnSuccess: func(events.Event) {
			m.log.Info(name+" succeeded", zap.String("mac", n.MACString()))
		},
		OnExhausted: func(n *node.Node) {
			m.log.Info("max retries", zap.String("op", name), zap.String("mac", n.MACString()))
		},
	})
}
