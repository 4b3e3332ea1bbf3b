package models

import (
	"encoding/binary"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
)

// DefaultBatteryPeriod is the node's default battery-report interval,
// 24 hours.
const DefaultBatteryPeriod uint32 = 86400

// Battery implements the Battery vendor model: a purely
// passive telemetry listener, no commands of its own.
type Battery struct {
	log *zap.Logger
}

// NewBattery builds the model and subscribes its telemetry handler.
func NewBattery(bus *eventbus.Bus, log *zap.Logger) *Battery {
	m := &Battery{log: log.Named("battery")}
	bus.Subscribe(m.handle)
	return m
}

func (m *Battery) handle(ev events.Event) {
	if ev.Kind != events.KindBatData {
		return
	}
	p, ok := ev.Payload.(events.RawPayload)
	if !ok || len(p.Data) < 3 {
		return
	}
	bat := binary.LittleEndian.Uint16(p.Data[0:2])
	tid := p.Data[2]
	m.log.Debug("battery level", zap.String("mac", ev.Node.MACString()),
		zap.Uint16("bat", bat), zap.Uint8("tid", tid))
}
