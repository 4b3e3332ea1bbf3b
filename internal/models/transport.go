package models

import (
	"encoding/binary"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/fragment"
	"ttgw-go/internal/wire"
)

const transportModelID = 0x001A

// fragChunkSize is the number of application bytes carried per
// fragment-data packet.
const fragChunkSize = 5

const (
	opTransportSend    = 0xC2
	opTransportFrStart = 0xC3
	opTransportFrData  = 0xC4
	opTransportFrEnd   = 0xC5
)

// Transport implements the Transport vendor model and the
// Fragmentation Transport: a raw application-data channel over the
// mesh, transparently splitting payloads too large for a single
// packet and reassembling them on receipt.
type Transport struct {
	tx  Sender
	bus *eventbus.Bus
	rx  *fragment.Reassembler
	log *zap.Logger

	onRecv func(addr uint16, data []byte)
}

// NewTransport builds the model and subscribes its receive handler.
func NewTransport(tx Sender, bus *eventbus.Bus, log *zap.Logger) *Transport {
	m := &Transport{tx: tx, bus: bus, rx: fragment.New(), log: log.Named("transport")}
	bus.Subscribe(m.handle)
	return m
}

// OnReceive installs the callback invoked with each application
// payload received, whether it arrived whole or fragmented.
func (m *Transport) OnReceive(cb func(addr uint16, data []byte)) {
	m.onRecv = cb
}

// SendMsg transmits data to addr, splitting it across fragment packets
// when it exceeds a single frame's 7-byte capacity.
func (m *Transport) SendMsg(addr uint16, data []byte) {
	if len(data) <= 7 {
		buf := append(wire.EncodeModelOpcode3(opTransportSend, transportModelID), data...)
		m.tx.SendToAddr(buf, addr, true)
		return
	}
	m.sendFrStart(addr, len(data))
	m.sendFrData(addr, data)
	m.sendFrEnd(addr)
}

func (m *Transport) sendFrStart(addr uint16, length int) {
	buf := binary.LittleEndian.AppendUint16(wire.EncodeModelOpcode3(opTransportFrStart, transportModelID), uint16(length))
	m.tx.SendToAddr(buf, addr, true)
}

func (m *Transport) sendFrData(addr uint16, data []byte) {
	n := (len(data) + fragChunkSize - 1) / fragChunkSize
	for seq := 0; seq < n; seq++ {
		start := seq * fragChunkSize
		end := start + fragChunkSize
		if end > len(data) {
			end = len(data)
		}
		buf := binary.LittleEndian.AppendUint16(wire.EncodeModelOpcode3(opTransportFrData, transportModelID), uint16(seq))
		buf = append(buf, data[start:end]...)
		m.tx.SendToAddr(buf, addr, true)
	}
}

// sendFrEnd closes the fragmented send. The trailing checksum field is
// a fixed sequence, not a computed one: the receiving side never
// verifies it either.
func (m *Transport) sendFrEnd(addr uint16) {
	buf := append(wire.EncodeModelOpcode3(opTransportFrEnd, transportModelID), 1, 2, 3, 4, 5, 6)
	m.tx.SendToAddr(buf, addr, true)
}

func (m *Transport) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindTransportRecv:
		p, ok := ev.Payload.(events.RawPayload)
		if ok && m.onRecv != nil {
			m.onRecv(ev.Header.Src, p.Data)
		}
	case events.KindTransportFrStart:
		p, ok := ev.Payload.(events.TransportFrStartPayload)
		if ok {
			m.rx.Start(ev.Header.Src, p.Length)
		}
	case events.KindTransportFrData:
		p, ok := ev.Payload.(events.TransportFrDataPayload)
		if ok {
			m.rx.Data(ev.Header.Src, p.Seq, p.Data)
		}
	case events.KindTransportFrEnd:
		p, ok := ev.Payload.(events.TransportFrEndPayload)
		if !ok {
			return
		}
		data, complete := m.rx.End(ev.Header.Src, p.Checksum)
		if !complete {
			m.log.Warn("fragment reassembly incomplete", zap.Uint16("src", ev.Header.Src))
			return
		}
		if m.onRecv != nil {
			m.onRecv(ev.Header.Src, data)
		}
	}
}
