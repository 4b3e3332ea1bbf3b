// Package eventparser implements the Event Parser: it demultiplexes control, mesh, and model events off the frame
// stream, applies the replay cache, enriches model events with node
// identity, and republishes everything as a typed events.Event on the
// Event Bus. A malformed frame is logged and skipped — it never
// terminates the parser, which corrects the original's
// `except: ...; raise`.
package eventparser

import (
	"encoding/binary"
	"io"

	"go.uber.org/zap"

	"ttgw-go/errcode"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/replay"
	"ttgw-go/internal/wire"
)

// Parser reads frames from a link (via a wire.Reader) and publishes
// decoded events.Event values to a bus.
type Parser struct {
	log    *zap.Logger
	src    wire.ByteSource
	reader *wire.Reader
	bus    *eventbus.Bus
	db     node.Database
	cache  *replay.Cache

	stop chan struct{}
}

// New builds a Parser. src is typically a linkio.Link.
func New(src wire.ByteSource, bus *eventbus.Bus, db node.Database, cache *replay.Cache, log *zap.Logger) *Parser {
	return &Parser{
		log:    log.Named("eventparser"),
		src:    src,
		reader: wire.NewReader(src),
		bus:    bus,
		db:     db,
		cache:  cache,
		stop:   make(chan struct{}),
	}
}

// BootSync scans for the boot preamble once, ahead of the normal boot
// sequence. src must be the same underlying byte source given to New.
func BootSync(src wire.ByteSource) error {
	return wire.ScanForPreamble(src)
}

// Run reads and dispatches frames until Stop is called or the link
// returns a terminal error, at which point it publishes a
// UartDisconnection event and returns.
func (p *Parser) Run() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		f, err := p.reader.ReadFrame()
		if err != nil {
			if err == io.EOF {
				p.bus.Publish(events.New(events.KindUartDisconnection, nil))
				return
			}
			p.log.Warn("link read failed, resyncing",
				zap.Error(errcode.New("read_frame", errcode.ParseFailure, err)))
			if rerr := wire.ScanForPreamble(p.src); rerr != nil {
				p.bus.Publish(events.New(events.KindUartDisconnection, nil))
				return
			}
			continue
		}
		p.processFrame(f)
	}
}

// Stop requests Run to exit.
func (p *Parser) Stop() { close(p.stop) }

func (p *Parser) processFrame(f wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("parse error, skipping frame",
				zap.Error(errcode.New("process_frame", errcode.ParseFailure, nil)),
				zap.Any("recover", r), zap.Uint8("opcode", f.Opcode))
		}
	}()

	if ev, ok := p.decodeControl(f); ok {
		p.bus.Publish(ev)
		return
	}
	if f.Opcode == 0xD0 || f.Opcode == 0xD1 {
		if ev, ok := p.decodeModel(f.Payload); ok {
			p.bus.Publish(ev)
		}
		return
	}
	p.log.Debug("unrecognized frame opcode", zap.Uint8("opcode", f.Opcode))
}

func (p *Parser) decodeControl(f wire.Frame) (events.Event, bool) {
	d := f.Payload
	switch f.Opcode {
	case 0x81: // DeviceStarted / DEV_RESET
		return events.New(events.KindDevReset, nil), true
	case 0x82: // EchoRsp
		return events.Event{Kind: events.KindEcho, Payload: events.RawPayload{Data: append([]byte(nil), d...)}}, true
	case 0x84: // CmdResponse
		return p.decodeCmdResponse(d), true
	case 0x8A: // Application
		return p.decodeApplication(d), true
	case 0xC0:
		return p.decodeUnprovDisc(d), true
	case 0xC1:
		return events.New(events.KindProvLinkEstablished, nil), true
	case 0xC2:
		if len(d) < 2 {
			return events.Event{}, false
		}
		return events.Event{Kind: events.KindProvLinkClosed, Payload: events.ProvLinkClosedPayload{Reason: d[1]}}, true
	case 0xC3:
		return events.New(events.KindProvCaps, nil), true
	case 0xC5:
		if len(d) < 39 {
			return events.Event{}, false
		}
		var devkey [16]byte
		copy(devkey[:], d[23:39])
		return events.Event{Kind: events.KindProvComplete, Payload: events.ProvCompletePayload{DevKey: devkey}}, true
	case 0xC6:
		if len(d) < 4 {
			return events.Event{}, false
		}
		return events.New(events.KindProvAuth, nil), true
	case 0xC7:
		if len(d) < 97 {
			return events.Event{}, false
		}
		var peer [64]byte
		copy(peer[:], d[1:65])
		var priv [32]byte
		copy(priv[:], d[65:97])
		return events.Event{Kind: events.KindProvECDH, Payload: events.ProvECDHPayload{PeerPublicKey: peer, Private: priv}}, true
	case 0xC9:
		if len(d) < 2 {
			return events.Event{}, false
		}
		return events.Event{Kind: events.KindProvFailed, Payload: events.ProvFailedPayload{Code: d[1]}}, true
	case 0xD2: // MeshTxComplete
		if len(d) < 4 {
			return events.Event{}, false
		}
		return events.Event{Kind: events.KindMeshTxComplete, Payload: events.MeshTxCompletePayload{Token: binary.LittleEndian.Uint32(d)}}, true
	}
	return events.Event{}, false
}

func (p *Parser) decodeCmdResponse(d []byte) events.Event {
	if len(d) < 2 {
		return events.Event{}
	}
	opcode, result := d[0], d[1]
	rsp := d[2:]
	if opcode == wire.OpPacketSend {
		token := uint32(0)
		if result == 0 && len(rsp) >= 4 {
			token = binary.LittleEndian.Uint32(rsp)
		}
		return events.Event{Kind: events.KindRspSend, Payload: events.RspSendPayload{Result: result, Token: token}}
	}
	return events.Event{Kind: events.KindRspEvent, Payload: events.RspPayload{Opcode: opcode, Result: result, RspData: append([]byte(nil), rsp...)}}
}

func (p *Parser) decodeApplication(d []byte) events.Event {
	if len(d) < 1 {
		return events.Event{}
	}
	switch d[0] {
	case 0x02:
		if len(d) < 5 {
			return events.Event{}
		}
		return events.Event{Kind: events.KindSeqUpdate, Payload: events.SeqUpdatePayload{Seq: binary.LittleEndian.Uint32(d[1:5])}}
	case 0x04:
		if len(d) < 3 {
			return events.Event{}
		}
		return events.Event{Kind: events.KindCacheSize, Payload: events.CacheSizePayload{CacheSize: binary.LittleEndian.Uint16(d[1:3])}}
	case 0x05:
		return events.New(events.KindSDEnabled, nil)
	default:
		return events.Event{Kind: events.KindAppEvent, Payload: events.RawPayload{Data: append([]byte(nil), d...)}}
	}
}

func (p *Parser) decodeUnprovDisc(d []byte) events.Event {
	if len(d) < 25 {
		return events.Event{}
	}
	var uuid [16]byte
	copy(uuid[:], d[0:16])
	var mac [6]byte
	copy(mac[:], d[19:25])
	mac = wire.ReverseMAC(mac)
	return events.Event{Kind: events.KindUnprovDisc, Payload: events.UnprovDiscPayload{UUID: uuid, MAC: mac}}
}

// modelEventOpcodes maps the canonical 3-byte access opcode (as decoded
// by wire.DecodeModelOpcode) to the Kind it produces.
var modelEventOpcodes = map[uint32]events.Kind{
	0x804A:   events.KindNodeReset,
	0xC00000: events.KindWakeNotify,
	0xC30000: events.KindWakeAckSleep,
	0xC40000: events.KindWakeAckWait,
	0xC80000: events.KindWakeAckAlive,
	0xC50000: events.KindWakeReset,
	0xC00200: events.KindTempData,
	0xC10200: events.KindIAQData,
	0xC30200: events.KindIAAck,
	0xC40200: events.KindTempDataReliable,
	0xC60200: events.KindCO2Data,
	0xC80200: events.KindTempConfigAck,
	0xCA0200: events.KindTempCalibAck,
	0xCC0200: events.KindTempCalibResetAck,
	0xCD0200: events.KindTempHeaterNotify,
	0xC00400: events.KindBatData,
	0xC00600: events.KindTapNotify,
	0xC20600: events.KindTapAckConf,
	0xC10800: events.KindLightAck,
	0xC00A00: events.KindDatetimeReq,
	0xC20A00: events.KindDatetimeAck,
	0xC10C00: events.KindTaskAck,
	0xC30C00: events.KindTaskDeleteAck,
	0xC50C00: events.KindTaskDeleteOpAck,
	0xC70C00: events.KindTaskSendTasks,
	0xC80C00: events.KindTaskGetTasksAck,
	0xCD0C00: events.KindTaskChangeAck,
	0xC11400: events.KindPowerAck,
	0xC01600: events.KindHwmData,
	0xC21600: events.KindHwmAck,
	0xC00E00: events.KindRssiNeighbrData,
	0xC20E00: events.KindRssiNeighbrAck,
	0xC40E00: events.KindRssiStatusAck,
	0xC50E00: events.KindRssiPing,
	0xC60E00: events.KindRssiPingAck,
	0xC11200: events.KindOtaVersionAck,
	0xC31200: events.KindOtaStatusAck,
	0xC51200: events.KindOtaStoreAck,
	0xC71200: events.KindOtaRelayAck,
	0xC11800: events.KindBeaconStartAck,
	0xC31800: events.KindBeaconStopAck,
	0xC21A00: events.KindTransportRecv,
	0xC31A00: events.KindTransportFrStart,
	0xC41A00: events.KindTransportFrData,
	0xC51A00: events.KindTransportFrEnd,
	0xC01C00: events.KindPwmtData,
	0xC21C00: events.KindPwmtConfigAck,
	0xC41C00: events.KindPwmtConvAck,
	0xC11E00: events.KindOutputDacAck,
	0xC31E00: events.KindOutputDigAck,
}

// decodeModel parses a model-event frame (opcode 0xD0/0xD1): mesh
// header, replay-cache check, node-identity lookup, then the inner
// access opcode and its application payload.
func (p *Parser) decodeModel(data []byte) (events.Event, bool) {
	if len(data) < 23 {
		return events.Event{}, false
	}
	h := events.MeshHeader{
		Src:          binary.LittleEndian.Uint16(data[0:2]),
		Dst:          binary.LittleEndian.Uint16(data[2:4]),
		AppKeyHandle: binary.LittleEndian.Uint16(data[4:6]),
		SubnetHandle: binary.LittleEndian.Uint16(data[6:8]),
		TTL:          data[8],
		AdvAddrType:  data[9],
		RSSI:         int8(data[16]),
		ActualLength: binary.LittleEndian.Uint16(data[17:19]),
		Seq:          binary.LittleEndian.Uint32(data[19:23]),
	}
	var advAddr [6]byte
	copy(advAddr[:], data[10:16])
	h.AdvAddr = wire.ReverseMAC(advAddr)

	if !p.cache.Check(h.Src, h.Seq) {
		return events.Event{}, false
	}

	n := p.db.GetNodeByAddress(h.Src)
	modelData := data[23:]
	if n == nil && h.Src > 10 {
		return events.Event{Kind: events.KindUnknownNode, Header: &h, Node: nil}, true
	}

	opcode, rest, err := wire.DecodeModelOpcode(modelData)
	if err != nil {
		p.log.Debug("short model payload", zap.Error(err))
		return events.Event{}, false
	}
	kind, ok := modelEventOpcodes[opcode]
	if !ok {
		return events.Event{}, false
	}
	buf := append([]byte(nil), rest...)
	return events.Event{Kind: kind, Header: &h, Node: n, Payload: decodeModelPayload(kind, buf)}, true
}

// decodeModelPayload builds the typed payload for the handful of model
// events the core (Task Queue, Fragmentation Transport) consumes
// directly; every other model kind is left as RawPayload for its model
// to decode itself.
func decodeModelPayload(kind events.Kind, data []byte) any {
	switch kind {
	case events.KindWakeReset:
		if len(data) >= 2 {
			return events.WakeResetPayload{BoardID: data[0], ResetReason: data[1]}
		}
	case events.KindWakeNotify:
		if len(data) >= 2 {
			return events.WakeNotifyPayload{TID: data[0], Extended: true, Configured: data[1] != 0}
		}
		if len(data) >= 1 {
			return events.WakeNotifyPayload{TID: data[0], Extended: false}
		}
	case events.KindTransportFrStart:
		if len(data) >= 2 {
			return events.TransportFrStartPayload{Length: binary.LittleEndian.Uint16(data[0:2])}
		}
	case events.KindTransportFrData:
		if len(data) >= 2 {
			return events.TransportFrDataPayload{Seq: binary.LittleEndian.Uint16(data[0:2]), Data: data[2:]}
		}
	case events.KindTransportFrEnd:
		var sum [6]byte
		copy(sum[:], data)
		return events.TransportFrEndPayload{Checksum: sum}
	case events.KindTaskAck, events.KindTaskChangeAck:
		if len(data) >= 2 {
			return events.TaskAckPayload{TaskIndex: int8(data[0]), TID: data[1]}
		}
	case events.KindTaskDeleteAck, events.KindTaskDeleteOpAck:
		if len(data) >= 2 {
			return events.TaskDeleteAckPayload{DeleteCode: int8(data[0]), TID: data[1]}
		}
	case events.KindTaskSendTasks:
		if len(data) >= 8 {
			period := uint32(data[5]) | uint32(data[6])<<8 | uint32(data[7])<<16
			return events.TaskSendTasksPayload{
				Opcode:    data[0],
				EventDate: binary.LittleEndian.Uint32(data[1:5]),
				Period:    period,
			}
		}
	}
	return events.RawPayload{Data: data}
}
