// Package devicemgr implements the Device Manager:
// boot handshake, device configuration, request/response correlation,
// sequence-number persistence, and the devkey/address handle caches.
package devicemgr

import (
	"context"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ttgw-go/errcode"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/linkio"
	"ttgw-go/internal/node"
	"ttgw-go/internal/wire"
)

const seqBlock = 100

// appKey is the fixed application key every gateway provisions on boot.
var appKey = mustHex("4F68AD85D9F48AC8589DF665B6B49B8A")

// Group pub/sub addresses every gateway subscribes to on boot.
const (
	groupWake    uint16 = 49156
	groupNrftemp uint16 = 49400
)

func mustHex(s string) [16]byte {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		panic("devicemgr: invalid fixed app key constant")
	}
	copy(out[:], b)
	return out
}

// Handles records the identifiers the device returned for the
// gateway's own subnet/appkey/subscriptions, and the per-node/per-
// address caches.
type Handles struct {
	NetKeyHandle    uint16
	AppKeyHandle    uint16
	WakeAddrHandle  uint16
	NrftempHandle   uint16
	ReplayCacheSize uint16
	Cache           *HandleCache
}

// Manager is the Device Manager.
type Manager struct {
	log     *zap.Logger
	link    linkio.Link
	bus     *eventbus.Bus
	db      node.Database
	seqPath string

	hMu     sync.Mutex
	Handles Handles

	cmdMu sync.Mutex // serializes SendCmdWaitRsp calls, and with it all handle-cache mutation

	pendingMu   sync.Mutex
	pendingOp   int // -1 = none; opcode, or wire.OpPacketSend sentinel
	pendingChan chan pendingResult

	devStartedOnce chan struct{}
	devStartedFire sync.Once

	echoCh chan []byte
}

type pendingResult struct {
	rsp events.RspPayload
}

// New builds a Manager and subscribes its handlers to bus. It does not
// start the boot sequence; call Boot for that.
func New(link linkio.Link, bus *eventbus.Bus, db node.Database, seqPath string, log *zap.Logger) *Manager {
	m := &Manager{
		log:            log.Named("devicemgr"),
		link:           link,
		bus:            bus,
		db:             db,
		seqPath:        seqPath,
		Handles:        Handles{Cache: NewHandleCache()},
		pendingOp:      -1,
		devStartedOnce: make(chan struct{}),
		echoCh:         make(chan []byte, 1),
	}
	bus.Subscribe(m.handleEvent)
	return m
}

func (m *Manager) handleEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindDevReset:
		m.devStartedFire.Do(func() { close(m.devStartedOnce) })
	case events.KindSeqUpdate:
		p, _ := ev.Payload.(events.SeqUpdatePayload)
		m.persistSeq(p.Seq)
	case events.KindCacheSize:
		p, _ := ev.Payload.(events.CacheSizePayload)
		m.hMu.Lock()
		m.Handles.ReplayCacheSize = p.CacheSize
		m.hMu.Unlock()
	case events.KindEcho:
		p, _ := ev.Payload.(events.RawPayload)
		select {
		case m.echoCh <- p.Data:
		default:
		}
	case events.KindRspEvent:
		p, _ := ev.Payload.(events.RspPayload)
		m.deliver(int(p.Opcode), p)
	case events.KindRspSend:
		p, _ := ev.Payload.(events.RspSendPayload)
		m.deliver(sendSentinel, events.RspPayload{Opcode: wire.OpPacketSend, Result: p.Result, RspData: u32le(p.Token)})
	}
}

// sendSentinel is the pendingOp value used while awaiting a PacketSend
// (0xAB) completion, which arrives as RSP_SEND rather than RSP_EVENT.
const sendSentinel = 0x100

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (m *Manager) deliver(opcode int, rsp events.RspPayload) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pendingOp != opcode || m.pendingChan == nil {
		return
	}
	select {
	case m.pendingChan <- pendingResult{rsp: rsp}:
	default:
	}
}

// SendCmdWaitRsp transmits cmd and blocks for its matching response.
// This must never be called from the Event Bus worker goroutine — it
// is invoked from Manager's own boot/config goroutine.
func (m *Manager) SendCmdWaitRsp(ctx context.Context, f wire.Frame) (events.RspPayload, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	op := int(f.Opcode)
	if f.Opcode == wire.OpPacketSend {
		op = sendSentinel
	}
	ch := make(chan pendingResult, 1)

	m.pendingMu.Lock()
	m.pendingOp = op
	m.pendingChan = ch
	m.pendingMu.Unlock()

	defer func() {
		m.pendingMu.Lock()
		m.pendingOp = -1
		m.pendingChan = nil
		m.pendingMu.Unlock()
	}()

	if err := m.link.Send(wire.Encode(f)); err != nil {
		return events.RspPayload{}, errcode.New("send_cmd_wait_rsp", errcode.TransportDisconnected, err)
	}
	select {
	case r := <-ch:
		return r.rsp, nil
	case <-ctx.Done():
		return events.RspPayload{}, errcode.New("send_cmd_wait_rsp", errcode.Timeout, ctx.Err())
	}
}

// Boot runs the boot handshake: send Reset, wait for
// DEV_RESET (a oneshot signal, not a busy-wait — REDESIGN FLAGS §9),
// then configure the device.
func (m *Manager) Boot(ctx context.Context) error {
	if err := m.link.Send(wire.Encode(wire.Reset())); err != nil {
		return errcode.New("boot", errcode.TransportDisconnected, err)
	}
	select {
	case <-m.devStartedOnce:
	case <-ctx.Done():
		return errcode.New("boot", errcode.Timeout, ctx.Err())
	}
	return m.configure(ctx)
}

func (m *Manager) configure(ctx context.Context) error {
	m.log.Info("configuring gateway")

	if _, err := m.SendCmdWaitRsp(ctx, wire.StateClear()); err != nil {
		return err
	}
	if _, err := m.SendCmdWaitRsp(ctx, wire.GetReplayCacheSize()); err != nil {
		return err
	}

	addr := m.db.GetAddress()
	if _, err := m.SendCmdWaitRsp(ctx, wire.AddrLocalUnicastSet(addr, 1)); err != nil {
		return err
	}

	seq, err := m.loadAndAdvanceSeq()
	if err != nil {
		return err
	}
	if _, err := m.SendCmdWaitRsp(ctx, wire.SetNetState(0, 0, 0, seq)); err != nil {
		return err
	}

	rsp, err := m.SendCmdWaitRsp(ctx, wire.SubnetAdd(0, m.db.GetNetKey()))
	if err != nil {
		return err
	}
	m.Handles.NetKeyHandle = u16le(rsp.RspData)

	rsp, err = m.SendCmdWaitRsp(ctx, wire.AppkeyAdd(0, 0, appKey))
	if err != nil {
		return err
	}
	m.Handles.AppKeyHandle = u16le(rsp.RspData)

	rsp, err = m.SendCmdWaitRsp(ctx, wire.AddrSubscriptionAdd(groupWake))
	if err != nil {
		return err
	}
	m.Handles.WakeAddrHandle = u16le(rsp.RspData)

	rsp, err = m.SendCmdWaitRsp(ctx, wire.AddrSubscriptionAdd(groupNrftemp))
	if err != nil {
		return err
	}
	m.Handles.NrftempHandle = u16le(rsp.RspData)

	return nil
}

func u16le(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

// loadAndAdvanceSeq reads the persisted sequence number, rounds up to
// the next SEQ_BLOCK boundary, and rewrites the file.
func (m *Manager) loadAndAdvanceSeq() (uint32, error) {
	seq := uint32(0)
	if data, err := os.ReadFile(m.seqPath); err == nil {
		if v, perr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32); perr == nil {
			seq = uint32((v/seqBlock + 1) * seqBlock)
		}
	}
	if err := m.persistSeq(seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (m *Manager) persistSeq(seq uint32) error {
	return os.WriteFile(m.seqPath, []byte(strconv.FormatUint(uint64(seq), 10)), 0o644)
}

// CheckConnection sends an Echo and waits up to 10x500ms for the
// matching reply.
func (m *Manager) CheckConnection(ctx context.Context) bool {
	want := []byte{0x02, 0x04, 0xFF}
	if err := m.link.Send(wire.Encode(wire.Echo(want))); err != nil {
		return false
	}
	deadline := time.After(10 * 500 * time.Millisecond)
	for {
		select {
		case got := <-m.echoCh:
			if string(got) == string(want) {
				return true
			}
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// GetDevkeyHandle returns the cached devkey handle for n, allocating one
// on the device if necessary, evicting per the LRU-by-insertion policy.
func (m *Manager) GetDevkeyHandle(ctx context.Context, n *node.Node) (uint16, error) {
	if h, ok := m.Handles.Cache.DevkeyLookup(n); ok {
		return h, nil
	}
	if staleHandle, ok := m.Handles.Cache.DevkeyStaleForAddr(n); ok {
		if _, err := m.SendCmdWaitRsp(ctx, wire.DevkeyDelete(staleHandle)); err != nil {
			return 0, err
		}
		m.Handles.Cache.DevkeyRemove(staleHandle)
	} else if m.Handles.Cache.DevkeyAtCapacity() {
		oldHandle, _ := m.Handles.Cache.DevkeyEvictOldest()
		if _, err := m.SendCmdWaitRsp(ctx, wire.DevkeyDelete(oldHandle)); err != nil {
			return 0, err
		}
		m.Handles.Cache.DevkeyRemove(oldHandle)
	}
	rsp, err := m.SendCmdWaitRsp(ctx, wire.DevkeyAdd(n.UnicastAddr, n.NetKeyIndex, n.DevKey))
	if err != nil {
		return 0, err
	}
	handle := u16le(rsp.RspData)
	m.Handles.Cache.DevkeyInsert(n, handle)
	return handle, nil
}

// GetAddressHandle returns the cached publication handle for addr,
// allocating one if necessary.
func (m *Manager) GetAddressHandle(ctx context.Context, addr uint16) (uint16, error) {
	if h, ok := m.Handles.Cache.AddrLookup(addr); ok {
		return h, nil
	}
	if m.Handles.Cache.AddrAtCapacity() {
		oldHandle, _ := m.Handles.Cache.AddrEvictOldest()
		if _, err := m.SendCmdWaitRsp(ctx, wire.AddrPublicationRemove(oldHandle)); err != nil {
			return 0, err
		}
		m.Handles.Cache.AddrRemoveOldest()
	}
	rsp, err := m.SendCmdWaitRsp(ctx, wire.AddrPublicationAdd(addr))
	if err != nil {
		return 0, err
	}
	handle := u16le(rsp.RspData)
	m.Handles.Cache.AddrInsert(addr, handle)
	return handle, nil
}

// Stop unsubscribes the gateway's group addresses and resets the
// device.
func (m *Manager) Stop(ctx context.Context) {
	_ = m.link.Send(wire.Encode(wire.AddrSubscriptionRemove(m.Handles.WakeAddrHandle)))
	_ = m.link.Send(wire.Encode(wire.AddrSubscriptionRemove(m.Handles.NrftempHandle)))
	_ = m.link.Send(wire.Encode(wire.Reset()))
}

// ClearReplayCache tells the device to drop its own replay-cache entry
// for addr (used when re-provisioning a reused address).
func (m *Manager) ClearReplayCache(addr uint16) error {
	return m.link.Send(wire.Encode(wire.ClearNodeReplayCache(addr)))
}

// CacheSize returns the device's replay-cache capacity, which bounds
// how many unicast addresses the gateway may allocate.
func (m *Manager) CacheSize() uint16 {
	m.hMu.Lock()
	defer m.hMu.Unlock()
	return m.Handles.ReplayCacheSize
}
