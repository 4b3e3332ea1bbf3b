// Package txmanager implements the Tx Manager: a credit-limited,
// two-priority dispatcher for outbound mesh packets.
package txmanager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ttgw-go/errcode"
	"ttgw-go/internal/devicemgr"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/wire"
)

const (
	credits        = 3 // tested-safe ceiling; 10 fails on the radio, 5 is marginal
	ttl            = 127
	forceSegmented = 0
	transmicSize   = 0
	queueDepth     = 256
)

// job is one queued outbound packet: either addressed to a specific
// node (device-key encryption) or to a raw mesh address (appkey
// encryption, e.g. group broadcasts and fragment frames).
type job struct {
	data []byte
	node *node.Node
	addr uint16
}

// Manager dispatches queued jobs through the Device Manager's
// send_cmd_wait_rsp, gated by a semaphore of in-flight PacketSend
// credits that are returned on MESH_TX_COMPLETE (or immediately on
// command rejection).
type Manager struct {
	log *zap.Logger
	dm  *devicemgr.Manager
	db  node.Database
	sem *semaphore.Weighted

	pendingMu sync.Mutex
	pending   map[uint32]struct{}

	normalQ chan job
	lowQ    chan job

	listenerMode   func() bool
	provisionerMode func() bool

	stop chan struct{}
	done chan struct{}
}

// New builds a Manager. isListener/isProvisioner are queried on every
// SendToNode call.
func New(dm *devicemgr.Manager, db node.Database, bus *eventbus.Bus, isListener, isProvisioner func() bool, log *zap.Logger) *Manager {
	m := &Manager{
		log:             log.Named("txmanager"),
		dm:              dm,
		db:              db,
		sem:             semaphore.NewWeighted(credits),
		pending:         make(map[uint32]struct{}),
		normalQ:         make(chan job, queueDepth),
		lowQ:            make(chan job, queueDepth),
		listenerMode:    isListener,
		provisionerMode: isProvisioner,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	bus.Subscribe(m.handleEvent)
	return m
}

func (m *Manager) handleEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindRspSend:
		p, _ := ev.Payload.(events.RspSendPayload)
		if p.Result == 0 {
			m.pendingMu.Lock()
			m.pending[p.Token] = struct{}{}
			m.pendingMu.Unlock()
			return
		}
		m.log.Warn("packet send rejected",
			zap.Error(errcode.New("send", errcode.ProtocolRejected, nil)),
			zap.Uint8("result", p.Result))
		m.sem.Release(1)
	case events.KindMeshTxComplete:
		p, _ := ev.Payload.(events.MeshTxCompletePayload)
		m.pendingMu.Lock()
		_, ok := m.pending[p.Token]
		if ok {
			delete(m.pending, p.Token)
		}
		m.pendingMu.Unlock()
		if ok {
			m.sem.Release(1)
		}
	}
}

// SendToNode queues data for unicast delivery to n, encrypted under its
// device key. Refused (silently, matching the original) in listener or
// provisioner-only mode.
func (m *Manager) SendToNode(data []byte, n *node.Node) {
	if m.listenerMode() || m.provisionerMode() {
		return
	}
	select {
	case m.normalQ <- job{data: data, node: n}:
	default:
		m.log.Warn("normal send queue full, dropping packet",
			zap.Error(errcode.New("send_to_node", errcode.CapacityExceeded, nil)),
			zap.Uint16("addr", n.UnicastAddr))
	}
}

// SendToAddr queues data for delivery to a raw mesh address (group
// broadcast or fragment traffic), encrypted under the appkey.
// lowPriority routes fragment traffic behind normal traffic so it
// cannot starve it.
func (m *Manager) SendToAddr(data []byte, addr uint16, lowPriority bool) {
	q := m.normalQ
	if lowPriority {
		q = m.lowQ
	}
	select {
	case q <- job{data: data, addr: addr}:
	default:
		m.log.Warn("send queue full, dropping packet",
			zap.Error(errcode.New("send_to_addr", errcode.CapacityExceeded, nil)),
			zap.Uint16("addr", addr))
	}
}

// Run drains the queues until ctx is cancelled: normal queue first,
// falling back to low-priority only when normal is empty.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		j, ok := m.nextJob(ctx)
		if !ok {
			return
		}
		if !m.acquireCredit(ctx) {
			return
		}
		m.dispatch(ctx, j)
	}
}

func (m *Manager) nextJob(ctx context.Context) (job, bool) {
	select {
	case j := <-m.normalQ:
		return j, true
	default:
	}
	select {
	case j := <-m.normalQ:
		return j, true
	case j := <-m.lowQ:
		return j, true
	case <-ctx.Done():
		return job{}, false
	case <-m.stop:
		return job{}, false
	}
}

// acquireCredit blocks for a credit with a 1s timeout so shutdown stays
// prompt.
func (m *Manager) acquireCredit(ctx context.Context) bool {
	for {
		acqCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := m.sem.Acquire(acqCtx, 1)
		cancel()
		if err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-m.stop:
			return false
		default:
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, j job) {
	var keyHandle, addrHandle uint16
	var err error
	if j.node != nil {
		keyHandle, err = m.dm.GetDevkeyHandle(ctx, j.node)
		if err == nil {
			addrHandle, err = m.dm.GetAddressHandle(ctx, j.node.UnicastAddr)
		}
	} else {
		keyHandle = m.dm.Handles.AppKeyHandle
		addrHandle, err = m.dm.GetAddressHandle(ctx, j.addr)
	}
	if err != nil {
		m.log.Warn("dispatch failed to resolve handles", zap.Error(err))
		m.sem.Release(1)
		return
	}
	f := wire.PacketSend(keyHandle, m.db.GetAddress(), addrHandle, ttl, forceSegmented, transmicSize, j.data)
	if _, err := m.dm.SendCmdWaitRsp(ctx, f); err != nil {
		m.log.Warn("packet send failed", zap.Error(err))
		m.sem.Release(1)
	}
}

// Stop halts the dispatcher.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}
