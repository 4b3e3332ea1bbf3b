package provisioning

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/wire"
)

// Manager drives the unprovisioned-device scan/provision lifecycle:
// while scanning, any discovered device that passes the active
// ScanFilter is provisioned automatically, one at a time.
type Manager struct {
	tx         FrameSender
	bus        *eventbus.Bus
	db         node.Database
	isListener func() bool
	log        *zap.Logger
	prv        *Provisioner

	mu          sync.Mutex
	scanning    bool
	provisioning bool
	onlyOne     bool
	filter      ScanFilter
	discSub     *eventbus.Subscription
	timeoutTmr  *time.Timer
}

// NewManager builds a Manager, wiring itself as prv's completion
// callback so scanning resumes once each provisioning attempt ends.
// The given Provisioner is reused across every attempt the scanner
// triggers. isListener is consulted on every StartScan so a gateway
// sharing a serial line it doesn't own never starts a scan.
func NewManager(tx FrameSender, bus *eventbus.Bus, db node.Database, prv *Provisioner, isListener func() bool, log *zap.Logger) *Manager {
	m := &Manager{tx: tx, bus: bus, db: db, isListener: isListener, prv: prv, log: log.Named("provisioning.manager")}
	prv.onEnd = m.endProvision
	return m
}

// StartScan begins scanning for unprovisioned devices. A device whose
// UUID/MAC matches filter is provisioned automatically. If timeout is
// positive, scanning stops automatically after that duration; if one is
// true, scanning stops after the first successful provisioning. A no-op
// while the gateway is in listener mode.
func (m *Manager) StartScan(filter ScanFilter, timeout time.Duration, one bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanning || m.isListener() {
		return
	}
	m.scanning = true
	m.onlyOne = one
	m.filter = filter

	if timeout > 0 {
		m.timeoutTmr = time.AfterFunc(timeout, m.StopScan)
	}
	m.discSub = m.bus.Subscribe(m.handleUnprovDisc)
	_ = m.tx.Send(wire.ScanStart())
}

// StopScan ends scanning for unprovisioned devices.
func (m *Manager) StopScan() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopScanLocked()
}

func (m *Manager) stopScanLocked() {
	if !m.scanning {
		return
	}
	m.scanning = false
	if m.timeoutTmr != nil {
		m.timeoutTmr.Stop()
		m.timeoutTmr = nil
	}
	_ = m.tx.Send(wire.ScanStop())
	if m.discSub != nil {
		m.discSub.Unsubscribe()
		m.discSub = nil
	}
}

// Scanning reports whether a scan is currently active.
func (m *Manager) Scanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

// Provisioning reports whether a device is currently being provisioned.
func (m *Manager) Provisioning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisioning
}

func (m *Manager) handleUnprovDisc(ev events.Event) {
	if ev.Kind != events.KindUnprovDisc {
		return
	}
	p, ok := ev.Payload.(events.UnprovDiscPayload)
	if !ok {
		return
	}

	if existing := m.db.GetNodeByMAC(p.MAC); existing != nil {
		m.log.Warn("provisioned device announcing as unprovisioned, removing", zap.String("mac", existing.MACString()))
		m.db.RemoveNode(existing)
	}

	m.mu.Lock()
	if m.provisioning || !m.filter.Check(p.UUID, p.MAC) {
		m.mu.Unlock()
		return
	}
	m.provisioning = true
	m.mu.Unlock()

	n := node.NewNode(p.MAC, p.UUID, 0)
	m.log.Info("new device found", zap.String("mac", n.MACString()))
	_ = m.tx.Send(wire.ScanStop())
	if err := m.prv.Provision(n); err != nil {
		m.log.Warn("provisioning could not start", zap.Error(err))
		m.endProvision()
	}
}

// endProvision is the Provisioner's onEnd callback: it resumes scanning
// (unless the caller only wanted one device provisioned) once the
// current attempt has concluded, success or failure.
func (m *Manager) endProvision(_ byte) {
	m.mu.Lock()
	m.provisioning = false
	stop := m.onlyOne
	scanning := m.scanning
	m.mu.Unlock()

	if stop {
		m.StopScan()
		return
	}
	if scanning {
		_ = m.tx.Send(wire.ScanStart())
	}
}
