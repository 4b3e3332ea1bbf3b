// Package gateway implements the Whitelist/API facade:
// the single owning root that wires the Link, Frame Codec, Event Bus,
// Replay Cache, Event Parser, Device Manager, Tx Manager, Provisioning
// Engine, Task Queue, and Model Dispatcher together, and exposes the
// library's public surface.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/devicemgr"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/eventparser"
	"ttgw-go/internal/linkio"
	"ttgw-go/internal/models"
	"ttgw-go/internal/node"
	"ttgw-go/internal/provisioning"
	"ttgw-go/internal/replay"
	"ttgw-go/internal/taskqueue"
	"ttgw-go/internal/txmanager"
	"ttgw-go/internal/wire"
)

// Models is the Model Dispatcher registry: one field per vendor model,
// plus the Configuration Client and the two housekeeping models every
// node's lifecycle depends on.
type Models struct {
	Config    *models.ConfigurationClient
	WakeUp    *models.WakeUp
	TaskGw    *models.TaskGw
	NrfTemp   *models.NrfTemp
	Battery   *models.Battery
	Tap       *models.Tap
	Light     *models.Light
	Power     *models.Power
	Hwm       *models.Hwm
	Rssi      *models.Rssi
	Datetime  *models.Datetime
	Ota       *models.Ota
	Beacon    *models.Beacon
	Pwmt      *models.Pwmt
	Output    *models.Output
	Transport *models.Transport
}

// byName indexes Models for Gateway.Model, mirroring the thirteen named
// vendor models (Configuration Client and WakeUp/TaskGw are ambient
// housekeeping, not user-facing vendor models, so they are reachable
// through Models but not through this registry).
func (m Models) byName() map[string]any {
	return map[string]any{
		"nrftemp":   m.NrfTemp,
		"battery":   m.Battery,
		"tap":       m.Tap,
		"light":     m.Light,
		"power":     m.Power,
		"hwm":       m.Hwm,
		"rssi":      m.Rssi,
		"datetime":  m.Datetime,
		"ota":       m.Ota,
		"beacon":    m.Beacon,
		"pwmt":      m.Pwmt,
		"output":    m.Output,
		"transport": m.Transport,
	}
}

// Gateway is the single owning root of a running gateway session: one
// struct wiring every collaborator together, not a web of objects each
// owning a slice of the construction.
type Gateway struct {
	cfg Config
	log *zap.Logger

	link  linkio.Link
	bus   *eventbus.Bus
	cache *replay.Cache
	parser *eventparser.Parser
	dm    *devicemgr.Manager
	tx    *txmanager.Manager
	queue *taskqueue.Queue
	wl    *whitelist

	provMgr *provisioning.Manager
	provSvc *provisioning.Provisioner

	Models Models

	mu          sync.RWMutex
	listener    bool
	provisioner bool

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// frameAdapter lets provisioning.Provisioner/Manager send bare frames
// through the Link without depending on linkio directly.
type frameAdapter struct{ link linkio.Link }

func (a frameAdapter) Send(f wire.Frame) error { return a.link.Send(wire.Encode(f)) }

// New validates cfg, opens the transport, and wires every component.
// It does not start any goroutine or talk to the device — call Start
// for that.
func New(cfg Config, log *zap.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gw := &Gateway{cfg: cfg, log: log, provisioner: cfg.ProvisionerOnly}

	link, err := openLink(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("gateway: open link: %w", err)
	}
	gw.link = link

	gw.bus = eventbus.New(log)
	gw.cache = replay.New()
	gw.parser = eventparser.New(link, gw.bus, cfg.NodeDB, gw.cache, log)
	gw.dm = devicemgr.New(link, gw.bus, cfg.NodeDB, cfg.SeqNumberFile, log)
	gw.tx = txmanager.New(gw.dm, cfg.NodeDB, gw.bus, gw.IsListener, gw.IsProvisioner, log)

	wakeUp := models.NewWakeUp(gw.tx, gw.bus, log)
	gw.queue = taskqueue.New(gw.bus, wakeUp, gw.IsListener, gw.IsProvisioner, gw.isWhitelistedNode, gw.isLegacyMode, log)
	gw.wl = newWhitelist(gw.queue)
	if cfg.ConfigurationCB != nil {
		gw.queue.SetConfigurationCB(cfg.ConfigurationCB)
	}

	taskGw := models.NewTaskGw(gw.tx, gw.bus, wakeUp, gw.queue, log)
	gw.queue.SetTaskGw(taskGw)

	gw.Models = Models{
		Config:    models.NewConfigurationClient(gw.tx, gw.bus, gw.cache, cfg.NodeDB, gw.queue, log),
		WakeUp:    wakeUp,
		TaskGw:    taskGw,
		NrfTemp:   models.NewNrfTemp(gw.tx, gw.bus, gw.queue, taskGw, log),
		Battery:   models.NewBattery(gw.bus, log),
		Tap:       models.NewTap(gw.tx, gw.bus, gw.queue, log),
		Light:     models.NewLight(gw.tx, gw.bus, gw.queue, log),
		Power:     models.NewPower(gw.tx, gw.bus, gw.queue, log),
		Hwm:       models.NewHwm(gw.tx, gw.bus, gw.queue, log),
		Rssi:      models.NewRssi(gw.tx, gw.bus, gw.queue, log),
		Datetime:  models.NewDatetime(gw.tx, gw.bus, gw.queue, log),
		Ota:       models.NewOta(gw.tx, gw.bus, gw.queue, taskGw, log),
		Beacon:    models.NewBeacon(gw.tx, gw.bus, gw.queue, log),
		Pwmt:      models.NewPwmt(gw.tx, gw.bus, gw.queue, taskGw, log),
		Output:    models.NewOutput(gw.tx, gw.bus, gw.queue, log),
		Transport: models.NewTransport(gw.tx, gw.bus, log),
	}

	fs := frameAdapter{link: link}
	gw.provSvc = provisioning.NewProvisioner(fs, gw.bus, cfg.NodeDB, gw.cache, gw.dm, log, nil)
	gw.provMgr = provisioning.NewManager(fs, gw.bus, cfg.NodeDB, gw.provSvc, gw.IsListener, log)

	return gw, nil
}

func openLink(cfg Config, log *zap.Logger) (linkio.Link, error) {
	if cfg.Platform == PlatformCloud {
		return linkio.DialSocket(cfg.Socket, log)
	}
	return linkio.OpenSerial(cfg.Port, log)
}

// Start boots the device and launches every background worker. It
// blocks until the boot handshake completes or ctx is cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	gw.cancel = cancel

	go gw.bus.Run(runCtx)
	go gw.parser.Run()
	go gw.tx.Run(runCtx)

	if err := gw.dm.Boot(ctx); err != nil {
		cancel()
		return fmt.Errorf("gateway: boot: %w", err)
	}
	return nil
}

// Stop shuts down every background worker and resets the device. Safe
// to call more than once.
func (gw *Gateway) Stop() {
	gw.stopOnce.Do(func() {
		gw.provMgr.StopScan()
		if gw.cancel != nil {
			gw.cancel()
		}
		gw.dm.Stop(context.Background())
		gw.parser.Stop()
		gw.bus.Stop()
		gw.tx.Stop()
		_ = gw.link.Stop()
	})
}

// CheckConnection reports whether the device link is alive.
func (gw *Gateway) CheckConnection(ctx context.Context) bool {
	return gw.dm.CheckConnection(ctx)
}

// StartScan begins detecting unprovisioned devices matching filter.
// A zero timeout scans indefinitely; one, if true, stops scanning
// after the first successful provisioning.
func (gw *Gateway) StartScan(filter provisioning.ScanFilter, timeout time.Duration, one bool) {
	gw.provMgr.StartScan(filter, timeout, one)
}

// StopScan stops detecting unprovisioned devices.
func (gw *Gateway) StopScan() { gw.provMgr.StopScan() }

// SetListener activates/deactivates listener mode: a gateway sharing a
// mesh with another active gateway that only observes traffic, never
// sending anything.
func (gw *Gateway) SetListener(on bool) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.listener = on
}

// IsListener reports the current listener-mode state.
func (gw *Gateway) IsListener() bool {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.listener
}

// IsProvisioner reports whether the gateway was started in
// provisioner-only mode (no node task scheduling).
func (gw *Gateway) IsProvisioner() bool {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.provisioner
}

func (gw *Gateway) isLegacyMode() bool { return gw.cfg.TaskMode == TaskModeLegacy }

func (gw *Gateway) isWhitelistedNode(n *node.Node) bool { return gw.wl.Contains(n) }

// AddToWhitelist admits n.
func (gw *Gateway) AddToWhitelist(n *node.Node) bool { return gw.wl.Add(n) }

// RemoveFromWhitelist evicts n, cancelling any tasks it held.
func (gw *Gateway) RemoveFromWhitelist(n *node.Node) bool { return gw.wl.Remove(n) }

// IsWhitelisted reports whether n is admitted.
func (gw *Gateway) IsWhitelisted(n *node.Node) bool { return gw.wl.Contains(n) }

// WhitelistedNodes returns every admitted node.
func (gw *Gateway) WhitelistedNodes() []*node.Node { return gw.wl.Nodes() }

// Nodes returns every node in the node database.
func (gw *Gateway) Nodes() []*node.Node { return gw.cfg.NodeDB.GetNodes() }

// Model looks up a vendor model by its registry name (e.g. "nrftemp",
// "pwmt"), the dynamic counterpart to the Models field.
func (gw *Gateway) Model(name string) (any, bool) {
	m, ok := gw.Models.byName()[name]
	return m, ok
}

// SendMsg transmits an application payload to addr through the
// Transport model, fragmenting automatically if needed.
func (gw *Gateway) SendMsg(addr uint16, data []byte) {
	gw.Models.Transport.SendMsg(addr, data)
}

// SetSleepTime updates the gateway's default node wake period.
func (gw *Gateway) SetSleepTime(seconds uint32) { gw.Models.WakeUp.SetSleepTime(seconds) }

// SleepTime returns the gateway's current default node wake period.
func (gw *Gateway) SleepTime() uint32 { return gw.Models.WakeUp.SleepTime() }

// CancelTasks cancels every scheduled task for n.
func (gw *Gateway) CancelTasks(n *node.Node) { gw.queue.CancelTasks(n) }

// PendingTasks returns n's scheduled tasks.
func (gw *Gateway) PendingTasks(n *node.Node) []taskqueue.Task { return gw.queue.GetTasks(n) }

// ResetNode resets and de-provisions n.
func (gw *Gateway) ResetNode(n *node.Node) { gw.Models.Config.ResetNode(n) }
