package provisioning

import (
	"sync"

	"go.uber.org/zap"

	"ttgw-go/errcode"
	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/replay"
	"ttgw-go/internal/wire"
)

// nodeStartUnicast is the first unicast address handed out to a newly
// provisioned node; addresses below it are reserved.
const nodeStartUnicast = 21

// FrameSender transmits a raw top-level frame to the device (as
// opposed to models.Sender, which addresses a specific mesh node).
type FrameSender interface {
	Send(f wire.Frame) error
}

// CacheSizer reports the device's replay-cache capacity, bounding how
// many unicast addresses can be allocated.
type CacheSizer interface {
	CacheSize() uint16
	ClearReplayCache(addr uint16) error
}

// Provisioner drives a single device through the provisioning
// handshake: unicast address allocation, ephemeral
// ECDH key exchange, and device-key storage on success.
type Provisioner struct {
	tx    FrameSender
	bus   *eventbus.Bus
	db    node.Database
	cache *replay.Cache
	dm    CacheSizer
	log   *zap.Logger

	mu   sync.Mutex
	node *node.Node
	sub  *eventbus.Subscription

	onEnd func(closeReason byte)
}

// NewProvisioner builds a Provisioner. onEnd is invoked once the
// current provisioning attempt ends (success or failure), so a Manager
// can resume scanning.
func NewProvisioner(tx FrameSender, bus *eventbus.Bus, db node.Database, cache *replay.Cache, dm CacheSizer, log *zap.Logger, onEnd func(closeReason byte)) *Provisioner {
	return &Provisioner{tx: tx, bus: bus, db: db, cache: cache, dm: dm, log: log.Named("provisioning"), onEnd: onEnd}
}

// obtainUnicastAddr returns the lowest free address in the node
// database's range, or false if the device's replay-cache capacity is
// exhausted.
func (p *Provisioner) obtainUnicastAddr() (uint16, bool) {
	used := make(map[uint16]bool)
	for _, n := range p.db.GetNodes() {
		used[n.UnicastAddr] = true
	}
	maxAddr := nodeStartUnicast + p.dm.CacheSize()
	for addr := uint16(nodeStartUnicast); addr < maxAddr; addr++ {
		if !used[addr] {
			_ = p.dm.ClearReplayCache(addr)
			return addr, true
		}
	}
	return 0, false
}

// Provision starts provisioning n, whose UUID has already been matched
// by a ScanFilter. It returns an error without sending anything if no
// unicast address is available.
func (p *Provisioner) Provision(n *node.Node) error {
	addr, ok := p.obtainUnicastAddr()
	if !ok {
		return errcode.New("provision", errcode.NoFreeAddress, nil)
	}
	n.UnicastAddr = addr
	p.cache.Remove(addr)

	p.mu.Lock()
	p.node = n
	p.mu.Unlock()

	kp, err := generateKeyPair()
	if err != nil {
		return errcode.New("provision", errcode.Error, err)
	}
	if err := p.tx.Send(wire.KeypairSet(kp.rawPrivate(), kp.rawPublic())); err != nil {
		return errcode.New("provision", errcode.TransportDisconnected, err)
	}

	p.log.Info("provisioning device", zap.String("mac", n.MACString()), zap.Uint16("addr", addr))
	p.sub = p.bus.Subscribe(p.handle)
	netkey := p.db.GetNetKey()
	return p.tx.Send(wire.Provision(n.UUID, netkey, 0, addr))
}

func (p *Provisioner) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindProvLinkEstablished:
		p.log.Debug("provisioning link established")
	case events.KindProvLinkClosed:
		payload, _ := ev.Payload.(events.ProvLinkClosedPayload)
		p.end(payload.Reason)
	case events.KindProvCaps:
		p.log.Debug("oob capabilities received")
		_ = p.tx.Send(wire.OobUse(0, 0, 0))
	case events.KindProvECDH:
		payload, _ := ev.Payload.(events.ProvECDHPayload)
		p.log.Debug("ecdh request")
		secret, err := sharedSecret(payload.PeerPublicKey, payload.Private)
		if err != nil {
			p.log.Warn("ecdh exchange failed", zap.Error(err))
			return
		}
		_ = p.tx.Send(wire.EcdhSecret(secret))
	case events.KindProvComplete:
		payload, _ := ev.Payload.(events.ProvCompletePayload)
		p.complete(payload.DevKey)
	case events.KindProvFailed:
		payload, _ := ev.Payload.(events.ProvFailedPayload)
		p.log.Warn("provisioning failed", zap.Uint8("code", payload.Code))
	}
}

func (p *Provisioner) complete(devKey [16]byte) {
	p.mu.Lock()
	n := p.node
	p.mu.Unlock()
	if n == nil {
		return
	}
	n.DevKey = devKey
	p.db.StoreNode(n)
	p.log.Info("node provisioned", zap.String("mac", n.MACString()), zap.Uint16("addr", n.UnicastAddr))
}

func (p *Provisioner) end(closeReason byte) {
	p.mu.Lock()
	n := p.node
	p.node = nil
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	if n != nil {
		p.log.Debug("provisioning link closed", zap.Uint8("reason", closeReason), zap.String("mac", n.MACString()))
	}
	if p.onEnd != nil {
		p.onEnd(closeReason)
	}
}
