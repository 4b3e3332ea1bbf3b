package provisioning

import (
	"testing"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/node"
	"ttgw-go/internal/replay"
	"ttgw-go/internal/wire"
)

type stubDB struct {
	nodes  map[uint16]*node.Node
	netkey [16]byte
}

func newStubDB() *stubDB { return &stubDB{nodes: make(map[uint16]*node.Node)} }

func (d *stubDB) GetAddress() uint16    { return 1 }
func (d *stubDB) GetNetKey() [16]byte   { return d.netkey }
func (d *stubDB) GetNodes() []*node.Node {
	out := make([]*node.Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	return out
}
func (d *stubDB) GetNodeByAddress(addr uint16) *node.Node { return d.nodes[addr] }
func (d *stubDB) GetNodeByMAC(mac [6]byte) *node.Node {
	for _, n := range d.nodes {
		if n.MAC == mac {
			return n
		}
	}
	return nil
}
func (d *stubDB) StoreNode(n *node.Node)  { d.nodes[n.UnicastAddr] = n }
func (d *stubDB) RemoveNode(n *node.Node) { delete(d.nodes, n.UnicastAddr) }

type stubCacheSizer struct {
	size    uint16
	cleared []uint16
}

func (s *stubCacheSizer) CacheSize() uint16 { return s.size }
func (s *stubCacheSizer) ClearReplayCache(addr uint16) error {
	s.cleared = append(s.cleared, addr)
	return nil
}

type recordingSender struct {
	sent []wire.Frame
}

func (s *recordingSender) Send(f wire.Frame) error {
	s.sent = append(s.sent, f)
	return nil
}

func newTestProvisioner(db *stubDB, dm *stubCacheSizer, fs *recordingSender) *Provisioner {
	bus := eventbus.New(zap.NewNop())
	return NewProvisioner(fs, bus, db, replay.New(), dm, zap.NewNop(), nil)
}

func TestObtainUnicastAddrSkipsUsed(t *testing.T) {
	db := newStubDB()
	db.nodes[21] = node.NewNode([6]byte{1}, [16]byte{1}, 21)
	dm := &stubCacheSizer{size: 5}
	p := newTestProvisioner(db, dm, &recordingSender{})

	addr, ok := p.obtainUnicastAddr()
	if !ok {
		t.Fatal("expected an address to be available")
	}
	if addr != 22 {
		t.Fatalf("got address %d, want 22 (21 is taken)", addr)
	}
}

func TestObtainUnicastAddrExhausted(t *testing.T) {
	db := newStubDB()
	dm := &stubCacheSizer{size: 2}
	db.nodes[21] = node.NewNode([6]byte{1}, [16]byte{1}, 21)
	db.nodes[22] = node.NewNode([6]byte{2}, [16]byte{2}, 22)
	p := newTestProvisioner(db, dm, &recordingSender{})

	if _, ok := p.obtainUnicastAddr(); ok {
		t.Fatal("expected no address available once the replay-cache range is full")
	}
}

func TestProvisionSendsKeypairAndProvisionFrames(t *testing.T) {
	db := newStubDB()
	dm := &stubCacheSizer{size: 5}
	fs := &recordingSender{}
	p := newTestProvisioner(db, dm, fs)

	n := node.NewNode([6]byte{1, 2, 3, 4, 5, 6}, [16]byte{9}, 0)
	if err := p.Provision(n); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if n.UnicastAddr != 21 {
		t.Fatalf("got unicast address %d, want 21", n.UnicastAddr)
	}
	if len(fs.sent) != 2 {
		t.Fatalf("got %d frames sent, want 2 (keypair set, provision)", len(fs.sent))
	}
	if fs.sent[0].Opcode != wire.OpKeypairSet {
		t.Fatalf("expected first frame to be KEYPAIR_SET, got opcode %#x", fs.sent[0].Opcode)
	}
	if fs.sent[1].Opcode != wire.OpProvision {
		t.Fatalf("expected second frame to be PROVISION, got opcode %#x", fs.sent[1].Opcode)
	}
	if len(dm.cleared) != 1 || dm.cleared[0] != 21 {
		t.Fatalf("expected the device replay cache to be cleared for address 21, got %v", dm.cleared)
	}
}

func TestProvisionFailsWithNoFreeAddress(t *testing.T) {
	db := newStubDB()
	dm := &stubCacheSizer{size: 0}
	p := newTestProvisioner(db, dm, &recordingSender{})

	n := node.NewNode([6]byte{1}, [16]byte{1}, 0)
	if err := p.Provision(n); err == nil {
		t.Fatal("expected an error when no unicast address is available")
	}
}
