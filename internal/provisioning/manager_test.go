package provisioning

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"ttgw-go/internal/eventbus"
	"ttgw-go/internal/events"
	"ttgw-go/internal/node"
	"ttgw-go/internal/replay"
	"ttgw-go/internal/wire"
)

func newTestManager(db *stubDB, dm *stubCacheSizer, fs *recordingSender) (*Manager, *eventbus.Bus) {
	return newTestManagerListener(db, dm, fs, func() bool { return false })
}

func newTestManagerListener(db *stubDB, dm *stubCacheSizer, fs *recordingSender, isListener func() bool) (*Manager, *eventbus.Bus) {
	bus := eventbus.New(zap.NewNop())
	prv := NewProvisioner(fs, bus, db, replay.New(), dm, zap.NewNop(), nil)
	return NewManager(fs, bus, db, prv, isListener, zap.NewNop()), bus
}

func TestStartScanSendsScanStartAndIsIdempotent(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)

	m.StartScan(ScanFilter{}, 0, false)
	if !m.Scanning() {
		t.Fatal("expected Scanning() to be true after StartScan")
	}
	if len(fs.sent) != 1 || fs.sent[0].Opcode != wire.OpScanStart {
		t.Fatalf("expected exactly one SCAN_START frame, got %v", fs.sent)
	}

	m.StartScan(ScanFilter{}, 0, false)
	if len(fs.sent) != 1 {
		t.Fatal("a second StartScan while already scanning must be a no-op")
	}
}

func TestStartScanRefusedInListenerMode(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManagerListener(db, &stubCacheSizer{size: 5}, fs, func() bool { return true })

	m.StartScan(ScanFilter{}, 0, false)
	if m.Scanning() {
		t.Fatal("StartScan must be a no-op while the gateway is in listener mode")
	}
	if len(fs.sent) != 0 {
		t.Fatalf("expected no frames sent in listener mode, got %v", fs.sent)
	}
}

func TestStopScanSendsScanStop(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)

	m.StartScan(ScanFilter{}, 0, false)
	m.StopScan()
	if m.Scanning() {
		t.Fatal("expected Scanning() to be false after StopScan")
	}
	if len(fs.sent) != 2 {
		t.Fatalf("expected SCAN_START then SCAN_STOP, got %d frames", len(fs.sent))
	}

	m.StopScan()
	if len(fs.sent) != 2 {
		t.Fatal("a second StopScan while already stopped must be a no-op")
	}
}

func TestHandleUnprovDiscIgnoresNonMatchingFilter(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)
	m.StartScan(ScanFilter{UUIDPrefixes: []string{"ff"}}, 0, false)

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	m.handleUnprovDisc(events.Event{Kind: events.KindUnprovDisc, Payload: events.UnprovDiscPayload{MAC: mac, UUID: [16]byte{0xaa}}})

	if m.Provisioning() {
		t.Fatal("a device that fails the filter must not start provisioning")
	}
}

func TestHandleUnprovDiscProvisionsMatchingDevice(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)
	m.StartScan(ScanFilter{UUIDPrefixes: []string{"aa"}}, 0, false)

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	m.handleUnprovDisc(events.Event{Kind: events.KindUnprovDisc, Payload: events.UnprovDiscPayload{MAC: mac, UUID: [16]byte{0xaa}}})

	if len(fs.sent) < 2 {
		t.Fatalf("expected SCAN_START, SCAN_STOP (on discovery), then keypair/provision frames, got %v", fs.sent)
	}
}

func TestHandleUnprovDiscRemovesStaleProvisionedNode(t *testing.T) {
	db := newStubDB()
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	existing := node.NewNode(mac, [16]byte{9}, 21)
	db.nodes[21] = existing
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)
	m.StartScan(ScanFilter{}, 0, false)

	m.handleUnprovDisc(events.Event{Kind: events.KindUnprovDisc, Payload: events.UnprovDiscPayload{MAC: mac, UUID: [16]byte{9}}})

	if db.GetNodeByAddress(21) != nil {
		t.Fatal("a device re-announcing as unprovisioned must be removed from the database")
	}
}

func TestEndProvisionStopsScanWhenOnlyOne(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)
	m.StartScan(ScanFilter{}, 0, true)

	m.endProvision(0)
	if m.Scanning() {
		t.Fatal("endProvision must stop scanning when onlyOne was requested")
	}
}

func TestEndProvisionResumesScanningOtherwise(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)
	m.StartScan(ScanFilter{}, 0, false)
	before := len(fs.sent)

	m.endProvision(0)
	if !m.Scanning() {
		t.Fatal("endProvision must leave scanning active when onlyOne was not requested")
	}
	if len(fs.sent) != before+1 {
		t.Fatalf("expected a second SCAN_START frame after endProvision, got %d frames", len(fs.sent))
	}
}

func TestStartScanTimeoutStopsScanning(t *testing.T) {
	db := newStubDB()
	fs := &recordingSender{}
	m, _ := newTestManager(db, &stubCacheSizer{size: 5}, fs)
	m.StartScan(ScanFilter{}, 10*time.Millisecond, false)

	time.Sleep(50 * time.Millisecond)
	if m.Scanning() {
		t.Fatal("expected scanning to stop automatically once the timeout elapses")
	}
}
