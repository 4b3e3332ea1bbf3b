package gateway

import (
	"testing"

	"ttgw-go/internal/node"
)

type stubDB struct{}

func (stubDB) GetAddress() uint16                        { return 1 }
func (stubDB) GetNetKey() [16]byte                        { return [16]byte{} }
func (stubDB) GetNodes() []*node.Node                      { return nil }
func (stubDB) GetNodeByAddress(addr uint16) *node.Node     { return nil }
func (stubDB) GetNodeByMAC(mac [6]byte) *node.Node         { return nil }
func (stubDB) StoreNode(n *node.Node)                      {}
func (stubDB) RemoveNode(n *node.Node)                     {}

func validConfig() Config {
	return Config{
		Platform:      PlatformDesktop,
		Port:          "/dev/ttyUSB0",
		NodeDB:        stubDB{},
		SeqNumberFile: "seq.txt",
		TaskMode:      TaskModeDefault,
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected a valid config, got %v", err)
	}
}

func TestConfigValidateUnknownPlatform(t *testing.T) {
	cfg := validConfig()
	cfg.Platform = "not-a-platform"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown platform")
	}
}

func TestConfigValidateUnknownTaskMode(t *testing.T) {
	cfg := validConfig()
	cfg.TaskMode = "not-a-mode"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown task mode")
	}
}

func TestConfigValidateMissingNodeDB(t *testing.T) {
	cfg := validConfig()
	cfg.NodeDB = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing NodeDB")
	}
}

func TestConfigValidateMissingSeqFile(t *testing.T) {
	cfg := validConfig()
	cfg.SeqNumberFile = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing SeqNumberFile")
	}
}

func TestConfigValidateDesktopRequiresPort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error: desktop platform requires Port")
	}
}

func TestConfigValidateCloudRequiresSocketHost(t *testing.T) {
	cfg := validConfig()
	cfg.Platform = PlatformCloud
	cfg.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error: cloud platform requires Socket.Host")
	}
	cfg.Socket.Host = "gateway.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected cloud config with Socket.Host set to be valid, got %v", err)
	}
}
