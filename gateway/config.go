package gateway

import (
	"fmt"

	"ttgw-go/internal/linkio"
	"ttgw-go/internal/node"
)

// Platform selects the transport and (for a local device) the firmware
// programmer used to reach it.
type Platform string

const (
	PlatformDesktop    Platform = "desktop"
	PlatformHeimdall   Platform = "heimdall"
	PlatformHeimdallV2 Platform = "heimdall_v2"
	PlatformCMV1       Platform = "cm_v1"
	PlatformCloud      Platform = "cloud"
)

// TaskMode selects how a newly configured node's tasks are scheduled:
// legacy reproduces the source's delete-then-recreate dance, default
// issues a single change-in-place task.
type TaskMode string

const (
	TaskModeLegacy  TaskMode = "legacy"
	TaskModeDefault TaskMode = "default"
)

// Config is the typed, validated configuration for a Gateway.
type Config struct {
	Platform Platform
	// Port is the serial device path (desktop/heimdall/cm_v1 platforms).
	Port string
	// Socket carries the passthrough TLS endpoint, used only when
	// Platform is PlatformCloud.
	Socket linkio.SocketConfig

	NodeDB          node.Database
	SeqNumberFile   string
	ProvisionerOnly bool
	TaskMode        TaskMode

	// ConfigurationCB, if set, is invoked once for each node as it
	// enters its post-wake configuration session.
	ConfigurationCB func(n *node.Node)

	LogLevel  string
	LogFormat string
}

// Validate checks Config for internal consistency before any goroutine
// starts.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformDesktop, PlatformHeimdall, PlatformHeimdallV2, PlatformCMV1, PlatformCloud:
	default:
		return fmt.Errorf("gateway: unknown platform %q", c.Platform)
	}
	switch c.TaskMode {
	case TaskModeLegacy, TaskModeDefault:
	default:
		return fmt.Errorf("gateway: unknown task mode %q", c.TaskMode)
	}
	if c.NodeDB == nil {
		return fmt.Errorf("gateway: NodeDB is required")
	}
	if c.SeqNumberFile == "" {
		return fmt.Errorf("gateway: SeqNumberFile is required")
	}
	if c.Platform == PlatformCloud {
		if c.Socket.Host == "" {
			return fmt.Errorf("gateway: Socket.Host is required for the cloud platform")
		}
	} else if c.Port == "" {
		return fmt.Errorf("gateway: Port is required for platform %q", c.Platform)
	}
	return nil
}

// PassthroughConfig configures a passthrough proxy session: it forwards a local serial port to a remote TLS
// endpoint without running the gateway logic at all.
type PassthroughConfig struct {
	Platform   Platform
	LocalPort  string
	RemoteHost string
	RemotePort int
	CACert     string
	ClientCert string
	ClientKey  string
}
