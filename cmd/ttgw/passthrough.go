package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ttgw-go/gateway"
)

func newPassthroughCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passthrough",
		Short: "relay a local serial port to a remote TLS endpoint with no gateway logic",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newSubViper(cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := newLogger(v)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			cfg := gateway.PassthroughConfig{
				Platform:   gateway.Platform(v.GetString("platform")),
				LocalPort:  v.GetString("port"),
				RemoteHost: v.GetString("socket-host"),
				RemotePort: v.GetInt("socket-port"),
				CACert:     v.GetString("ca-cert"),
				ClientCert: v.GetString("client-cert"),
				ClientKey:  v.GetString("client-key"),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return gateway.RunPassthrough(ctx, cfg, log)
		},
	}

	fl := cmd.Flags()
	fl.String("platform", "desktop", "desktop, heimdall, heimdall_v2, or cm_v1")
	fl.String("port", "", "local serial device path")
	fl.String("socket-host", "", "remote TLS host")
	fl.Int("socket-port", 0, "remote TLS port")
	fl.String("ca-cert", "", "CA certificate pinning the remote server")
	fl.String("client-cert", "", "mutual-TLS client certificate")
	fl.String("client-key", "", "mutual-TLS client key")

	return cmd
}
