package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ttgw-go/gateway"
	"ttgw-go/internal/linkio"
	"ttgw-go/internal/nodedb"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the gateway against a local or cloud-attached device",
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

			netkeyHex := v.GetString("netkey")
			netkeyBytes, err := hex.DecodeString(netkeyHex)
			if err != nil || (len(netkeyBytes) != 16 && netkeyHex != "") {
				return fmt.Errorf("netkey must be 32 hex characters (16 bytes)")
			}
			var netkey [16]byte
			copy(netkey[:], netkeyBytes)

			db, err := nodedb.Open(v.GetString("nodedb"), uint16(v.GetUint("address")), netkey)
			if err != nil {
				return fmt.Errorf("open node database: %w", err)
			}

			cfg := gateway.Config{
				Platform:        gateway.Platform(v.GetString("platform")),
				Port:            v.GetString("port"),
				NodeDB:          db,
				SeqNumberFile:   v.GetString("seq-file"),
				ProvisionerOnly: v.GetBool("provisioner-only"),
				TaskMode:        gateway.TaskMode(v.GetString("task-mode")),
				Socket: linkio.SocketConfig{
					Host:           v.GetString("socket-host"),
					Port:           v.GetInt("socket-port"),
					CACertPath:     v.GetString("ca-cert"),
					ClientCertPath: v.GetString("client-cert"),
					ClientKeyPath:  v.GetString("client-key"),
				},
			}

			gw, err := gateway.New(cfg, log)
			if err != nil {
				return fmt.Errorf("build gateway: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := gw.Start(ctx); err != nil {
				return fmt.Errorf("start gateway: %w", err)
			}
			log.Info("gateway running", zap.Uint16("address", cfg.NodeDB.GetAddress()))

			<-ctx.Done()
			log.Info("shutting down")
			gw.Stop()
			return nil
		},
	}

	fl := cmd.Flags()
	fl.String("platform", "desktop", "desktop, heimdall, heimdall_v2, cm_v1, or cloud")
	fl.String("port", "", "serial device path (non-cloud platforms)")
	fl.String("socket-host", "", "passthrough TLS host (cloud platform)")
	fl.Int("socket-port", 0, "passthrough TLS port (cloud platform)")
	fl.String("ca-cert", "", "CA certificate pinning the passthrough server")
	fl.String("client-cert", "", "mutual-TLS client certificate")
	fl.String("client-key", "", "mutual-TLS client key")
	fl.String("nodedb", "ttgw-nodes.json", "path to the JSON node database")
	fl.String("seq-file", "ttgw-seq.txt", "path to the sequence-number persistence file")
	fl.Uint("address", 1, "gateway's own mesh unicast address (new database only)")
	fl.String("netkey", "", "mesh network key, 32 hex characters (new database only)")
	fl.Bool("provisioner-only", false, "run without scheduling node configuration tasks")
	fl.String("task-mode", "default", "legacy or default node task scheduling")

	return cmd
}
