package gateway

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"ttgw-go/internal/linkio"
)

// RunPassthrough relays raw bytes between a local serial port and a
// remote TLS passthrough endpoint until ctx is cancelled or either side
// disconnects. It runs no gateway logic
// of its own — no frame decoding, no model dispatch — matching
// original_source/ttgwlib/passthrough.py's relay-only design, adapted
// from its polling rx/tx threads to two goroutines each blocked on one
// side's Read.
func RunPassthrough(ctx context.Context, cfg PassthroughConfig, log *zap.Logger) error {
	local, err := linkio.OpenSerial(cfg.LocalPort, log)
	if err != nil {
		return fmt.Errorf("passthrough: open local port: %w", err)
	}
	defer local.Stop()

	remote, err := linkio.DialSocket(linkio.SocketConfig{
		Host:           cfg.RemoteHost,
		Port:           cfg.RemotePort,
		CACertPath:     cfg.CACert,
		ClientCertPath: cfg.ClientCert,
		ClientKeyPath:  cfg.ClientKey,
	}, log)
	if err != nil {
		return fmt.Errorf("passthrough: dial remote: %w", err)
	}
	defer remote.Stop()

	log.Info("passthrough started", zap.String("local", cfg.LocalPort), zap.String("remote", fmt.Sprintf("%s:%d", cfg.RemoteHost, cfg.RemotePort)))

	errc := make(chan error, 2)
	go relay(local, remote, errc)
	go relay(remote, local, errc)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("passthrough: %w", err)
	}
}

// relay copies bytes from src to dst until src.Read fails, reporting
// the error on errc. Each direction runs in its own goroutine so either
// side can drive the shutdown independently of the other.
func relay(src linkio.Link, dst linkio.Link, errc chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := dst.Send(buf[:n]); werr != nil {
				errc <- werr
				return
			}
		}
		if err != nil {
			errc <- err
			return
		}
	}
}
