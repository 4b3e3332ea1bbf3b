package linkio

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	socketConnectTimeout = 5 * time.Second
	socketReadTimeout     = 20 * time.Second
	socketReconnectEvery  = 10 * time.Second
)

// SocketConfig describes the TLS passthrough endpoint.
type SocketConfig struct {
	Host           string
	Port           int
	CACertPath     string // optional: pin the server certificate's issuing CA
	ClientCertPath string // optional: mutual-TLS client certificate
	ClientKeyPath  string
}

// SocketLink drives the device through a TLS-wrapped proxy socket.
// It does not reconnect by itself: after a loss the link stays down
// until a caller runs RunReconnect, which retries every 10s.
type SocketLink struct {
	log *zap.Logger
	cfg SocketConfig
	tls *tls.Config

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	disc      chan struct{}
	stopped   chan struct{}
}

// DialSocket establishes the initial TLS connection.
func DialSocket(cfg SocketConfig, log *zap.Logger) (*SocketLink, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	l := &SocketLink{
		log:     log.Named("linkio.socket"),
		cfg:     cfg,
		tls:     tlsCfg,
		disc:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if err := l.dial(); err != nil {
		return nil, err
	}
	return l, nil
}

func buildTLSConfig(cfg SocketConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errNoValidCACert
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCertPath != "" && cfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (l *SocketLink) dial() error {
	addr := net.JoinHostPort(l.cfg.Host, itoa(l.cfg.Port))
	dialer := &net.Dialer{Timeout: socketConnectTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, l.tls)
	if err != nil {
		return err
	}
	l.drain(conn)
	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.disc = make(chan struct{})
	l.mu.Unlock()
	return nil
}

// drain discards bytes buffered by the proxy while the link was down,
// mirroring SerialLink's reconnect contract.
func (l *SocketLink) drain(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
}

func (l *SocketLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	_ = conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
	n, err := conn.Read(p)
	if err != nil {
		l.markDisconnected()
	}
	return n, err
}

func (l *SocketLink) Send(b []byte) error {
	l.mu.Lock()
	conn := l.conn
	connected := l.connected
	l.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := writeChunked(conn, b); err != nil {
		l.markDisconnected()
		return err
	}
	return nil
}

func (l *SocketLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *SocketLink) Disconnected() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disc
}

func (l *SocketLink) markDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return
	}
	l.connected = false
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.log.Warn("socket link disconnected", zap.String("host", l.cfg.Host), zap.Int("port", l.cfg.Port))
	close(l.disc)
}

// RunReconnect retries the connection every 10s until a dial succeeds
// or Stop is called. It returns once a connection is re-established;
// callers loop on it.
func (l *SocketLink) RunReconnect() error {
	ticker := time.NewTicker(socketReconnectEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopped:
			return ErrNotConnected
		case <-ticker.C:
			if err := l.dial(); err != nil {
				l.log.Warn("reconnect attempt failed", zap.Error(err))
				continue
			}
			return nil
		}
	}
}

func (l *SocketLink) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stopped:
	default:
		close(l.stopped)
	}
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}
