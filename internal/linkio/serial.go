package linkio

import (
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialLink drives the device over a local serial port at 115200 baud
// with RTS/CTS flow control.
type SerialLink struct {
	log  *zap.Logger
	path string

	mu        sync.Mutex
	port      serial.Port
	connected bool
	disc      chan struct{}

	stopped chan struct{}
}

// OpenSerial opens path and returns a ready SerialLink.
func OpenSerial(path string, log *zap.Logger) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		RTS:      serial.RTSFlowControl,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	l := &SerialLink{
		log:       log.Named("linkio.serial"),
		path:      path,
		port:      port,
		connected: true,
		disc:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	return l, nil
}

// Read satisfies io.Reader, pulling bytes straight off the serial port.
func (l *SerialLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return 0, ErrNotConnected
	}
	n, err := port.Read(p)
	if err != nil {
		l.markDisconnected()
	}
	return n, err
}

// Send writes b in <=40-byte chunks, matching the device's receive-
// buffer constraint.
func (l *SerialLink) Send(b []byte) error {
	l.mu.Lock()
	port := l.port
	connected := l.connected
	l.mu.Unlock()
	if !connected || port == nil {
		return ErrNotConnected
	}
	if err := writeChunked(port, b); err != nil {
		l.markDisconnected()
		return err
	}
	return nil
}

func (l *SerialLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *SerialLink) Disconnected() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disc
}

func (l *SerialLink) markDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return
	}
	l.connected = false
	l.log.Warn("serial link disconnected", zap.String("path", l.path))
	close(l.disc)
}

// Reconnect attempts to reopen the port, replacing the Disconnected
// channel on success so subsequent drops are observable again.
func (l *SerialLink) Reconnect() error {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		RTS:      serial.RTSFlowControl,
	}
	port, err := serial.Open(l.path, mode)
	if err != nil {
		return err
	}
	l.drain(port)
	l.mu.Lock()
	l.port = port
	l.connected = true
	l.disc = make(chan struct{})
	l.mu.Unlock()
	return nil
}

// drain discards whatever bytes arrived while the link was down, per
// the device's reconnect contract.
func (l *SerialLink) drain(port serial.Port) {
	_ = port.SetReadTimeout(50 * time.Millisecond)
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil || n == 0 {
			break
		}
	}
	_ = port.SetReadTimeout(serial.NoTimeout)
}

func (l *SerialLink) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stopped:
	default:
		close(l.stopped)
	}
	if l.port == nil {
		return nil
	}
	return l.port.Close()
}
