package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/assethub/internal/metrics"
)

// HostConfig configures the Connection Host.
type HostConfig struct {
	// Addr is the TCP address to listen on, e.g. ":9450". Takes
	// precedence over SocketPath (spec.md §6).
	Addr string
	// SocketPath is a Unix domain socket path used when Addr is empty.
	SocketPath string
	// MaxConns bounds concurrently accepted connections (vats).
	MaxConns int
	// SocketBufferBytes sets SO_SNDBUF/SO_RCVBUF on accepted TCP
	// connections (spec.md §6: 4 MiB default).
	SocketBufferBytes int
}

// Host accepts transport connections and spawns an isolated vat for each
// one, per spec.md §4.4. One dedicated goroutine per connection; a
// counting semaphore bounds total concurrent connections the way the
// teacher's RPC server bounds concurrent client handlers.
type Host struct {
	cfg    HostConfig
	root   *ServiceRoot
	logger zerolog.Logger

	mu       sync.Mutex
	listener net.Listener

	connSem  chan struct{}
	nextConn uint64
}

// NewHost builds a Connection Host. It does not start listening until
// Serve is called.
func NewHost(cfg HostConfig, root *ServiceRoot, logger zerolog.Logger) *Host {
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 256
	}
	return &Host{
		cfg:     cfg,
		root:    root,
		logger:  logger,
		connSem: make(chan struct{}, maxConns),
	}
}

// Serve opens the configured listener and accepts connections until the
// listener is closed by Close or any accept error occurs.
func (h *Host) Serve() error {
	listener, err := h.listen()
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	h.logger.Info().Str("addr", listener.Addr().String()).Msg("connection host listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			h.mu.Lock()
			closed := h.listener == nil
			h.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case h.connSem <- struct{}{}:
			metrics.ConnectionsAcceptedTotal.Inc()
			go h.handle(conn)
		default:
			metrics.ConnectionsRejectedTotal.Inc()
			_ = conn.Close()
		}
	}
}

// Close stops accepting new connections. In-flight vats finish on their
// own as their connections close.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	l := h.listener
	h.listener = nil
	return l.Close()
}

func (h *Host) listen() (net.Listener, error) {
	if h.cfg.Addr != "" {
		return net.Listen("tcp", h.cfg.Addr)
	}
	return net.Listen("unix", h.cfg.SocketPath)
}

func (h *Host) handle(conn net.Conn) {
	defer func() { <-h.connSem }()
	defer conn.Close()

	h.tuneSocket(conn)

	connID := fmt.Sprintf("conn-%d", atomic.AddUint64(&h.nextConn, 1))
	logger := h.logger.With().Str("conn", connID).Logger()

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")

	codec := NewCodec(conn)
	vat := NewVat(connID, codec, h.root, logger)
	vat.Run()

	logger.Debug().Msg("connection closed")
}

// tuneSocket applies spec.md §6's per-socket tuning (disable Nagle, 4 MiB
// send/recv buffers) when conn is a TCP connection. Unix domain sockets
// have no Nagle algorithm to disable; SetReadBuffer/SetWriteBuffer still
// apply where the platform honors them.
func (h *Host) tuneSocket(conn net.Conn) {
	bufBytes := h.cfg.SocketBufferBytes
	if bufBytes <= 0 {
		bufBytes = 4 << 20
	}

	switch c := conn.(type) {
	case *net.TCPConn:
		_ = c.SetNoDelay(true)
		_ = c.SetReadBuffer(bufBytes)
		_ = c.SetWriteBuffer(bufBytes)
	case *net.UnixConn:
		_ = c.SetReadBuffer(bufBytes)
		_ = c.SetWriteBuffer(bufBytes)
	}
}
