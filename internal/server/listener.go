// Package server accepts framed TCP connections for the ingest daemon and
// drives the decode/dispatch/ack loop for each.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/iadev09/bouncer/internal/metrics"
	"github.com/iadev09/bouncer/internal/wire"
)

// FrameHandler processes one decoded frame. A nil return means the frame was
// durably committed and the listener acknowledges it; any error closes the
// connection without an ACK so the peer retries.
type FrameHandler func(ctx context.Context, frame *wire.Frame) error

// Listener accepts ingest connections and runs the frame loop on each.
type Listener struct {
	address      string
	maxFrameSize int
	idleTimeout  time.Duration
	grace        time.Duration
	handler      FrameHandler
	logger       *slog.Logger
	collector    metrics.Collector

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[*Connection]struct{}
	closed   bool
}

// ListenerConfig holds configuration for creating a new Listener.
type ListenerConfig struct {
	Address      string
	MaxFrameSize int
	IdleTimeout  time.Duration
	// ShutdownGrace bounds how long in-flight connections may run after the
	// context is cancelled before being force-closed.
	ShutdownGrace time.Duration
	Handler       FrameHandler
	Logger        *slog.Logger
	Collector     metrics.Collector
}

// NewListener creates a new Listener with the given configuration.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Listener{
		address:      cfg.Address,
		maxFrameSize: cfg.MaxFrameSize,
		idleTimeout:  cfg.IdleTimeout,
		grace:        cfg.ShutdownGrace,
		handler:      cfg.Handler,
		logger:       logger,
		collector:    collector,
		conns:        make(map[*Connection]struct{}),
	}
}

// Start begins listening for connections. It blocks until the context is
// cancelled, then stops accepting, gives in-flight connections the shutdown
// grace to finish their current frame, and force-closes the rest.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info("ingest listener started", slog.String("address", ln.Addr().String()))

	go l.acceptLoop(ctx)

	<-ctx.Done()

	l.logger.Info("ingest listener shutting down")
	if err := l.Close(); err != nil {
		l.logger.Debug("error closing listener", slog.String("error", err.Error()))
	}

	// Bounded drain: wait for connection goroutines, then cut survivors.
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(l.grace):
		l.logger.Warn("shutdown grace expired, closing remaining connections")
		l.closeAll()
		<-done
	}

	l.logger.Info("ingest listener stopped")
	return ctx.Err()
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// acceptLoop accepts connections until the listener is closed.
func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				l.logger.Warn("temporary accept error", slog.String("error", err.Error()))
				time.Sleep(5 * time.Millisecond)
				continue
			}

			l.logger.Error("accept error", slog.String("error", err.Error()))
			return
		}

		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

// handleConnection wraps a connection and runs the frame loop.
func (l *Listener) handleConnection(ctx context.Context, netConn net.Conn) {
	defer l.wg.Done()

	conn := NewConnection(netConn, ConnectionConfig{
		IdleTimeout: l.idleTimeout,
		Logger:      l.logger,
	})
	l.track(conn)
	defer l.untrack(conn)

	l.collector.ConnectionOpened()
	defer l.collector.ConnectionClosed()
	conn.Logger().Info("connection accepted")

	l.frameLoop(ctx, conn)

	_ = conn.Close()
	conn.Logger().Info("connection closed")
}

// frameLoop decodes and dispatches frames in arrival order until the peer
// disconnects, an error occurs, or shutdown is requested. ACKs are emitted
// in the same order.
func (l *Listener) frameLoop(ctx context.Context, conn *Connection) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := conn.ResetIdleTimeout(); err != nil {
			return
		}

		frame, err := wire.Decode(conn.Reader(), l.maxFrameSize)
		if err != nil {
			l.logDecodeError(conn, err)
			return
		}
		l.collector.FrameReceived(frame.Kind.String())

		if err := l.handler(ctx, frame); err != nil {
			// No ACK: the peer must treat the frame as not delivered.
			conn.Logger().Error("frame rejected",
				slog.String("kind", frame.Kind.String()),
				slog.String("source", frame.Source),
				slog.String("error", err.Error()))
			return
		}

		if err := wire.WriteAck(conn.Writer()); err != nil {
			conn.Logger().Warn("ack write failed", slog.String("error", err.Error()))
			return
		}
		if err := conn.Flush(); err != nil {
			conn.Logger().Warn("ack flush failed", slog.String("error", err.Error()))
			return
		}
	}
}

// logDecodeError records why a frame could not be decoded. A clean EOF is
// the peer finishing; everything else is worth a counter.
func (l *Listener) logDecodeError(conn *Connection, err error) {
	switch {
	case errors.Is(err, io.EOF):
		// Peer closed between frames.
	case errors.Is(err, wire.ErrFrameTooLarge):
		l.collector.FrameRejected("too_large")
		conn.Logger().Warn("frame too large", slog.String("error", err.Error()))
	case errors.Is(err, wire.ErrProtocol):
		l.collector.FrameRejected("protocol")
		conn.Logger().Warn("protocol error", slog.String("error", err.Error()))
	default:
		l.collector.FrameRejected("io")
		conn.Logger().Debug("read error", slog.String("error", err.Error()))
	}
}

// track registers a live connection for forced shutdown.
func (l *Listener) track(c *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c] = struct{}{}
}

// untrack removes a finished connection.
func (l *Listener) untrack(c *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

// closeAll force-closes every tracked connection.
func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		_ = c.Close()
	}
}

// Close stops the listener from accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
