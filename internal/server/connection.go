package server

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/iadev09/bouncer/internal/logging"
)

// Connection wraps a net.Conn with buffered I/O and deadline management for
// the framed ingest protocol.
type Connection struct {
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	logger      *slog.Logger
	idleTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for a new connection.
type ConnectionConfig struct {
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// NewConnection creates a new Connection wrapper.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		writer:      bufio.NewWriter(conn),
		logger:      logging.WithConnection(logger, conn.RemoteAddr().String()),
		idleTimeout: cfg.IdleTimeout,
	}
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Reader returns the buffered reader for the connection.
func (c *Connection) Reader() *bufio.Reader {
	return c.reader
}

// Writer returns the buffered writer for the connection.
func (c *Connection) Writer() *bufio.Writer {
	return c.writer
}

// Flush flushes the write buffer.
func (c *Connection) Flush() error {
	return c.writer.Flush()
}

// ResetIdleTimeout arms the read deadline for the next frame. Called before
// each decode so an idle peer is disconnected rather than pinned.
func (c *Connection) ResetIdleTimeout() error {
	if c.idleTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.idleTimeout))
	}
	return nil
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Debug("connection closed")
	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
