package observer

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/iadev09/bouncer/internal/metrics"
	"github.com/iadev09/bouncer/internal/retry"
	"github.com/iadev09/bouncer/internal/wire"
)

// Publisher maintains one long-lived TCP connection to the ingest daemon
// and drains a bounded queue of delivery events over it. At-least-once: an
// event is only discarded after the daemon acknowledges it, or when the
// queue overflows while the link is down (oldest first, counted).
type Publisher struct {
	addr           string
	source         string
	maxFrameSize   int
	connectTimeout time.Duration
	ioTimeout      time.Duration
	heartbeat      time.Duration
	backoffMax     time.Duration

	queue     chan *wire.Event
	logger    *slog.Logger
	collector metrics.Collector
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Addr           string
	Source         string
	MaxFrameSize   int
	QueueSize      int
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Heartbeat      time.Duration
	BackoffMax     time.Duration
	Logger         *slog.Logger
	Collector      metrics.Collector
}

// NewPublisher creates a Publisher. Run must be started for events to flow.
func NewPublisher(cfg PublisherConfig) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Publisher{
		addr:           cfg.Addr,
		source:         cfg.Source,
		maxFrameSize:   cfg.MaxFrameSize,
		connectTimeout: cfg.ConnectTimeout,
		ioTimeout:      cfg.IOTimeout,
		heartbeat:      cfg.Heartbeat,
		backoffMax:     cfg.BackoffMax,
		queue:          make(chan *wire.Event, cfg.QueueSize),
		logger:         logger,
		collector:      collector,
	}
}

// Enqueue offers an event to the publisher queue. When the queue is full
// (daemon down, long outage) the oldest pending event is dropped to make
// room, and the drop is counted.
func (p *Publisher) Enqueue(e *wire.Event) {
	for {
		select {
		case p.queue <- e:
			return
		default:
		}
		select {
		case dropped := <-p.queue:
			p.collector.EventDropped()
			p.logger.Warn("publisher queue full, dropping oldest event",
				"hash", dropped.MessageHash, "recipient", dropped.Recipient)
		default:
		}
	}
}

// Pending returns the number of queued events.
func (p *Publisher) Pending() int {
	return len(p.queue)
}

// Run drives the connect/send/ack loop until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	backoff := &retry.Backoff{Initial: time.Second, Max: p.backoffMax}

	// The event currently being delivered. Survives reconnects so a send
	// interrupted by a failure is retried, not lost.
	var pending *wire.Event

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := net.DialTimeout("tcp", p.addr, p.connectTimeout)
		if err != nil {
			p.collector.PublisherReconnected()
			p.logger.Warn("connect to ingest daemon failed", "addr", p.addr, "error", err)
			if err := backoff.Sleep(ctx); err != nil {
				return err
			}
			continue
		}
		backoff.Reset()
		p.logger.Info("connected to ingest daemon", "addr", p.addr)

		pending = p.sendLoop(ctx, conn, pending)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.collector.PublisherReconnected()
		if err := backoff.Sleep(ctx); err != nil {
			return err
		}
	}
}

// sendLoop pumps events over one connection until it fails or the context
// is cancelled. Returns the event that was in flight when the connection
// died, to be retried on the next connection.
func (p *Publisher) sendLoop(ctx context.Context, conn net.Conn, pending *wire.Event) *wire.Event {
	idle := time.NewTimer(p.heartbeat)
	defer idle.Stop()

	for {
		if pending == nil {
			select {
			case <-ctx.Done():
				return nil
			case e := <-p.queue:
				pending = e
			case <-idle.C:
				// Active health probe while the queue is quiet.
				hb := &wire.Event{Heartbeat: true, Source: p.source}
				if err := p.send(conn, hb); err != nil {
					p.logger.Warn("heartbeat failed", "error", err)
					return nil
				}
				p.collector.HeartbeatSent()
				idle.Reset(p.heartbeat)
				continue
			}
		}

		if err := p.send(conn, pending); err != nil {
			p.logger.Warn("publish failed, will reconnect",
				"hash", pending.MessageHash, "recipient", pending.Recipient, "error", err)
			return pending
		}
		p.collector.EventPublished()
		p.logger.Debug("event published",
			"hash", pending.MessageHash, "recipient", pending.Recipient, "status", pending.Status)
		pending = nil

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(p.heartbeat)
	}
}

// send frames one event, writes it under the I/O deadline, and waits for
// the acknowledgement.
func (p *Publisher) send(conn net.Conn, e *wire.Event) error {
	frame := &wire.Frame{
		Kind:   wire.KindObserverEvent,
		Source: p.source,
		Body:   wire.EncodeEvent(e),
	}

	if err := conn.SetDeadline(time.Now().Add(p.ioTimeout)); err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, frame, p.maxFrameSize); err != nil {
		return err
	}
	return wire.ReadAck(conn)
}
