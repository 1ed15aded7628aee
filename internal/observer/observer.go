package observer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/iadev09/bouncer/internal/config"
	"github.com/iadev09/bouncer/internal/logging"
	"github.com/iadev09/bouncer/internal/metrics"
	"github.com/iadev09/bouncer/internal/wire"
)

// maxDatagram bounds a single syslog datagram read.
const maxDatagram = 8192

// Observer binds the UDP syslog listener, the queue map, and the publisher
// into one process.
type Observer struct {
	cfg       config.ObserverConfig
	source    string
	logger    *slog.Logger
	collector metrics.Collector

	qmap *QueueMap
	pub  *Publisher
}

// New creates an Observer from its configuration.
func New(cfg config.ObserverConfig, logger *slog.Logger, collector metrics.Collector) (*Observer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	source := cfg.Source
	if source == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("determining hostname: %w", err)
		}
		source = hostname
	}

	o := &Observer{
		cfg:       cfg,
		source:    source,
		logger:    logging.WithComponent(logger, "observer"),
		collector: collector,
		qmap:      NewQueueMap(cfg.MappingTTL(), cfg.MapSoftMax, collector),
		pub: NewPublisher(PublisherConfig{
			Addr:           cfg.Server,
			Source:         source,
			MaxFrameSize:   cfg.MaxFrameSize,
			QueueSize:      cfg.QueueSize,
			ConnectTimeout: cfg.ConnectTimeout(),
			IOTimeout:      cfg.IOTimeout(),
			Heartbeat:      cfg.HeartbeatInterval(),
			BackoffMax:     cfg.ReconnectMax(),
			Logger:         logging.WithComponent(logger, "publisher"),
			Collector:      collector,
		}),
	}
	return o, nil
}

// Run starts the UDP listener, the periodic queue-map sweep, and the
// publisher, and blocks until the context is cancelled and all three have
// stopped.
func (o *Observer) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", o.cfg.SyslogListen)
	if err != nil {
		return fmt.Errorf("resolving syslog address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding syslog socket: %w", err)
	}
	o.logger.Info("syslog listener started", "addr", conn.LocalAddr().String())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.qmap.Run(ctx, o.cfg.SweepInterval())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.pub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			o.logger.Warn("syslog read error", "error", err)
			continue
		}
		o.handleLine(string(buf[:n]))
	}

	wg.Wait()
	o.logger.Info("observer stopped")
	return ctx.Err()
}

// handleLine parses one datagram and advances the correlation state.
func (o *Observer) handleLine(raw string) {
	line, err := ParseLine(raw)
	if err != nil {
		o.collector.SyslogLineDropped("unparseable")
		return
	}
	o.collector.SyslogLineParsed(line.Program)

	switch line.Kind {
	case LineCleanup:
		hash, domain, ok := HashFromMessageID(line.MessageID)
		if !ok {
			// Mail not generated by the application; its message-id has no
			// embedded hash and nothing joins it to the database.
			o.collector.SyslogLineDropped("foreign_message_id")
			return
		}
		o.qmap.Insert(line.QueueID, hash, domain)
		o.logger.Debug("queue mapping recorded", "queue_id", line.QueueID, "hash", hash)

	case LineDelivery:
		if line.Recipient == "" || line.Status == "" || line.DSN == "" {
			o.collector.SyslogLineDropped("incomplete_delivery")
			return
		}
		hash, _, ok := o.qmap.Lookup(line.QueueID)
		if !ok {
			o.collector.CorrelationMiss()
			o.logger.Info("smtp log without known queue mapping",
				"queue_id", line.QueueID, "recipient", line.Recipient)
			return
		}
		o.collector.CorrelationHit()

		o.pub.Enqueue(&wire.Event{
			MessageHash: hash,
			Recipient:   line.Recipient,
			DSN:         line.DSN,
			Status:      MapStatus(line.Status),
			Diagnostic:  line.Diagnostic,
			Relay:       line.Relay,
			Timestamp:   time.Now().UTC(),
			Source:      o.source,
		})

	default:
		o.collector.SyslogLineDropped("uncorrelated")
	}
}
