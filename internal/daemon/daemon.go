// Package daemon wires the ingest pipeline together: TCP listener, spool,
// watcher, scanner, worker pool, database, and the optional IMAP poller.
// All process-wide state is created here at startup and passed down
// explicitly; shutdown tears it down in reverse order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iadev09/bouncer/internal/config"
	"github.com/iadev09/bouncer/internal/dsn"
	"github.com/iadev09/bouncer/internal/imappoll"
	"github.com/iadev09/bouncer/internal/logging"
	"github.com/iadev09/bouncer/internal/metrics"
	"github.com/iadev09/bouncer/internal/server"
	"github.com/iadev09/bouncer/internal/spool"
	"github.com/iadev09/bouncer/internal/store"
	"github.com/iadev09/bouncer/internal/wire"
)

// statusKey indexes the action/class mapping table.
type statusKey struct {
	action string
	class  string
}

// defaultStatusTable is the built-in DSN action to database status mapping.
// Config status_overrides entries replace or extend these rows.
var defaultStatusTable = map[statusKey]string{
	{"failed", ""}:    "failed",
	{"delivered", ""}: "success",
	{"relayed", ""}:   "success",
	{"expanded", ""}:  "success",
	{"delayed", "4"}:  "pending",
	{"delayed", "5"}:  "suspended",
	{"delayed", ""}:   "pending",
}

// Daemon is the ingest process.
type Daemon struct {
	cfg       config.DaemonConfig
	logger    *slog.Logger
	collector metrics.Collector

	store       *store.Store
	spool       *spool.Spool
	queue       chan string
	statusTable map[statusKey]string
}

// New builds the daemon: opens the database, prepares the spool tree, and
// recovers items stranded by a previous run.
func New(cfg config.DaemonConfig, logger *slog.Logger, collector metrics.Collector) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	sp := spool.New(cfg.Spool.Root, logging.WithComponent(logger, "spool"), collector)
	if err := sp.EnsureLayout(); err != nil {
		st.Close()
		return nil, err
	}
	if err := sp.RemoveStaleTemp(); err != nil {
		st.Close()
		return nil, err
	}
	if _, err := sp.RecoverProcessing(); err != nil {
		st.Close()
		return nil, err
	}

	table := make(map[statusKey]string, len(defaultStatusTable))
	for k, v := range defaultStatusTable {
		table[k] = v
	}
	for _, o := range cfg.StatusOverrides {
		table[statusKey{o.Action, o.Class}] = o.Status
	}

	return &Daemon{
		cfg:         cfg,
		logger:      logger,
		collector:   collector,
		store:       st,
		spool:       sp,
		queue:       make(chan string, cfg.Spool.QueueCapacity()),
		statusTable: table,
	}, nil
}

// Store returns the shared database handle.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Run starts every subsystem and blocks until the context is cancelled and
// the pipeline has drained. The database closes last.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.store.Close()

	listener := server.NewListener(server.ListenerConfig{
		Address:       d.cfg.Listen,
		MaxFrameSize:  d.cfg.MaxFrameSize,
		IdleTimeout:   d.cfg.IdleTimeout(),
		ShutdownGrace: d.cfg.ShutdownGrace(),
		Handler:       d.handleFrame,
		Logger:        d.logger,
		Collector:     d.collector,
	})
	watcher := spool.NewWatcher(d.spool, d.queue, logging.WithComponent(d.logger, "watcher"), d.collector)
	scanner := spool.NewScanner(d.spool, d.queue, d.cfg.Spool.ScanInterval(), logging.WithComponent(d.logger, "scanner"))
	pool := spool.NewPool(spool.PoolConfig{
		Spool:       d.spool,
		Queue:       d.queue,
		Concurrency: d.cfg.Spool.WorkerConcurrency,
		Process:     d.processBounce,
		Classify:    classify,
		Logger:      logging.WithComponent(d.logger, "worker"),
		Collector:   d.collector,
	})

	var wg sync.WaitGroup
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("subsystem failed", "subsystem", name, "error", err)
			}
		}()
	}

	start("listener", listener.Start)
	start("watcher", watcher.Run)
	start("scanner", scanner.Run)
	start("workers", pool.Run)

	if d.cfg.Imap.Enabled {
		poller := imappoll.New(d.cfg.Imap, d.store, d.mapStatus,
			logging.WithComponent(d.logger, "imap"), d.collector)
		start("imap", poller.Run)
	}

	if d.cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(d.cfg.Metrics.Address, d.cfg.Metrics.Path)
		start("metrics", metricsServer.Start)
	}

	d.logger.Info("ingest daemon started",
		"listen", d.cfg.Listen,
		"spool", d.cfg.Spool.Root,
		"workers", d.cfg.Spool.WorkerConcurrency)

	<-ctx.Done()
	d.logger.Info("ingest daemon shutting down")
	wg.Wait()
	d.logger.Info("ingest daemon stopped")
	return ctx.Err()
}

// handleFrame dispatches one decoded frame. Returning nil makes the
// listener send the ACK, so nothing may return nil before its durable
// effect happened.
func (d *Daemon) handleFrame(ctx context.Context, frame *wire.Frame) error {
	switch frame.Kind {
	case wire.KindMail:
		id, err := d.spool.StoreIncoming(frame.Body)
		if err != nil {
			d.collector.FrameRejected("spool")
			return err
		}
		d.logger.Info("bounce spooled",
			"id", id, "source", frame.Source, "from", frame.From, "to", frame.To, "bytes", len(frame.Body))
		return nil

	case wire.KindObserverEvent:
		event, err := wire.ParseEvent(frame.Body)
		if err != nil {
			d.collector.FrameRejected("protocol")
			return err
		}
		if event.Heartbeat {
			d.collector.HeartbeatReceived()
			d.logger.Debug("observer heartbeat", "source", event.Source)
			return nil
		}

		applied := *event
		applied.Status = mapEventStatus(event.Status, event.DSN)
		if err := d.store.ApplyObserverEvent(ctx, &applied); err != nil {
			if store.IsTransient(err) {
				d.collector.ObserverEventApplied("transient_error")
			} else {
				d.collector.ObserverEventApplied("error")
			}
			return err
		}
		d.collector.ObserverEventApplied("success")
		d.logger.Info("observer event applied",
			"hash", event.MessageHash, "recipient", event.Recipient,
			"status", applied.Status, "source", event.Source)
		return nil

	default:
		d.collector.FrameRejected("protocol")
		return fmt.Errorf("%w: unhandled kind %d", wire.ErrProtocol, frame.Kind)
	}
}

// processBounce parses a spooled DSN and upserts every recipient. Runs on
// the worker pool.
func (d *Daemon) processBounce(ctx context.Context, id string, body []byte) error {
	report, err := dsn.Parse(body)
	if err != nil {
		return err
	}

	for _, rcpt := range report.Recipients {
		err := d.store.UpsertBounce(ctx, store.Bounce{
			MessageHash: report.MessageHash,
			Recipient:   rcpt.Recipient,
			Status:      d.mapStatus(rcpt.Action, rcpt.Class()),
			DSN:         rcpt.Status,
			Diagnostic:  rcpt.Diagnostic,
			Origin:      store.OriginDSN,
			ReceivedAt:  report.Arrival,
		})
		if err != nil {
			return err
		}
	}
	d.logger.Debug("bounce report applied",
		"id", id, "hash", report.MessageHash, "recipients", len(report.Recipients))
	return nil
}

// classify routes worker errors: transient database conditions retry,
// everything else (malformed report, missing hash, constraint violation)
// is terminal.
func classify(err error) spool.Disposition {
	if store.IsTransient(err) {
		return spool.Retry
	}
	return spool.Reject
}

// mapStatus resolves a DSN action and class through the mapping table.
// Exact action+class rows win over action-only rows; unmapped actions fall
// back by DSN class.
func (d *Daemon) mapStatus(action, class string) string {
	if s, ok := d.statusTable[statusKey{action, class}]; ok {
		return s
	}
	if s, ok := d.statusTable[statusKey{action, ""}]; ok {
		return s
	}
	if class == "5" {
		return "failed"
	}
	return "pending"
}

// mapEventStatus refines an observer event's transport status with its DSN
// class into the four-state database status.
func mapEventStatus(status, dsnCode string) string {
	class := ""
	if len(dsnCode) > 0 && (dsnCode[0] == '4' || dsnCode[0] == '5') {
		class = dsnCode[:1]
	}
	switch status {
	case "delivered":
		return "success"
	case "bounced":
		return "failed"
	case "deferred", "delayed":
		if class == "5" {
			return "suspended"
		}
		return "pending"
	default:
		if class == "4" {
			return "pending"
		}
		return "failed"
	}
}
