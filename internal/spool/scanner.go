package spool

import (
	"context"
	"log/slog"
	"time"
)

// Scanner periodically enumerates incoming/ and enqueues every present item.
// It is the at-most-one-scan-period fallback for watch events dropped under
// load or missed entirely (daemon restart, watch subscription gap).
type Scanner struct {
	spool    *Spool
	queue    chan<- string
	interval time.Duration
	logger   *slog.Logger

	// offerWait bounds how long one enqueue may block before the scanner
	// gives up until the next tick.
	offerWait time.Duration
}

// NewScanner creates a Scanner feeding queue every interval.
func NewScanner(s *Spool, queue chan<- string, interval time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		spool:     s,
		queue:     queue,
		interval:  interval,
		logger:    logger,
		offerWait: time.Second,
	}
}

// Run scans until the context is cancelled. The first scan happens
// immediately so a restart drains the backlog without waiting a full period.
func (sc *Scanner) Run(ctx context.Context) error {
	sc.logger.Info("spool scanner started", "interval", sc.interval)

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("spool scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			sc.scan(ctx)
		}
	}
}

// scan enqueues everything currently in incoming/. Items that do not fit the
// queue within offerWait stay where they are; the next scan sees them again.
func (sc *Scanner) scan(ctx context.Context) {
	ids, err := sc.spool.ListIncoming()
	if err != nil {
		sc.logger.Error("spool scan failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	sc.logger.Debug("spool scan", "pending", len(ids))

	for _, id := range ids {
		timer := time.NewTimer(sc.offerWait)
		select {
		case sc.queue <- id:
			timer.Stop()
		case <-timer.C:
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
