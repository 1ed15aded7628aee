// Package imappoll implements the optional IMAP fallback ingestion source:
// a mailbox that receives bounce mail directly is polled for UNSEEN
// messages, which are parsed and applied through the same idempotent upsert
// as the spool workers.
package imappoll

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/iadev09/bouncer/internal/config"
	"github.com/iadev09/bouncer/internal/dsn"
	"github.com/iadev09/bouncer/internal/metrics"
	"github.com/iadev09/bouncer/internal/store"
)

// MapStatusFunc translates a DSN action and class to the database status,
// using the daemon's (possibly overridden) mapping table.
type MapStatusFunc func(action, class string) string

// Poller polls one IMAP mailbox on a fixed interval.
type Poller struct {
	cfg       config.ImapConfig
	store     *store.Store
	mapStatus MapStatusFunc
	logger    *slog.Logger
	collector metrics.Collector
}

// New creates a Poller.
func New(cfg config.ImapConfig, st *store.Store, mapStatus MapStatusFunc, logger *slog.Logger, collector metrics.Collector) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Poller{
		cfg:       cfg,
		store:     st,
		mapStatus: mapStatus,
		logger:    logger,
		collector: collector,
	}
}

// Run polls until the context is cancelled. Poll failures are logged and
// counted, never fatal: the mailbox will still be there next interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("imap poller started",
		"host", p.cfg.Host, "mailbox", p.cfg.Mailbox, "interval", p.cfg.PollInterval())

	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			p.collector.ImapPollCompleted("error")
			p.logger.Warn("imap poll failed", "error", err)
		} else {
			p.collector.ImapPollCompleted("success")
		}

		select {
		case <-ctx.Done():
			p.logger.Info("imap poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll runs one fetch/parse/upsert cycle.
func (p *Poller) poll(ctx context.Context) error {
	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Select(p.cfg.Mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", p.cfg.Mailbox, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if p.cfg.MaxHistoryDays > 0 {
		criteria.Since = time.Now().AddDate(0, 0, -p.cfg.MaxHistoryDays)
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	p.logger.Debug("unseen bounce mail found", "count", len(uids))

	for _, uid := range uids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.processMessage(ctx, client, uid); err != nil {
			p.logger.Warn("imap message not applied", "uid", uint32(uid), "error", err)
		}
	}
	return nil
}

// connect dials, optionally over TLS, and logs in. Every step is bounded by
// the configured connect timeout via a watchdog that closes the client.
func (p *Poller) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	// Bound the TCP connect and TLS handshake.
	dialCtx, dialCancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout())
	defer dialCancel()
	var conn net.Conn
	var err error
	if p.cfg.SSL {
		conn, err = (&tls.Dialer{}).DialContext(dialCtx, "tcp", addr)
	} else {
		conn, err = (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	client := imapclient.New(conn, &imapclient.Options{})

	// Bound greeting and login: cut the connection when the timeout or the
	// surrounding context expires first.
	loginCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout())
	defer cancel()
	watchdog := context.AfterFunc(loginCtx, func() { client.Close() })
	defer watchdog()

	if err := client.Login(p.cfg.Username, p.cfg.Password).Wait(); err != nil {
		client.Close()
		if loginCtx.Err() != nil {
			return nil, fmt.Errorf("login to %s timed out: %w", addr, loginCtx.Err())
		}
		return nil, fmt.Errorf("login to %s: %w", addr, err)
	}
	return client, nil
}

// processMessage fetches one message read-only, parses it as a DSN, and
// applies the result.
func (p *Poller) processMessage(ctx context.Context, client *imapclient.Client, uid imap.UID) error {
	bodySection := &imap.FetchItemBodySection{
		Peek: true, // never set \Seen as a fetch side effect
	}
	uidSet := imap.UIDSetNum(uid)
	msgs, err := client.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return fmt.Errorf("fetching uid %d: %w", uint32(uid), err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("uid %d vanished between search and fetch", uint32(uid))
	}

	raw := msgs[0].FindBodySection(bodySection)
	if len(raw) == 0 {
		return fmt.Errorf("uid %d has no body", uint32(uid))
	}

	report, err := dsn.Parse(raw)
	if err != nil {
		if errors.Is(err, dsn.ErrNoMessageHash) && p.cfg.MarkSeenUnknown {
			// Not ours; suppress re-processing on the next poll.
			return p.markSeen(client, uid)
		}
		return err
	}

	known, err := p.store.MessageHashKnown(ctx, report.MessageHash)
	if err != nil {
		return err
	}
	if !known {
		if p.cfg.MarkSeenUnknown {
			return p.markSeen(client, uid)
		}
		return nil
	}

	for _, rcpt := range report.Recipients {
		err := p.store.UpsertBounce(ctx, store.Bounce{
			MessageHash: report.MessageHash,
			Recipient:   rcpt.Recipient,
			Status:      p.mapStatus(rcpt.Action, rcpt.Class()),
			DSN:         rcpt.Status,
			Diagnostic:  rcpt.Diagnostic,
			Origin:      store.OriginImap,
			ReceivedAt:  report.Arrival,
		})
		if err != nil {
			return err
		}
	}
	p.logger.Info("imap bounce applied",
		"uid", uint32(uid), "hash", report.MessageHash, "recipients", len(report.Recipients))
	return nil
}

// markSeen flags a message so the UNSEEN search skips it next time.
func (p *Poller) markSeen(client *imapclient.Client, uid imap.UID) error {
	uidSet := imap.UIDSetNum(uid)
	_, err := client.Store(uidSet, &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil).Collect()
	if err != nil {
		return fmt.Errorf("marking uid %d seen: %w", uint32(uid), err)
	}
	return nil
}
