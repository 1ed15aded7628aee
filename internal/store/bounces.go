package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iadev09/bouncer/internal/wire"
)

// Bounce origins recorded alongside each upsert.
const (
	OriginDSN      = "dsn"
	OriginObserver = "observer"
	OriginImap     = "imap"
)

// Bounce is one per-recipient delivery outcome ready to persist.
type Bounce struct {
	MessageHash string
	Recipient   string
	Status      string
	DSN         string
	Diagnostic  string
	Relay       string
	Source      string
	Origin      string
	ReceivedAt  time.Time
}

// UpsertBounce inserts or refreshes the row keyed by (message_hash,
// recipient). Applying the same bounce twice leaves the same state as
// applying it once; this is what makes the pipeline's at-least-once
// delivery safe.
func (s *Store) UpsertBounce(ctx context.Context, b Bounce) error {
	if b.MessageHash == "" || b.Recipient == "" {
		return fmt.Errorf("upsert needs message_hash and recipient")
	}
	received := b.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_bounces
			(message_hash, recipient, status, dsn, diagnostic, relay, source, origin, received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_hash, recipient) DO UPDATE SET
			status      = excluded.status,
			dsn         = excluded.dsn,
			diagnostic  = excluded.diagnostic,
			relay       = excluded.relay,
			source      = excluded.source,
			origin      = excluded.origin,
			received_at = excluded.received_at,
			updated_at  = excluded.updated_at
	`, b.MessageHash, b.Recipient, b.Status, b.DSN, b.Diagnostic, b.Relay,
		b.Source, b.Origin, received.UTC().Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("upserting bounce %s/%s: %w", b.MessageHash, b.Recipient, err)
	}
	return nil
}

// ApplyObserverEvent maps a validated observer event onto the shared upsert
// key. Heartbeats must be filtered out by the caller.
func (s *Store) ApplyObserverEvent(ctx context.Context, e *wire.Event) error {
	return s.UpsertBounce(ctx, Bounce{
		MessageHash: e.MessageHash,
		Recipient:   e.Recipient,
		Status:      e.Status,
		DSN:         e.DSN,
		Diagnostic:  e.Diagnostic,
		Relay:       e.Relay,
		Source:      e.Source,
		Origin:      OriginObserver,
		ReceivedAt:  e.Timestamp,
	})
}

// MessageHashKnown reports whether the hash corresponds to an outgoing
// message row. The IMAP poller uses this to decide whether to mark foreign
// mail seen.
func (s *Store) MessageHashKnown(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM mail_messages WHERE message_hash = ?`, hash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up message hash: %w", err)
	}
	return true, nil
}

// InsertMessage records an outgoing message hash. Only tests and fixtures
// use this; production rows come from the sender pipeline.
func (s *Store) InsertMessage(ctx context.Context, hash, sender string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_messages (message_hash, sender) VALUES (?, ?)
		ON CONFLICT(message_hash) DO NOTHING
	`, hash, sender)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", hash, err)
	}
	return nil
}

// BounceCount returns the number of bounce rows. Used by tests and the
// admin surface.
func (s *Store) BounceCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mail_bounces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bounces: %w", err)
	}
	return n, nil
}

// GetBounce fetches one bounce row. Used by tests.
func (s *Store) GetBounce(ctx context.Context, hash, recipient string) (Bounce, error) {
	var b Bounce
	var received, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT message_hash, recipient, status, dsn, diagnostic, relay, source, origin, received_at, updated_at
		FROM mail_bounces WHERE message_hash = ? AND recipient = ?
	`, hash, recipient).Scan(&b.MessageHash, &b.Recipient, &b.Status, &b.DSN,
		&b.Diagnostic, &b.Relay, &b.Source, &b.Origin, &received, &updated)
	if err != nil {
		return b, err
	}
	if ts, perr := time.Parse(time.RFC3339, received); perr == nil {
		b.ReceivedAt = ts
	}
	return b, nil
}
