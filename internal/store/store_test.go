package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/iadev09/bouncer/internal/wire"
)

const testHash = "0123456789abcdef0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bouncer.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bouncer.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s.Close()
}

func TestUpsertBounceIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := Bounce{
		MessageHash: testHash,
		Recipient:   "r@d.example",
		Status:      "failed",
		DSN:         "5.1.1",
		Diagnostic:  "550 no such user",
		Source:      "mail1",
		Origin:      OriginDSN,
		ReceivedAt:  time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC),
	}

	for i := 0; i < 3; i++ {
		if err := s.UpsertBounce(ctx, b); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	n, err := s.BounceCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after 3 identical upserts, got %d", n)
	}

	got, err := s.GetBounce(ctx, testHash, "r@d.example")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" || got.DSN != "5.1.1" {
		t.Errorf("unexpected row %+v", got)
	}
}

func TestUpsertBounceRefreshesStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := Bounce{MessageHash: testHash, Recipient: "r@d", Status: "pending", DSN: "4.4.1", Origin: OriginObserver}
	if err := s.UpsertBounce(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := first
	second.Status = "failed"
	second.DSN = "5.4.1"
	second.Origin = OriginDSN
	if err := s.UpsertBounce(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetBounce(ctx, testHash, "r@d")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" || got.DSN != "5.4.1" || got.Origin != OriginDSN {
		t.Errorf("row not refreshed: %+v", got)
	}
}

func TestUpsertBounceRejectsMissingKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertBounce(context.Background(), Bounce{Recipient: "r@d"}); err == nil {
		t.Error("missing hash accepted")
	}
	if err := s.UpsertBounce(context.Background(), Bounce{MessageHash: testHash}); err == nil {
		t.Error("missing recipient accepted")
	}
}

func TestApplyObserverEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &wire.Event{
		MessageHash: testHash,
		Recipient:   "r@d.example",
		DSN:         "5.7.1",
		Status:      "bounced",
		Diagnostic:  "blocked",
		Relay:       "mx[1.2.3.4]:25",
		Timestamp:   time.Now().UTC().Truncate(time.Second),
		Source:      "mail1",
	}
	if err := s.ApplyObserverEvent(ctx, e); err != nil {
		t.Fatalf("ApplyObserverEvent: %v", err)
	}

	got, err := s.GetBounce(ctx, testHash, "r@d.example")
	if err != nil {
		t.Fatal(err)
	}
	if got.Origin != OriginObserver || got.Status != "bounced" || got.Relay != "mx[1.2.3.4]:25" {
		t.Errorf("unexpected row %+v", got)
	}
}

func TestMessageHashKnown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	known, err := s.MessageHashKnown(ctx, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Error("unknown hash reported known")
	}

	if err := s.InsertMessage(ctx, testHash, "sender@d"); err != nil {
		t.Fatal(err)
	}
	known, err = s.MessageHashKnown(ctx, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Error("inserted hash reported unknown")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil classified transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline not transient")
	}
	if !IsTransient(sql.ErrConnDone) {
		t.Error("ErrConnDone not transient")
	}
	if !IsTransient(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("lock error not transient")
	}
	if IsTransient(errors.New("UNIQUE constraint failed")) {
		t.Error("constraint violation classified transient")
	}
}
