package observer

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iadev09/bouncer/internal/config"
	"github.com/iadev09/bouncer/internal/metrics"
)

// countingCollector records the counters the correlation tests assert on.
type countingCollector struct {
	metrics.NoopCollector

	mu      sync.Mutex
	hits    int
	misses  int
	dropped map[string]int
}

func (c *countingCollector) CorrelationHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
}

func (c *countingCollector) CorrelationMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
}

func (c *countingCollector) SyslogLineDropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped == nil {
		c.dropped = make(map[string]int)
	}
	c.dropped[reason]++
}

// newTestObserver builds an Observer whose publisher is not running, so
// emitted events accumulate in its queue for inspection.
func newTestObserver(t *testing.T, collector metrics.Collector) *Observer {
	t.Helper()
	cfg := config.DefaultObserver()
	cfg.Source = "mail1"
	o, err := New(cfg, slog.Default(), collector)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

const (
	cleanupLine = "<134>Feb 16 10:00:01 h postfix/cleanup[1]: ABC: message-id=<" + hash + "@d>"
	smtpLine    = "<134>Feb 16 10:00:02 h postfix/smtp[2]: ABC: to=<r@d>, relay=mx[1.2.3.4]:25, dsn=5.7.1, status=bounced (blocked)"
)

func TestCorrelationJoinEmitsOneEvent(t *testing.T) {
	c := &countingCollector{}
	o := newTestObserver(t, c)

	o.handleLine(cleanupLine)
	o.handleLine(smtpLine)

	if got := o.pub.Pending(); got != 1 {
		t.Fatalf("pending events: got %d want 1", got)
	}
	e := <-o.pub.queue
	if e.MessageHash != hash || e.Recipient != "r@d" || e.DSN != "5.7.1" || e.Status != "bounced" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Relay != "mx[1.2.3.4]:25" || e.Diagnostic != "blocked" || e.Source != "mail1" {
		t.Errorf("unexpected event detail %+v", e)
	}
	if c.hits != 1 || c.misses != 0 {
		t.Errorf("hits=%d misses=%d", c.hits, c.misses)
	}
}

func TestCorrelationMissAfterTTL(t *testing.T) {
	c := &countingCollector{}
	o := newTestObserver(t, c)

	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	o.qmap.now = func() time.Time { return now }

	o.handleLine(cleanupLine)

	// The delivery line arrives 25 hours later; TTL is 24h.
	now = now.Add(25 * time.Hour)
	o.handleLine(smtpLine)

	if got := o.pub.Pending(); got != 0 {
		t.Fatalf("pending events: got %d want 0", got)
	}
	if c.misses != 1 {
		t.Errorf("correlation_miss = %d, want 1", c.misses)
	}
}

func TestUnknownQueueIDLogsAndDrops(t *testing.T) {
	c := &countingCollector{}
	o := newTestObserver(t, c)

	// Delivery line with no prior cleanup.
	o.handleLine(smtpLine)

	if got := o.pub.Pending(); got != 0 {
		t.Fatalf("pending events: got %d want 0", got)
	}
	if c.misses != 1 {
		t.Errorf("correlation_miss = %d, want 1", c.misses)
	}
}

func TestForeignMessageIDDropped(t *testing.T) {
	c := &countingCollector{}
	o := newTestObserver(t, c)

	o.handleLine("<134>Feb 16 10:00:01 h postfix/cleanup[1]: XYZ: message-id=<regular-mail-id@elsewhere>")
	o.handleLine("<134>Feb 16 10:00:02 h postfix/smtp[2]: XYZ: to=<r@d>, dsn=2.0.0, status=sent (ok)")

	if got := o.pub.Pending(); got != 0 {
		t.Errorf("foreign mail emitted %d events", got)
	}
	if c.dropped["foreign_message_id"] != 1 {
		t.Errorf("foreign_message_id drops: %v", c.dropped)
	}
}

func TestUnparseableDatagramCounted(t *testing.T) {
	c := &countingCollector{}
	o := newTestObserver(t, c)

	o.handleLine("complete nonsense")
	if c.dropped["unparseable"] != 1 {
		t.Errorf("unparseable drops: %v", c.dropped)
	}
}
