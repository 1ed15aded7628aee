package observer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/iadev09/bouncer/internal/metrics"
)

// mapping is the value stored per queue id. Lookups copy it out; references
// never escape the lock.
type mapping struct {
	queueID  string
	hash     string
	domain   string
	inserted time.Time
}

// QueueMap binds transport queue ids to message hashes with a TTL and a
// soft size cap. Iteration order is insertion order, so expiry and cap
// eviction both pop from the front. Safe for concurrent use.
type QueueMap struct {
	ttl     time.Duration
	softMax int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // of *mapping, oldest first

	collector metrics.Collector
	now       func() time.Time
}

// NewQueueMap creates a QueueMap with the given TTL and soft cap.
func NewQueueMap(ttl time.Duration, softMax int, collector metrics.Collector) *QueueMap {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &QueueMap{
		ttl:       ttl,
		softMax:   softMax,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		collector: collector,
		now:       time.Now,
	}
}

// Insert records the queue-id to hash binding, replacing any previous
// binding for the same queue id. Expired and over-cap entries are evicted
// inline, oldest first.
func (m *QueueMap) Insert(queueID, hash, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[queueID]; ok {
		m.order.Remove(el)
		delete(m.entries, queueID)
	}

	el := m.order.PushBack(&mapping{
		queueID:  queueID,
		hash:     hash,
		domain:   domain,
		inserted: m.now(),
	})
	m.entries[queueID] = el

	m.sweepLocked()
	for m.order.Len() > m.softMax {
		m.evictFrontLocked("cap")
	}
	m.collector.QueueMapSize(m.order.Len())
}

// Lookup returns the hash and domain bound to queueID, copying the values
// out under the lock. Expired entries are treated as absent.
func (m *QueueMap) Lookup(queueID string) (hash, domain string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, found := m.entries[queueID]
	if !found {
		return "", "", false
	}
	e := el.Value.(*mapping)
	if m.ttl > 0 && m.now().Sub(e.inserted) > m.ttl {
		return "", "", false
	}
	return e.hash, e.domain, true
}

// Sweep removes every expired entry and returns how many were removed.
// O(expired) amortized: entries are ordered by insertion, so the scan stops
// at the first live one.
func (m *QueueMap) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.sweepLocked()
	m.collector.QueueMapSize(m.order.Len())
	return removed
}

// sweepLocked pops expired entries from the front. Caller holds the lock.
func (m *QueueMap) sweepLocked() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for {
		front := m.order.Front()
		if front == nil {
			break
		}
		if !front.Value.(*mapping).inserted.Before(cutoff) {
			break
		}
		m.evictFrontLocked("ttl")
		removed++
	}
	return removed
}

// evictFrontLocked removes the oldest entry. Caller holds the lock.
func (m *QueueMap) evictFrontLocked(reason string) {
	front := m.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*mapping)
	m.order.Remove(front)
	delete(m.entries, e.queueID)
	m.collector.QueueMapEvicted(reason)
}

// Len returns the current entry count.
func (m *QueueMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Run sweeps periodically until the context is cancelled.
func (m *QueueMap) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep()
		}
	}
}
