package observer

import (
	"fmt"
	"testing"
	"time"
)

func TestQueueMapInsertLookup(t *testing.T) {
	m := NewQueueMap(time.Hour, 100, nil)
	m.Insert("QID1", hash, "example.org")

	h, d, ok := m.Lookup("QID1")
	if !ok || h != hash || d != "example.org" {
		t.Errorf("lookup: got %q %q %v", h, d, ok)
	}

	if _, _, ok := m.Lookup("UNKNOWN"); ok {
		t.Error("unknown queue id found")
	}
}

func TestQueueMapReplaceBinding(t *testing.T) {
	m := NewQueueMap(time.Hour, 100, nil)
	m.Insert("QID1", hash, "a.example")
	m.Insert("QID1", "ffffffffffffffffffffffffffffffff", "b.example")

	h, _, ok := m.Lookup("QID1")
	if !ok || h != "ffffffffffffffffffffffffffffffff" {
		t.Errorf("replacement lost: got %q %v", h, ok)
	}
	if m.Len() != 1 {
		t.Errorf("len: got %d want 1", m.Len())
	}
}

func TestQueueMapTTLExpiry(t *testing.T) {
	m := NewQueueMap(time.Hour, 100, nil)

	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Insert("QID1", hash, "d")

	// 25 hours later the entry is expired for lookups even before a sweep.
	now = now.Add(25 * time.Hour)
	if _, _, ok := m.Lookup("QID1"); ok {
		t.Error("expired entry still visible")
	}

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("sweep removed %d, want 1", removed)
	}
	if m.Len() != 0 {
		t.Errorf("len after sweep: got %d", m.Len())
	}
}

func TestQueueMapSweepStopsAtLiveEntries(t *testing.T) {
	m := NewQueueMap(time.Hour, 100, nil)
	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Insert("OLD", hash, "d")
	now = now.Add(2 * time.Hour)
	m.Insert("NEW", hash, "d")

	// Inserting NEW already swept OLD (on-write sweep).
	if m.Len() != 1 {
		t.Fatalf("len: got %d want 1", m.Len())
	}
	if _, _, ok := m.Lookup("NEW"); !ok {
		t.Error("live entry swept")
	}
}

func TestQueueMapSoftCapEvictsOldest(t *testing.T) {
	const softMax = 10
	m := NewQueueMap(time.Hour, softMax, nil)

	for i := 0; i < softMax*3; i++ {
		m.Insert(fmt.Sprintf("QID%03d", i), hash, "d")
	}

	if m.Len() > softMax {
		t.Errorf("map size %d exceeds soft cap %d", m.Len(), softMax)
	}
	// The newest entries survive.
	if _, _, ok := m.Lookup(fmt.Sprintf("QID%03d", softMax*3-1)); !ok {
		t.Error("newest entry evicted")
	}
	if _, _, ok := m.Lookup("QID000"); ok {
		t.Error("oldest entry survived cap eviction")
	}
}
