package spool

import (
	"context"
	"testing"
	"time"
)

func TestWatcherSeesNewItems(t *testing.T) {
	s := newTestSpool(t)
	queue := make(chan string, 8)
	w := NewWatcher(s, queue, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watch subscription time to attach before the first write.
	time.Sleep(100 * time.Millisecond)

	id, err := s.StoreIncoming([]byte("watched"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-queue:
		if got != id {
			t.Errorf("watcher enqueued %s, want %s", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never enqueued the new item")
	}
}

func TestWatcherDropsWhenQueueFull(t *testing.T) {
	s := newTestSpool(t)
	queue := make(chan string, 1)
	w := NewWatcher(s, queue, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Two items, capacity one: the second event is dropped, not blocked on.
	if _, err := s.StoreIncoming([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreIncoming([]byte("b")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if len(queue) != 1 {
		t.Errorf("expected 1 queued item, got %d", len(queue))
	}

	// The dropped item is still on disk for the scanner.
	ids, err := s.ListIncoming()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 items in incoming, got %d", len(ids))
	}
}
