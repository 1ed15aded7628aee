// Package spool implements the on-disk four-directory queue that hands
// bounce payloads from the ingest listener to the worker pool.
//
// A payload's relative path encodes its state: incoming/<uuid>.eml is
// enqueued, processing/<uuid>.eml is checked out by a worker, done/<uuid>.eml
// and failed/<uuid>.eml are terminal. All transitions are renames within one
// filesystem, so a file exists under exactly one directory at any instant
// and mutual exclusion needs no locks.
package spool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/iadev09/bouncer/internal/metrics"
)

// Spool state directories.
const (
	DirIncoming   = "incoming"
	DirProcessing = "processing"
	DirDone       = "done"
	DirFailed     = "failed"
)

const itemSuffix = ".eml"

// ErrNotFound reports that an item was not present in the expected state
// directory. During checkout this means another worker won the race.
var ErrNotFound = errors.New("spool: item not found")

// Spool owns the four-directory tree under root. The daemon is the only
// writer; methods are safe for concurrent use because every transition is a
// single rename.
type Spool struct {
	root      string
	logger    *slog.Logger
	collector metrics.Collector
}

// New creates a Spool rooted at root. Call EnsureLayout before use.
func New(root string, logger *slog.Logger, collector metrics.Collector) *Spool {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Spool{root: root, logger: logger, collector: collector}
}

// Root returns the spool root directory.
func (s *Spool) Root() string {
	return s.root
}

// IncomingDir returns the absolute path of the incoming directory.
func (s *Spool) IncomingDir() string {
	return filepath.Join(s.root, DirIncoming)
}

// EnsureLayout creates the four state directories.
func (s *Spool) EnsureLayout() error {
	for _, dir := range []string{DirIncoming, DirProcessing, DirDone, DirFailed} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o750); err != nil {
			return fmt.Errorf("creating spool dir %s: %w", dir, err)
		}
	}
	return nil
}

// itemPath returns the path of id under the given state directory.
func (s *Spool) itemPath(dir, id string) string {
	return filepath.Join(s.root, dir, id+itemSuffix)
}

// ParseItemName extracts the UUID from a spool file name. Returns false for
// temp files and foreign cruft.
func ParseItemName(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, itemSuffix)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// StoreIncoming durably writes body as a new item in incoming/ and returns
// its id. The payload is written to a temporary file in the spool root
// (where neither the watcher nor the scanner look), fsynced, renamed into
// incoming/, and the directory is fsynced. Only after StoreIncoming returns
// may the caller acknowledge the sender.
func (s *Spool) StoreIncoming(body []byte) (string, error) {
	id := uuid.NewString()
	tmpPath := filepath.Join(s.root, id+itemSuffix+".tmp")

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("creating spool temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing spool temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing spool temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing spool temp file: %w", err)
	}

	finalPath := s.itemPath(DirIncoming, id)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("committing spool item: %w", err)
	}
	if err := syncDir(s.IncomingDir()); err != nil {
		return "", fmt.Errorf("syncing incoming dir: %w", err)
	}

	s.collector.SpoolEnqueued(int64(len(body)))
	s.logger.Debug("spool item enqueued", "id", id, "bytes", len(body))
	return id, nil
}

// syncDir fsyncs a directory so a completed rename survives a crash.
func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// move renames id from one state directory to another. A missing source maps
// to ErrNotFound so checkout races can be detected.
func (s *Spool) move(id, from, to string) error {
	err := os.Rename(s.itemPath(from, id), s.itemPath(to, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, from, id)
		}
		return fmt.Errorf("moving %s from %s to %s: %w", id, from, to, err)
	}
	s.collector.SpoolMoved(to)
	s.logger.Debug("spool item moved", "id", id, "from", from, "to", to)
	return nil
}

// Checkout claims id for processing. Exactly one caller succeeds; losers get
// ErrNotFound and must skip the item silently.
func (s *Spool) Checkout(id string) error {
	return s.move(id, DirIncoming, DirProcessing)
}

// Complete moves a processed item to its success terminal state.
func (s *Spool) Complete(id string) error {
	return s.move(id, DirProcessing, DirDone)
}

// Fail moves an unparseable item to its terminal reject state. Items in
// failed/ are never re-processed automatically.
func (s *Spool) Fail(id string) error {
	return s.move(id, DirProcessing, DirFailed)
}

// Requeue returns a checked-out item to incoming/ after a transient failure;
// the scanner will re-enqueue it.
func (s *Spool) Requeue(id string) error {
	return s.move(id, DirProcessing, DirIncoming)
}

// Read returns the payload of a checked-out item.
func (s *Spool) Read(id string) ([]byte, error) {
	body, err := os.ReadFile(s.itemPath(DirProcessing, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, DirProcessing, id)
		}
		return nil, fmt.Errorf("reading spool item %s: %w", id, err)
	}
	return body, nil
}

// ListIncoming enumerates the ids currently enqueued.
func (s *Spool) ListIncoming() ([]string, error) {
	entries, err := os.ReadDir(s.IncomingDir())
	if err != nil {
		return nil, fmt.Errorf("listing incoming: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseItemName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RecoverProcessing returns items stranded in processing/ by a previous run
// to incoming/. Safe because the database upsert is idempotent. Call once at
// startup, before workers start.
func (s *Spool) RecoverProcessing() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, DirProcessing))
	if err != nil {
		return 0, fmt.Errorf("listing processing: %w", err)
	}
	recovered := 0
	for _, e := range entries {
		id, ok := ParseItemName(e.Name())
		if !ok {
			continue
		}
		if err := s.move(id, DirProcessing, DirIncoming); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered stranded spool items", "count", recovered)
	}
	return recovered, nil
}

// RemoveStaleTemp deletes leftover temp files in the spool root from a
// crashed run. Their frames were never acknowledged, so the client will have
// retried.
func (s *Spool) RemoveStaleTemp() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("listing spool root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("removing stale temp file: %w", err)
		}
		s.logger.Warn("removed stale spool temp file", "name", e.Name())
	}
	return nil
}
