package spool

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/iadev09/bouncer/internal/metrics"
)

// Watcher subscribes to file-creation events on incoming/ and offers new
// item ids to the process queue. A full queue drops the event; the periodic
// scanner is the safety net, so no item is lost.
type Watcher struct {
	spool     *Spool
	queue     chan<- string
	logger    *slog.Logger
	collector metrics.Collector
}

// NewWatcher creates a Watcher feeding queue.
func NewWatcher(s *Spool, queue chan<- string, logger *slog.Logger, collector metrics.Collector) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Watcher{spool: s, queue: queue, logger: logger, collector: collector}
}

// Run watches incoming/ until the context is cancelled. The inotify
// subscription failing is an error; events arriving faster than the queue
// drains is not.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.spool.IncomingDir()); err != nil {
		return err
	}
	w.logger.Info("spool watcher started", "dir", w.spool.IncomingDir())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("spool watcher stopped")
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// Renames into the directory surface as Create on Linux; both
			// ops cover the enqueue rename on other platforms.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			id, valid := ParseItemName(filepath.Base(event.Name))
			if !valid {
				continue
			}
			select {
			case w.queue <- id:
			default:
				w.collector.WatcherEventDropped()
				w.logger.Debug("process queue full, dropping watch event", "id", id)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spool watch error", "error", err)
		}
	}
}
