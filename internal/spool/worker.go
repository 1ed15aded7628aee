package spool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/iadev09/bouncer/internal/logging"
	"github.com/iadev09/bouncer/internal/metrics"
)

// Disposition tells the pool where a processed item goes.
type Disposition int

const (
	// Succeed moves the item to done/.
	Succeed Disposition = iota
	// Retry returns the item to incoming/ for another attempt.
	Retry
	// Reject moves the item to failed/, a terminal state.
	Reject
)

// ProcessFunc applies one payload to durable storage. The returned error is
// classified by the pool's Classify function.
type ProcessFunc func(ctx context.Context, id string, body []byte) error

// ClassifyFunc maps a processing error to a disposition. It is never called
// with a nil error.
type ClassifyFunc func(err error) Disposition

// Pool runs a fixed number of workers that pull item ids from the process
// queue, check them out, process them, and move them to a terminal state.
type Pool struct {
	spool       *Spool
	queue       <-chan string
	concurrency int
	process     ProcessFunc
	classify    ClassifyFunc
	logger      *slog.Logger
	collector   metrics.Collector
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Spool       *Spool
	Queue       <-chan string
	Concurrency int
	Process     ProcessFunc
	Classify    ClassifyFunc
	Logger      *slog.Logger
	Collector   metrics.Collector
}

// NewPool creates a worker pool. Classify defaults to rejecting every error.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	classify := cfg.Classify
	if classify == nil {
		classify = func(error) Disposition { return Reject }
	}
	return &Pool{
		spool:       cfg.Spool,
		queue:       cfg.Queue,
		concurrency: cfg.Concurrency,
		process:     cfg.Process,
		classify:    classify,
		logger:      logger,
		collector:   collector,
	}
}

// Run starts the workers and blocks until the context is cancelled and every
// worker has finished its current item. Workers never abandon an item
// mid-transition: a claimed item always reaches done/, failed/ or back to
// incoming/ before the worker exits.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, logging.WithWorker(p.logger, id))
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool drained")
	return ctx.Err()
}

// worker processes queue items until cancellation.
func (p *Pool) worker(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, logger, id)
		}
	}
}

// handle runs one item through checkout, process, and the final move.
func (p *Pool) handle(ctx context.Context, logger *slog.Logger, id string) {
	if err := p.spool.Checkout(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Another worker won the checkout race.
			return
		}
		logger.Error("spool checkout failed", "id", id, "error", err)
		return
	}

	body, err := p.spool.Read(id)
	if err != nil {
		logger.Error("spool read failed", "id", id, "error", err)
		p.finish(logger, id, Retry)
		p.collector.WorkerCompleted("read_error")
		return
	}

	if err := p.process(ctx, id, body); err != nil {
		disposition := p.classify(err)
		switch disposition {
		case Retry:
			logger.Warn("transient processing failure, requeueing", "id", id, "error", err)
			p.collector.WorkerCompleted("retry")
		default:
			logger.Error("permanent processing failure", "id", id, "error", err)
			p.collector.WorkerCompleted("rejected")
		}
		p.finish(logger, id, disposition)
		return
	}

	p.finish(logger, id, Succeed)
	p.collector.WorkerCompleted("success")
	logger.Info("spool item processed", "id", id)
}

// finish moves the checked-out item to the directory its disposition names.
func (p *Pool) finish(logger *slog.Logger, id string, d Disposition) {
	var err error
	switch d {
	case Succeed:
		err = p.spool.Complete(id)
	case Retry:
		err = p.spool.Requeue(id)
	case Reject:
		err = p.spool.Fail(id)
	}
	if err != nil {
		logger.Error("spool move failed", "id", id, "error", err)
	}
}
