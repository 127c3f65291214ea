// Package notify fans alert changes out to external sinks. Delivery is
// best-effort: failures are logged and counted, never retried.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
	"github.com/mr1hm/nepal-hazard-watch/internal/worker"
)

const publishTimeout = 5 * time.Second

// Event is one change plus the live feed at publish time. Seq orders
// the Live snapshots across workers; zero means unordered.
type Event struct {
	Change models.AlertChange
	Live   []models.Alert
	Seq    uint64
}

// Sink publishes alert events to one external system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Dispatcher queues store changes onto a worker pool. The store calls
// Notify synchronously, so Notify never blocks.
type Dispatcher struct {
	sinks    []Sink
	snapshot func() []models.Alert
	pool     *worker.WorkerPool
	metrics  *observability.Metrics
	logger   *slog.Logger

	// snapMu pairs each snapshot with its sequence number.
	snapMu sync.Mutex
	seq    uint64
}

type Options struct {
	Workers    int
	BufferSize int
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// NewDispatcher publishes to sinks. snapshot supplies the live feed for
// sinks that mirror it.
func NewDispatcher(sinks []Sink, snapshot func() []models.Alert, opts Options) *Dispatcher {
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		sinks:    sinks,
		snapshot: snapshot,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	d.pool = worker.NewWorkerPool(opts.Workers, opts.BufferSize, d.process)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
	d.logger.Info("notification dispatcher started", "sinks", len(d.sinks))
}

// Notify queues c for publishing and drops it when the queue is full.
func (d *Dispatcher) Notify(c models.AlertChange) {
	if len(d.sinks) == 0 {
		return
	}
	if !d.pool.TrySubmit(c) {
		d.metrics.Notifications.WithLabelValues("queue", "dropped").Inc()
		d.logger.Warn("notification queue full, dropping change", "id", c.Alert.ID, "change", c.Type)
	}
}

func (d *Dispatcher) process(ctx context.Context, job worker.Job) error {
	c, ok := job.(models.AlertChange)
	if !ok {
		return nil
	}

	ev := Event{Change: c}
	if d.snapshot != nil {
		d.snapMu.Lock()
		d.seq++
		ev.Seq = d.seq
		ev.Live = d.snapshot()
		d.snapMu.Unlock()
	}

	var firstErr error
	for _, s := range d.sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.Publish(pctx, ev)
		cancel()

		if err != nil {
			d.metrics.Notifications.WithLabelValues(s.Name(), "error").Inc()
			d.logger.Warn("publish failed", "sink", s.Name(), "id", c.Alert.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.metrics.Notifications.WithLabelValues(s.Name(), "success").Inc()
	}
	return firstErr
}

// Stop drains the queue and closes every sink.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Warn("error closing sink", "sink", s.Name(), "error", err)
		}
	}
	d.logger.Info("notification dispatcher stopped")
}
