package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
)

// Poller runs one Source on a fixed cadence for one location at a time.
type Poller struct {
	source  Source
	sink    CandidateSink
	clock   clockwork.Clock
	timeout time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(source Source, sink CandidateSink, clock clockwork.Clock, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:  source,
		sink:    sink,
		clock:   clock,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.With("source", source.Name()),
	}
}

// Start polls loc immediately and then every interval until Stop or ctx
// is done. A running loop is stopped first, so restarts never overlap.
func (p *Poller) Start(ctx context.Context, loc models.Location, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.run(ctx, loc, interval, done)
}

// Stop cancels the in-flight fetch and the ticker and waits for the loop
// to exit. Nothing is offered after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

func (p *Poller) run(ctx context.Context, loc models.Location, interval time.Duration, done chan struct{}) {
	defer close(done)
	p.logger.Info("starting poller", "interval", interval, "location", loc.Name)

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx, loc)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller shutting down")
			return
		case <-ticker.Chan():
			p.poll(ctx, loc)
		}
	}
}

func (p *Poller) poll(ctx context.Context, loc models.Location) {
	p.logger.Debug("polling")

	fetchCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.clock.Now()
	candidates, err := p.source.Poll(fetchCtx, loc)
	p.metrics.PollDuration.WithLabelValues(p.source.Name()).Observe(p.clock.Since(start).Seconds())

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.metrics.Polls.WithLabelValues(p.source.Name(), "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("poll timed out", "timeout", p.timeout)
			return
		}
		p.logger.Warn("poll failed", "error", err)
		return
	}
	p.metrics.Polls.WithLabelValues(p.source.Name(), "success").Inc()

	admitted := 0
	for _, c := range candidates {
		if _, ok := p.sink.Offer(c); ok {
			admitted++
		}
	}

	p.logger.Debug("poll complete", "candidates", len(candidates), "admitted", admitted)
}
