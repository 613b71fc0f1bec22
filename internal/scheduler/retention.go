package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger deletes terminal run history older than a cutoff. Satisfied by the
// store.
type Purger interface {
	PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention sweeps old execution history on a cron schedule. Only terminal
// runs past the retention window are purged; the authored step and workflow
// definitions are never touched.
type Retention struct {
	purger   Purger
	schedule cron.Schedule
	window   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetention creates a Retention sweeper. spec is a standard 5-field cron
// expression; window is how long terminal runs are kept.
func NewRetention(purger Purger, spec string, window time.Duration, logger *slog.Logger) (*Retention, error) {
	if window <= 0 {
		return nil, fmt.Errorf("retention window must be positive, got %s", window)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		purger:   purger,
		schedule: schedule,
		window:   window,
		logger:   logger,
	}, nil
}

// Start launches the background sweep loop.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return fmt.Errorf("retention sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(sweepCtx, r.done)
	r.logger.Info("retention sweeper started", slog.Duration("window", r.window))
	return nil
}

// Stop halts the loop and waits for the current sweep to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("retention sweeper stopped")
}

func (r *Retention) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep purges terminal executions older than the retention window. Exposed
// for manual invocation alongside the cron loop.
func (r *Retention) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.window)
	n, err := r.purger.PurgeExecutionsBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		r.logger.Info("retention sweep purged executions",
			slog.Int64("purged", n),
			slog.Time("cutoff", cutoff),
		)
	}
}
