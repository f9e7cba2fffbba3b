// Package scheduler runs periodic maintenance jobs in the background
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Exchange-Bridge/sequence"
)

// CounterPruner deletes counter rows of days before the given YYMMDD key
type CounterPruner interface {
	PruneBefore(ctx context.Context, day string) (int64, error)
}

// CounterJanitor periodically drops sequence counter rows past their retention.
// Only days strictly older than the retention window are touched, so the
// current and previous day are never pruned.
type CounterJanitor struct {
	pruner    CounterPruner
	clock     sequence.Clock
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
}

func NewCounterJanitor(pruner CounterPruner, clock sequence.Clock, retention, interval time.Duration, logger *log.Logger) *CounterJanitor {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CounterJanitor{
		pruner:    pruner,
		clock:     clock,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the janitor loop in a background goroutine and returns a stop function
func (j *CounterJanitor) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// RunOnce prunes once and returns the number of deleted rows
func (j *CounterJanitor) RunOnce(ctx context.Context) int64 {
	if j.retention <= 0 {
		return 0
	}

	cutoff := sequence.DayKey(j.clock.Now().Add(-j.retention))
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := j.pruner.PruneBefore(runCtx, cutoff)
	if err != nil {
		j.logger.Printf(`{"level":"error","event":"counter_prune_failed","cutoff":"%s","error":%q}`, cutoff, err.Error())
		return 0
	}
	if n > 0 {
		j.logger.Printf(`{"level":"info","event":"counter_pruned","cutoff":"%s","rows":%d}`, cutoff, n)
	}
	return n
}
