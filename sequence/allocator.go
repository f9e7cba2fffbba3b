package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"
)

const defaultLockTimeout = 3 * time.Second

// Allocator issues identifiers of the form PREFIX-YYMMDDNN.
type Allocator struct {
	store       CounterStore
	clock       Clock
	lockTimeout time.Duration
	logger      *log.Logger
	randomSeq   func() int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLockTimeout bounds how long a single allocation may wait on the store.
func WithLockTimeout(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.lockTimeout = d
		}
	}
}

// WithLogger sets the logger used for fallback and collision events.
func WithLogger(l *log.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAllocator wires an allocator to its store and clock.
func NewAllocator(store CounterStore, clock Clock, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		clock:       clock,
		lockTimeout: defaultLockTimeout,
		logger:      log.Default(),
		randomSeq:   func() int { return 1 + rand.IntN(MaxDailySequence) },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the next identifier for today.
//
// ErrFormat, ErrDailyLimitReached and ErrExhausted are returned to the
// caller. Any other store failure yields a best-effort fallback identifier
// with Fallback set; it is well-formed but not guaranteed unique.
func (a *Allocator) Allocate(ctx context.Context, prefix string) (*Identifier, error) {
	if err := ValidatePrefix(prefix); err != nil {
		allocationsTotal.WithLabelValues("invalid", "format_error").Inc()
		return nil, err
	}

	now := a.clock.Now()
	day := DayKey(now)

	txCtx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()

	start := time.Now()
	var issued *Identifier
	err := a.store.InTx(txCtx, func(ctx context.Context, tx CounterTx) error {
		id, err := a.next(ctx, tx, prefix, day)
		if errors.Is(err, ErrExhausted) {
			// commit the burned numbers so the next caller moves past them
			return nil
		}
		if err != nil {
			return err
		}
		issued = id
		return nil
	})
	allocationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && issued == nil:
		allocationsTotal.WithLabelValues(prefix, "exhausted").Inc()
		a.logger.Printf(`{"level":"error","event":"sequence_exhausted","prefix":"%s","day":"%s"}`, prefix, day)
		return nil, ErrExhausted
	case err == nil:
		issued.IssuedAt = now
		allocationsTotal.WithLabelValues(prefix, "issued").Inc()
		return issued, nil
	case errors.Is(err, ErrDailyLimitReached):
		allocationsTotal.WithLabelValues(prefix, "daily_limit").Inc()
		return nil, err
	}

	fb := a.fallback(prefix, day, now)
	allocationsTotal.WithLabelValues(prefix, "fallback").Inc()
	a.logger.Printf(`{"level":"warn","event":"sequence_fallback","prefix":"%s","day":"%s","identifier":"%s","error":%q}`,
		prefix, day, fb.ID, err.Error())
	return fb, nil
}

// next increments the counter and re-checks the result against issued
// identifiers, retrying once on a collision.
func (a *Allocator) next(ctx context.Context, tx CounterTx, prefix, day string) (*Identifier, error) {
	for attempt := 0; attempt < 2; attempt++ {
		seq, err := tx.Increment(ctx, prefix, day)
		if err != nil {
			return nil, storeError("increment", err)
		}
		if seq > MaxDailySequence {
			return nil, ErrDailyLimitReached
		}
		if seq < 1 {
			return nil, storeError("increment", fmt.Errorf("counter returned %d", seq))
		}

		id := FormatIdentifier(prefix, day, seq)
		exists, err := tx.Exists(ctx, id)
		if err != nil {
			return nil, storeError("exists", err)
		}
		if !exists {
			return &Identifier{ID: id, Prefix: prefix, Day: day, Sequence: seq}, nil
		}
		a.logger.Printf(`{"level":"warn","event":"sequence_collision","identifier":"%s","attempt":%d}`, id, attempt+1)
	}
	return nil, ErrExhausted
}

func (a *Allocator) fallback(prefix, day string, now time.Time) *Identifier {
	seq := a.randomSeq()
	return &Identifier{
		ID:       FormatIdentifier(prefix, day, seq),
		Prefix:   prefix,
		Day:      day,
		Sequence: seq,
		Fallback: true,
		IssuedAt: now,
	}
}

// Committed reports whether id is covered by the committed counter of its
// prefix and day, that is whether an allocation of this store issued it.
// Fallback identifiers never pass through the counter and are reported only
// when their random sequence happens to lie at or below it.
func (a *Allocator) Committed(ctx context.Context, id *Identifier) (bool, error) {
	if id == nil {
		return false, ErrFormat
	}
	reader, ok := a.store.(CounterReader)
	if !ok {
		return false, storeError("last_value", errors.New("store does not expose its counter"))
	}

	ctx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()

	last, err := reader.LastValue(ctx, id.Prefix, id.Day)
	if err != nil {
		return false, storeError("last_value", err)
	}
	return id.Sequence >= 1 && id.Sequence <= min(last, MaxDailySequence), nil
}
