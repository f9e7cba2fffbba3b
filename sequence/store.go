package sequence

import "context"

// CounterStore is the durable, shared home of the per-day counters.
// Serialization of concurrent allocations is the store's job; the
// allocator keeps no counter state in memory.
type CounterStore interface {
	// InTx runs fn in one transaction. A non-nil error from fn rolls it back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx CounterTx) error) error
}

// CounterTx is the view of the store inside InTx.
type CounterTx interface {
	// Increment bumps the (prefix, day) counter and returns the new value.
	// The row stays locked until the transaction ends.
	Increment(ctx context.Context, prefix, day string) (int, error)

	// Exists reports whether identifier was already issued.
	Exists(ctx context.Context, identifier string) (bool, error)
}

// CounterReader reports the committed counter of (prefix, day) without
// taking the row lock. A day without allocations reads as 0.
type CounterReader interface {
	LastValue(ctx context.Context, prefix, day string) (int, error)
}

// IssuedChecker looks up identifiers in the system of record.
type IssuedChecker interface {
	ReferenceExists(ctx context.Context, referenceID string) (bool, error)
}
