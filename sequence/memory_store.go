package sequence

import (
	"context"
	"sync"
)

// MemoryStore is a single-process CounterStore. Transactions are fully
// serialized and pending increments are discarded on rollback. It is only
// safe when exactly one process allocates; use it for tests and local runs.
type MemoryStore struct {
	sem      chan struct{}
	mu       sync.Mutex
	counters map[string]int
	issued   map[string]struct{}
	checker  IssuedChecker
	failure  error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithChecker(nil)
}

// NewMemoryStoreWithChecker returns an empty store that also re-checks
// identifiers against checker, so a restarted process does not hand out
// references already stored by its previous run.
func NewMemoryStoreWithChecker(checker IssuedChecker) *MemoryStore {
	return &MemoryStore{
		sem:      make(chan struct{}, 1),
		counters: make(map[string]int),
		issued:   make(map[string]struct{}),
		checker:  checker,
	}
}

func counterKey(prefix, day string) string {
	return prefix + ":" + day
}

// InTx waits for the store lock until ctx is done.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx CounterTx) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()
	if failure != nil {
		return failure
	}

	tx := &memoryTx{store: s, pending: make(map[string]int)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tx.pending {
		s.counters[k] = v
	}
	return nil
}

// SetCounter seeds the last issued value for (prefix, day).
func (s *MemoryStore) SetCounter(prefix, day string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counterKey(prefix, day)] = value
}

// Counter returns the committed value for (prefix, day).
func (s *MemoryStore) Counter(prefix, day string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey(prefix, day)]
}

// LastValue implements CounterReader.
func (s *MemoryStore) LastValue(ctx context.Context, prefix, day string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return 0, s.failure
	}
	return s.counters[counterKey(prefix, day)], nil
}

// MarkIssued records an identifier as already present in the system of record.
func (s *MemoryStore) MarkIssued(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[identifier] = struct{}{}
}

// ReferenceExists implements IssuedChecker. Identifiers marked with
// MarkIssued are found first, then the configured checker is asked.
func (s *MemoryStore) ReferenceExists(ctx context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	_, ok := s.issued[identifier]
	checker := s.checker
	s.mu.Unlock()

	if ok || checker == nil {
		return ok, nil
	}
	return checker.ReferenceExists(ctx, identifier)
}

// SetFailure makes every following transaction fail with err; nil restores it.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]int
}

func (t *memoryTx) Increment(ctx context.Context, prefix, day string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := counterKey(prefix, day)
	current, ok := t.pending[key]
	if !ok {
		current = t.store.Counter(prefix, day)
	}
	current++
	t.pending[key] = current
	return current, nil
}

func (t *memoryTx) Exists(ctx context.Context, identifier string) (bool, error) {
	return t.store.ReferenceExists(ctx, identifier)
}
