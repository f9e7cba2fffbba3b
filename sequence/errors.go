package sequence

import (
	"errors"
	"fmt"
)

var (
	// ErrDailyLimitReached means all sequences for the day are used up.
	// Callers should tell the user to come back tomorrow rather than retry.
	ErrDailyLimitReached = errors.New("daily sequence limit reached")

	// ErrExhausted means the re-check kept colliding with issued identifiers.
	ErrExhausted = errors.New("sequence exhausted after collision retry")

	// ErrStoreUnavailable wraps infrastructure failures of the counter store.
	// Allocate never returns it; it takes the fallback path instead.
	ErrStoreUnavailable = errors.New("sequence store unavailable")

	// ErrFormat reports an invalid prefix or identifier.
	ErrFormat = errors.New("invalid identifier format")
)

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func IsDailyLimitReached(err error) bool {
	return errors.Is(err, ErrDailyLimitReached)
}

func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat)
}
