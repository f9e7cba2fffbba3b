// Package sequence allocates per-day, zero-padded reference identifiers
// such as EB-25053101 against a shared transactional counter store.
package sequence

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	// DayLayout formats the day key as YYMMDD.
	DayLayout = "060102"

	// MaxDailySequence is the highest sequence issued per prefix and day.
	MaxDailySequence = 99

	sequenceWidth = 2
)

var (
	prefixPattern     = regexp.MustCompile(`^[A-Z]{2}$`)
	identifierPattern = regexp.MustCompile(`^([A-Z]{2})-(\d{6})(\d{2})$`)
)

// Identifier is the value handed back by an allocation.
type Identifier struct {
	ID       string    `json:"id"`
	Prefix   string    `json:"prefix"`
	Day      string    `json:"day"`
	Sequence int       `json:"sequence"`
	Fallback bool      `json:"fallback"`
	IssuedAt time.Time `json:"issued_at"`
}

func (i Identifier) String() string {
	return i.ID
}

// DayKey returns the YYMMDD key of t in t's own location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// ValidatePrefix rejects anything but two upper-case ASCII letters.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: prefix %q must be two upper-case letters", ErrFormat, prefix)
	}
	return nil
}

// FormatIdentifier renders prefix, day and sequence as PREFIX-YYMMDDNN.
func FormatIdentifier(prefix, day string, sequence int) string {
	return fmt.Sprintf("%s-%s%0*d", prefix, day, sequenceWidth, sequence)
}

// IsValidIdentifier reports whether s has the PREFIX-YYMMDDNN shape.
func IsValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ParseIdentifier splits a well-formed identifier into its parts.
func ParseIdentifier(s string) (*Identifier, error) {
	m := identifierPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: identifier %q", ErrFormat, s)
	}
	seq, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("%w: identifier %q", ErrFormat, s)
	}
	if seq < 1 || seq > MaxDailySequence {
		return nil, fmt.Errorf("%w: sequence %02d out of range", ErrFormat, seq)
	}
	if _, err := time.Parse(DayLayout, m[2]); err != nil {
		return nil, fmt.Errorf("%w: day %q", ErrFormat, m[2])
	}
	return &Identifier{
		ID:       s,
		Prefix:   m[1],
		Day:      m[2],
		Sequence: seq,
	}, nil
}
