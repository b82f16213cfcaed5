package domain

import (
	"fmt"
	"time"
)

// Clock abstracts the time source so auction pricing is testable without
// wall-clock waits.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TimeUnit is the canonical unit of auction timestamps and durations for one
// deployment. The two ledgers are never assumed to agree; the unit is chosen
// by explicit configuration.
type TimeUnit string

const (
	UnitSeconds      TimeUnit = "seconds"
	UnitMilliseconds TimeUnit = "milliseconds"
)

// ParseTimeUnit validates a configured time unit string.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case UnitSeconds, UnitMilliseconds:
		return TimeUnit(s), nil
	default:
		return "", fmt.Errorf("domain: unknown time unit %q (valid: seconds, milliseconds)", s)
	}
}

// Timestamp converts t to the unit's integer representation.
func (u TimeUnit) Timestamp(t time.Time) uint64 {
	switch u {
	case UnitMilliseconds:
		return uint64(t.UnixMilli())
	default:
		return uint64(t.Unix())
	}
}

// Units converts a wall-clock duration to the unit's integer representation,
// truncating any fraction.
func (u TimeUnit) Units(d time.Duration) uint64 {
	switch u {
	case UnitMilliseconds:
		return uint64(d / time.Millisecond)
	default:
		return uint64(d / time.Second)
	}
}

// Duration converts n units to a time.Duration.
func (u TimeUnit) Duration(n uint64) time.Duration {
	switch u {
	case UnitMilliseconds:
		return time.Duration(n) * time.Millisecond
	default:
		return time.Duration(n) * time.Second
	}
}
