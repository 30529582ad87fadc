package repository

import (
	"fmt"
	"time"
)

// Frequency is the sampling period of a return series.
type Frequency string

const (
	Freq1h Frequency = "1h"
	Freq1d Frequency = "1d"
)

// IsValidFrequency returns true if f is a supported frequency.
func IsValidFrequency(f Frequency) bool {
	switch f {
	case Freq1h, Freq1d:
		return true
	default:
		return false
	}
}

// DefaultFrequency returns the default frequency.
func DefaultFrequency() Frequency { return Freq1h }

// NormalizeFrequency converts raw string to a valid frequency (or default).
func NormalizeFrequency(s string) Frequency {
	if s == "" {
		return DefaultFrequency()
	}
	f := Frequency(s)
	if IsValidFrequency(f) {
		return f
	}
	return DefaultFrequency()
}

// Period is the spacing between consecutive observations.
func (f Frequency) Period() time.Duration {
	if f == Freq1d {
		return 24 * time.Hour
	}
	return time.Hour
}

// ReturnsTable is the relational table holding this frequency's series.
func (f Frequency) ReturnsTable() string { return "returns_" + string(f) }

// ParseInterval maps a candle interval label ("5m", "1h", "1d") to its duration.
func ParseInterval(s string) (time.Duration, error) {
	switch s {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval: %q", s)
	}
}
