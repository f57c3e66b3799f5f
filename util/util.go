// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Limiter holds the lower and upper bounds of a travel range
type Limiter struct {
	Min float64 `json:"min" koanf:"min" yaml:"min"`
	Max float64 `json:"max" koanf:"max" yaml:"max"`
}

// Check returns true if Min <= f <= Max
func (l Limiter) Check(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// Clamp limits f to the range
func (l Limiter) Clamp(f float64) float64 {
	return Clamp(f, l.Min, l.Max)
}

// Clamp limits the input to the range [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a number of seconds to a Duration, rounding to
// the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}
