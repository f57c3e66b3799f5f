package telemetry

import "math"

// History is an insertion-ordered buffer holding at most Cap entries.
// Appending beyond Cap evicts the oldest entry.  It is not safe for
// concurrent use; the Aggregator guards its own.
type History[T any] struct {
	cap int
	buf []T
}

// NewHistory returns an empty History holding up to capacity entries.
// A capacity below one is treated as one.
func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{cap: capacity}
}

// Cap returns the capacity
func (h *History[T]) Cap() int {
	return h.cap
}

// Len returns the number of entries held
func (h *History[T]) Len() int {
	return len(h.buf)
}

// Append adds v, evicting the oldest entry if full
func (h *History[T]) Append(v T) {
	h.buf = append(h.buf, v)
	if over := len(h.buf) - h.cap; over > 0 {
		var zero T
		for i := 0; i < over; i++ {
			h.buf[i] = zero
		}
		h.buf = h.buf[over:]
	}
}

// Snapshot returns a copy of the entries, oldest first
func (h *History[T]) Snapshot() []T {
	out := make([]T, len(h.buf))
	copy(out, h.buf)
	return out
}

// Compact discards the oldest floor(frac*Len) entries and returns how many
// were dropped.  frac is clamped to [0, 1].
func (h *History[T]) Compact(frac float64) int {
	frac = math.Max(0, math.Min(1, frac))
	n := int(math.Floor(frac * float64(len(h.buf))))
	keep := make([]T, len(h.buf)-n)
	copy(keep, h.buf[n:])
	h.buf = keep
	return n
}

// Clear drops every entry
func (h *History[T]) Clear() {
	h.buf = nil
}
