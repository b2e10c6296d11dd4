package governor

import "time"

// rangeBucket holds the min/max input values seen during one wall-clock minute
type rangeBucket[T Number] struct {
	min, max T
	start    time.Time // Minute the bucket covers, zero when unused
}

// RollingRange tracks the min/max of a signal over a rolling 1-hour window using
// 60 1-minute buckets indexed by minute of the hour. Each bucket remembers which
// minute it covers, so buckets left over from an earlier hour never count.
type RollingRange[T Number] struct {
	buckets [60]rangeBucket[T]
}

// NewRollingRange creates an empty RollingRange
func NewRollingRange[T Number]() RollingRange[T] {
	return RollingRange[T]{}
}

// Update records a value observed at now
func (r *RollingRange[T]) Update(value T, now time.Time) {
	start := now.Truncate(time.Minute)
	b := &r.buckets[start.Minute()]
	if !b.start.Equal(start) {
		*b = rangeBucket[T]{min: value, max: value, start: start}
		return
	}

	b.min = min(b.min, value)
	b.max = max(b.max, value)
}

// Bounds returns the min and max across the buckets of the hour ending at now.
// ok is false when no value has been recorded in that hour.
func (r *RollingRange[T]) Bounds(now time.Time) (lo, hi T, ok bool) {
	for _, b := range r.buckets {
		if b.start.IsZero() {
			continue
		}
		if age := now.Sub(b.start); age < 0 || age >= time.Hour {
			continue
		}
		if !ok {
			lo, hi, ok = b.min, b.max, true
			continue
		}
		lo = min(lo, b.min)
		hi = max(hi, b.max)
	}
	return lo, hi, ok
}

// Span returns max - min over the hour ending at now, or 0 if no data
func (r *RollingRange[T]) Span(now time.Time) T {
	lo, hi, ok := r.Bounds(now)
	if !ok {
		return 0
	}
	return hi - lo
}
