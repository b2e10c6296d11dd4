package main

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Reading represents a timestamped raw sensor reading
type Reading struct {
	Value     float64
	Timestamp time.Time
}

// Readings is a collection of timestamped readings, oldest first
type Readings []Reading

// Prune drops readings at or before cutoff, always keeping the most recent
// reading so the last known value survives quiet periods
func (r Readings) Prune(cutoff time.Time) Readings {
	if len(r) == 0 {
		return r
	}

	kept := make(Readings, 0, len(r))
	for _, reading := range r {
		if reading.Timestamp.After(cutoff) {
			kept = append(kept, reading)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, r[len(r)-1])
	}
	return kept
}

// timeWeightedQuantiles returns the requested quantiles (0..1) of the readings inside
// the window ending at now. Each reading is weighted by how long it persisted (time
// until the next reading, or until now for the last one).
// With fewer than two readings in the window the last known value is returned for all.
func timeWeightedQuantiles(readings Readings, window time.Duration, now time.Time, ps ...float64) []float64 {
	out := make([]float64, len(ps))
	if len(readings) == 0 {
		return out
	}

	last := readings[len(readings)-1].Value
	fill := func() []float64 {
		for i := range out {
			out[i] = last
		}
		return out
	}

	cutoff := now.Add(-window)
	var inWindow Readings
	for _, r := range readings {
		if r.Timestamp.After(cutoff) {
			inWindow = append(inWindow, r)
		}
	}
	if len(inWindow) <= 1 {
		return fill()
	}

	type weighted struct{ value, duration float64 }
	pairs := make([]weighted, len(inWindow))
	var total float64
	for i, r := range inWindow {
		end := now
		if i < len(inWindow)-1 {
			end = inWindow[i+1].Timestamp
		}
		d := end.Sub(r.Timestamp).Seconds()
		pairs[i] = weighted{value: r.Value, duration: d}
		total += d
	}
	if total <= 0 {
		return fill()
	}

	// stat.Quantile requires values sorted ascending
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value < pairs[j].value
	})
	values := make([]float64, len(pairs))
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		values[i] = p.value
		weights[i] = p.duration
	}

	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.Empirical, values, weights)
	}
	return out
}

// noiseSpread estimates the noise amplitude as the P1..P99 spread, which
// ignores single-sample spikes
func noiseSpread(readings Readings, window time.Duration, now time.Time) float64 {
	q := timeWeightedQuantiles(readings, window, now, 0.01, 0.99)
	return q[1] - q[0]
}

// adaptiveWidth converts a noise spread into a deadband width.
// hourSpan caps the result so the band never exceeds what the signal
// actually did in the last hour (0 = unknown, no cap).
func adaptiveWidth(cfg AdaptiveConfig, spread, hourSpan float64) float64 {
	width := cfg.Factor * spread
	if hourSpan > 0 {
		width = min(width, hourSpan)
	}
	width = max(width, cfg.MinWidth)
	if cfg.MaxWidth > 0 {
		width = min(width, cfg.MaxWidth)
	}
	return width
}
