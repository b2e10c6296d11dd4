package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeWeightedQuantiles_Empty(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q := timeWeightedQuantiles(Readings{}, time.Minute, now, 0.01, 0.5, 0.99)
	assert.Equal(t, []float64{0, 0, 0}, q)
}

func TestTimeWeightedQuantiles_SingleReading(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	readings := Readings{
		{Value: 100.0, Timestamp: now.Add(-30 * time.Second)},
	}
	q := timeWeightedQuantiles(readings, time.Minute, now, 0.01, 0.99)
	assert.Equal(t, []float64{100, 100}, q)
}

func TestTimeWeightedQuantiles_OldReadingsUseLastKnown(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	readings := Readings{
		{Value: 50.0, Timestamp: now.Add(-5 * time.Minute)},
		{Value: 75.0, Timestamp: now.Add(-3 * time.Minute)},
	}
	q := timeWeightedQuantiles(readings, time.Minute, now, 0.5)
	assert.Equal(t, []float64{75}, q)
}

func TestTimeWeightedQuantiles_TimeWeighting(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// 100 held for 9s, 200 held for 50s
	readings := Readings{
		{Value: 100.0, Timestamp: now.Add(-59 * time.Second)},
		{Value: 200.0, Timestamp: now.Add(-50 * time.Second)},
	}

	q := timeWeightedQuantiles(readings, time.Minute, now, 0.01, 0.1, 0.5, 0.99)

	assert.Equal(t, 100.0, q[0])
	assert.Equal(t, 100.0, q[1]) // 0.1*59 = 5.9s, still inside the first 9s
	assert.Equal(t, 200.0, q[2])
	assert.Equal(t, 200.0, q[3])
}

func TestNoiseSpread(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("steady signal has no noise", func(t *testing.T) {
		readings := Readings{
			{Value: 20, Timestamp: now.Add(-40 * time.Second)},
			{Value: 20, Timestamp: now.Add(-20 * time.Second)},
		}
		assert.Equal(t, 0.0, noiseSpread(readings, time.Minute, now))
	})

	t.Run("alternating signal", func(t *testing.T) {
		var readings Readings
		for i := range 10 {
			v := 20.0
			if i%2 == 1 {
				v = 21.5
			}
			readings = append(readings, Reading{Value: v, Timestamp: now.Add(time.Duration(i-10) * 5 * time.Second)})
		}
		assert.Equal(t, 1.5, noiseSpread(readings, time.Minute, now))
	})
}

func TestReadings_Prune(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	readings := Readings{
		{Value: 1, Timestamp: now.Add(-20 * time.Minute)},
		{Value: 2, Timestamp: now.Add(-10 * time.Minute)},
		{Value: 3, Timestamp: now.Add(-1 * time.Minute)},
	}

	pruned := readings.Prune(now.Add(-15 * time.Minute))
	assert.Len(t, pruned, 2)
	assert.Equal(t, 2.0, pruned[0].Value)

	// Everything expired keeps the newest reading
	pruned = readings.Prune(now)
	assert.Equal(t, Readings{readings[2]}, pruned)

	assert.Empty(t, Readings{}.Prune(now))
}

func TestAdaptiveWidth(t *testing.T) {
	tests := []struct {
		name     string
		cfg      AdaptiveConfig
		spread   float64
		hourSpan float64
		want     float64
	}{
		{"scales spread", AdaptiveConfig{Factor: 2}, 1.5, 0, 3},
		{"min width", AdaptiveConfig{Factor: 2, MinWidth: 1}, 0.1, 0, 1},
		{"max width", AdaptiveConfig{Factor: 2, MaxWidth: 2}, 1.5, 0, 2},
		{"capped by hourly span", AdaptiveConfig{Factor: 4}, 1.5, 5, 5},
		{"min wins over hourly span", AdaptiveConfig{Factor: 4, MinWidth: 6}, 1.5, 5, 6},
		{"zero max is unbounded", AdaptiveConfig{Factor: 10}, 3, 0, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adaptiveWidth(tt.cfg, tt.spread, tt.hourSpan))
		})
	}
}
