package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var rangeBase = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// at returns the base time plus the given minutes
func at(minutes int) time.Time {
	return rangeBase.Add(time.Duration(minutes) * time.Minute)
}

func TestRollingRange_Empty(t *testing.T) {
	r := NewRollingRange[float64]()
	_, _, ok := r.Bounds(rangeBase)
	assert.False(t, ok)
	assert.Equal(t, 0.0, r.Span(rangeBase))
}

func TestRollingRange_SingleValue(t *testing.T) {
	r := NewRollingRange[int]()
	r.Update(100, at(0))

	lo, hi, ok := r.Bounds(at(0))
	assert.True(t, ok)
	assert.Equal(t, 100, lo)
	assert.Equal(t, 100, hi)
	assert.Equal(t, 0, r.Span(at(0)))
}

func TestRollingRange_SameMinute(t *testing.T) {
	r := NewRollingRange[float64]()
	r.Update(100, rangeBase)
	r.Update(50, rangeBase.Add(20*time.Second))
	r.Update(150, rangeBase.Add(59*time.Second))

	lo, hi, _ := r.Bounds(rangeBase.Add(time.Minute))
	assert.Equal(t, 50.0, lo)
	assert.Equal(t, 150.0, hi)
	assert.Equal(t, 100.0, r.Span(rangeBase.Add(time.Minute)))
}

func TestRollingRange_NegativeValues(t *testing.T) {
	// Buckets must not be seeded with zero
	r := NewRollingRange[int32]()
	r.Update(-20, at(3))
	r.Update(-5, at(4))

	lo, hi, _ := r.Bounds(at(4))
	assert.Equal(t, int32(-20), lo)
	assert.Equal(t, int32(-5), hi)
}

func TestRollingRange_MissedMinutesKeepsHour(t *testing.T) {
	r := NewRollingRange[float64]()
	r.Update(100, at(0))
	r.Update(50, at(1))
	r.Update(75, at(5))

	lo, hi, _ := r.Bounds(at(5))
	assert.Equal(t, 50.0, lo)
	assert.Equal(t, 100.0, hi)
}

func TestRollingRange_ExpiresAfterHour(t *testing.T) {
	r := NewRollingRange[float64]()
	r.Update(10, at(0))
	r.Update(200, at(30))

	lo, hi, _ := r.Bounds(at(59))
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 200.0, hi)

	// Minute 0 has aged out, minute 30 has not
	lo, hi, _ = r.Bounds(at(60))
	assert.Equal(t, 200.0, lo)
	assert.Equal(t, 200.0, hi)

	_, _, ok := r.Bounds(at(90))
	assert.False(t, ok)
	assert.Equal(t, 0.0, r.Span(at(90)))
}

func TestRollingRange_WrapAroundReusesBucket(t *testing.T) {
	r := NewRollingRange[float64]()
	r.Update(10, at(58))
	r.Update(200, at(59))
	// Nearly a full lap later minute 58 is reused, dropping its old value
	r.Update(150, at(117))
	r.Update(150, at(118))

	lo, hi, _ := r.Bounds(at(118))
	assert.Equal(t, 150.0, lo)
	assert.Equal(t, 200.0, hi)
}

func TestRollingRange_IdleGapDropsEarlierHours(t *testing.T) {
	r := NewRollingRange[float64]()
	r.Update(100, at(5))
	r.Update(0, at(30))
	// Two hours of silence, then a sample landing in the same minute slot as the first
	r.Update(1, at(125))

	lo, hi, ok := r.Bounds(at(125))
	assert.True(t, ok)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestRollingRange_IgnoresFutureBuckets(t *testing.T) {
	// A wall clock stepped backwards must not report values it has not reached yet
	r := NewRollingRange[int]()
	r.Update(7, at(10))
	r.Update(3, at(20))

	lo, hi, ok := r.Bounds(at(15))
	assert.True(t, ok)
	assert.Equal(t, 7, lo)
	assert.Equal(t, 7, hi)
}
