// Package governor provides signal conditioning primitives for control loops.
package governor

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Number is the set of types a Backlash can filter.
// Unsigned integers are left out since the band starts centered on zero.
type Number interface {
	constraints.Signed | constraints.Float
}

// Backlash is a deadband filter that suppresses small oscillations of a noisy or
// mechanically backlashed signal. The output only moves once the input leaves the
// band [lower, upper] surrounding it, and then trails the input by half the band width.
//
// Backlash is a plain value with no pointers, so it can be embedded by value or kept
// in a package variable. It is not safe for concurrent mutation.
//
// The zero value is a filter with a deadband width of 0.
type Backlash[T Number] struct {
	value     T // Current output value
	halfWidth T // Width of the deadband divided by 2
	lower     T // Lower border before the output changes
	upper     T // Upper border before the output changes
}

// NewBacklash creates a filter with the given deadband width.
// The output starts at zero with the borders centered around it.
//
// Width is not validated: a negative width gives an inverted band (lower > upper)
// that moves the output on every input.
func NewBacklash[T Number](width T) Backlash[T] {
	var b Backlash[T]
	b.SetDeadbandWidth(width)
	return b
}

// Update processes a new input and returns the output value.
// When the input exceeds a border, the band is re-anchored with that border at the
// input and the output moves to the middle of the new band.
func (b *Backlash[T]) Update(value T) T {
	switch {
	case value > b.upper:
		b.lower = value - (b.halfWidth + b.halfWidth)
		b.upper = value
		b.value = value - b.halfWidth
	case value < b.lower:
		b.lower = value
		b.upper = value + (b.halfWidth + b.halfWidth)
		b.value = value + b.halfWidth
	}
	return b.value
}

// SetValue overwrites the output value without touching the borders.
// The output may end up outside the band until the next CenterBorders or Update
// that crosses a border.
func (b *Backlash[T]) SetValue(value T) {
	b.value = value
}

// Value returns the last output value.
func (b Backlash[T]) Value() T {
	return b.value
}

// SetDeadbandWidth sets a new deadband width and centers the borders around the
// current output value. For integer types odd widths are truncated by the division.
func (b *Backlash[T]) SetDeadbandWidth(width T) {
	b.halfWidth = width / 2
	b.CenterBorders(b.value)
}

// DeadbandWidth returns the effective deadband width, i.e. twice the half width.
func (b Backlash[T]) DeadbandWidth() T {
	return b.halfWidth + b.halfWidth
}

// Borders returns the lower and upper deadband borders.
func (b Backlash[T]) Borders() (lower, upper T) {
	return b.lower, b.upper
}

// CenterBorders centers the deadband borders around value. The output is unchanged.
func (b *Backlash[T]) CenterBorders(value T) {
	b.lower = value - b.halfWidth
	b.upper = value + b.halfWidth
}

func (b Backlash[T]) String() string {
	return fmt.Sprintf("value=%v borders=[%v, %v] width=%v", b.value, b.lower, b.upper, b.DeadbandWidth())
}
