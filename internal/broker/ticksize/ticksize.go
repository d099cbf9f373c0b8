// Package ticksize snaps prices and sizes to a venue's tick/step grid.
// This is the one place the engine's float64 core touches
// shopspring/decimal: snapping needs exact, not tolerant, rounding, and
// decimal is the teacher's own tool for that (pkg/types used
// decimal.Decimal engine-wide; here it is scoped to the adapter boundary
// per the numeric-model decision in DESIGN.md).
package ticksize

import (
	"github.com/shopspring/decimal"
)

// SnapPrice rounds price down to the nearest multiple of tick (rounding
// down avoids crossing a limit price the caller explicitly chose).
func SnapPrice(price, tick float64) float64 {
	return snap(price, tick, true)
}

// SnapSize rounds size down to the nearest multiple of step, so an order
// never requests more than the caller asked for.
func SnapSize(size, step float64) float64 {
	return snap(size, step, true)
}

func snap(value, grid float64, roundDown bool) float64 {
	if grid <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	g := decimal.NewFromFloat(grid)

	quotient := v.Div(g)
	var rounded decimal.Decimal
	if roundDown {
		rounded = quotient.Floor()
	} else {
		rounded = quotient.Round(0)
	}
	result, _ := rounded.Mul(g).Float64()
	return result
}
