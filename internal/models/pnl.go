package models

import "github.com/shopspring/decimal"

// RealizedPnL is (exit-entry)*qty for longs and (entry-exit)*qty for shorts.
// An unknown side is treated as long.
func RealizedPnL(side Side, entry, exit float64, qty int) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == SideSell {
		diff = diff.Neg()
	}
	v, _ := diff.Mul(decimal.NewFromInt(int64(qty))).Float64()
	return v
}

// AverageEntry is the quantity-weighted entry after adding qtyB at entryB.
func AverageEntry(entryA float64, qtyA int, entryB float64, qtyB int) float64 {
	total := qtyA + qtyB
	if total <= 0 {
		return entryA
	}
	sum := decimal.NewFromFloat(entryA).Mul(decimal.NewFromInt(int64(qtyA))).
		Add(decimal.NewFromFloat(entryB).Mul(decimal.NewFromInt(int64(qtyB))))
	v, _ := sum.Div(decimal.NewFromInt(int64(total))).Float64()
	return v
}

// AddPnL sums two P&L amounts without float drift.
func AddPnL(a, b float64) float64 {
	v, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return v
}
