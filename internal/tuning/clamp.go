package tuning

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampFunding bounds a funding level to [FundingMin, FundingMax].
// NaN reads as unfunded.
func ClampFunding(f float64) float64 {
	if math.IsNaN(f) {
		return FundingMin
	}
	return Clamp(f, FundingMin, FundingMax)
}

// Finite reports whether v is neither NaN nor ±Inf.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// BatchSize derives a sampling batch size from the per-run iteration count.
func BatchSize(iterations int) int {
	return Clamp(iterations/BatchDivisor, MinBatch, MaxBatch)
}
