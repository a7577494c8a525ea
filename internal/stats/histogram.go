package stats

import "math"

// Range is a closed value interval [Lo, Lo+Span].
type Range struct {
	Lo   float64
	Span float64
}

// Hi returns the upper bound.
func (r Range) Hi() float64 {
	return r.Lo + r.Span
}

// BinWidth returns the width of one of bins equal bins.
func (r Range) BinWidth(bins int) float64 {
	if bins < 1 {
		return r.Span
	}
	return r.Span / float64(bins)
}

// Bin maps v to a bin index in [0, bins).
func (r Range) Bin(v float64, bins int) int {
	idx := int(math.Floor((v - r.Lo) / r.Span * float64(bins)))
	if idx < 0 {
		return 0
	}
	if idx >= bins {
		return bins - 1
	}
	return idx
}

// Center returns the value at the middle of bin idx.
func (r Range) Center(idx, bins int) float64 {
	return r.Lo + (float64(idx)+0.5)*r.BinWidth(bins)
}

// NewRange builds a range over [lo, hi] with its span floored to minSpan so
// a degenerate sample set never divides by zero.
func NewRange(lo, hi, minSpan float64) Range {
	span := hi - lo
	if !(span >= minSpan) {
		span = minSpan
	}
	return Range{Lo: lo, Span: span}
}

// MinMax returns the smallest and largest value; both 0 for an empty slice.
func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ShareAtLeast returns the fraction of values ≥ threshold.
func ShareAtLeast(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := 0
	for _, v := range values {
		if v >= threshold {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

// Counts bins values linearly over r.
func Counts(values []float64, r Range, bins int) []int {
	counts := make([]int, bins)
	if bins == 0 {
		return counts
	}
	for _, v := range values {
		counts[r.Bin(v, bins)]++
	}
	return counts
}

// PeakNormalize scales counts so the tallest bin is exactly 1. All-zero
// counts stay zero.
func PeakNormalize(counts []int) []float64 {
	out := make([]float64, len(counts))
	peak := 0
	for _, c := range counts {
		if c > peak {
			peak = c
		}
	}
	if peak == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float64(c) / float64(peak)
	}
	return out
}
