package stats

// Summary is the full set of statistics derived from one sample set.
type Summary struct {
	Histogram          []float64 `json:"histogram"` // Peak-normalized to [0, 1]
	Counts             []int     `json:"counts"`
	XMin               float64   `json:"xMin"`
	XMax               float64   `json:"xMax"`
	Mean               float64   `json:"mean"`
	P10                float64   `json:"p10"`
	P90                float64   `json:"p90"`
	SuccessProbability float64   `json:"successProbability"` // Share of samples ≥ 0
	Samples            int       `json:"samples"`
	Bimodal            bool      `json:"bimodal"`
	MeanA              float64   `json:"meanA"`
	MeanB              float64   `json:"meanB"`
}

// Summarize bins values over r and computes every published statistic.
// Percentiles are rank-based over a full sort. An empty sample set yields
// a zero histogram of the requested bin count.
func Summarize(values []float64, r Range, bins int) Summary {
	counts := Counts(values, r, bins)
	s := Summary{
		Histogram: PeakNormalize(counts),
		Counts:    counts,
		XMin:      r.Lo,
		XMax:      r.Hi(),
		Samples:   len(values),
	}
	if len(values) == 0 {
		return s
	}

	sorted := Sorted(values)
	s.Mean = Mean(values)
	s.P10 = Percentile(sorted, 0.10)
	s.P90 = Percentile(sorted, 0.90)
	s.SuccessProbability = ShareAtLeast(values, 0)

	bm := DetectBimodal(counts, r, values)
	s.Bimodal = bm.Bimodal
	s.MeanA = bm.MeanA
	s.MeanB = bm.MeanB
	return s
}

// ObservedRange is the range of the samples themselves, span floored to 1.
func ObservedRange(values []float64) Range {
	lo, hi := MinMax(values)
	return NewRange(lo, hi, 1)
}

// AnchoredRange always includes [0, 1] so a run's histogram shows where
// break-even sits.
func AnchoredRange(values []float64) Range {
	lo, hi := MinMax(values)
	if lo > 0 {
		lo = 0
	}
	if hi < 1 {
		hi = 1
	}
	return NewRange(lo, hi, 1)
}
