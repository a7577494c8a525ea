package stats

import (
	"math"
	"testing"

	"github.com/talgya/policysim/internal/entropy"
)

func TestBufferFIFO(t *testing.T) {
	b := NewBuffer(3)
	evicted := 0
	for i := 1; i <= 5; i++ {
		evicted += b.Push(float64(i))
	}
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	got := b.Values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}

	b.Reset()
	if b.Len() != 0 || len(b.Values()) != 0 {
		t.Fatalf("buffer not empty after reset: %v", b.Values())
	}
	b.Push(9)
	if v := b.Values(); len(v) != 1 || v[0] != 9 {
		t.Fatalf("Values() after reset+push = %v", v)
	}
}

func TestBufferNeverExceedsCap(t *testing.T) {
	b := NewBuffer(100)
	for i := 0; i < 1000; i++ {
		b.Push(float64(i))
		if b.Len() > b.Cap() {
			t.Fatalf("len %d > cap %d", b.Len(), b.Cap())
		}
	}
	if v := b.Values(); v[0] != 900 || v[99] != 999 {
		t.Fatalf("oldest/newest = %v/%v, want 900/999", v[0], v[99])
	}
}

func TestHistogramPeakNormalized(t *testing.T) {
	src := entropy.NewStream(12)
	values := make([]float64, 500)
	for i := range values {
		values[i] = entropy.Gaussian(src, 5, 2)
	}
	s := Summarize(values, ObservedRange(values), 28)
	if len(s.Histogram) != 28 {
		t.Fatalf("bins = %d, want 28", len(s.Histogram))
	}
	maxCount, maxIdx := 0, 0
	for i, c := range s.Counts {
		if c > maxCount {
			maxCount, maxIdx = c, i
		}
	}
	for i, h := range s.Histogram {
		if h < 0 || h > 1 {
			t.Fatalf("bin %d = %v outside [0,1]", i, h)
		}
	}
	if s.Histogram[maxIdx] != 1 {
		t.Fatalf("tallest bin = %v, want 1", s.Histogram[maxIdx])
	}
	total := 0
	for _, c := range s.Counts {
		total += c
	}
	if total != len(values) {
		t.Fatalf("binned %d of %d samples", total, len(values))
	}
}

func TestDegenerateRange(t *testing.T) {
	values := []float64{2, 2, 2}
	r := ObservedRange(values)
	if r.Span != 1 {
		t.Fatalf("span = %v, want 1", r.Span)
	}
	s := Summarize(values, r, 28)
	if s.Histogram[0] != 1 {
		t.Fatalf("single value should land in bin 0 at 1.0: %v", s.Histogram)
	}
	if s.Mean != 2 || s.P10 != 2 || s.P90 != 2 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, AnchoredRange(nil), 28)
	if len(s.Histogram) != 28 {
		t.Fatalf("bins = %d, want 28", len(s.Histogram))
	}
	for _, h := range s.Histogram {
		if h != 0 {
			t.Fatalf("empty histogram has non-zero bin: %v", s.Histogram)
		}
	}
	if s.XMin != 0 || s.XMax != 1 {
		t.Fatalf("range = [%v, %v], want [0, 1]", s.XMin, s.XMax)
	}
	if s.Bimodal || s.Mean != 0 || s.Samples != 0 {
		t.Fatalf("empty summary = %+v", s)
	}
}

func TestAnchoredRange(t *testing.T) {
	r := AnchoredRange([]float64{3, 8})
	if r.Lo != 0 || r.Hi() != 8 {
		t.Fatalf("range = [%v, %v], want [0, 8]", r.Lo, r.Hi())
	}
	r = AnchoredRange([]float64{-4, -2})
	if r.Lo != -4 || r.Hi() != 1 {
		t.Fatalf("range = [%v, %v], want [-4, 1]", r.Lo, r.Hi())
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	tests := []struct {
		p, want float64
	}{
		{0, 1},
		{0.1, 2},
		{0.5, 6},
		{0.9, 10},
		{1, 11},
		{0.25, 3.5},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
}

func TestLocalPeaks(t *testing.T) {
	got := LocalPeaks([]int{5, 1, 0, 3, 3, 0, 1})
	want := []int{0, 3, 4, 6}
	if len(got) != len(want) {
		t.Fatalf("LocalPeaks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LocalPeaks = %v, want %v", got, want)
		}
	}
}

// clusters draws two Gaussian clusters of n samples each.
func clusters(seed uint64, n int, muA, muB, sd float64) []float64 {
	src := entropy.NewStream(seed)
	out := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, entropy.Gaussian(src, muA, sd))
		out = append(out, entropy.Gaussian(src, muB, sd))
	}
	return out
}

func TestDetectBimodalSeparatedClusters(t *testing.T) {
	for _, n := range []int{50, 200, 2000} {
		values := clusters(uint64(n), n, -10, 10, 1)
		s := Summarize(values, ObservedRange(values), 28)
		if !s.Bimodal {
			t.Fatalf("n=%d: expected bimodal, counts %v", n, s.Counts)
		}
		if math.Abs(s.MeanA-(-10)) > 1 || math.Abs(s.MeanB-10) > 1 {
			t.Errorf("n=%d: means = %.2f / %.2f, want ~-10 / ~10", n, s.MeanA, s.MeanB)
		}
		if s.MeanA == s.MeanB {
			t.Errorf("n=%d: means not distinct", n)
		}
	}
}

func TestDetectBimodalUnimodal(t *testing.T) {
	src := entropy.NewStream(77)
	values := make([]float64, 3000)
	for i := range values {
		values[i] = entropy.Gaussian(src, 0, 1)
	}
	s := Summarize(values, ObservedRange(values), 28)
	if s.Bimodal {
		t.Fatalf("single Gaussian reported bimodal: %v", s.Counts)
	}
}

func TestDetectBimodalInsufficientEvidence(t *testing.T) {
	// Two clean clusters, but fewer than 20 samples each.
	for n := 1; n < 20; n++ {
		values := clusters(uint64(100+n), n, -10, 10, 0.5)
		s := Summarize(values, ObservedRange(values), 28)
		if s.Bimodal {
			t.Fatalf("n=%d per side reported bimodal", n)
		}
	}
}

func TestDetectBimodalSmallSecondaryPeak(t *testing.T) {
	values := clusters(5, 30, -10, 10, 0.5)
	// Pile extra mass onto the left cluster so the right one falls below 35%.
	src := entropy.NewStream(6)
	for i := 0; i < 400; i++ {
		values = append(values, entropy.Gaussian(src, -10, 0.5))
	}
	s := Summarize(values, ObservedRange(values), 28)
	if s.Bimodal {
		t.Fatalf("weak secondary peak reported bimodal: %v", s.Counts)
	}
}

func TestDetectBimodalPeaksTooClose(t *testing.T) {
	counts := make([]int, 28)
	counts[10] = 100
	counts[11] = 10
	counts[12] = 90
	samples := make([]float64, 0, 200)
	r := Range{Lo: 0, Span: 28}
	for i := 0; i < 100; i++ {
		samples = append(samples, 10.5, 12.5)
	}
	if bm := DetectBimodal(counts, r, samples); bm.Bimodal {
		t.Fatalf("peaks 2 bins apart reported bimodal")
	}
}
