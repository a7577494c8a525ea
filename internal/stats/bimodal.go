package stats

import (
	"math"

	"github.com/talgya/policysim/internal/tuning"
)

// Bimodality is the outcome of bimodal detection.
type Bimodality struct {
	Bimodal   bool
	MeanA     float64 // Mean of samples below Threshold
	MeanB     float64 // Mean of samples at or above Threshold
	Threshold float64 // Value at the valley between the two peaks
	CountA    int
	CountB    int
}

// LocalPeaks returns the indices of bins whose count is > 0 and ≥ both
// neighbours. Edge bins compare only against the neighbour they have.
func LocalPeaks(counts []int) []int {
	var peaks []int
	for i, c := range counts {
		if c <= 0 {
			continue
		}
		if i > 0 && counts[i-1] > c {
			continue
		}
		if i < len(counts)-1 && counts[i+1] > c {
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}

// DetectBimodal looks for two well-separated histogram peaks and, if found,
// splits the raw samples at the valley between them. The split counts as
// bimodal only if both sides hold at least MinClusterSamples samples.
func DetectBimodal(counts []int, r Range, samples []float64) Bimodality {
	peaks := LocalPeaks(counts)
	if len(peaks) < 2 {
		return Bimodality{}
	}

	primary := peaks[0]
	for _, p := range peaks[1:] {
		if counts[p] > counts[primary] {
			primary = p
		}
	}

	minGap := int(math.Ceil(tuning.PeakGapFraction * float64(len(counts))))
	minHeight := tuning.SecondaryPeakRatio * float64(counts[primary])
	secondary := -1
	for _, p := range peaks {
		if p == primary || abs(p-primary) < minGap || float64(counts[p]) < minHeight {
			continue
		}
		if secondary < 0 || counts[p] > counts[secondary] {
			secondary = p
		}
	}
	if secondary < 0 {
		return Bimodality{}
	}

	left, right := primary, secondary
	if left > right {
		left, right = right, left
	}
	valley := left + 1
	for i := left + 1; i < right; i++ {
		if counts[i] < counts[valley] {
			valley = i
		}
	}
	threshold := r.Center(valley, len(counts))

	var sumA, sumB float64
	var nA, nB int
	for _, v := range samples {
		if v < threshold {
			sumA += v
			nA++
		} else {
			sumB += v
			nB++
		}
	}
	if nA < tuning.MinClusterSamples || nB < tuning.MinClusterSamples {
		return Bimodality{Threshold: threshold, CountA: nA, CountB: nB}
	}
	return Bimodality{
		Bimodal:   true,
		MeanA:     sumA / float64(nA),
		MeanB:     sumB / float64(nB),
		Threshold: threshold,
		CountA:    nA,
		CountB:    nB,
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
