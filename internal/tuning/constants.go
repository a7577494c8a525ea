// Package tuning holds the numeric constants the simulation engine is built on.
// Nothing in the engine should carry an unnamed magic number; it lives here.
package tuning

import "time"

// Transition model.
const (
	// SelfLoop is the probability mass each domain keeps for itself per year.
	SelfLoop = 0.28

	// LogEpsilon keeps log(base weight) finite for tiny base entries.
	LogEpsilon = 1e-12

	// MinVolatility floors the score sensitivity so reweighting never goes flat.
	MinVolatility = 0.05

	// ScoreScale converts an expected node value into softmax logit units.
	ScoreScale = 0.35
)

// Pricing and noise.
const (
	// UnitClamp keeps Box–Muller inputs away from exactly 0 and 1.
	UnitClamp = 1e-9

	// NoiseSpread is the standard deviation of yearly multiplicative noise
	// per unit of volatility.
	NoiseSpread = 0.2

	// Midpoint is the value every draw returns during expected-value evaluation.
	Midpoint = 0.5
)

// Funding bounds.
const (
	FundingMin = 0.0
	FundingMax = 100.0
)

// Streaming aggregation.
const (
	// HistogramBins is the fixed bin count for every published histogram.
	HistogramBins = 28

	// BufferCap bounds the rolling sample buffer.
	BufferCap = 25000

	// ResolveInterval gates how often transition weights are re-solved.
	ResolveInterval = 1500 * time.Millisecond

	// BatchInterval gates how often a sampling batch runs.
	BatchInterval = 180 * time.Millisecond

	// Batch sizing: iterations / BatchDivisor, clamped to [MinBatch, MaxBatch].
	BatchDivisor = 20
	MinBatch     = 24
	MaxBatch     = 120
)

// Bimodal detection.
const (
	// PeakGapFraction is the minimum index distance between the two peaks,
	// as a fraction of the bin count.
	PeakGapFraction = 0.20

	// SecondaryPeakRatio is the minimum height of the secondary peak
	// relative to the primary.
	SecondaryPeakRatio = 0.35

	// MinClusterSamples is the smallest sub-population that counts as evidence.
	MinClusterSamples = 20
)
