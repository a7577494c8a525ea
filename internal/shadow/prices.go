// Package shadow prices each policy domain's yearly costs and benefits.
// A domain's impact is the sum over its impact flows of quantity × price,
// where each price is a stochastic "shadow price" stream.
package shadow

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/policysim/internal/entropy"
)

// ImpactType says whether a stream adds or subtracts value.
type ImpactType uint8

const (
	ImpactBenefit ImpactType = iota
	ImpactCost
)

// String returns "benefit" or "cost".
func (t ImpactType) String() string {
	if t == ImpactCost {
		return "cost"
	}
	return "benefit"
}

// PriceFunc draws a price for a simulation year.
type PriceFunc func(src entropy.Source, year int) float64

// ShadowPrice is a named, unit-tagged price stream. Stateless and shared
// across domains and years.
type ShadowPrice struct {
	Name  string
	Unit  string
	Type  ImpactType
	Price PriceFunc
}

// Names of the default library streams.
const (
	FiscalSpend = "fiscal_spend"
	CO2Benefit  = "co2_benefit"
	Resilience  = "resilience"
	Welfare     = "welfare"
	RiskCost    = "risk_cost"
)

// Carbon price path: a linear trend with a slow simplex drift on top.
const (
	carbonBase      = 0.06  // $M per ktCO2 in year 0
	carbonTrend     = 0.002 // Added per year
	carbonDriftAmp  = 0.15  // Relative amplitude of the multi-year drift
	carbonDriftFreq = 0.35  // Noise-space distance per year
	carbonNoise     = 0.012
)

// Library is the fixed set of shadow prices for a scenario.
type Library struct {
	Fiscal     *ShadowPrice
	CO2        *ShadowPrice
	Resilience *ShadowPrice
	Welfare    *ShadowPrice
	Risk       *ShadowPrice
}

// All returns the library in evaluation order.
func (l *Library) All() []*ShadowPrice {
	return []*ShadowPrice{l.Fiscal, l.CO2, l.Resilience, l.Welfare, l.Risk}
}

// DefaultLibrary builds the standard five streams. The seed only shapes the
// deterministic carbon price drift; per-draw noise always comes from the
// caller's source.
func DefaultLibrary(seed int64) *Library {
	drift := opensimplex.New(seed)

	return &Library{
		Fiscal: &ShadowPrice{
			Name: FiscalSpend, Unit: "$M", Type: ImpactCost,
			Price: func(src entropy.Source, _ int) float64 {
				return entropy.Gaussian(src, 1.0, 0.08)
			},
		},
		CO2: &ShadowPrice{
			Name: CO2Benefit, Unit: "ktCO2", Type: ImpactBenefit,
			Price: func(src entropy.Source, year int) float64 {
				mean := carbonBase + carbonTrend*float64(year)
				mean *= 1 + carbonDriftAmp*drift.Eval2(float64(year)*carbonDriftFreq, 0.5)
				return entropy.Gaussian(src, mean, carbonNoise)
			},
		},
		Resilience: &ShadowPrice{
			Name: Resilience, Unit: "index-pt", Type: ImpactBenefit,
			Price: func(src entropy.Source, _ int) float64 {
				return entropy.Gaussian(src, 0.8, 0.2)
			},
		},
		Welfare: &ShadowPrice{
			Name: Welfare, Unit: "QALY-k", Type: ImpactBenefit,
			Price: func(src entropy.Source, _ int) float64 {
				return entropy.Gaussian(src, 0.05, 0.01)
			},
		},
		Risk: &ShadowPrice{
			Name: RiskCost, Unit: "expected-loss", Type: ImpactCost,
			Price: func(src entropy.Source, _ int) float64 {
				// Lognormal: heavy right tail for rare bad years.
				return 0.5 * math.Exp(entropy.Gaussian(src, 0, 0.4))
			},
		},
	}
}
