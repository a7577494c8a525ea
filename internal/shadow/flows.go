package shadow

import (
	"math"

	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/tuning"
)

// QuantityFunc maps a funding level in [0, 100] and a year to a quantity.
type QuantityFunc func(funding float64, year int) float64

// ImpactFlow binds a shadow price to a domain-specific quantity.
type ImpactFlow struct {
	Price    *ShadowPrice
	Quantity QuantityFunc
}

// DefaultFlows binds every library stream to the standard quantity curves,
// scaled by the domain's profile.
func DefaultFlows(lib *Library, profile policy.Profile) []ImpactFlow {
	w := profile.Weights()

	return []ImpactFlow{
		{Price: lib.Fiscal, Quantity: func(f float64, _ int) float64 {
			return w.Cost * f * 0.05
		}},
		{Price: lib.CO2, Quantity: func(f float64, year int) float64 {
			x := f / tuning.FundingMax
			return w.Benefit * 40 * (1 - math.Exp(-3*x)) * (1 + 0.03*float64(year))
		}},
		{Price: lib.Resilience, Quantity: func(f float64, year int) float64 {
			x := f / tuning.FundingMax
			rampUp := math.Min(1, float64(year+1)/3)
			return w.Benefit * 2.5 * math.Sqrt(x) * rampUp
		}},
		{Price: lib.Welfare, Quantity: func(f float64, _ int) float64 {
			x := f / tuning.FundingMax
			return 30 * (w.Benefit*math.Pow(x, 0.8) + w.WelfareBias*0.5)
		}},
		{Price: lib.Risk, Quantity: func(f float64, _ int) float64 {
			x := f / tuning.FundingMax
			return w.Risk * 3 * (1 - 0.6*x)
		}},
	}
}
