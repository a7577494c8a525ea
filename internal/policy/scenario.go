package policy

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/policysim/internal/tuning"
)

// Params holds the simulation parameters of a run.
type Params struct {
	Years        int     `json:"years" yaml:"years"`                 // Horizon
	Iterations   int     `json:"iterations" yaml:"iterations"`       // Trajectories per full run
	DiscountRate float64 `json:"discount_rate" yaml:"discount_rate"` // Annual, e.g. 0.035
	Volatility   float64 `json:"volatility" yaml:"volatility"`       // Score sensitivity and noise spread
}

// DefaultParams returns the parameters used when a preset omits them.
func DefaultParams() Params {
	return Params{
		Years:        15,
		Iterations:   1200,
		DiscountRate: 0.035,
		Volatility:   0.45,
	}
}

// Child is a cosmetic grouping annotation under a domain. The simulation
// never reads it.
type Child struct {
	Parent int    `json:"parent" yaml:"parent"`
	Label  string `json:"label" yaml:"label"`
}

// Scenario is a complete, self-contained simulation input.
type Scenario struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Domains     []Domain  `json:"domains" yaml:"domains"`
	Children    []Child   `json:"children,omitempty" yaml:"children,omitempty"`
	Funding     []float64 `json:"funding" yaml:"funding"` // One entry per domain
	Params      Params    `json:"params" yaml:"params"`
	Start       int       `json:"start" yaml:"start"` // Starting domain index
}

// Size returns the number of domains.
func (s *Scenario) Size() int {
	return len(s.Domains)
}

// FundingAt returns the clamped funding level of a domain; out-of-range
// indices read as unfunded.
func (s *Scenario) FundingAt(i int) float64 {
	if i < 0 || i >= len(s.Funding) {
		return tuning.FundingMin
	}
	return tuning.ClampFunding(s.Funding[i])
}

// Validate reports structural problems that make a scenario unusable.
// Recoverable defects (weights, funding, parameters) are left to Normalize.
func (s *Scenario) Validate() error {
	if len(s.Domains) == 0 {
		return errors.New("scenario has no domains")
	}
	seen := make(map[string]int, len(s.Domains))
	for i, d := range s.Domains {
		if d.ID == "" {
			return fmt.Errorf("domain %d has empty id", i)
		}
		if prev, ok := seen[d.ID]; ok {
			return fmt.Errorf("domain id %q repeated at %d and %d", d.ID, prev, i)
		}
		seen[d.ID] = i
	}
	return nil
}

// Normalize returns a sanitized deep copy of the scenario. Configuration
// defects are repaired silently:
//   - connections outside the graph are dropped with their weight
//   - weight arrays of mismatched length are discarded (uniform)
//   - negative or non-finite weights become 0
//   - unset profiles are inferred from the domain ID
//   - funding is resized to the domain count and clamped to [0, 100]
//   - the start index and parameters are clamped into range
func (s Scenario) Normalize() Scenario {
	n := len(s.Domains)
	out := s
	out.Domains = make([]Domain, n)
	for i, d := range s.Domains {
		out.Domains[i] = normalizeDomain(d, n)
		if out.Domains[i].Name == "" {
			out.Domains[i].Name = out.Domains[i].ID
		}
	}

	out.Children = append([]Child(nil), s.Children...)

	out.Funding = make([]float64, n)
	for i := range out.Funding {
		if i < len(s.Funding) {
			out.Funding[i] = tuning.ClampFunding(s.Funding[i])
		}
	}

	if n == 0 {
		out.Start = 0
	} else {
		out.Start = tuning.Clamp(s.Start, 0, n-1)
	}
	out.Params = s.Params.Normalize()
	return out
}

func normalizeDomain(d Domain, n int) Domain {
	useWeights := len(d.Weights) == len(d.Connections) && len(d.Weights) > 0
	out := Domain{ID: d.ID, Name: d.Name, Profile: d.Profile}
	for k, c := range d.Connections {
		if c < 0 || c >= n {
			continue
		}
		out.Connections = append(out.Connections, c)
		if useWeights {
			w := d.Weights[k]
			if !tuning.Finite(w) || w < 0 {
				w = 0
			}
			out.Weights = append(out.Weights, w)
		}
	}
	if out.Profile == ProfileUnset {
		out.Profile = InferProfile(d.ID)
	}
	return out
}

// Normalize clamps parameters into their usable ranges.
func (p Params) Normalize() Params {
	if p.Years < 0 {
		p.Years = 0
	}
	if p.Iterations < 0 {
		p.Iterations = 0
	}
	if !tuning.Finite(p.DiscountRate) || p.DiscountRate <= -1 {
		p.DiscountRate = 0
	}
	if !tuning.Finite(p.Volatility) || p.Volatility < 0 {
		p.Volatility = 0
	}
	return p
}

// Discount returns the discount factor (1+r)^-year.
func (p Params) Discount(year int) float64 {
	return math.Pow(1+p.DiscountRate, -float64(year))
}
