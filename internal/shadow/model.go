package shadow

import (
	"math"

	"github.com/talgya/policysim/internal/entropy"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/tuning"
)

// Impact is one named entry of a domain's yearly breakdown.
type Impact struct {
	Name  string
	Type  ImpactType
	Value float64
}

// Breakdown lists a domain's impacts for one year, in flow order.
type Breakdown []Impact

// Total sums the breakdown.
func (b Breakdown) Total() float64 {
	var sum float64
	for _, imp := range b {
		sum += imp.Value
	}
	return sum
}

// Model holds the impact flows of every domain of a scenario.
type Model struct {
	prices []*ShadowPrice
	flows  [][]ImpactFlow // Indexed by domain
}

// NewModel creates a model from explicit flows, one slice per domain.
func NewModel(prices []*ShadowPrice, flows [][]ImpactFlow) *Model {
	return &Model{prices: prices, flows: flows}
}

// ForScenario builds the default library and binds each domain's flows
// according to its profile.
func ForScenario(sc *policy.Scenario, seed int64) *Model {
	lib := DefaultLibrary(seed)
	flows := make([][]ImpactFlow, len(sc.Domains))
	for i, d := range sc.Domains {
		flows[i] = DefaultFlows(lib, d.Profile)
	}
	return NewModel(lib.All(), flows)
}

// Prices returns the shadow prices known to the model.
func (m *Model) Prices() []*ShadowPrice {
	return m.prices
}

// Size returns the number of domains the model prices.
func (m *Model) Size() int {
	return len(m.flows)
}

// EvaluateNode draws one year's impact breakdown for a domain. Funding is
// clamped to [0, 100]; cost streams are always negative regardless of the
// sign the quantity × price product produces. Unknown domains yield an
// empty breakdown.
func (m *Model) EvaluateNode(node int, funding float64, year int, src entropy.Source) Breakdown {
	if node < 0 || node >= len(m.flows) {
		return nil
	}
	funding = tuning.ClampFunding(funding)

	flows := m.flows[node]
	out := make(Breakdown, 0, len(flows))
	for _, fl := range flows {
		value := fl.Quantity(funding, year) * fl.Price.Price(src, year)
		if fl.Price.Type == ImpactCost {
			value = -math.Abs(value)
		}
		if !tuning.Finite(value) {
			value = 0
		}
		out = append(out, Impact{Name: fl.Price.Name, Type: fl.Price.Type, Value: value})
	}
	return out
}

// EstimateExpectedNodeValue evaluates a domain deterministically (every
// draw at the midpoint) and discounts it over the horizon. It is a proxy for
// how good reaching the domain is, used only to drive reweighting.
func (m *Model) EstimateExpectedNodeValue(node int, funding float64, params policy.Params) float64 {
	var total float64
	for year := 0; year < params.Years; year++ {
		total += params.Discount(year) * m.EvaluateNode(node, funding, year, entropy.Midpoint).Total()
	}
	return total
}

// Scores returns the expected value of every domain under the given funding.
func (m *Model) Scores(funding []float64, params policy.Params) []float64 {
	scores := make([]float64, len(m.flows))
	for i := range scores {
		f := tuning.FundingMin
		if i < len(funding) {
			f = funding[i]
		}
		scores[i] = m.EstimateExpectedNodeValue(i, f, params)
	}
	return scores
}
