package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/talgya/policysim/internal/entropy"
	"github.com/talgya/policysim/internal/markov"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/shadow"
)

// SelfCheck runs the end-to-end sanity scenario: an 8-domain ring with
// uniform weights, funding 50 everywhere, volatility 0.5, 6 years and 80
// iterations. It returns every violated invariant joined into one error.
func SelfCheck(ctx context.Context, seed uint64) error {
	sc := ringScenario(8)
	chain := markov.NewChain(sc.Domains)
	costs := shadow.ForScenario(&sc, int64(seed))
	chain.UpdateWeights(costs.Scores(sc.Funding, sc.Params), sc.Params.Volatility)

	var errs []error
	for i := 0; i < chain.Size(); i++ {
		var sum float64
		for _, p := range chain.Row(i) {
			sum += p
		}
		if math.Abs(sum-1) > 1e-4 {
			errs = append(errs, fmt.Errorf("row %d sums to %.6f", i, sum))
		}
	}

	if b := costs.EvaluateNode(0, sc.Funding[0], 0, entropy.Midpoint); len(b) == 0 {
		errs = append(errs, errors.New("shadow breakdown is empty"))
	}

	res, err := New(chain, costs).Run(ctx, sc.Start, sc.Funding, sc.Params, entropy.NewStream(seed))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if len(res.Results) != sc.Params.Iterations {
		errs = append(errs, fmt.Errorf("got %d results, want %d", len(res.Results), sc.Params.Iterations))
	}
	if len(res.Histogram) == 0 {
		errs = append(errs, errors.New("histogram is empty"))
	}
	return errors.Join(errs...)
}

func ringScenario(n int) policy.Scenario {
	domains := make([]policy.Domain, n)
	funding := make([]float64, n)
	for i := range domains {
		domains[i] = policy.Domain{
			ID:          fmt.Sprintf("ring-%d", i),
			Name:        fmt.Sprintf("Ring %d", i),
			Connections: []int{(i + 1) % n},
			Profile:     policy.ProfileNeutral,
		}
		funding[i] = 50
	}
	return policy.Scenario{
		Name:    "ring",
		Domains: domains,
		Funding: funding,
		Params:  policy.Params{Years: 6, Iterations: 80, DiscountRate: 0.03, Volatility: 0.5},
	}.Normalize()
}
