// Package montecarlo simulates multi-year trajectories over the transition
// model and summarizes the resulting NPV distribution.
//
// A Model is stateless between calls; cross-batch memory belongs to the
// streaming controller.
package montecarlo

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/policysim/internal/entropy"
	"github.com/talgya/policysim/internal/markov"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/shadow"
	"github.com/talgya/policysim/internal/stats"
	"github.com/talgya/policysim/internal/tuning"
)

// TrajectoryResult is one simulated run.
type TrajectoryResult struct {
	TotalNPV   float64            `json:"totalNpv"`
	FinalState int                `json:"finalState"`
	Breakdown  map[string]float64 `json:"breakdown"` // Discounted value per shadow price
}

// Summary is the outcome of one Run.
type Summary struct {
	Results []TrajectoryResult `json:"results"`
	stats.Summary
}

// Model runs trajectories over a chain priced by a shadow cost model.
type Model struct {
	chain   *markov.Chain
	costs   *shadow.Model
	bins    int
	workers int
}

// Option configures a Model.
type Option func(*Model)

// WithBins sets the histogram bin count.
func WithBins(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.bins = n
		}
	}
}

// WithWorkers fans trajectories out over n goroutines. The source passed to
// Run must then implement entropy.Spawner.
func WithWorkers(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.workers = n
		}
	}
}

// New creates a Monte Carlo model.
func New(chain *markov.Chain, costs *shadow.Model, opts ...Option) *Model {
	m := &Model{chain: chain, costs: costs, bins: tuning.HistogramBins, workers: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes params.Iterations independent trajectories from start and
// summarizes them. Zero iterations or years yield a well-formed, degenerate
// summary. The only error is ctx cancellation.
func (m *Model) Run(ctx context.Context, start int, funding []float64, params policy.Params, src entropy.Source) (*Summary, error) {
	results, err := m.Sample(ctx, start, funding, params, src)
	if err != nil {
		return nil, err
	}
	return m.summarize(results), nil
}

// Sample runs params.Iterations trajectories without summarizing them.
func (m *Model) Sample(ctx context.Context, start int, funding []float64, params policy.Params, src entropy.Source) ([]TrajectoryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	params = params.Normalize()
	results := make([]TrajectoryResult, params.Iterations)

	spawner, canSpawn := src.(entropy.Spawner)
	workers := m.workers
	if workers > params.Iterations {
		workers = params.Iterations
	}

	if workers <= 1 || !canSpawn {
		for i := range results {
			if i%64 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			results[i] = m.trajectory(start, funding, params, src)
		}
	} else {
		// Contiguous index ranges, one spawned stream per range, so a given
		// seed and worker count always reproduces the same results.
		streams := make([]*entropy.Stream, workers)
		for w := range streams {
			streams[w] = spawner.Spawn()
		}
		chunk := (params.Iterations + workers - 1) / workers

		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			lo, hi := w*chunk, (w+1)*chunk
			if hi > len(results) {
				hi = len(results)
			}
			stream := streams[w]
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					if i%64 == 0 {
						if err := gctx.Err(); err != nil {
							return err
						}
					}
					results[i] = m.trajectory(start, funding, params, stream)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Trajectory simulates a single run. Exposed for the streaming controller,
// which draws its batches one trajectory at a time.
func (m *Model) Trajectory(start int, funding []float64, params policy.Params, src entropy.Source) TrajectoryResult {
	return m.trajectory(start, funding, params.Normalize(), src)
}

func (m *Model) trajectory(start int, funding []float64, params policy.Params, src entropy.Source) TrajectoryResult {
	res := TrajectoryResult{
		FinalState: start,
		Breakdown:  make(map[string]float64, len(m.costs.Prices())),
	}
	node := start
	for year := 0; year < params.Years; year++ {
		discount := params.Discount(year)
		noise := math.Max(0, 1+params.Volatility*tuning.NoiseSpread*entropy.Normal(src))

		f := tuning.FundingMin
		if node >= 0 && node < len(funding) {
			f = funding[node]
		}
		for _, imp := range m.costs.EvaluateNode(node, f, year, src) {
			v := imp.Value * noise * discount
			res.Breakdown[imp.Name] += v
			res.TotalNPV += v
		}
		node = m.chain.SampleNext(node, src)
	}
	res.FinalState = node
	return res
}

func (m *Model) summarize(results []TrajectoryResult) *Summary {
	npvs := make([]float64, 0, len(results))
	for _, r := range results {
		if tuning.Finite(r.TotalNPV) {
			npvs = append(npvs, r.TotalNPV)
		}
	}
	return &Summary{
		Results: results,
		Summary: stats.Summarize(npvs, stats.AnchoredRange(npvs), m.bins),
	}
}
