// Package markov builds the yearly transition model between policy domains.
//
// The base matrix is derived once from graph topology. Reweighting only
// redistributes mass along edges the base matrix already has: an entry that
// is zero in the base stays exactly zero forever.
package markov

import (
	"math"

	"github.com/talgya/policysim/internal/entropy"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/tuning"
)

// Chain holds the base and live row-stochastic matrices.
type Chain struct {
	n    int
	base [][]float64
	live [][]float64
}

// NewChain builds the base matrix from a normalized domain list.
func NewChain(domains []policy.Domain) *Chain {
	n := len(domains)
	c := &Chain{
		n:    n,
		base: make([][]float64, n),
		live: make([][]float64, n),
	}
	for i, d := range domains {
		c.base[i] = baseRow(i, d, n)
		c.live[i] = append([]float64(nil), c.base[i]...)
	}
	return c
}

func baseRow(i int, d policy.Domain, n int) []float64 {
	row := make([]float64, n)

	var targets []int
	for _, t := range d.Connections {
		if t >= 0 && t < n {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		row[i] = 1 // Absorbing
		return row
	}

	weights := uniform(len(targets))
	if len(d.Weights) == len(d.Connections) && len(d.Connections) == len(targets) {
		weights = make([]float64, len(targets))
		var sum float64
		for k, w := range d.Weights {
			if !tuning.Finite(w) || w < 0 {
				w = 0
			}
			weights[k] = w
			sum += w
		}
		if sum <= 0 {
			weights = uniform(len(targets))
		} else {
			for k := range weights {
				weights[k] /= sum
			}
		}
	}

	row[i] = tuning.SelfLoop
	outgoing := 1 - tuning.SelfLoop
	for k, t := range targets {
		row[t] += outgoing * weights[k]
	}
	return row
}

func uniform(k int) []float64 {
	w := make([]float64, k)
	for i := range w {
		w[i] = 1 / float64(k)
	}
	return w
}

// Size returns the number of states.
func (c *Chain) Size() int {
	return c.n
}

// Base returns the base probability of moving from i to j.
func (c *Chain) Base(i, j int) float64 {
	if !c.inRange(i) || !c.inRange(j) {
		return 0
	}
	return c.base[i][j]
}

// Prob returns the live probability of moving from i to j.
func (c *Chain) Prob(i, j int) float64 {
	if !c.inRange(i) || !c.inRange(j) {
		return 0
	}
	return c.live[i][j]
}

// Row returns a copy of the live row for state i.
func (c *Chain) Row(i int) []float64 {
	if !c.inRange(i) {
		return nil
	}
	return append([]float64(nil), c.live[i]...)
}

// Matrix returns a copy of the live matrix.
func (c *Chain) Matrix() [][]float64 {
	out := make([][]float64, c.n)
	for i := range out {
		out[i] = c.Row(i)
	}
	return out
}

func (c *Chain) inRange(i int) bool {
	return i >= 0 && i < c.n
}

// UpdateWeights recomputes the live matrix from node scores. For each row,
// targets with positive base weight get the logit
//
//	log(base + ε) + score[target] × max(volatility, εmin) × scale
//
// and a max-subtracted softmax over those targets only. A missing or
// non-finite score reads as 0; a degenerate row keeps its base weights.
func (c *Chain) UpdateWeights(scores []float64, volatility float64) {
	sensitivity := math.Max(volatility, tuning.MinVolatility) * tuning.ScoreScale
	if !tuning.Finite(sensitivity) {
		sensitivity = tuning.MinVolatility * tuning.ScoreScale
	}

	logits := make([]float64, c.n)
	for i := 0; i < c.n; i++ {
		base := c.base[i]
		maxLogit := math.Inf(-1)
		for j, b := range base {
			if b <= 0 {
				continue
			}
			s := 0.0
			if j < len(scores) && tuning.Finite(scores[j]) {
				s = scores[j]
			}
			logits[j] = math.Log(b+tuning.LogEpsilon) + s*sensitivity
			if logits[j] > maxLogit {
				maxLogit = logits[j]
			}
		}

		var sum float64
		for j, b := range base {
			if b <= 0 {
				continue
			}
			logits[j] = math.Exp(logits[j] - maxLogit)
			sum += logits[j]
		}

		row := c.live[i]
		if !tuning.Finite(sum) || sum <= 0 {
			copy(row, base)
			continue
		}
		for j, b := range base {
			if b <= 0 {
				row[j] = 0
				continue
			}
			row[j] = logits[j] / sum
		}
	}
}

// Reset restores the live matrix to the base matrix.
func (c *Chain) Reset() {
	for i := range c.live {
		copy(c.live[i], c.base[i])
	}
}

// SampleNext draws the next state from source's live row. Entries are walked
// in index order; zero-probability entries are never chosen. If floating
// error exhausts the row without crossing zero, the walk stays put.
func (c *Chain) SampleNext(source int, rng entropy.Source) int {
	if !c.inRange(source) {
		return source
	}
	u := rng.Float64()
	for j, p := range c.live[source] {
		if p <= 0 {
			continue
		}
		u -= p
		if u <= 0 {
			return j
		}
	}
	return source
}
