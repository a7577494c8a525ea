package markov

// EdgeWeight is the display weight of an undirected pair of domains that
// share at least one base edge.
type EdgeWeight struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	Forward  float64 `json:"forward"`  // P(From → To)
	Reverse  float64 `json:"reverse"`  // P(To → From)
	Dominant float64 `json:"dominant"` // max(Forward, Reverse)
	Net      float64 `json:"net"`      // Forward − Reverse
}

// Edges lists every pair i < j with a base edge in either direction.
func (c *Chain) Edges() []EdgeWeight {
	var out []EdgeWeight
	for i := 0; i < c.n; i++ {
		for j := i + 1; j < c.n; j++ {
			if c.base[i][j] <= 0 && c.base[j][i] <= 0 {
				continue
			}
			fwd, rev := c.live[i][j], c.live[j][i]
			dom := fwd
			if rev > dom {
				dom = rev
			}
			out = append(out, EdgeWeight{
				From: i, To: j,
				Forward: fwd, Reverse: rev,
				Dominant: dom, Net: fwd - rev,
			})
		}
	}
	return out
}
