package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/policysim/internal/engine"
	"github.com/talgya/policysim/internal/entropy"
	"github.com/talgya/policysim/internal/markov"
	"github.com/talgya/policysim/internal/montecarlo"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/shadow"
	"github.com/talgya/policysim/internal/stats"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one Monte Carlo pass on a preset and print the summary",
		Long: `Run resolves transition weights once for the chosen preset, samples
the configured number of trajectories and prints the resulting statistics.

With --for the streaming controller runs headless for that long instead,
and the accumulated buffer is summarized.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, db, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			name := defaultPreset(cfg, db, catalog, presetOverride(cmd))
			sc, ok := catalog.Lookup(name)
			if !ok {
				return fmt.Errorf("unknown preset %q (known: %s)", name, strings.Join(catalog.Names(), ", "))
			}

			flags := cmd.Flags()
			if flags.Changed("iterations") {
				sc.Params.Iterations, _ = flags.GetInt("iterations")
			}
			if flags.Changed("years") {
				sc.Params.Years, _ = flags.GetInt("years")
			}
			if flags.Changed("volatility") {
				sc.Params.Volatility, _ = flags.GetFloat64("volatility")
			}
			if flags.Changed("discount") {
				sc.Params.DiscountRate, _ = flags.GetFloat64("discount")
			}
			sc = sc.Normalize()

			seed := cfg.Engine.Seed
			if flags.Changed("seed") {
				seed, _ = flags.GetUint64("seed")
			}
			if seed == 0 {
				seed = entropy.CryptoSeed()
			}
			workers := cfg.Engine.Workers
			if flags.Changed("workers") {
				workers, _ = flags.GetInt("workers")
			}
			jsonOut, _ := flags.GetBool("json")

			if d, _ := flags.GetDuration("for"); d > 0 {
				return runStreaming(cmd, sc, seed, workers, d, jsonOut)
			}
			return runOnce(cmd, sc, seed, workers, jsonOut)
		},
	}
	cmd.Flags().String("preset", "", "Preset name (default: catalog default)")
	cmd.Flags().Int("iterations", 0, "Trajectories to sample (overrides preset)")
	cmd.Flags().Int("years", 0, "Horizon in years (overrides preset)")
	cmd.Flags().Float64("volatility", 0, "Volatility (overrides preset)")
	cmd.Flags().Float64("discount", 0, "Annual discount rate (overrides preset)")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 = random)")
	cmd.Flags().Int("workers", 0, "Worker goroutines (overrides config)")
	cmd.Flags().Duration("for", 0, "Drive the streaming controller for this long instead of one pass")
	return cmd
}

// runReport is the JSON shape of a one-shot run.
type runReport struct {
	Preset     string         `json:"preset"`
	Seed       uint64         `json:"seed"`
	Params     policy.Params  `json:"params"`
	Summary    stats.Summary  `json:"summary"`
	Breakdown  []priceShare   `json:"breakdown"`
	FinalState map[string]int `json:"finalState"`
	Elapsed    string         `json:"elapsed"`
}

type priceShare struct {
	Price string  `json:"price"`
	Mean  float64 `json:"mean"`
}

func runOnce(cmd *cobra.Command, sc policy.Scenario, seed uint64, workers int, jsonOut bool) error {
	chain := markov.NewChain(sc.Domains)
	costs := shadow.ForScenario(&sc, int64(seed))
	chain.UpdateWeights(costs.Scores(sc.Funding, sc.Params), sc.Params.Volatility)
	mc := montecarlo.New(chain, costs, montecarlo.WithWorkers(workers))

	started := time.Now()
	res, err := mc.Run(cmd.Context(), sc.Start, sc.Funding, sc.Params, entropy.NewStream(seed))
	if err != nil {
		return fmt.Errorf("run %s: %w", sc.Name, err)
	}
	elapsed := time.Since(started)

	report := runReport{
		Preset:     sc.Name,
		Seed:       seed,
		Params:     sc.Params,
		Summary:    res.Summary,
		Breakdown:  meanBreakdown(res.Results),
		FinalState: finalStates(sc, res.Results),
		Elapsed:    elapsed.Round(time.Millisecond).String(),
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Preset %s (%d domains), seed %d\n", sc.Name, sc.Size(), seed)
	fmt.Fprintf(out, "%s trajectories over %d years in %s\n",
		humanize.Comma(int64(len(res.Results))), sc.Params.Years, report.Elapsed)
	printSummary(out, res.Summary)
	if len(report.Breakdown) > 0 {
		fmt.Fprintln(out, "\nMean discounted value by shadow price:")
		for _, b := range report.Breakdown {
			fmt.Fprintf(out, "  %-24s %10.3fM\n", b.Price, b.Mean)
		}
	}
	return nil
}

func runStreaming(cmd *cobra.Command, sc policy.Scenario, seed uint64, workers int, d time.Duration, jsonOut bool) error {
	ctrl := engine.NewController(sc, engine.WithSeed(seed), engine.WithWorkers(workers))
	eng := engine.NewEngine(ctrl, engine.DefaultTickInterval, 0)

	ctx, cancel := context.WithTimeout(cmd.Context(), d)
	defer cancel()
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	snap := ctrl.Snapshot()
	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Fprintln(out, snap.Line())
	fmt.Fprintf(out, "%s ticks, %s skipped\n", humanize.Comma(int64(eng.Ticks())), humanize.Comma(snap.Skipped))
	printSummary(out, snap.Summary)
	return nil
}

func printSummary(w io.Writer, s stats.Summary) {
	fmt.Fprintf(w, "E[NPV]   %10.3fM\n", s.Mean)
	fmt.Fprintf(w, "P10/P90  %10.3fM / %.3fM\n", s.P10, s.P90)
	fmt.Fprintf(w, "P(NPV≥0) %10.1f%%\n", s.SuccessProbability*100)
	fmt.Fprintf(w, "Range    [%.3f, %.3f] over %d bins\n", s.XMin, s.XMax, len(s.Histogram))
	if s.Bimodal {
		fmt.Fprintf(w, "Bimodal  modes at %.3fM and %.3fM\n", s.MeanA, s.MeanB)
	}
	fmt.Fprintln(w, histogramBars(s.Histogram))
}

// histogramBars renders a peak-normalized histogram as one line of block
// characters.
func histogramBars(h []float64) string {
	const levels = "▁▂▃▄▅▆▇█"
	runes := []rune(levels)
	var b strings.Builder
	for _, v := range h {
		if v <= 0 {
			b.WriteRune(' ')
			continue
		}
		i := int(v * float64(len(runes)-1))
		if i >= len(runes) {
			i = len(runes) - 1
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

func meanBreakdown(results []montecarlo.TrajectoryResult) []priceShare {
	if len(results) == 0 {
		return nil
	}
	sums := make(map[string]float64)
	for _, r := range results {
		for k, v := range r.Breakdown {
			sums[k] += v
		}
	}
	shares := make([]priceShare, 0, len(sums))
	for k, v := range sums {
		shares = append(shares, priceShare{Price: k, Mean: v / float64(len(results))})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].Price < shares[j].Price })
	return shares
}

func finalStates(sc policy.Scenario, results []montecarlo.TrajectoryResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if r.FinalState >= 0 && r.FinalState < sc.Size() {
			counts[sc.Domains[r.FinalState].ID]++
		}
	}
	return counts
}
