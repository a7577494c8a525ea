// Package engine owns the streaming aggregation controller and the tick
// loop that drives it.
//
// A Controller is single-writer: every method except Snapshot and Summary
// must be called from the goroutine that calls Advance. Other goroutines
// submit changes through Engine.Enqueue.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talgya/policysim/internal/entropy"
	"github.com/talgya/policysim/internal/markov"
	"github.com/talgya/policysim/internal/montecarlo"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/shadow"
	"github.com/talgya/policysim/internal/stats"
	"github.com/talgya/policysim/internal/tuning"
)

const tracerName = "github.com/talgya/policysim/internal/engine"

// Recorder receives controller activity. observability.Collector
// implements it.
type Recorder interface {
	ObserveBatch(trajectories, skipped int, elapsed time.Duration)
	ObserveResolve()
	ObserveReset()
	ObserveSnapshot(samples int, expectedNPV float64, bimodal bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBatch(int, int, time.Duration) {}
func (nopRecorder) ObserveResolve()                      {}
func (nopRecorder) ObserveReset()                        {}
func (nopRecorder) ObserveSnapshot(int, float64, bool)   {}

// Snapshot is an immutable view of the published statistics.
type Snapshot struct {
	stats.Summary
	Epoch     uuid.UUID           `json:"epoch"`
	Preset    string              `json:"preset"`
	Years     int                 `json:"years"`
	TotalSims int64               `json:"totalSims"`
	Skipped   int64               `json:"skipped"`
	Edges     []markov.EdgeWeight `json:"edges"`
	Matrix    [][]float64         `json:"matrix"` // Live transition probabilities
	Funding   []float64           `json:"funding"`
	Params    policy.Params       `json:"params"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Line formats the one-line summary, e.g.
// "15Y | E[NPV] 3.42M | P+ 71.2% | Sims 48210".
func (s *Snapshot) Line() string {
	return fmt.Sprintf("%dY | E[NPV] %.2fM | P+ %.1f%% | Sims %d",
		s.Years, s.Mean, s.SuccessProbability*100, s.TotalSims)
}

// Controller maintains a rolling distribution of trajectory NPVs for the
// active scenario under a bounded per-tick budget.
type Controller struct {
	scenario policy.Scenario
	chain    *markov.Chain
	costs    *shadow.Model
	mc       *montecarlo.Model
	rng      *entropy.Stream
	buffer   *stats.Buffer

	seed            uint64
	bins            int
	workers         int
	resolveInterval time.Duration
	batchInterval   time.Duration

	clock       func() time.Time
	lastResolve time.Time
	lastBatch   time.Time
	dirty       bool
	forceBatch  bool

	nextStart int
	totalSims int64
	skipped   int64
	epoch     uuid.UUID
	edges     []markov.EdgeWeight
	matrix    [][]float64 // Replaced wholesale on resolve; shared by snapshots

	onReset func(*Controller)
	metrics Recorder
	tracer  trace.Tracer

	snap atomic.Pointer[Snapshot]
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for resolve and batch gating.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithResetHook registers fn to run after every reset, once the buffer has
// been cleared and before the forced batch.
func WithResetHook(fn func(*Controller)) Option {
	return func(c *Controller) { c.onReset = fn }
}

// WithSeed fixes the random stream. Zero picks a random seed.
func WithSeed(seed uint64) Option {
	return func(c *Controller) { c.seed = seed }
}

// WithWorkers fans each batch out over n goroutines.
func WithWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMetrics attaches a recorder.
func WithMetrics(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithBufferCap overrides the rolling buffer capacity.
func WithBufferCap(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.buffer = stats.NewBuffer(n)
		}
	}
}

// WithBins overrides the histogram bin count.
func WithBins(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.bins = n
		}
	}
}

// WithIntervals overrides the resolve and batch gating intervals.
func WithIntervals(resolve, batch time.Duration) Option {
	return func(c *Controller) {
		if resolve > 0 {
			c.resolveInterval = resolve
		}
		if batch > 0 {
			c.batchInterval = batch
		}
	}
}

// NewController loads sc and runs the first resolve and batch so the
// snapshot is never empty.
func NewController(sc policy.Scenario, opts ...Option) *Controller {
	c := &Controller{
		buffer:          stats.NewBuffer(tuning.BufferCap),
		bins:            tuning.HistogramBins,
		workers:         1,
		resolveInterval: tuning.ResolveInterval,
		batchInterval:   tuning.BatchInterval,
		clock:           time.Now,
		metrics:         nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.seed == 0 {
		c.seed = entropy.CryptoSeed()
	}
	c.rng = entropy.NewStream(c.seed)
	c.tracer = otel.Tracer(tracerName)
	c.load(sc)
	c.reset(context.Background())
	return c
}

func (c *Controller) load(sc policy.Scenario) {
	c.scenario = sc.Normalize()
	c.chain = markov.NewChain(c.scenario.Domains)
	c.costs = shadow.ForScenario(&c.scenario, int64(c.seed))
	c.mc = montecarlo.New(c.chain, c.costs, montecarlo.WithBins(c.bins), montecarlo.WithWorkers(c.workers))
	c.nextStart = c.scenario.Start
}

// SetScenario switches to a new scenario.
func (c *Controller) SetScenario(sc policy.Scenario) {
	c.load(sc)
	slog.Info("preset activated", "preset", c.scenario.Name, "domains", c.scenario.Size())
	c.reset(context.Background())
}

// SetVolatility changes the volatility parameter.
func (c *Controller) SetVolatility(v float64) {
	c.scenario.Params.Volatility = v
	c.scenario.Params = c.scenario.Params.Normalize()
	c.reset(context.Background())
}

// SetFunding changes one domain's funding level. Out-of-range indices are
// ignored.
func (c *Controller) SetFunding(domain int, value float64) {
	if domain < 0 || domain >= len(c.scenario.Funding) {
		slog.Warn("funding index out of range", "domain", domain, "domains", len(c.scenario.Funding))
		return
	}
	c.scenario.Funding[domain] = tuning.ClampFunding(value)
	c.reset(context.Background())
}

// SetFundingVector replaces the whole funding vector. Missing entries read
// as 0 and extra entries are dropped.
func (c *Controller) SetFundingVector(funding []float64) {
	next := make([]float64, c.scenario.Size())
	for i := range next {
		if i < len(funding) {
			next[i] = tuning.ClampFunding(funding[i])
		}
	}
	c.scenario.Funding = next
	c.reset(context.Background())
}

// SetParams replaces the simulation parameters.
func (c *Controller) SetParams(p policy.Params) {
	c.scenario.Params = p.Normalize()
	c.reset(context.Background())
}

// Scenario returns a copy of the active scenario.
func (c *Controller) Scenario() policy.Scenario {
	return c.scenario.Normalize()
}

// Samples is the current rolling buffer size.
func (c *Controller) Samples() int {
	return c.buffer.Len()
}

// Epoch identifies the current uninterrupted buffer run.
func (c *Controller) Epoch() uuid.UUID {
	return c.epoch
}

// NextStart is the domain the next batch will start from.
func (c *Controller) NextStart() int {
	return c.nextStart
}

func (c *Controller) reset(ctx context.Context) {
	c.buffer.Reset()
	c.totalSims = 0
	c.skipped = 0
	c.epoch = uuid.New()
	c.dirty = true
	c.forceBatch = true
	c.metrics.ObserveReset()
	if c.onReset != nil {
		c.onReset(c)
	}
	c.Advance(ctx)
}

// Advance runs whatever resolve and batch work is due. It never blocks on
// I/O and never fails; a cancelled ctx only skips the batch.
func (c *Controller) Advance(ctx context.Context) {
	now := c.clock()
	if c.dirty || now.Sub(c.lastResolve) >= c.resolveInterval {
		c.resolve(ctx, now)
	}
	if c.forceBatch || now.Sub(c.lastBatch) >= c.batchInterval {
		c.batch(ctx, now)
	}
}

func (c *Controller) resolve(ctx context.Context, now time.Time) {
	_, span := c.tracer.Start(ctx, "controller.resolve",
		trace.WithAttributes(attribute.String("preset", c.scenario.Name)))
	defer span.End()

	if c.scenario.Params.Years == 0 {
		// Every score is zero over an empty horizon.
		c.chain.Reset()
	} else {
		scores := c.costs.Scores(c.scenario.Funding, c.scenario.Params)
		c.chain.UpdateWeights(scores, c.scenario.Params.Volatility)
	}
	c.edges = c.chain.Edges()
	c.matrix = c.chain.Matrix()
	c.lastResolve = now
	c.dirty = false
	c.metrics.ObserveResolve()
}

func (c *Controller) batch(ctx context.Context, now time.Time) {
	ctx, span := c.tracer.Start(ctx, "controller.batch")
	defer span.End()

	c.lastBatch = now
	c.forceBatch = false
	if c.scenario.Size() == 0 {
		c.publish(now)
		return
	}

	params := c.scenario.Params
	params.Iterations = tuning.BatchSize(c.scenario.Params.Iterations)
	start := c.nextStart
	c.nextStart = (c.nextStart + 1) % c.scenario.Size()

	began := time.Now()
	results, err := c.mc.Sample(ctx, start, c.scenario.Funding, params, c.rng)
	if err != nil {
		slog.Debug("batch abandoned", "error", err)
		span.RecordError(err)
		return
	}

	skipped := 0
	for _, r := range results {
		if !tuning.Finite(r.TotalNPV) {
			skipped++
			continue
		}
		c.buffer.Push(r.TotalNPV)
		c.totalSims++
	}
	c.skipped += int64(skipped)
	if skipped > 0 {
		slog.Warn("non-finite trajectories dropped", "count", skipped, "preset", c.scenario.Name)
	}
	span.SetAttributes(
		attribute.Int("start", start),
		attribute.Int("trajectories", len(results)),
		attribute.Int("samples", c.buffer.Len()),
	)
	c.metrics.ObserveBatch(len(results), skipped, time.Since(began))
	c.publish(now)
}

func (c *Controller) publish(now time.Time) {
	values := c.buffer.Values()
	summary := stats.Summarize(values, stats.ObservedRange(values), c.bins)
	snap := &Snapshot{
		Summary:   summary,
		Epoch:     c.epoch,
		Preset:    c.scenario.Name,
		Years:     c.scenario.Params.Years,
		TotalSims: c.totalSims,
		Skipped:   c.skipped,
		Edges:     append([]markov.EdgeWeight(nil), c.edges...),
		Matrix:    c.matrix,
		Funding:   append([]float64(nil), c.scenario.Funding...),
		Params:    c.scenario.Params,
		UpdatedAt: now,
	}
	c.snap.Store(snap)
	c.metrics.ObserveSnapshot(summary.Samples, summary.Mean, summary.Bimodal)
}

// Snapshot returns the latest published statistics. Safe for concurrent
// use.
func (c *Controller) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Summary returns the one-line summary of the latest snapshot.
func (c *Controller) Summary() string {
	snap := c.Snapshot()
	if snap == nil {
		return ""
	}
	return snap.Line()
}
