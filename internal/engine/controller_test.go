package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/stats"
	"github.com/talgya/policysim/internal/tuning"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

type countingRecorder struct {
	batches, resolves, resets, snapshots int
	trajectories                         int
}

func (r *countingRecorder) ObserveBatch(n, _ int, _ time.Duration) { r.batches++; r.trajectories += n }
func (r *countingRecorder) ObserveResolve()                        { r.resolves++ }
func (r *countingRecorder) ObserveReset()                          { r.resets++ }
func (r *countingRecorder) ObserveSnapshot(int, float64, bool)     { r.snapshots++ }

func ringScenario(name string, n int) policy.Scenario {
	domains := make([]policy.Domain, n)
	funding := make([]float64, n)
	for i := range domains {
		domains[i] = policy.Domain{
			ID:          fmt.Sprintf("%s-%d", name, i),
			Connections: []int{(i + 1) % n},
			Profile:     policy.ProfileNeutral,
		}
		funding[i] = 50
	}
	return policy.Scenario{
		Name:    name,
		Domains: domains,
		Funding: funding,
		Params:  policy.Params{Years: 5, Iterations: 1200, DiscountRate: 0.03, Volatility: 0.5},
	}
}

func newTestController(t *testing.T, sc policy.Scenario, opts ...Option) (*Controller, *fakeClock) {
	t.Helper()
	clock := newClock()
	opts = append([]Option{WithClock(clock.Now), WithSeed(42)}, opts...)
	return NewController(sc, opts...), clock
}

func TestNewControllerPublishesImmediately(t *testing.T) {
	c, _ := newTestController(t, ringScenario("ring", 4))
	snap := c.Snapshot()
	if snap == nil {
		t.Fatal("no snapshot after construction")
	}
	want := tuning.BatchSize(1200)
	if snap.Samples != want || c.Samples() != want {
		t.Fatalf("samples = %d/%d, want %d", snap.Samples, c.Samples(), want)
	}
	if len(snap.Histogram) != tuning.HistogramBins {
		t.Fatalf("histogram bins = %d", len(snap.Histogram))
	}
	if snap.Epoch == uuid.Nil {
		t.Fatal("epoch not set")
	}
	if len(snap.Edges) != 4 {
		t.Fatalf("edges = %d, want 4 for a 4-ring", len(snap.Edges))
	}
}

func TestSnapshotMatrix(t *testing.T) {
	c, _ := newTestController(t, ringScenario("ring", 4))
	m := c.Snapshot().Matrix
	if len(m) != 4 {
		t.Fatalf("matrix rows = %d, want 4", len(m))
	}
	for i, row := range m {
		var sum float64
		for _, p := range row {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d sums to %v", i, sum)
		}
	}

	sc := ringScenario("flat", 4)
	sc.Params.Years = 0
	c.SetScenario(sc)
	m = c.Snapshot().Matrix
	for i := range m {
		for j := range m[i] {
			if m[i][j] != c.chain.Base(i, j) {
				t.Fatalf("zero-year P(%d,%d) = %v, want base %v", i, j, m[i][j], c.chain.Base(i, j))
			}
		}
	}
}

func TestPresetChangeClearsBuffer(t *testing.T) {
	var seen []int
	c, clock := newTestController(t, ringScenario("first", 4), WithResetHook(func(c *Controller) {
		seen = append(seen, c.Samples())
	}))
	for i := 0; i < 10; i++ {
		clock.Advance(tuning.BatchInterval)
		c.Advance(context.Background())
	}
	if c.Samples() <= tuning.BatchSize(1200) {
		t.Fatalf("buffer did not grow: %d", c.Samples())
	}
	before := c.Epoch()

	c.SetScenario(ringScenario("second", 6))
	if len(seen) != 2 {
		t.Fatalf("reset hook ran %d times, want 2", len(seen))
	}
	for i, n := range seen {
		if n != 0 {
			t.Fatalf("reset %d saw %d samples, want 0", i, n)
		}
	}
	snap := c.Snapshot()
	if snap.Preset != "second" {
		t.Fatalf("preset = %q", snap.Preset)
	}
	if snap.Samples != tuning.BatchSize(1200) || snap.TotalSims != int64(tuning.BatchSize(1200)) {
		t.Fatalf("post-change samples = %d, sims = %d", snap.Samples, snap.TotalSims)
	}
	if snap.Epoch == before {
		t.Fatal("epoch not regenerated")
	}
}

func TestParameterChangesReset(t *testing.T) {
	tests := []struct {
		name   string
		change func(c *Controller)
	}{
		{"volatility", func(c *Controller) { c.SetVolatility(0.9) }},
		{"funding", func(c *Controller) { c.SetFunding(1, 80) }},
		{"funding vector", func(c *Controller) { c.SetFundingVector([]float64{10, 20}) }},
		{"params", func(c *Controller) { c.SetParams(policy.Params{Years: 3, Iterations: 100}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newTestController(t, ringScenario("ring", 4))
			for i := 0; i < 5; i++ {
				clock.Advance(tuning.BatchInterval)
				c.Advance(context.Background())
			}
			before := c.Epoch()
			tt.change(c)
			snap := c.Snapshot()
			if snap.Epoch == before {
				t.Fatal("epoch unchanged")
			}
			if int(snap.TotalSims) != snap.Samples || snap.Samples > tuning.MaxBatch {
				t.Fatalf("stale samples after change: %d samples, %d sims", snap.Samples, snap.TotalSims)
			}
		})
	}
}

func TestSetFundingClampsAndIgnoresBadIndex(t *testing.T) {
	c, _ := newTestController(t, ringScenario("ring", 3))
	c.SetFunding(0, 250)
	if got := c.Snapshot().Funding[0]; got != 100 {
		t.Fatalf("funding = %v, want 100", got)
	}
	epoch := c.Epoch()
	c.SetFunding(7, 10)
	c.SetFunding(-1, 10)
	if c.Epoch() != epoch {
		t.Fatal("out-of-range funding triggered a reset")
	}

	c.SetFundingVector([]float64{5})
	if got := c.Snapshot().Funding; len(got) != 3 || got[0] != 5 || got[1] != 0 || got[2] != 0 {
		t.Fatalf("funding vector = %v", got)
	}
}

func TestRoundRobinStart(t *testing.T) {
	const n = 5
	sc := ringScenario("ring", n)
	sc.Start = 2
	c, clock := newTestController(t, sc)

	// Construction consumed the first start.
	seen := map[int]bool{2: true}
	for i := 0; i < n-1; i++ {
		start := c.NextStart()
		if seen[start] {
			t.Fatalf("start %d repeated before all domains were used", start)
		}
		seen[start] = true
		clock.Advance(tuning.BatchInterval)
		c.Advance(context.Background())
	}
	if len(seen) != n {
		t.Fatalf("used %d distinct starts, want %d", len(seen), n)
	}
	if c.NextStart() != 2 {
		t.Fatalf("cycle did not wrap to 2, got %d", c.NextStart())
	}
}

func TestAdvanceGating(t *testing.T) {
	rec := &countingRecorder{}
	c, clock := newTestController(t, ringScenario("ring", 4), WithMetrics(rec))
	if rec.batches != 1 || rec.resolves != 1 {
		t.Fatalf("construction: %d batches, %d resolves", rec.batches, rec.resolves)
	}

	c.Advance(context.Background())
	clock.Advance(100 * time.Millisecond)
	c.Advance(context.Background())
	if rec.batches != 1 {
		t.Fatalf("batch ran before interval: %d", rec.batches)
	}

	clock.Advance(80 * time.Millisecond)
	c.Advance(context.Background())
	if rec.batches != 2 {
		t.Fatalf("batch did not run at 180ms: %d", rec.batches)
	}
	if rec.resolves != 1 {
		t.Fatalf("resolve ran early: %d", rec.resolves)
	}

	clock.Advance(tuning.ResolveInterval)
	c.Advance(context.Background())
	if rec.resolves != 2 {
		t.Fatalf("resolve did not run after 1.5s: %d", rec.resolves)
	}
}

func TestBufferCapEvicts(t *testing.T) {
	c, clock := newTestController(t, ringScenario("ring", 4), WithBufferCap(100))
	for i := 0; i < 10; i++ {
		clock.Advance(tuning.BatchInterval)
		c.Advance(context.Background())
	}
	snap := c.Snapshot()
	if snap.Samples != 100 {
		t.Fatalf("samples = %d, want cap 100", snap.Samples)
	}
	if snap.TotalSims <= 100 {
		t.Fatalf("total sims = %d, want > 100", snap.TotalSims)
	}
}

func TestSnapshotHistogramInvariants(t *testing.T) {
	c, clock := newTestController(t, ringScenario("ring", 8))
	for i := 0; i < 20; i++ {
		clock.Advance(tuning.BatchInterval)
		c.Advance(context.Background())
	}
	snap := c.Snapshot()
	peak := 0.0
	for _, h := range snap.Histogram {
		if h < 0 || h > 1 {
			t.Fatalf("bin %v outside [0, 1]", h)
		}
		if h > peak {
			peak = h
		}
	}
	if peak != 1 {
		t.Fatalf("peak = %v, want 1", peak)
	}
	if snap.XMax-snap.XMin < 1 {
		t.Fatalf("span %v below 1", snap.XMax-snap.XMin)
	}
	if snap.P10 > snap.P90 {
		t.Fatalf("p10 %v > p90 %v", snap.P10, snap.P90)
	}
}

func TestEmptyScenario(t *testing.T) {
	c, clock := newTestController(t, policy.Scenario{Name: "empty"})
	clock.Advance(time.Second)
	c.Advance(context.Background())
	snap := c.Snapshot()
	if snap.Samples != 0 || len(snap.Histogram) != tuning.HistogramBins {
		t.Fatalf("empty scenario snapshot = %+v", snap.Summary)
	}
}

func TestSummaryLine(t *testing.T) {
	snap := &Snapshot{
		Summary:   stats.Summary{Mean: 3.4213, SuccessProbability: 0.7118},
		Years:     15,
		TotalSims: 48210,
	}
	if got, want := snap.Line(), "15Y | E[NPV] 3.42M | P+ 71.2% | Sims 48210"; got != want {
		t.Fatalf("Line() = %q, want %q", got, want)
	}

	c, _ := newTestController(t, ringScenario("ring", 4))
	if c.Summary() != c.Snapshot().Line() {
		t.Fatalf("Summary() = %q", c.Summary())
	}
}

func TestEngineStepDrainsCommands(t *testing.T) {
	c, _ := newTestController(t, ringScenario("ring", 4))
	e := NewEngine(c, time.Millisecond, 2)

	if err := e.Enqueue(func(c *Controller) { c.SetVolatility(0.1) }); err != nil {
		t.Fatal(err)
	}
	if err := e.Enqueue(func(c *Controller) { c.SetFunding(0, 90) }); err != nil {
		t.Fatal(err)
	}
	if err := e.Enqueue(func(*Controller) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue err = %v, want ErrQueueFull", err)
	}

	e.Step(context.Background())
	snap := c.Snapshot()
	if snap.Params.Volatility != 0.1 || snap.Funding[0] != 90 {
		t.Fatalf("commands not applied: vol=%v funding=%v", snap.Params.Volatility, snap.Funding)
	}
	if e.Ticks() != 1 {
		t.Fatalf("ticks = %d", e.Ticks())
	}
}

func TestEngineRunStops(t *testing.T) {
	c := NewController(ringScenario("ring", 4), WithSeed(1))
	e := NewEngine(c, time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	applied := make(chan struct{})
	if err := e.Enqueue(func(*Controller) { close(applied) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("queued command never ran")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	e2 := NewEngine(c, time.Millisecond, 0)
	go func() { done <- e2.Run(context.Background()) }()
	e2.Stop()
	e2.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run() after Stop = %v", err)
	}
}

func TestEnginePausedStillAppliesCommands(t *testing.T) {
	c := NewController(ringScenario("ring", 4), WithSeed(1))
	e := NewEngine(c, time.Millisecond, 0)
	e.SetSpeed(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	applied := make(chan struct{})
	_ = e.Enqueue(func(*Controller) { close(applied) })
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("paused engine dropped command")
	}
	if e.Ticks() != 0 {
		t.Fatalf("paused engine advanced %d ticks", e.Ticks())
	}
}
