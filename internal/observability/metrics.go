// Package observability carries the Prometheus metrics and OpenTelemetry
// tracing setup shared by the server and CLI.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles controller and API metrics. It implements
// engine.Recorder.
type Collector struct {
	gatherer prometheus.Gatherer

	Trajectories  prometheus.Counter
	Batches       prometheus.Counter
	Resolves      prometheus.Counter
	Resets        prometheus.Counter
	Skipped       prometheus.Counter
	BatchDuration prometheus.Histogram

	BufferSamples prometheus.Gauge
	ExpectedNPV   prometheus.Gauge
	Bimodal       prometheus.Gauge

	APIRequests *prometheus.CounterVec
}

// NewCollector registers metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry returns
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Trajectories, "policysim_trajectories_total", "Trajectories simulated by the streaming controller."},
		{&c.Batches, "policysim_batches_total", "Sampling batches run by the streaming controller."},
		{&c.Resolves, "policysim_resolves_total", "Transition weight resolves."},
		{&c.Resets, "policysim_resets_total", "Buffer resets caused by parameter changes."},
		{&c.Skipped, "policysim_skipped_trajectories_total", "Trajectories dropped for a non-finite NPV."},
	}
	for _, ct := range counters {
		counter := prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help})
		if *ct.dst, err = register[prometheus.Counter](reg, counter, ct.name); err != nil {
			return nil, err
		}
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.BufferSamples, "policysim_buffer_samples", "Samples currently held in the rolling buffer."},
		{&c.ExpectedNPV, "policysim_expected_npv", "Mean NPV over the rolling buffer, in $M."},
		{&c.Bimodal, "policysim_bimodal", "1 when the rolling distribution is bimodal."},
	}
	for _, g := range gauges {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help})
		if *g.dst, err = register[prometheus.Gauge](reg, gauge, g.name); err != nil {
			return nil, err
		}
	}

	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policysim_batch_duration_seconds",
		Help:    "Wall time spent simulating one batch.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})
	if c.BatchDuration, err = register[prometheus.Histogram](reg, batch, "policysim_batch_duration_seconds"); err != nil {
		return nil, err
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policysim_api_requests_total",
		Help: "HTTP API requests, labeled by route and status code.",
	}, []string{"route", "code"})
	if c.APIRequests, err = register(reg, requests, "policysim_api_requests_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObserveBatch records one completed batch.
func (c *Collector) ObserveBatch(trajectories, skipped int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Batches.Inc()
	c.Trajectories.Add(float64(trajectories))
	c.Skipped.Add(float64(skipped))
	c.BatchDuration.Observe(elapsed.Seconds())
}

// ObserveResolve records one weight resolve.
func (c *Collector) ObserveResolve() {
	if c == nil {
		return
	}
	c.Resolves.Inc()
}

// ObserveReset records one buffer reset.
func (c *Collector) ObserveReset() {
	if c == nil {
		return
	}
	c.Resets.Inc()
}

// ObserveSnapshot updates the distribution gauges.
func (c *Collector) ObserveSnapshot(samples int, expectedNPV float64, bimodal bool) {
	if c == nil {
		return
	}
	c.BufferSamples.Set(float64(samples))
	c.ExpectedNPV.Set(expectedNPV)
	if bimodal {
		c.Bimodal.Set(1)
	} else {
		c.Bimodal.Set(0)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests to next under the given route label.
func (c *Collector) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if c != nil && c.APIRequests != nil {
			c.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C, name string) (C, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return collector, nil
}
