package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTickInterval is one display frame at 60 Hz.
const DefaultTickInterval = 16 * time.Millisecond

const pausePoll = 100 * time.Millisecond

// ErrQueueFull is returned by Enqueue when the command queue is saturated.
var ErrQueueFull = errors.New("engine: command queue full")

// Command mutates the controller on the tick goroutine.
type Command func(*Controller)

// Engine drives a Controller forward at a fixed interval.
type Engine struct {
	Interval time.Duration // Base tick interval

	ctrl     *Controller
	commands chan Command
	speed    atomic.Uint64 // math.Float64bits; 1.0 = real time, 0 = paused
	ticks    atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine for ctrl with a queue of queueSize pending
// commands.
func NewEngine(ctrl *Controller, interval time.Duration, queueSize int) *Engine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &Engine{
		Interval: interval,
		ctrl:     ctrl,
		commands: make(chan Command, queueSize),
		stop:     make(chan struct{}),
	}
	e.SetSpeed(1)
	return e
}

// Controller returns the driven controller. Only Snapshot and Summary may
// be called on it from outside the tick goroutine.
func (e *Engine) Controller() *Controller {
	return e.ctrl
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed sets the speed multiplier. Zero or negative pauses.
func (e *Engine) SetSpeed(s float64) {
	if math.IsNaN(s) || s < 0 {
		s = 0
	}
	e.speed.Store(math.Float64bits(s))
}

// Ticks is the number of completed ticks.
func (e *Engine) Ticks() uint64 {
	return e.ticks.Load()
}

// Enqueue queues cmd for the start of the next tick. Safe for concurrent
// use.
func (e *Engine) Enqueue(cmd Command) error {
	select {
	case e.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run ticks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("simulation engine started", "interval", e.Interval, "speed", e.Speed())
	defer func() {
		slog.Info("simulation engine stopped", "ticks", e.Ticks())
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case <-timer.C:
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; commands still apply so the UI stays responsive.
			e.drain()
			timer.Reset(pausePoll)
			continue
		}

		start := time.Now()
		e.Step(ctx)

		target := time.Duration(float64(e.Interval) / speed)
		wait := target - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Stop halts Run. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Step applies queued commands then advances the controller once.
func (e *Engine) Step(ctx context.Context) {
	e.drain()
	e.ctrl.Advance(ctx)
	e.ticks.Add(1)
}

func (e *Engine) drain() {
	for {
		select {
		case cmd := <-e.commands:
			cmd(e.ctrl)
		default:
			return
		}
	}
}
