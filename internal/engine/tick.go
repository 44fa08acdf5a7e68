// Package engine provides the step loop that drives a simulation: every step
// all agents tick, every market resolves once, and all agents tock.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StepsPerYear maps steps onto calendar months for SimTime.
const StepsPerYear = 12

// pausePoll is how often a paused engine checks whether it was resumed.
const pausePoll = 100 * time.Millisecond

// Engine drives the simulation forward one step at a time.
type Engine struct {
	Start    int           // First step
	Duration int           // Number of steps to run; 0 runs until stopped
	Interval time.Duration // Wall time per step at speed 1; 0 runs flat out

	// Callbacks for each phase of a step, populated during setup.
	OnTick    func(step int)                      // Agents emit intents
	OnResolve func(ctx context.Context, step int) // Markets match
	OnTock    func(step int)                      // Agents react, step is recorded

	mu      sync.Mutex
	tick    int // Next step to run
	speed   float64
	running bool
	stopped bool
}

// NewEngine creates an engine starting at step 0 at normal speed.
func NewEngine() *Engine {
	return &Engine{speed: 1.0}
}

// Tick returns the next step to run.
func (e *Engine) Tick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick positions the engine before Run.
func (e *Engine) SetTick(step int) {
	e.mu.Lock()
	e.tick = step
	e.mu.Unlock()
}

// Speed returns the speed multiplier. 0 means paused.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed sets the speed multiplier. Negative values pause.
func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	slog.Info("engine speed changed", "speed", speed)
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// End returns the step after the last one Run executes, or -1 when the
// engine runs until stopped.
func (e *Engine) End() int {
	if e.Duration <= 0 {
		return -1
	}
	return e.Start + e.Duration
}

// Run executes steps from Start until Duration steps have run, Stop is
// called, or ctx is cancelled. It blocks until then and returns ctx's error
// on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.tick < e.Start {
		e.tick = e.Start
	}
	e.running = true
	e.stopped = false
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	slog.Info("simulation engine started", "step", e.Tick(), "end", e.End(), "speed", e.Speed())

	end := e.End()
	for {
		e.mu.Lock()
		tick, speed, stopped := e.tick, e.speed, e.stopped
		e.mu.Unlock()

		if stopped || (end >= 0 && tick >= end) {
			break
		}
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine cancelled", "step", tick)
			return err
		}
		if speed <= 0 {
			if err := sleep(ctx, pausePoll); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		e.Step(ctx)

		if e.Interval > 0 {
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed := time.Since(start); elapsed < target {
				if err := sleep(ctx, target-elapsed); err != nil {
					return err
				}
			}
		}
	}

	slog.Info("simulation engine stopped", "step", e.Tick())
	return nil
}

// Stop halts Run after the step in progress.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

// Step runs one full step and advances the counter. It returns the step run.
func (e *Engine) Step(ctx context.Context) int {
	e.mu.Lock()
	step := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(step)
	}
	if e.OnResolve != nil {
		e.OnResolve(ctx, step)
	}
	if e.OnTock != nil {
		e.OnTock(step)
	}

	e.mu.Lock()
	e.tick = step + 1
	e.mu.Unlock()
	return step
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SimTime renders a step as a calendar label, one step per month.
func SimTime(step int) string {
	if step < 0 {
		return fmt.Sprintf("step %d", step)
	}
	monthNames := [StepsPerYear]string{
		"Jan", "Feb", "Mar", "Apr", "May", "Jun",
		"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
	}
	return fmt.Sprintf("%s Year %d (step %d)", monthNames[step%StepsPerYear], step/StepsPerYear+1, step)
}
