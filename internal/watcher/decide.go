package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Actions.
const (
	ActionNone   = "none"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// Decision is the outcome of one cycle.
type Decision struct {
	Action string
	Speed  float64 // Target speed for pause and resume
	Reason string
}

// Decide picks at most one speed change. It pauses a running simulation
// when a commodity stalls and resumes one it paused itself once nothing is
// stalled. A pause made by someone else is left alone.
func Decide(snap *Snapshot, health []MarketHealth, mem *CycleMemory) Decision {
	var stalled []string
	for _, h := range health {
		if h.Level == Stalled {
			stalled = append(stalled, describe(h))
		}
	}

	running := snap.Status.Speed > 0
	switch {
	case len(stalled) > 0 && running:
		return Decision{
			Action: ActionPause,
			Speed:  0,
			Reason: "stalled: " + strings.Join(stalled, "; "),
		}
	case len(stalled) == 0 && !running && mem.PausedSpeed > 0:
		return Decision{
			Action: ActionResume,
			Speed:  mem.PausedSpeed,
			Reason: "no stalled markets",
		}
	case len(stalled) > 0:
		return Decision{Action: ActionNone, Reason: "already paused"}
	}
	return Decision{Action: ActionNone}
}

func describe(h MarketHealth) string {
	s := fmt.Sprintf("%s backlog=%d, no matches in %d steps", h.Commodity, h.Backlog, h.WindowSteps)
	if h.Side != "" {
		s += ", only " + h.Side + " queued"
	}
	return s
}

// Watcher runs observe, triage, decide and act cycles.
type Watcher struct {
	Observer   *Observer
	Actor      *Actor
	Memory     *CycleMemory
	MemoryPath string // Empty keeps memory in process only
	StallSteps int
}

// New creates a Watcher for the API at baseURL, loading memory from
// memoryPath when set.
func New(baseURL, adminKey, memoryPath string, stallSteps int) *Watcher {
	mem := &CycleMemory{}
	if memoryPath != "" {
		mem = LoadMemory(memoryPath)
	}
	return &Watcher{
		Observer:   NewObserver(baseURL),
		Actor:      NewActor(baseURL, adminKey),
		Memory:     mem,
		MemoryPath: memoryPath,
		StallSteps: stallSteps,
	}
}

// RunCycle executes one observe → triage → decide → act cycle.
func (w *Watcher) RunCycle(ctx context.Context) (Decision, error) {
	snap, err := w.Observer.Observe(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("observe: %w", err)
	}

	// A new simulation run invalidates anything remembered from the old one.
	if last, ok := w.Memory.Last(); ok && last.SimID != snap.Status.SimID {
		w.Memory.Records = nil
		w.Memory.PausedSpeed = 0
	}

	health := Triage(snap, w.Memory, w.StallSteps)
	for _, h := range health {
		slog.Debug("market triaged",
			"commodity", h.Commodity,
			"level", h.Level,
			"backlog", h.Backlog,
			"growth", h.Growth,
			"new_matches", h.NewMatches,
			"window_steps", h.WindowSteps,
		)
	}

	d := Decide(snap, health, w.Memory)
	rec := RecordOf(snap)
	rec.Action, rec.Reason = d.Action, d.Reason

	var actErr error
	switch d.Action {
	case ActionPause:
		if _, actErr = w.Actor.SetSpeed(ctx, 0); actErr == nil {
			w.Memory.PausedSpeed = snap.Status.Speed
		}
	case ActionResume:
		if _, actErr = w.Actor.SetSpeed(ctx, d.Speed); actErr == nil {
			w.Memory.PausedSpeed = 0
		}
	}
	if actErr != nil {
		rec.Action = ActionNone
		rec.Reason = "failed " + d.Action + ": " + actErr.Error()
	}

	w.Memory.Record(rec)
	if w.MemoryPath != "" {
		w.Memory.Save(w.MemoryPath)
	}
	if actErr != nil {
		return d, fmt.Errorf("%s: %w", d.Action, actErr)
	}
	return d, nil
}
