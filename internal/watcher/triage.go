package watcher

import "sort"

// Health levels, worst first.
const (
	Stalled = "STALLED"
	Watch   = "WATCH"
	Healthy = "HEALTHY"
)

// MarketHealth holds the diagnosis of one commodity.
type MarketHealth struct {
	Commodity   string
	Backlog     int
	Growth      int    // Backlog change since the previous cycle
	Side        string // "offers" or "requests" when only one side is queued
	NewMatches  uint64 // Matches across the stall window
	WindowSteps int    // Steps covered by the window, 0 when history is too short
	Level       string
}

// Triage diagnoses every commodity in the snapshot against memory.
// Results are ordered worst first, then by commodity.
func Triage(snap *Snapshot, mem *CycleMemory, stallSteps int) []MarketHealth {
	if stallSteps < 1 {
		stallSteps = 1
	}
	prev, hasPrev := mem.Last()
	if hasPrev && prev.SimID != snap.Status.SimID {
		hasPrev = false
	}
	base, hasBase := mem.Since(snap.Status.SimID, snap.Status.Step, stallSteps)

	out := make([]MarketHealth, 0, len(snap.Markets))
	for _, m := range snap.Markets {
		h := MarketHealth{
			Commodity: m.Commodity,
			Backlog:   m.Backlog(),
			Level:     Healthy,
		}
		switch {
		case m.Offers > 0 && m.Requests == 0:
			h.Side = "offers"
		case m.Requests > 0 && m.Offers == 0:
			h.Side = "requests"
		}
		if hasPrev {
			if p, ok := prev.Markets[m.Commodity]; ok {
				h.Growth = h.Backlog - (p.Offers + p.Requests)
			}
		}
		if hasBase {
			if b, ok := base.Markets[m.Commodity]; ok {
				h.NewMatches = m.Matches - b.Matches
				h.WindowSteps = snap.Status.Step - base.Step
			}
		}

		switch {
		case h.Backlog > 0 && h.WindowSteps > 0 && h.NewMatches == 0:
			h.Level = Stalled
		case h.Growth > 0:
			h.Level = Watch
		}
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Level), rank(out[j].Level)
		if ri != rj {
			return ri < rj
		}
		return out[i].Commodity < out[j].Commodity
	})
	return out
}

func rank(level string) int {
	switch level {
	case Stalled:
		return 0
	case Watch:
		return 1
	default:
		return 2
	}
}
