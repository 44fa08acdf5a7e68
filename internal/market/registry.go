package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds parallel resolution when Registry.Workers is unset.
const DefaultWorkers = 4

// Registry maps commodities to their engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	// Workers bounds how many engines ResolveAll resolves at once.
	Workers int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]*Engine),
		Workers: DefaultWorkers,
	}
}

// Register adds e. Each commodity has at most one engine.
func (r *Registry) Register(e *Engine) error {
	if e == nil {
		return fmt.Errorf("cannot register nil engine")
	}
	if e.Commodity() == "" {
		return fmt.Errorf("%w: engine has no commodity", ErrUnknownCommodity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[e.Commodity()]; exists {
		return fmt.Errorf("market for %s already registered", e.Commodity())
	}
	r.engines[e.Commodity()] = e
	return nil
}

// Engine returns the engine for commodity.
func (r *Registry) Engine(commodity string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[commodity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommodity, commodity)
	}
	return e, nil
}

// Submit routes in to the engine for its commodity.
func (r *Registry) Submit(in *Intent) error {
	if in == nil {
		return fmt.Errorf("%w: nil intent", ErrInvalidIntent)
	}
	commodity := in.Commodity
	if commodity == "" && in.Quantity != nil {
		commodity = in.Quantity.Commodity()
	}
	e, err := r.Engine(commodity)
	if err != nil {
		return err
	}
	return e.Submit(in)
}

// Commodities returns the registered commodities in sorted order.
func (r *Registry) Commodities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.engines))
	for c := range r.engines {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Resolution is the outcome of resolving one commodity.
type Resolution struct {
	Commodity string
	Matches   []Match
	Err       error
}

// ResolveAll resolves every registered engine once. Engines run in parallel,
// at most Workers at a time. A failing commodity is reported in its
// Resolution and in the joined error; it never stops the others.
// Resolutions are returned in commodity order.
func (r *Registry) ResolveAll(ctx context.Context) ([]Resolution, error) {
	commodities := r.Commodities()
	results := make([]Resolution, len(commodities))

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for i, c := range commodities {
		i, c := i, c
		results[i].Commodity = c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			e, err := r.Engine(c)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Matches, results[i].Err = e.Resolve()
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			slog.Warn("market resolution failed", "commodity", res.Commodity, "error", res.Err)
			errs = append(errs, res.Err)
		}
	}
	return results, errors.Join(errs...)
}

// Stats returns every engine's stats in commodity order.
func (r *Registry) Stats() []Stats {
	var out []Stats
	for _, c := range r.Commodities() {
		if e, err := r.Engine(c); err == nil {
			out = append(out, e.Stats())
		}
	}
	return out
}
