package agents

import (
	"fmt"
)

// Constructor builds a prototype of one kind from a spec.
type Constructor func(spec Spec) (Participant, error)

// Kinds maps kind names to constructors.
type Kinds map[string]Constructor

// DefaultKinds returns the built-in kinds: Source, Sink, Builder and Market.
func DefaultKinds() Kinds {
	return Kinds{
		RoleSource.String():  newSourceFromSpec,
		RoleSink.String():    newSinkFromSpec,
		RoleBuilder.String(): newBuilderFromSpec,
		RoleMarket.String():  newMarketFromSpec,
	}
}

func newSourceFromSpec(spec Spec) (Participant, error) {
	if spec.Commodity == "" {
		return nil, fmt.Errorf("source needs a commodity")
	}
	if !spec.Rate.IsPositive() {
		return nil, fmt.Errorf("source rate must be positive, got %s", spec.Rate)
	}
	if spec.Variability < 0 || spec.Variability > 1 {
		return nil, fmt.Errorf("variability must be within [0, 1], got %g", spec.Variability)
	}
	s := NewSource(spec.Commodity, spec.Units, spec.Rate, spec.Capacity)
	s.Variability = spec.Variability
	s.name = spec.Name
	return s, nil
}

func newSinkFromSpec(spec Spec) (Participant, error) {
	if spec.Commodity == "" {
		return nil, fmt.Errorf("sink needs a commodity")
	}
	if !spec.Rate.IsPositive() {
		return nil, fmt.Errorf("sink rate must be positive, got %s", spec.Rate)
	}
	s := NewSink(spec.Commodity, spec.Units, spec.Rate, spec.Capacity)
	s.name = spec.Name
	return s, nil
}

func newBuilderFromSpec(spec Spec) (Participant, error) {
	b := NewBuilder()
	b.name = spec.Name
	for _, build := range spec.Schedule {
		if build.Step < 0 {
			return nil, fmt.Errorf("build of %q scheduled at negative step %d", build.Prototype, build.Step)
		}
		b.Schedule(build.Prototype, build.Step)
	}
	return b, nil
}

func newMarketFromSpec(spec Spec) (Participant, error) {
	if spec.Commodity == "" {
		return nil, fmt.Errorf("market needs a commodity")
	}
	m := NewMarket(spec.Commodity)
	m.name = spec.Name
	return m, nil
}
