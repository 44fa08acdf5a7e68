// Package scenario loads simulation scenarios from YAML: the markets to open,
// the agent prototypes, and the builders that deploy them over time.
package scenario

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/talgya/tradecycle/internal/agents"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid scenario")

// Scenario is a complete simulation description.
type Scenario struct {
	Name     string `yaml:"name"`
	Start    int    `yaml:"start"`
	Duration int    `yaml:"duration"`
	Seed     int64  `yaml:"seed"`

	Markets    []Market    `yaml:"markets"`
	Prototypes []Prototype `yaml:"prototypes"`
	Builders   []Builder   `yaml:"builders"`
}

// Market opens a matching engine for one commodity.
type Market struct {
	Commodity string `yaml:"commodity"`
}

// Prototype describes an agent that builders can deploy. Amounts are decimal
// strings so they load exactly.
type Prototype struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"`
	Commodity   string  `yaml:"commodity,omitempty"`
	Units       string  `yaml:"units,omitempty"`
	Rate        string  `yaml:"rate,omitempty"`
	Capacity    string  `yaml:"capacity,omitempty"`
	Variability float64 `yaml:"variability,omitempty"`
}

// Builder is a root agent that deploys prototypes on a schedule.
type Builder struct {
	Name     string  `yaml:"name"`
	Schedule []Build `yaml:"schedule"`
}

// Build deploys Prototype at Step.
type Build struct {
	Prototype string `yaml:"prototype"`
	Step      int    `yaml:"step"`
}

// Default returns the built-in dairy scenario.
func Default() *Scenario {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("default scenario: %v", err))
	}
	return s
}

// Load reads and validates a scenario file. An empty path loads Default.
func Load(path string) (*Scenario, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes the scenario as YAML.
func (s *Scenario) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks names, references and amounts.
func (s *Scenario) Validate() error {
	if s.Start < 0 {
		return fmt.Errorf("%w: negative start %d", ErrInvalid, s.Start)
	}
	if s.Duration < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalid, s.Duration)
	}

	markets := make(map[string]bool, len(s.Markets))
	for _, m := range s.Markets {
		if m.Commodity == "" {
			return fmt.Errorf("%w: market without commodity", ErrInvalid)
		}
		if markets[m.Commodity] {
			return fmt.Errorf("%w: duplicate market %q", ErrInvalid, m.Commodity)
		}
		markets[m.Commodity] = true
	}

	names := make(map[string]bool, len(s.Prototypes)+len(s.Builders))
	for _, p := range s.Prototypes {
		if p.Name == "" {
			return fmt.Errorf("%w: prototype without name", ErrInvalid)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate prototype %q", ErrInvalid, p.Name)
		}
		names[p.Name] = true
		if _, err := p.Spec(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if p.Commodity != "" && !markets[p.Commodity] {
			return fmt.Errorf("%w: prototype %q trades %q, which has no market", ErrInvalid, p.Name, p.Commodity)
		}
	}

	for _, b := range s.Builders {
		if b.Name == "" {
			return fmt.Errorf("%w: builder without name", ErrInvalid)
		}
		if names[b.Name] {
			return fmt.Errorf("%w: duplicate prototype %q", ErrInvalid, b.Name)
		}
		for _, build := range b.Schedule {
			if !names[build.Prototype] {
				return fmt.Errorf("%w: builder %q schedules unknown prototype %q", ErrInvalid, b.Name, build.Prototype)
			}
			if build.Step < 0 {
				return fmt.Errorf("%w: builder %q schedules %q at negative step %d", ErrInvalid, b.Name, build.Prototype, build.Step)
			}
		}
		names[b.Name] = true
	}
	return nil
}

// Spec converts the prototype to an agent spec.
func (p Prototype) Spec() (agents.Spec, error) {
	spec := agents.Spec{
		Name:        p.Name,
		Kind:        p.Kind,
		Commodity:   p.Commodity,
		Units:       p.Units,
		Variability: p.Variability,
	}
	var err error
	if spec.Rate, err = amount(p.Rate); err != nil {
		return spec, fmt.Errorf("prototype %q rate: %w", p.Name, err)
	}
	if spec.Capacity, err = amount(p.Capacity); err != nil {
		return spec, fmt.Errorf("prototype %q capacity: %w", p.Name, err)
	}
	return spec, nil
}

func amount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", s)
	}
	return d, nil
}

// MarketName is the prototype name a commodity's market agent is built from.
func MarketName(commodity string) string {
	return commodity + " market"
}

// Apply registers the scenario's prototypes with ctx and deploys its markets
// and builders as root agents. Markets are deployed first so the agents
// built later can trade on them.
func (s *Scenario) Apply(ctx *agents.Context) error {
	ctx.Seed = s.Seed
	ctx.SetStep(s.Start)

	for _, m := range s.Markets {
		name := MarketName(m.Commodity)
		if _, err := ctx.NewPrototype(agents.Spec{Name: name, Kind: agents.RoleMarket.String(), Commodity: m.Commodity}); err != nil {
			return err
		}
		if _, err := ctx.Build(name, nil); err != nil {
			return err
		}
	}

	for _, p := range s.Prototypes {
		spec, err := p.Spec()
		if err != nil {
			return err
		}
		if _, err := ctx.NewPrototype(spec); err != nil {
			return err
		}
	}

	for _, b := range s.Builders {
		spec := agents.Spec{Name: b.Name, Kind: agents.RoleBuilder.String()}
		for _, build := range b.Schedule {
			spec.Schedule = append(spec.Schedule, agents.Build{Prototype: build.Prototype, Step: build.Step})
		}
		if _, err := ctx.NewPrototype(spec); err != nil {
			return err
		}
		if _, err := ctx.Build(b.Name, nil); err != nil {
			return err
		}
	}
	return nil
}
