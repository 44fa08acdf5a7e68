package agents

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

// Context is the shared environment agents deploy into: the current step,
// registered tickers, named prototypes and the markets they trade on.
type Context struct {
	mu sync.RWMutex

	step       int
	nextID     uint64
	agents     map[uint64]Participant
	tickers    []Participant // In deployment order
	prototypes map[string]Participant
	kinds      Kinds

	Markets    *market.Registry
	Dispatcher market.Dispatcher // Wired into engines of deployed markets
	Tracker    resource.Tracker  // Nil disables heritage recording
	Seed       int64

	// OnDeploy is called once per deployed agent, after registration.
	OnDeploy func(p Participant)
}

// NewContext creates an empty context trading on markets.
func NewContext(markets *market.Registry) *Context {
	return &Context{
		nextID:     1,
		agents:     make(map[uint64]Participant),
		prototypes: make(map[string]Participant),
		kinds:      DefaultKinds(),
		Markets:    markets,
	}
}

// Step returns the current step.
func (c *Context) Step() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

// SetStep advances the context clock.
func (c *Context) SetStep(step int) {
	c.mu.Lock()
	c.step = step
	c.mu.Unlock()
}

// SetNextID sets the next agent ID to be issued.
func (c *Context) SetNextID(id uint64) {
	c.mu.Lock()
	c.nextID = id
	c.mu.Unlock()
}

// RegisterKind adds or replaces a named constructor.
func (c *Context) RegisterKind(name string, fn Constructor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[name] = fn
}

// AddPrototype registers p under name. Deployed agents clone it.
func (c *Context) AddPrototype(name string, p Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.prototypes[name]; exists {
		return fmt.Errorf("prototype %q already registered", name)
	}
	if b, ok := p.(based); ok {
		b.base().prototype = name
		if b.base().name == "" {
			b.base().name = name
		}
	}
	c.prototypes[name] = p
	return nil
}

// NewPrototype constructs spec with its kind's constructor and registers it.
func (c *Context) NewPrototype(spec Spec) (Participant, error) {
	c.mu.RLock()
	fn, ok := c.kinds[spec.Kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q for prototype %q", spec.Kind, spec.Name)
	}

	p, err := fn(spec)
	if err != nil {
		return nil, fmt.Errorf("prototype %q: %w", spec.Name, err)
	}
	if err := c.AddPrototype(spec.Name, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Prototypes returns the registered prototype names, sorted.
func (c *Context) Prototypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.prototypes))
	for name := range c.prototypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CreateAgent clones the named prototype. The clone is not yet deployed.
func (c *Context) CreateAgent(prototype string) (Participant, error) {
	c.mu.RLock()
	p, ok := c.prototypes[prototype]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown prototype %q", prototype)
	}
	return p.Clone(), nil
}

// Build clones prototype and deploys the clone under parent.
func (c *Context) Build(prototype string, parent Participant) (Participant, error) {
	p, err := c.CreateAgent(prototype)
	if err != nil {
		return nil, err
	}
	if err := p.Deploy(c, parent); err != nil {
		return nil, fmt.Errorf("deploy %q: %w", prototype, err)
	}
	return p, nil
}

// register gives p an identity and, when ticker is set, a place in the step
// loop. Agents deployed mid-step start ticking on the next step.
func (c *Context) register(p Participant, parent Participant, ticker bool) error {
	b, ok := p.(based)
	if !ok {
		return fmt.Errorf("participant %T does not embed Base", p)
	}
	if b.base().id != 0 {
		return fmt.Errorf("agent %d (%s) already deployed", b.base().id, b.base().name)
	}

	c.mu.Lock()
	base := b.base()
	base.id = c.nextID
	c.nextID++
	base.enter = c.step
	base.ctx = c
	if parent != nil {
		base.parent = parent.ID()
	}
	c.agents[base.id] = p
	if ticker {
		c.tickers = append(c.tickers, p)
	}
	hook := c.OnDeploy
	c.mu.Unlock()

	slog.Debug("agent deployed",
		"id", base.id,
		"name", base.name,
		"role", p.Role(),
		"prototype", base.prototype,
		"parent", base.parent,
		"step", base.enter,
	)
	if hook != nil {
		hook(p)
	}
	return nil
}

// Tickers returns the agents in the step loop, in deployment order.
func (c *Context) Tickers() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Participant, len(c.tickers))
	copy(out, c.tickers)
	return out
}

// Agent returns a deployed agent by ID.
func (c *Context) Agent(id uint64) (Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.agents[id]
	return p, ok
}

// Agents returns every deployed agent ordered by ID.
func (c *Context) Agents() []Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Participant, 0, len(c.agents))
	for _, p := range c.agents {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
