package agents

import (
	"log/slog"
	"sort"
)

// Builder deploys prototypes on a fixed schedule. Each scheduled prototype
// is cloned and deployed as the builder's child during the tock of its step.
type Builder struct {
	Base

	schedule map[int][]string
	built    []uint64
}

// NewBuilder creates a builder prototype with an empty schedule.
func NewBuilder() *Builder {
	return &Builder{schedule: make(map[int][]string)}
}

func (b *Builder) Role() Role { return RoleBuilder }

// Schedule queues prototype to be built at step. Repeats are allowed.
func (b *Builder) Schedule(prototype string, step int) {
	if b.schedule == nil {
		b.schedule = make(map[int][]string)
	}
	b.schedule[step] = append(b.schedule[step], prototype)
}

// Scheduled returns the prototypes due at step, in scheduling order.
func (b *Builder) Scheduled(step int) []string {
	return append([]string(nil), b.schedule[step]...)
}

// Steps returns the steps with scheduled builds, ascending.
func (b *Builder) Steps() []int {
	steps := make([]int, 0, len(b.schedule))
	for s := range b.schedule {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	return steps
}

// Built returns the IDs of agents this builder has deployed.
func (b *Builder) Built() []uint64 {
	return append([]uint64(nil), b.built...)
}

func (b *Builder) Clone() Participant {
	c := &Builder{
		Base:     b.identity(),
		schedule: make(map[int][]string, len(b.schedule)),
	}
	for step, protos := range b.schedule {
		c.schedule[step] = append([]string(nil), protos...)
	}
	return c
}

func (b *Builder) Deploy(ctx *Context, parent Participant) error {
	return ctx.register(b, parent, true)
}

func (b *Builder) HandleTick(step int) {}

// HandleTock deploys everything scheduled for step. A prototype that fails
// to build is logged and skipped.
func (b *Builder) HandleTock(step int) {
	for _, proto := range b.schedule[step] {
		p, err := b.ctx.Build(proto, b)
		if err != nil {
			slog.Error("build failed", "builder", b.name, "prototype", proto, "step", step, "error", err)
			continue
		}
		b.built = append(b.built, p.ID())
		slog.Info("agent built",
			"builder", b.name,
			"prototype", proto,
			"id", p.ID(),
			"role", p.Role(),
			"step", step,
		)
	}
}
