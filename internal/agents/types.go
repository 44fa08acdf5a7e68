// Package agents provides the time-stepped participants of a simulation:
// sources that produce and offer a commodity, sinks that request and consume
// it, builders that deploy new agents from prototypes on a schedule, and the
// markets that match them.
package agents

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Role tags the concrete kind of a participant.
type Role uint8

const (
	RoleSource Role = iota
	RoleSink
	RoleBuilder
	RoleMarket
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "Source"
	case RoleSink:
		return "Sink"
	case RoleBuilder:
		return "Builder"
	case RoleMarket:
		return "Market"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// MarshalText renders the role for JSON.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText parses a role name as written by MarshalText.
func (r *Role) UnmarshalText(b []byte) error {
	for _, c := range []Role{RoleSource, RoleSink, RoleBuilder, RoleMarket} {
		if c.String() == string(b) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown role %q", b)
}

// Participant is anything the step scheduler drives. Agents are created by
// cloning a prototype and become live when deployed.
type Participant interface {
	ID() uint64
	Name() string
	Role() Role
	Prototype() string
	ParentID() uint64
	EnterStep() int

	// Clone returns an undeployed copy carrying the same configuration.
	Clone() Participant
	// Deploy assigns an ID, registers with ctx and, for tickers, joins the
	// step loop. A nil parent marks a root agent.
	Deploy(ctx *Context, parent Participant) error

	HandleTick(step int) // Emit intents
	HandleTock(step int) // Post-resolution bookkeeping
}

// Holder is implemented by agents that keep an inventory.
type Holder interface {
	Commodity() string
	Inventory() decimal.Decimal
}

// Base carries the identity every participant shares.
type Base struct {
	id        uint64
	name      string
	prototype string
	parent    uint64
	enter     int
	ctx       *Context
}

func (b *Base) base() *Base { return b }

// ID returns the agent ID, 0 until deployed.
func (b *Base) ID() uint64 { return b.id }

// Name returns the agent's display name.
func (b *Base) Name() string { return b.name }

// Prototype returns the prototype the agent was cloned from.
func (b *Base) Prototype() string { return b.prototype }

// ParentID returns the deploying agent's ID, 0 for roots.
func (b *Base) ParentID() uint64 { return b.parent }

// EnterStep returns the step the agent was deployed in.
func (b *Base) EnterStep() int { return b.enter }

// Deployed reports whether the agent is live.
func (b *Base) Deployed() bool { return b.id != 0 }

// SetName sets the display name.
func (b *Base) SetName(name string) { b.name = name }

// identity returns an undeployed copy for Clone.
func (b *Base) identity() Base {
	return Base{name: b.name, prototype: b.prototype}
}

type based interface {
	base() *Base
}

// Spec describes a prototype independent of its kind. Fields that do not
// apply to a kind are ignored.
type Spec struct {
	Name        string
	Kind        string
	Commodity   string
	Units       string
	Rate        decimal.Decimal
	Capacity    decimal.Decimal // Zero means unbounded
	Variability float64         // Source production noise amplitude, 0..1
	Schedule    []Build         // Builder only
}

// Build schedules one prototype deployment.
type Build struct {
	Prototype string
	Step      int
}
