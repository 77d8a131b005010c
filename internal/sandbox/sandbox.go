// Package sandbox provides the ephemeral per-call evaluation state
// that wraps a compiled policy tier: no filesystem, network, or clock
// access beyond what was captured into Facts before the call began.
// A *CompiledTier is immutable and shared; a *Sandbox is created fresh
// for every evaluate() and discarded after, so concurrent evaluations
// of the same tier never share mutable state.
package sandbox

import (
	"time"

	"github.com/cupcake-sh/cupcake/internal/ruleset"
	"github.com/cupcake-sh/cupcake/internal/types"
)

// Sandbox evaluates one tier's compiled rules against a single,
// frozen set of facts.
type Sandbox struct {
	tier  *ruleset.CompiledTier
	facts ruleset.Facts
}

// New freezes facts (input, signals, and a fixed evaluation time) into
// a Sandbox bound to tier. Passing `now` explicitly, rather than
// calling time.Now() inside Evaluate, is what keeps a Sandbox free of
// clock access: the caller captures the instant before constructing
// the Sandbox.
func New(tier *ruleset.CompiledTier, input types.EnrichedInput, now time.Time) *Sandbox {
	return &Sandbox{
		tier: tier,
		facts: ruleset.Facts{
			Input:   input,
			Signals: input.Signals,
			Now:     now,
		},
	}
}

// Evaluate runs every rule in the bound tier and returns its
// decisions. Safe to call exactly once per Sandbox; callers that need
// to re-evaluate against different signals should construct a new
// Sandbox rather than mutate facts on this one.
func (s *Sandbox) Evaluate() []types.Decision {
	return s.tier.Evaluate(s.facts)
}
