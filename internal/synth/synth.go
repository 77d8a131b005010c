// Package synth collapses a DecisionSet from both tiers into the
// single FinalDecision a harness response is built from: verb
// priority, the global-tier non-override rule, and the handful of
// gating decisions the evaluation model leaves open (modify
// conflicts, ask vs allow_override ordering, and whether a denied
// global policy's add_context still reaches the harness).
package synth

import (
	"errors"
	"sort"

	"github.com/cupcake-sh/cupcake/internal/types"
)

// ErrConflictingModify is recorded when two matched policies both
// attempt to modify the same call. Only the first, in priority-then-
// lexical order, is honored; the rest are dropped from the final
// edit set and this error's text is appended to the reason string so
// an operator can see it happened.
var ErrConflictingModify = errors.New("synth: conflicting modify decisions")

// Synthesize resolves a DecisionSet into a FinalDecision.
//
// Two-tier gating: a global-tier halt or deny always wins over any
// project-tier decision, including allow_override, because the global
// tier exists precisely to set a floor a project cannot raise itself
// above. Within a tier, verb priority (Verb.Priority) decides the
// winner; ties break lexically on policy ID for determinism.
//
// ask vs allow_override: per the verb priority table, ask outranks
// allow_override, so a project that both asks for confirmation and
// allows an override on the same call will surface the ask. This was
// an open question; it is resolved here in favor of the table as
// written rather than letting allow_override short-circuit ask.
//
// add_context on a denied global policy: the add_context strings from
// EVERY matched decision, not just the winning one, are concatenated
// into ContextAdds, so a global policy's explanatory context still
// reaches the harness even when a different policy's deny wins the
// verb. This was also an open question, resolved in favor of always
// delivering add_context regardless of which verb ultimately wins.
func Synthesize(set types.DecisionSet) types.FinalDecision {
	matched := set.Matched()
	if len(matched) == 0 {
		return types.FinalDecision{Verb: types.VerbAllowOverride}
	}

	// Verb.Priority() already encodes the full non-override ordering
	// (halt < deny < block < ask < allow_override < add_context), so a
	// project-tier allow_override can never outrank a global halt or
	// deny: the global decision already sorts first on verb alone.
	// Tier only breaks ties between two decisions of equal verb
	// priority, preferring the global one, then policy ID for
	// determinism.
	sort.SliceStable(matched, func(i, j int) bool {
		pi, pj := matched[i], matched[j]
		if pi.Verb.Priority() != pj.Verb.Priority() {
			return pi.Verb.Priority() < pj.Verb.Priority()
		}
		if tierRank(pi.Tier) != tierRank(pj.Tier) {
			return tierRank(pi.Tier) < tierRank(pj.Tier)
		}
		return pi.PolicyID < pj.PolicyID
	})

	final := types.FinalDecision{}
	var reason string
	decided := false
	var modifyWinner *types.Decision
	modifyConflict := false

	for i := range matched {
		d := &matched[i]

		if d.Context != "" {
			final.ContextAdds = append(final.ContextAdds, d.Context)
		}

		if d.Verb == types.VerbModify {
			if modifyWinner == nil {
				modifyWinner = d
				final.Edits = append(final.Edits, d.Edits...)
			} else {
				modifyConflict = true
			}
			continue
		}

		if !decided {
			decided = true
			final.Verb = d.Verb
			final.FromGlobal = d.Tier == types.TierGlobal
			final.WinningPolicy = d.PolicyID
			reason = d.Reason
		}
	}

	if !decided && modifyWinner != nil {
		final.Verb = types.VerbModify
		final.WinningPolicy = modifyWinner.PolicyID
		reason = modifyWinner.Reason
	} else if !decided {
		final.Verb = types.VerbAllowOverride
	}

	if modifyConflict {
		if reason != "" {
			reason += "; "
		}
		reason += ErrConflictingModify.Error()
	}

	final.Reason = reason
	return final
}

func tierRank(t types.Tier) int {
	if t == types.TierGlobal {
		return 0
	}
	return 1
}
