package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupcake-sh/cupcake/internal/types"
)

func decision(tier types.Tier, verb types.Verb, matched bool) types.Decision {
	return types.Decision{PolicyID: string(tier) + "-" + string(verb), Tier: tier, Verb: verb, Matched: matched}
}

func TestSynthesizeVerbPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		set      types.DecisionSet
		expected types.Verb
	}{
		{
			name:     "no matches allows",
			set:      types.DecisionSet{},
			expected: types.VerbAllowOverride,
		},
		{
			name: "halt beats deny",
			set: types.DecisionSet{Project: []types.Decision{
				decision(types.TierProject, types.VerbDeny, true),
				decision(types.TierProject, types.VerbHalt, true),
			}},
			expected: types.VerbHalt,
		},
		{
			name: "deny beats ask",
			set: types.DecisionSet{Project: []types.Decision{
				decision(types.TierProject, types.VerbAsk, true),
				decision(types.TierProject, types.VerbDeny, true),
			}},
			expected: types.VerbDeny,
		},
		{
			name: "ask beats allow_override",
			set: types.DecisionSet{Project: []types.Decision{
				decision(types.TierProject, types.VerbAllowOverride, true),
				decision(types.TierProject, types.VerbAsk, true),
			}},
			expected: types.VerbAsk,
		},
		{
			name: "unmatched decisions are ignored",
			set: types.DecisionSet{Project: []types.Decision{
				decision(types.TierProject, types.VerbHalt, false),
				decision(types.TierProject, types.VerbAllowOverride, true),
			}},
			expected: types.VerbAllowOverride,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Synthesize(tt.set)
			assert.Equal(t, tt.expected, got.Verb)
		})
	}
}

func TestSynthesizeGlobalNonOverride(t *testing.T) {
	set := types.DecisionSet{
		Global:  []types.Decision{decision(types.TierGlobal, types.VerbDeny, true)},
		Project: []types.Decision{decision(types.TierProject, types.VerbAllowOverride, true)},
	}

	final := Synthesize(set)
	assert.Equal(t, types.VerbDeny, final.Verb)
	assert.True(t, final.FromGlobal)
}

func TestSynthesizeAddContextAlwaysDelivered(t *testing.T) {
	globalCtx := types.Decision{PolicyID: "g1", Tier: types.TierGlobal, Verb: types.VerbAddContext, Matched: true, Context: "global note"}
	projectDeny := decision(types.TierProject, types.VerbDeny, true)

	final := Synthesize(types.DecisionSet{
		Global:  []types.Decision{globalCtx},
		Project: []types.Decision{projectDeny},
	})

	assert.Equal(t, types.VerbDeny, final.Verb)
	require.Len(t, final.ContextAdds, 1)
	assert.Equal(t, "global note", final.ContextAdds[0])
}

func TestSynthesizeModifyConflictKeepsFirstByPriorityThenID(t *testing.T) {
	m1 := types.Decision{PolicyID: "a-modify", Tier: types.TierProject, Verb: types.VerbModify, Matched: true,
		Edits: []types.ToolEdit{{FilePath: "a.go"}}}
	m2 := types.Decision{PolicyID: "b-modify", Tier: types.TierProject, Verb: types.VerbModify, Matched: true,
		Edits: []types.ToolEdit{{FilePath: "b.go"}}}

	final := Synthesize(types.DecisionSet{Project: []types.Decision{m2, m1}})

	assert.Equal(t, types.VerbModify, final.Verb)
	require.Len(t, final.Edits, 1)
	assert.Equal(t, "a.go", final.Edits[0].FilePath)
	assert.Equal(t, "a-modify", final.WinningPolicy)
}

func TestSynthesizeDeterministicTieBreak(t *testing.T) {
	a := decision(types.TierProject, types.VerbDeny, true)
	a.PolicyID = "alpha"
	b := decision(types.TierProject, types.VerbDeny, true)
	b.PolicyID = "beta"

	final1 := Synthesize(types.DecisionSet{Project: []types.Decision{b, a}})
	final2 := Synthesize(types.DecisionSet{Project: []types.Decision{a, b}})

	assert.Equal(t, final1.WinningPolicy, final2.WinningPolicy)
	assert.Equal(t, "alpha", final1.WinningPolicy)
}
