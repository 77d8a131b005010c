package ruleset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupcake-sh/cupcake/internal/types"
)

func compileOne(t *testing.T, id string, verb types.Verb, body string) *CompiledTier {
	t.Helper()
	mod := types.PolicyModule{ID: id, Tier: types.TierProject, Verb: verb, ContentHash: id}
	bodies := map[string][]byte{"": []byte(body)}
	mod.Path = ""
	compiled, err := Compile(types.TierProject, []types.PolicyModule{mod}, bodies)
	require.NoError(t, err)
	return compiled
}

func TestEvaluateEmptyConditionMatchesUnconditionally(t *testing.T) {
	tier := compileOne(t, "always", types.VerbHalt, "")
	facts := Facts{Input: types.EnrichedInput{}, Now: time.Now()}

	decisions := tier.Evaluate(facts)
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Matched)
}

func TestEvaluateLeafPredicateCommandContains(t *testing.T) {
	tier := compileOne(t, "no-force-push", types.VerbDeny, `command_contains: "push --force"`)

	matchFacts := Facts{Input: types.EnrichedInput{NormalizedCommand: "git push --force origin main"}}
	noMatchFacts := Facts{Input: types.EnrichedInput{NormalizedCommand: "git push origin main"}}

	assert.True(t, tier.Evaluate(matchFacts)[0].Matched)
	assert.False(t, tier.Evaluate(noMatchFacts)[0].Matched)
}

func TestEvaluateAllRequiresEveryClause(t *testing.T) {
	body := `
all:
  - tool_name: "Bash"
  - command_contains: "rm -rf"
`
	tier := compileOne(t, "dangerous-rm", types.VerbBlock, body)

	facts := Facts{Input: types.EnrichedInput{
		Event:             types.Event{ToolName: "Bash"},
		NormalizedCommand: "rm -rf /",
	}}
	assert.True(t, tier.Evaluate(facts)[0].Matched)

	facts.Input.Event.ToolName = "Edit"
	assert.False(t, tier.Evaluate(facts)[0].Matched)
}

func TestEvaluateAnyRequiresOneClause(t *testing.T) {
	body := `
any:
  - tool_name: "Bash"
  - tool_name: "Write"
`
	tier := compileOne(t, "sensitive-tools", types.VerbAsk, body)

	facts := Facts{Input: types.EnrichedInput{Event: types.Event{ToolName: "Write"}}}
	assert.True(t, tier.Evaluate(facts)[0].Matched)

	facts.Input.Event.ToolName = "Read"
	assert.False(t, tier.Evaluate(facts)[0].Matched)
}

func TestEvaluateNotNegates(t *testing.T) {
	body := `
not:
  tool_name: "Read"
`
	tier := compileOne(t, "not-read", types.VerbAsk, body)

	facts := Facts{Input: types.EnrichedInput{Event: types.Event{ToolName: "Write"}}}
	assert.True(t, tier.Evaluate(facts)[0].Matched)

	facts.Input.Event.ToolName = "Read"
	assert.False(t, tier.Evaluate(facts)[0].Matched)
}

func TestEvaluateIsDeterministicAcrossRuns(t *testing.T) {
	tier := compileOne(t, "symlink-check", types.VerbDeny, "is_symlink: true")
	facts := Facts{Input: types.EnrichedInput{IsSymlink: true}}

	first := tier.Evaluate(facts)
	second := tier.Evaluate(facts)
	assert.Equal(t, first, second)
}

func TestCachedCompilerReusesUnchangedHash(t *testing.T) {
	mod := types.PolicyModule{ID: "cacheable", Tier: types.TierProject, Verb: types.VerbAsk, ContentHash: "abc123"}
	bodies := map[string][]byte{"": []byte("")}

	cache := NewCachedCompiler(time.Minute)
	first, err := cache.CompileCached(types.TierProject, []types.PolicyModule{mod}, bodies)
	require.NoError(t, err)
	second, err := cache.CompileCached(types.TierProject, []types.PolicyModule{mod}, bodies)
	require.NoError(t, err)

	assert.Same(t, first, second)
}
