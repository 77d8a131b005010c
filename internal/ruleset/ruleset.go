// Package ruleset compiles a policy module's condition-tree body into an
// in-process interpreter and evaluates it against an enriched input.
// There is no WASM or Rego runtime anywhere in Cupcake's dependency
// surface; a tree-walking interpreter over the same all/any/not/leaf
// predicate shape is the deterministic, filesystem-and-network-less
// evaluator the rest of the pipeline requires. Its statelessness is
// what lets package sandbox treat a CompiledTier as safe for
// concurrent evaluate() calls.
package ruleset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cupcake-sh/cupcake/internal/types"
	"github.com/cupcake-sh/cupcake/internal/util"
)

// Rule is one policy module's routing metadata plus its parsed
// condition tree, ready for repeated evaluation.
type Rule struct {
	Module    types.PolicyModule
	Condition map[string]any
}

// CompiledTier is the immutable, content-addressed artifact produced
// by compiling every policy module in one tier (global or project). A
// *CompiledTier is never mutated after Compile returns, so it may be
// shared freely across concurrent evaluations.
type CompiledTier struct {
	Tier  types.Tier
	Rules []Rule
	Hash  string
}

// Compile parses each module's body (the part after its front matter)
// into a condition tree and returns the tier's compiled artifact. A
// rule with an empty body matches unconditionally, e.g. a `halt` for
// a SessionStart event that should always fire.
func Compile(tier types.Tier, modules []types.PolicyModule, bodies map[string][]byte) (*CompiledTier, error) {
	rules := make([]Rule, 0, len(modules))
	hashInput := make([]byte, 0, 64*len(modules))

	for _, mod := range modules {
		body := bodies[mod.Path]
		var cond map[string]any
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := yaml.Unmarshal(body, &cond); err != nil {
				return nil, fmt.Errorf("ruleset: parse condition tree for %s: %w", mod.ID, err)
			}
		}
		rules = append(rules, Rule{Module: mod, Condition: cond})
		hashInput = append(hashInput, []byte(mod.ContentHash)...)
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Module.Priority != rules[j].Module.Priority {
			return rules[i].Module.Priority > rules[j].Module.Priority
		}
		return rules[i].Module.ID < rules[j].Module.ID
	})

	return &CompiledTier{
		Tier:  tier,
		Rules: rules,
		Hash:  util.HashBytes(hashInput),
	}, nil
}

// Facts is the read-only view over an enriched input and any signal
// results that condition-tree leaf predicates may reference. It is
// constructed fresh for every evaluate() call and never mutated.
type Facts struct {
	Input   types.EnrichedInput
	Signals map[string]json.RawMessage
	Now     time.Time
}

// Evaluate runs every rule in the tier against facts and returns the
// decisions for rules whose condition tree matched (and those that
// didn't, with Matched=false, for audit completeness).
func (c *CompiledTier) Evaluate(facts Facts) []types.Decision {
	out := make([]types.Decision, 0, len(c.Rules))
	for _, rule := range c.Rules {
		matched := evaluateCondition(rule.Condition, facts)
		d := types.Decision{
			PolicyID: rule.Module.ID,
			Tier:     rule.Module.Tier,
			Verb:     rule.Module.Verb,
			Reason:   rule.Module.Message,
			Matched:  matched,
		}
		if matched && rule.Module.Verb == types.VerbAddContext {
			d.Context = rule.Module.Message
		}
		out = append(out, d)
	}
	return out
}

func evaluateCondition(cond map[string]any, facts Facts) bool {
	if len(cond) == 0 {
		return true
	}

	for key, value := range cond {
		switch key {
		case "all":
			items, ok := value.([]any)
			if !ok {
				return false
			}
			for _, item := range items {
				m, ok := item.(map[string]any)
				if !ok || !evaluateCondition(m, facts) {
					return false
				}
			}
			return true

		case "any":
			items, ok := value.([]any)
			if !ok {
				return false
			}
			for _, item := range items {
				m, ok := item.(map[string]any)
				if ok && evaluateCondition(m, facts) {
					return true
				}
			}
			return false

		case "not":
			m, ok := value.(map[string]any)
			if !ok {
				return false
			}
			return !evaluateCondition(m, facts)

		case "event_name":
			s, ok := value.(string)
			return ok && facts.Input.Event.EventName == s

		case "tool_name":
			s, ok := value.(string)
			return ok && facts.Input.Event.ToolName == s

		case "file_path_matches":
			s, ok := value.(string)
			return ok && strings.Contains(facts.Input.ResolvedFilePath, s)

		case "is_symlink":
			b, ok := value.(bool)
			return ok && facts.Input.IsSymlink == b

		case "command_contains":
			s, ok := value.(string)
			return ok && strings.Contains(facts.Input.NormalizedCommand, s)

		case "parent_dir_is":
			s, ok := value.(string)
			return ok && util.StringSliceContains(facts.Input.AffectedParentDirectories, s)

		case "signal":
			m, ok := value.(map[string]any)
			if !ok {
				return false
			}
			return evaluateSignal(m, facts)

		default:
			continue
		}
	}

	return true
}

func evaluateSignal(check map[string]any, facts Facts) bool {
	name, _ := check["name"].(string)
	if name == "" {
		return false
	}
	raw, ok := facts.Signals[name]
	if !ok {
		return false
	}

	want, hasWant := check["equals"]
	if !hasWant {
		return len(raw) > 0 && string(raw) != "null"
	}

	var got any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

// CachedCompiler memoizes Compile results keyed by content hash, so an
// unchanged policy directory across successive `cupcake eval`
// invocations within the same process (e.g. a long-lived daemon mode,
// or repeated calls in tests) skips recompilation. Keyed on content
// hash rather than an org ID, since Cupcake has no tenant concept.
type CachedCompiler struct {
	mu    sync.RWMutex
	cache map[string]*CompiledTier
	ttl   time.Duration
	at    map[string]time.Time
}

// NewCachedCompiler returns a compiler cache with the given TTL. A TTL
// of zero disables expiry.
func NewCachedCompiler(ttl time.Duration) *CachedCompiler {
	return &CachedCompiler{
		cache: make(map[string]*CompiledTier),
		at:    make(map[string]time.Time),
		ttl:   ttl,
	}
}

// CompileCached returns the cached CompiledTier for the modules'
// combined content hash, compiling and storing it if absent or
// expired.
func (c *CachedCompiler) CompileCached(tier types.Tier, modules []types.PolicyModule, bodies map[string][]byte) (*CompiledTier, error) {
	key := cacheKey(tier, modules)

	c.mu.RLock()
	cached, ok := c.cache[key]
	ts := c.at[key]
	c.mu.RUnlock()

	if ok && (c.ttl == 0 || time.Since(ts) < c.ttl) {
		return cached, nil
	}

	compiled, err := Compile(tier, modules, bodies)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = compiled
	c.at[key] = time.Now()
	c.mu.Unlock()

	return compiled, nil
}

func cacheKey(tier types.Tier, modules []types.PolicyModule) string {
	var sb strings.Builder
	sb.WriteString(string(tier))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(len(modules)))
	for _, m := range modules {
		sb.WriteByte(':')
		sb.WriteString(m.ContentHash)
	}
	return util.HashBytes([]byte(sb.String()))
}
