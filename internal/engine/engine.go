// Package engine implements the orchestrator: the single entry point
// that takes a raw harness event and runs it through every stage of
// the evaluation pipeline in order, mirroring the staged S0..S5
// decision pipeline a tool-call firewall runs, but retargeted to
// Cupcake's two-tier global/project rulebook and seven-verb model:
//
//	E0 preprocess   -> canonicalize the event into an EnrichedInput
//	E1 route        -> find the policies that apply
//	E2 signals      -> run external enrichment scripts in parallel
//	E3 evaluate     -> run each matched tier's sandbox
//	E4 synthesize   -> collapse decisions into one FinalDecision
//	E5 dispatch     -> fire actions, write the audit record
//
// The global and project tiers are not evaluated as one flat pass: the
// global tier is routed, signaled, evaluated, and synthesized alone
// first, and only when its verdict is not a halt/deny/block does the
// project tier run at all. A global halt/deny/block is a floor the
// project rulebook never even gets a chance to raise above, so running
// its signal scripts or actions at that point would be an observable
// side effect of work that was never supposed to happen.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cupcake-sh/cupcake/internal/actions"
	"github.com/cupcake-sh/cupcake/internal/audit"
	"github.com/cupcake-sh/cupcake/internal/preprocess"
	"github.com/cupcake-sh/cupcake/internal/router"
	"github.com/cupcake-sh/cupcake/internal/ruleset"
	"github.com/cupcake-sh/cupcake/internal/sandbox"
	"github.com/cupcake-sh/cupcake/internal/signals"
	"github.com/cupcake-sh/cupcake/internal/synth"
	"github.com/cupcake-sh/cupcake/internal/trustsvc"
	"github.com/cupcake-sh/cupcake/internal/types"
)

// tierState bundles everything one rulebook tier needs to evaluate:
// its compiled rules, its routing table, and its trust store.
type tierState struct {
	table    *router.Table
	compiled *ruleset.CompiledTier
	trust    *trustsvc.Store
}

// Engine holds the compiled global and project tiers and the shared
// collaborators (signal broker, action dispatcher, audit writer) that
// every evaluation uses. One Engine is built per `cupcake eval`
// invocation from the scanned and compiled policy directories.
type Engine struct {
	global  *tierState
	project *tierState

	logger   *zap.Logger
	signals  *signals.Broker
	actions  *actions.Dispatcher
	auditor  *audit.Writer
	fallback types.Verb
}

// Config bundles everything New needs to assemble an Engine.
type Config struct {
	Global      *ruleset.CompiledTier
	GlobalTable *router.Table
	GlobalTrust *trustsvc.Store

	Project      *ruleset.CompiledTier
	ProjectTable *router.Table
	ProjectTrust *trustsvc.Store

	Logger        *zap.Logger
	SignalTimeout time.Duration
	ActionTimeout time.Duration
	Auditor       *audit.Writer

	// FallbackVerb is returned, with a loud warning logged, when any
	// pipeline stage fails. Fail-open means this defaults to
	// allow_override so a broken policy never blocks legitimate work.
	FallbackVerb types.Verb
}

// New assembles an Engine from cfg. The signal broker is shared across
// both tiers, verified against the project trust store when present
// and the global trust store otherwise, since project-tier signals are
// the common case.
func New(cfg Config) *Engine {
	trust := cfg.ProjectTrust
	if trust == nil {
		trust = cfg.GlobalTrust
	}

	fallback := cfg.FallbackVerb
	if fallback == "" {
		fallback = types.VerbAllowOverride
	}

	return &Engine{
		global:   &tierState{table: cfg.GlobalTable, compiled: cfg.Global, trust: cfg.GlobalTrust},
		project:  &tierState{table: cfg.ProjectTable, compiled: cfg.Project, trust: cfg.ProjectTrust},
		logger:   cfg.Logger,
		signals:  signals.New(trust, cfg.SignalTimeout),
		actions:  actions.New(trust, cfg.Logger, cfg.ActionTimeout),
		auditor:  cfg.Auditor,
		fallback: fallback,
	}
}

// haltsPipeline reports whether verb is one of the tier-ending verbs
// that stop the project tier from ever running.
func haltsPipeline(verb types.Verb) bool {
	switch verb {
	case types.VerbHalt, types.VerbDeny, types.VerbBlock:
		return true
	default:
		return false
	}
}

// Evaluate runs the full pipeline for one event and returns the
// synthesized decision. It never returns an error to the caller for a
// policy-level failure: per the fail-open design, a stage error is
// logged loudly and degrades to the fallback verb, with the error
// surfaced in the returned FinalDecision's Reason so the harness
// response can carry a warning.
func (e *Engine) Evaluate(ctx context.Context, ev types.Event) (types.FinalDecision, types.PipelineTiming) {
	var timing types.PipelineTiming
	totalStart := time.Now()

	input, err := e.stagePreprocess(ev, &timing)
	if err != nil {
		return e.failOpen(ctx, ev, timing, totalStart, fmt.Errorf("preprocess: %w", err))
	}
	transformations := transformationsOf(input)

	key := types.RoutingKey{EventName: ev.EventName, ToolName: ev.ToolName}

	globalSpecs := signalSpecsForTable(key, e.global.table)
	globalSigResults, globalSigStats := e.runSignals(ctx, globalSpecs, input, &timing)
	input.Signals = globalSigResults

	globalSet := types.DecisionSet{Global: e.evaluateTier(e.global.compiled, input, &timing)}
	globalFinal := e.synthesize(globalSet, &timing)

	if haltsPipeline(globalFinal.Verb) {
		timing.Total = types.Duration(time.Since(totalStart))

		globalMatched := globalSet.Matched()
		e.dispatchAndAudit(ctx, ev, globalFinal, input, dispatchInfo{
			actionSpecs:     actionSpecsForTable(key, e.global.table),
			matched:         globalMatched,
			matchedPolicies: formatMatchedPolicies(globalMatched),
			signals:         globalSigStats,
			transformations: transformations,
		}, timing, nil)

		return globalFinal, timing
	}

	projectSpecs := signalSpecsForTable(key, e.project.table)
	projectSigResults, projectSigStats := e.runSignals(ctx, projectSpecs, input, &timing)
	for name, result := range projectSigResults {
		input.Signals[name] = result
	}

	fullSet := types.DecisionSet{
		Global:  globalSet.Global,
		Project: e.evaluateTier(e.project.compiled, input, &timing),
	}
	final := e.synthesize(fullSet, &timing)
	timing.Total = types.Duration(time.Since(totalStart))

	fullMatched := fullSet.Matched()
	var actionSpecs []types.ActionSpec
	actionSpecs = append(actionSpecs, actionSpecsForTable(key, e.global.table)...)
	actionSpecs = append(actionSpecs, actionSpecsForTable(key, e.project.table)...)

	e.dispatchAndAudit(ctx, ev, final, input, dispatchInfo{
		actionSpecs:     actionSpecs,
		matched:         fullMatched,
		matchedPolicies: formatMatchedPolicies(fullMatched),
		signals:         append(globalSigStats, projectSigStats...),
		transformations: transformations,
	}, timing, nil)

	return final, timing
}

func (e *Engine) stagePreprocess(ev types.Event, timing *types.PipelineTiming) (types.EnrichedInput, error) {
	start := time.Now()
	input, err := preprocess.Run(ev)
	timing.Preprocess = types.Duration(time.Since(start))
	return input, err
}

// runSignals executes specs through the broker, accumulating elapsed
// time onto timing.Signals across however many phases call it, and
// returns both the raw results map and an audit-friendly summary of
// each signal's outcome.
func (e *Engine) runSignals(ctx context.Context, specs []types.SignalSpec, input types.EnrichedInput, timing *types.PipelineTiming) (map[string]json.RawMessage, []types.SignalResult) {
	if len(specs) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	start := time.Now()
	results, err := e.signals.Run(ctx, specs, input)
	timing.Signals += types.Duration(time.Since(start))
	if err != nil {
		e.logger.Warn("signal broker error, continuing with partial results", zap.Error(err))
	}

	return results, signalResultsOf(specs, results)
}

func signalSpecsForTable(key types.RoutingKey, table *router.Table) []types.SignalSpec {
	if table == nil {
		return nil
	}
	var specs []types.SignalSpec
	for _, mod := range table.Lookup(key) {
		specs = append(specs, mod.Signals...)
	}
	return specs
}

func actionSpecsForTable(key types.RoutingKey, table *router.Table) []types.ActionSpec {
	if table == nil {
		return nil
	}
	var specs []types.ActionSpec
	for _, mod := range table.Lookup(key) {
		specs = append(specs, mod.Actions...)
	}
	return specs
}

func (e *Engine) evaluateTier(tier *ruleset.CompiledTier, input types.EnrichedInput, timing *types.PipelineTiming) []types.Decision {
	if tier == nil {
		return nil
	}
	start := time.Now()
	sb := sandbox.New(tier, input, start)
	decisions := sb.Evaluate()
	timing.Evaluate += types.Duration(time.Since(start))
	return decisions
}

func (e *Engine) synthesize(set types.DecisionSet, timing *types.PipelineTiming) types.FinalDecision {
	start := time.Now()
	final := synth.Synthesize(set)
	timing.Synthesize += types.Duration(time.Since(start))
	return final
}

// dispatchInfo bundles everything dispatchAndAudit needs beyond the
// FinalDecision itself: which actions apply, and what the audit
// record should say matched and ran.
type dispatchInfo struct {
	actionSpecs     []types.ActionSpec
	matched         []types.Decision
	matchedPolicies []string
	signals         []types.SignalResult
	transformations types.Transformations
}

func (e *Engine) dispatchAndAudit(ctx context.Context, ev types.Event, final types.FinalDecision, input types.EnrichedInput, info dispatchInfo, timing types.PipelineTiming, evalErr error) {
	if e.actions != nil {
		e.actions.Dispatch(ctx, info.actionSpecs, final, info.matched, input)
	}

	if e.auditor != nil {
		record := audit.ResultInfo{
			MatchedPolicies: info.matchedPolicies,
			Signals:         info.signals,
			Transformations: info.transformations,
		}
		if _, err := e.auditor.WriteResult(ctx, ev, final, record, timing, evalErr); err != nil {
			e.logger.Warn("audit write failed", zap.Error(err))
		}
	}
}

// formatMatchedPolicies renders each matched decision's tier and
// policy ID as "<tier>.policies.<id>", the form audit records report
// matches in.
func formatMatchedPolicies(matched []types.Decision) []string {
	if len(matched) == 0 {
		return nil
	}
	out := make([]string, 0, len(matched))
	for _, d := range matched {
		out = append(out, fmt.Sprintf("%s.policies.%s", d.Tier, d.PolicyID))
	}
	return out
}

// signalResultsOf pairs each spec that was run with whether its
// result looks like one of the broker's own error sentinels, so the
// audit record can distinguish "ran cleanly" from "errored but the
// pipeline proceeded anyway" without the signals package needing to
// expose a richer result type.
func signalResultsOf(specs []types.SignalSpec, results map[string]json.RawMessage) []types.SignalResult {
	out := make([]types.SignalResult, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true

		raw, ok := results[spec.Name]
		if !ok {
			out = append(out, types.SignalResult{Name: spec.Name, Success: false, Error: "signal did not report a result"})
			continue
		}

		if errMsg, isErr := signalErrorMessage(raw); isErr {
			out = append(out, types.SignalResult{Name: spec.Name, Success: false, Error: errMsg})
			continue
		}

		out = append(out, types.SignalResult{Name: spec.Name, Success: true})
	}
	return out
}

func signalErrorMessage(raw json.RawMessage) (string, bool) {
	var v struct {
		Error      string `json:"error"`
		Untrusted  bool   `json:"__cupcake_untrusted__"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	if v.Untrusted {
		return "signal script failed trust verification", true
	}
	if v.Error != "" {
		return v.Error, true
	}
	return "", false
}

// transformationsOf reports which preprocessing steps actually fired
// for this event, for the audit record.
func transformationsOf(input types.EnrichedInput) types.Transformations {
	t := types.Transformations{
		CommandNormalized: input.NormalizedCommand != "",
		PathResolved:      input.ResolvedFilePath != "",
		SymlinkDetected:   input.IsSymlink,
	}
	for _, edit := range input.Edits {
		if edit.ResolvedFilePath != "" {
			t.EditsCanonicalized = true
		}
		if edit.IsSymlink {
			t.SymlinkDetected = true
		}
	}
	return t
}

// failOpen logs a loud warning and returns the engine's fallback verb
// rather than propagating the error, per the fail-open-by-default
// error handling design: a broken policy directory must never block
// an agent outright.
func (e *Engine) failOpen(ctx context.Context, ev types.Event, timing types.PipelineTiming, totalStart time.Time, cause error) (types.FinalDecision, types.PipelineTiming) {
	timing.Total = types.Duration(time.Since(totalStart))
	e.logger.Error("evaluation failed, failing open", zap.Error(cause), zap.String("event", ev.EventName))

	final := types.FinalDecision{
		Verb:   e.fallback,
		Reason: fmt.Sprintf("cupcake: evaluation error, failing open: %v", cause),
	}

	e.dispatchAndAudit(ctx, ev, final, types.EnrichedInput{Event: ev}, dispatchInfo{}, timing, cause)
	return final, timing
}
