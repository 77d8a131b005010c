// Package actions dispatches the external scripts a policy's front
// matter declares to run after synthesis. Dispatch is fire-and-forget:
// the engine does not wait for an action's exit status or use it to
// change the decision already returned to the harness, it only bounds
// how long an action is allowed to run before being killed.
package actions

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/cupcake-sh/cupcake/internal/types"
	"github.com/cupcake-sh/cupcake/internal/util"
)

// DefaultTimeout bounds how long a dispatched action may run before
// it is killed, absent a spec-level override.
const DefaultTimeout = 30 * time.Second

// Verifier checks a named script against the trust manifest.
type Verifier interface {
	Verify(name, scriptPath string) error
}

// Dispatcher fires action scripts for a synthesized FinalDecision.
type Dispatcher struct {
	trust          Verifier
	logger         *zap.Logger
	defaultTimeout time.Duration
}

// New returns a Dispatcher that verifies trust before running any
// script and logs failures through logger rather than propagating
// them, since an action's failure must never change the response
// already sent to the harness.
func New(trust Verifier, logger *zap.Logger, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Dispatcher{trust: trust, logger: logger, defaultTimeout: defaultTimeout}
}

// Dispatch runs every action bound to this evaluation, either by verb
// (On includes final.Verb) or by rule_id (RuleIDs includes the
// PolicyID of a matched decision). A spec with neither binding set
// runs unconditionally. It does not block the caller beyond starting
// the processes; each one is killed after its timeout regardless of
// whether it has produced output.
func (d *Dispatcher) Dispatch(ctx context.Context, specs []types.ActionSpec, final types.FinalDecision, matched []types.Decision, input types.EnrichedInput) {
	for _, spec := range specs {
		if !appliesTo(spec, final.Verb, matched) {
			continue
		}
		go d.run(ctx, spec, input)
	}
}

func appliesTo(spec types.ActionSpec, verb types.Verb, matched []types.Decision) bool {
	if len(spec.On) == 0 && len(spec.RuleIDs) == 0 {
		return true
	}
	for _, v := range spec.On {
		if v == verb {
			return true
		}
	}
	for _, ruleID := range spec.RuleIDs {
		for _, d := range matched {
			if d.Matched && d.PolicyID == ruleID {
				return true
			}
		}
	}
	return false
}

func (d *Dispatcher) run(ctx context.Context, spec types.ActionSpec, input types.EnrichedInput) {
	if err := d.trust.Verify(spec.Name, spec.Command); err != nil {
		d.logger.Warn("action refused: not trusted", zap.String("action", spec.Name), zap.Error(err))
		return
	}

	timeout := d.defaultTimeout
	if spec.TimeoutMs > 0 {
		timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload, err := util.CanonicalJSON(input)
	if err != nil {
		d.logger.Warn("action input marshal failed", zap.String("action", spec.Name), zap.Error(err))
		return
	}

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Stdin = bytes.NewReader(payload)

	if err := cmd.Start(); err != nil {
		d.logger.Warn("action failed to start", zap.String("action", spec.Name), zap.Error(err))
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			d.logger.Warn("action exited with error", zap.String("action", spec.Name), zap.Error(err))
		}
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		d.logger.Warn("action killed after timeout", zap.String("action", spec.Name), zap.Duration("timeout", timeout))
	}
}
