// Package signals runs the external enrichment scripts a policy's
// front matter declares, in parallel, each under its own timeout, and
// collects their stdout JSON for the condition-tree evaluator to read
// back as facts. A script that isn't in the trust manifest, or whose
// digest has drifted, is refused rather than silently skipped, since a
// tampered signal is worse than a missing one.
package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cupcake-sh/cupcake/internal/types"
	"github.com/cupcake-sh/cupcake/internal/util"
)

// Verifier checks a named script against the trust manifest before
// the broker will execute it. *trustsvc.Store satisfies this.
type Verifier interface {
	Verify(name, scriptPath string) error
}

// Broker runs a set of signal specs concurrently and gathers their
// results, keyed by signal name.
type Broker struct {
	trust          Verifier
	defaultTimeout time.Duration
}

// New returns a Broker that verifies scripts against trust before
// running them, falling back to defaultTimeout for specs that don't
// declare their own.
func New(trust Verifier, defaultTimeout time.Duration) *Broker {
	return &Broker{trust: trust, defaultTimeout: defaultTimeout}
}

// tamperedSentinel is the JSON value substituted for a signal whose
// trust verification failed, so a condition tree referencing it
// observes an explicit, distinguishable absence rather than silently
// treating the signal as having fired.
var tamperedSentinel = json.RawMessage(`{"__cupcake_untrusted__":true}`)

// Run executes every distinct signal spec (deduplicated by name)
// against input, honoring ctx cancellation and each spec's own
// timeout. Results map is populated even on partial failure; a single
// signal erroring never aborts the others, mirroring the
// all-voters-run-independently shape of a quorum vote.
func (b *Broker) Run(ctx context.Context, specs []types.SignalSpec, input types.EnrichedInput) (map[string]json.RawMessage, error) {
	specs = dedupeSpecs(specs)
	results := make(map[string]json.RawMessage, len(specs))
	if len(specs) == 0 {
		return results, nil
	}

	type outcome struct {
		name string
		data json.RawMessage
	}
	outcomes := make(chan outcome, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			data := b.runOne(gctx, spec, input)
			outcomes <- outcome{name: spec.Name, data: data}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	close(outcomes)

	for o := range outcomes {
		results[o.name] = o.data
	}
	return results, nil
}

func (b *Broker) runOne(ctx context.Context, spec types.SignalSpec, input types.EnrichedInput) json.RawMessage {
	if err := b.trust.Verify(spec.Name, spec.Command); err != nil {
		return tamperedSentinel
	}

	timeout := b.defaultTimeout
	if spec.TimeoutMs > 0 {
		timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := util.CanonicalJSON(input)
	if err != nil {
		return jsonError(fmt.Errorf("marshal input: %w", err))
	}

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return jsonError(fmt.Errorf("signal %q: %w", spec.Name, err))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return json.RawMessage("null")
	}
	if !json.Valid(out) {
		return jsonError(fmt.Errorf("signal %q: non-JSON output", spec.Name))
	}
	return json.RawMessage(out)
}

func jsonError(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}

func dedupeSpecs(specs []types.SignalSpec) []types.SignalSpec {
	seen := make(map[string]bool, len(specs))
	out := make([]types.SignalSpec, 0, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}
