package signals

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupcake-sh/cupcake/internal/types"
)

// allowAll trusts every script unconditionally, standing in for a
// real trustsvc.Store in tests that don't exercise trust failure.
type allowAll struct{}

func (allowAll) Verify(name, scriptPath string) error { return nil }

// denyAll refuses every script, used to exercise the tampered
// sentinel path.
type denyAll struct{}

func (denyAll) Verify(name, scriptPath string) error { return assert.AnError }

func writeEchoScript(t *testing.T, dir, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("signal scripts assume a POSIX shell")
	}
	path := filepath.Join(dir, "signal.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestBrokerRunReturnsScriptOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeEchoScript(t, dir, `echo '{"flagged":true}'`)

	broker := New(allowAll{}, time.Second)
	results, err := broker.Run(context.Background(), []types.SignalSpec{
		{Name: "flag-check", Command: script},
	}, types.EnrichedInput{})
	require.NoError(t, err)

	var parsed map[string]bool
	require.NoError(t, json.Unmarshal(results["flag-check"], &parsed))
	assert.True(t, parsed["flagged"])
}

func TestBrokerRunRefusesUntrustedScript(t *testing.T) {
	dir := t.TempDir()
	script := writeEchoScript(t, dir, `echo '{"flagged":true}'`)

	broker := New(denyAll{}, time.Second)
	results, err := broker.Run(context.Background(), []types.SignalSpec{
		{Name: "flag-check", Command: script},
	}, types.EnrichedInput{})
	require.NoError(t, err)

	assert.JSONEq(t, `{"__cupcake_untrusted__":true}`, string(results["flag-check"]))
}

func TestBrokerRunDedupesByName(t *testing.T) {
	dir := t.TempDir()
	script := writeEchoScript(t, dir, `echo '{}'`)

	broker := New(allowAll{}, time.Second)
	results, err := broker.Run(context.Background(), []types.SignalSpec{
		{Name: "dup", Command: script},
		{Name: "dup", Command: script},
	}, types.EnrichedInput{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBrokerRunTimesOutSlowScript(t *testing.T) {
	dir := t.TempDir()
	script := writeEchoScript(t, dir, `sleep 2`)

	broker := New(allowAll{}, 50*time.Millisecond)
	results, err := broker.Run(context.Background(), []types.SignalSpec{
		{Name: "slow", Command: script},
	}, types.EnrichedInput{})
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(results["slow"], &parsed))
	assert.Contains(t, parsed["error"], "slow")
}
