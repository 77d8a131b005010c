package trustsvc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestUpdateThenVerifySucceeds(t *testing.T) {
	dir := t.TempDir()
	scriptPath := writeScript(t, dir, "signal.sh", "#!/bin/sh\necho ok\n")
	manifestPath := filepath.Join(dir, "manifest.yml")

	store := New(manifestPath, []byte("test-key"))
	require.NoError(t, store.Update("my-signal", scriptPath))
	require.NoError(t, store.Save())

	reloaded := New(manifestPath, []byte("test-key"))
	require.NoError(t, reloaded.Load())
	assert.NoError(t, reloaded.Verify("my-signal", scriptPath))
}

func TestVerifyFailsOnDigestDrift(t *testing.T) {
	dir := t.TempDir()
	scriptPath := writeScript(t, dir, "signal.sh", "#!/bin/sh\necho ok\n")
	manifestPath := filepath.Join(dir, "manifest.yml")

	store := New(manifestPath, []byte("test-key"))
	require.NoError(t, store.Update("my-signal", scriptPath))
	require.NoError(t, store.Save())

	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho tampered\n"), 0o755))

	reloaded := New(manifestPath, []byte("test-key"))
	require.NoError(t, reloaded.Load())
	assert.ErrorIs(t, reloaded.Verify("my-signal", scriptPath), ErrNotTrusted)
}

func TestVerifyFailsForUnknownScript(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yml")

	store := New(manifestPath, []byte("test-key"))
	assert.ErrorIs(t, store.Verify("never-trusted", "/bin/true"), ErrNotTrusted)
}

func TestLoadMissingManifestIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "missing.yml"), []byte("test-key"))
	assert.NoError(t, store.Load())
}

func TestLoadRejectsTamperedSignature(t *testing.T) {
	dir := t.TempDir()
	scriptPath := writeScript(t, dir, "signal.sh", "#!/bin/sh\necho ok\n")
	manifestPath := filepath.Join(dir, "manifest.yml")

	store := New(manifestPath, []byte("original-key"))
	require.NoError(t, store.Update("my-signal", scriptPath))
	require.NoError(t, store.Save())

	tamperedReader := New(manifestPath, []byte("different-key"))
	assert.Error(t, tamperedReader.Load())
}
