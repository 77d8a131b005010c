package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cupcake-sh/cupcake/internal/types"
)

const validPolicy = `---
id: no-force-push
events: ["PreToolUse"]
tools: ["Bash"]
verb: deny
message: "force push is not allowed"
---
command_contains: "push --force"
`

const invalidPolicy = `---
id: bad
events: []
verb: not-a-real-verb
---
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanFileParsesFrontMatterAndHashesBody(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "no-force-push.yml", validPolicy)

	sc, err := New()
	require.NoError(t, err)

	mod, err := sc.ScanFile(path, types.TierProject)
	require.NoError(t, err)

	assert.Equal(t, "no-force-push", mod.ID)
	assert.Equal(t, types.VerbDeny, mod.Verb)
	assert.Equal(t, []string{"PreToolUse"}, mod.Events)
	assert.Equal(t, []string{"Bash"}, mod.Tools)
	assert.NotEmpty(t, mod.ContentHash)
}

func TestScanFileRejectsInvalidMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "bad.yml", invalidPolicy)

	sc, err := New()
	require.NoError(t, err)

	_, err = sc.ScanFile(path, types.TierProject)
	require.Error(t, err)

	var compileErr *CompileError
	assert.ErrorAs(t, err, &compileErr)
}

func TestWalkSkipsNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "no-force-push.yml", validPolicy)
	writePolicy(t, dir, "README.md", "not a policy")

	sc, err := New()
	require.NoError(t, err)

	modules, err := sc.Walk(dir, types.TierProject)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.Equal(t, "no-force-push", modules[0].ID)
}

func TestWalkMissingDirectoryReturnsEmpty(t *testing.T) {
	sc, err := New()
	require.NoError(t, err)

	modules, err := sc.Walk(filepath.Join(t.TempDir(), "does-not-exist"), types.TierProject)
	require.NoError(t, err)
	assert.Empty(t, modules)
}

func TestCanonicalRenderIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "no-force-push.yml", validPolicy)

	sc, err := New()
	require.NoError(t, err)

	mod, err := sc.ScanFile(path, types.TierProject)
	require.NoError(t, err)

	first, err := CanonicalRender(*mod)
	require.NoError(t, err)
	second, err := CanonicalRender(*mod)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "no-force-push")
}
