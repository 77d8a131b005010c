// Package preprocess normalizes a raw harness event into an
// EnrichedInput before any policy sees it: whitespace and quoting in
// shell commands, symlink-resolved file paths, and the parent
// directories a destructive command would actually touch. Running this
// once up front means every condition-tree predicate downstream can
// assume canonical, idempotent input.
package preprocess

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cupcake-sh/cupcake/internal/types"
)

// destructiveVerbs are shell command prefixes whose parent directories
// are worth extracting for condition trees that gate on "don't touch
// this directory" regardless of the exact command used.
var destructiveVerbs = []string{"rm", "mv", "rmdir", "truncate", "shred"}

// Run derives an EnrichedInput from a raw event. It is a pure function
// of the event, and its normalizations are idempotent: normalizing an
// already-normalized command or resolved path leaves it unchanged.
func Run(ev types.Event) (types.EnrichedInput, error) {
	enriched := types.EnrichedInput{Event: ev}

	if path := extractFilePath(ev.ToolInput); path != "" {
		enriched.OriginalFilePath = path
		resolved, isLink, err := resolvePath(path)
		if err != nil {
			// A file that doesn't exist yet (a Write creating a new
			// file) is not an error; fall back to the lexically
			// cleaned path.
			resolved = filepath.Clean(path)
		}
		enriched.ResolvedFilePath = resolved
		enriched.IsSymlink = isLink
	}

	if cmd := extractCommand(ev.ToolInput); cmd != "" {
		enriched.NormalizedCommand = NormalizeWhitespace(cmd)
		enriched.AffectedParentDirectories = parentDirsForCommand(enriched.NormalizedCommand)
	}

	if edits := extractEdits(ev.ToolInput); len(edits) > 0 {
		for i := range edits {
			if edits[i].FilePath == "" {
				continue
			}
			edits[i].OriginalFilePath = edits[i].FilePath
			resolved, isLink, err := resolvePath(edits[i].FilePath)
			if err != nil {
				resolved = filepath.Clean(edits[i].FilePath)
			}
			edits[i].ResolvedFilePath = resolved
			edits[i].IsSymlink = isLink
		}
		enriched.Edits = edits
	}

	return enriched, nil
}

// NormalizeWhitespace collapses runs of ASCII and Unicode whitespace
// to single spaces and trims surrounding whitespace, while preserving
// the contents of single- and double-quoted spans untouched. This is
// what keeps a rule like `command_contains: "rm -rf /"` from being
// defeated by an agent inserting extra spaces or tabs outside quotes.
func NormalizeWhitespace(s string) string {
	var out strings.Builder
	var quote rune
	lastWasSpace := false

	for _, r := range s {
		if quote != 0 {
			out.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		if r == '\'' || r == '"' {
			quote = r
			out.WriteRune(r)
			lastWasSpace = false
			continue
		}
		if unicode.IsSpace(r) {
			if !lastWasSpace && out.Len() > 0 {
				out.WriteByte(' ')
			}
			lastWasSpace = true
			continue
		}
		out.WriteRune(r)
		lastWasSpace = false
	}

	return strings.TrimSpace(out.String())
}

// resolvePath canonicalizes a path through any symlinks in its
// ancestry. It reports isSymlink whenever the resolved path differs
// from the absolute input, so both "edit resolves to a symlink" and
// "edit is inside a symlinked directory" are reported as true; the two
// cases are not distinguished.
func resolvePath(path string) (resolved string, isSymlink bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, err
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false, err
	}

	return real, real != abs, nil
}

func parentDirsForCommand(cmd string) []string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return nil
	}

	verb := fields[0]
	destructive := false
	for _, v := range destructiveVerbs {
		if verb == v {
			destructive = true
			break
		}
	}
	if !destructive {
		return nil
	}

	var dirs []string
	for _, arg := range fields[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		dirs = append(dirs, filepath.Dir(arg))
	}
	return dirs
}

func extractFilePath(toolInput json.RawMessage) string {
	var v struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal(toolInput, &v); err != nil {
		return ""
	}
	if v.FilePath != "" {
		return v.FilePath
	}
	return v.Path
}

func extractCommand(toolInput json.RawMessage) string {
	var v struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(toolInput, &v); err != nil {
		return ""
	}
	return v.Command
}

func extractEdits(toolInput json.RawMessage) []types.ToolEdit {
	var single types.ToolEdit
	if err := json.Unmarshal(toolInput, &single); err == nil && single.FilePath != "" {
		return []types.ToolEdit{single}
	}

	var multi struct {
		Edits []types.ToolEdit `json:"edits"`
	}
	if err := json.Unmarshal(toolInput, &multi); err == nil && len(multi.Edits) > 0 {
		return multi.Edits
	}
	return nil
}
