// Package scanner walks a policy directory, parses each module's YAML
// front matter, and validates it against the metadata schema before the
// module is handed to the compiler. A module with missing or invalid
// metadata fails the scan loudly rather than being silently skipped.
package scanner

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/cupcake-sh/cupcake/internal/types"
	"github.com/cupcake-sh/cupcake/internal/util"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

const frontMatterDelim = "---"

// CompileError describes a single policy file that failed to scan,
// with enough context to locate and fix it.
type CompileError struct {
	Path   string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("scanner: %s: %s", e.Path, e.Reason)
}

// Scanner validates policy front matter against the metadata schema.
// One Scanner is reused across a whole directory walk so the schema is
// compiled once.
type Scanner struct {
	schema *jsonschema.Schema
}

// New compiles the embedded metadata schema and returns a ready Scanner.
func New() (*Scanner, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	raw, err := embeddedSchemas.ReadFile("schemas/metadata.json")
	if err != nil {
		return nil, fmt.Errorf("scanner: read embedded schema: %w", err)
	}
	if err := compiler.AddResource("mem://cupcake/scanner/metadata.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("scanner: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("mem://cupcake/scanner/metadata.json")
	if err != nil {
		return nil, fmt.Errorf("scanner: compile schema: %w", err)
	}
	return &Scanner{schema: schema}, nil
}

// Walk scans every *.yml/*.yaml policy file directly in dir and
// returns the parsed PolicyModule for each, tagged with tier. It does
// not recurse into subdirectories. A missing dir yields no modules and
// no error.
func (s *Scanner) Walk(dir string, tier types.Tier) ([]types.PolicyModule, error) {
	var modules []types.PolicyModule

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanner: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		path := filepath.Join(dir, name)
		mod, err := s.ScanFile(path, tier)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *mod)
	}

	return modules, nil
}

// ScanFile parses a single policy file's front matter and validates it.
func (s *Scanner) ScanFile(path string, tier types.Tier) (*types.PolicyModule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &CompileError{Path: path, Reason: err.Error()}
	}

	meta, body, err := splitFrontMatter(raw)
	if err != nil {
		return nil, &CompileError{Path: path, Reason: err.Error()}
	}

	var asJSON map[string]any
	if err := yaml.Unmarshal(meta, &asJSON); err != nil {
		return nil, &CompileError{Path: path, Reason: fmt.Sprintf("invalid metadata YAML: %v", err)}
	}
	if err := s.schema.Validate(asJSON); err != nil {
		return nil, &CompileError{Path: path, Reason: fmt.Sprintf("metadata schema violation: %v", err)}
	}

	var parsed struct {
		ID       string             `yaml:"id"`
		Events   []string           `yaml:"events"`
		Tools    []string           `yaml:"tools,omitempty"`
		Verb     types.Verb         `yaml:"verb"`
		Message  string             `yaml:"message,omitempty"`
		Priority int                `yaml:"priority,omitempty"`
		Signals  []types.SignalSpec `yaml:"signals,omitempty"`
		Actions  []types.ActionSpec `yaml:"actions,omitempty"`
	}
	if err := yaml.Unmarshal(meta, &parsed); err != nil {
		return nil, &CompileError{Path: path, Reason: fmt.Sprintf("invalid metadata fields: %v", err)}
	}

	mod := &types.PolicyModule{
		ID:          parsed.ID,
		Path:        path,
		Tier:        tier,
		Events:      parsed.Events,
		Tools:       parsed.Tools,
		Verb:        parsed.Verb,
		Message:     parsed.Message,
		Priority:    parsed.Priority,
		Signals:     parsed.Signals,
		Actions:     parsed.Actions,
		ContentHash: util.HashBytes(body),
	}
	return mod, nil
}

// CanonicalRender produces a stable-key-order YAML rendering of a
// compiled module's metadata, used by `cupcake verify` to print a
// deterministic summary of each policy for human review before the
// fail-closed compile check passes. Map key order in Go's yaml.v3
// encoder already follows struct field order, not map iteration order,
// so re-marshaling the module is sufficient to get a stable rendering.
func CanonicalRender(mod types.PolicyModule) (string, error) {
	out, err := yaml.Marshal(mod)
	if err != nil {
		return "", fmt.Errorf("scanner: canonical render %s: %w", mod.ID, err)
	}
	return string(out), nil
}

// splitFrontMatter separates the leading `---`-delimited YAML block
// from the condition-tree body that follows it.
func splitFrontMatter(raw []byte) (meta, body []byte, err error) {
	text := string(raw)
	if !strings.HasPrefix(strings.TrimLeft(text, "\n"), frontMatterDelim) {
		return nil, nil, fmt.Errorf("missing front matter delimiter %q", frontMatterDelim)
	}
	text = strings.TrimLeft(text, "\n")
	text = strings.TrimPrefix(text, frontMatterDelim)

	idx := strings.Index(text, "\n"+frontMatterDelim)
	if idx < 0 {
		return nil, nil, fmt.Errorf("unterminated front matter block")
	}
	meta = []byte(text[:idx])
	rest := text[idx+len(frontMatterDelim)+1:]
	body = []byte(strings.TrimLeft(rest, "\n"))
	return meta, body, nil
}
