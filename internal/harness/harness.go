// Package harness translates between each supported agent's own event
// and response JSON shapes and Cupcake's internal types.Event /
// types.FinalDecision. Each harness is a pure data-transform table: no
// harness-specific behavior lives anywhere else in the pipeline.
package harness

import (
	"encoding/json"
	"fmt"

	"github.com/cupcake-sh/cupcake/internal/types"
)

// Name identifies one of the supported front-ends.
type Name string

const (
	ClaudeCode Name = "claude-code"
	Cursor     Name = "cursor"
	Factory    Name = "factory"
	OpenCode   Name = "opencode"
)

// Adapter extracts a normalized Event from a harness's raw stdin
// payload and formats a FinalDecision back into that harness's
// expected response shape.
type Adapter interface {
	ExtractEvent(raw json.RawMessage) (types.Event, error)
	FormatResponse(ev types.Event, final types.FinalDecision) (json.RawMessage, error)
}

// For returns the Adapter registered for name.
func For(name Name) (Adapter, error) {
	a, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("harness: unknown harness %q", name)
	}
	return a, nil
}

var registry = map[Name]Adapter{
	ClaudeCode: claudeCodeAdapter{},
	Cursor:     cursorAdapter{},
	Factory:    factoryAdapter{},
	OpenCode:   openCodeAdapter{},
}

// claudeCodeAdapter implements Claude Code's PreToolUse/PostToolUse
// hook JSON contract: hookSpecificOutput.permissionDecision of
// "allow"/"deny"/"ask", plus an optional additionalContext string.
type claudeCodeAdapter struct{}

func (claudeCodeAdapter) ExtractEvent(raw json.RawMessage) (types.Event, error) {
	var v struct {
		HookEventName  string          `json:"hook_event_name"`
		ToolName       string          `json:"tool_name"`
		ToolInput      json.RawMessage `json:"tool_input"`
		SessionID      string          `json:"session_id"`
		CWD            string          `json:"cwd"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return types.Event{}, fmt.Errorf("harness: claude-code decode: %w", err)
	}
	return types.Event{
		HarnessName: string(ClaudeCode),
		EventName:   v.HookEventName,
		ToolName:    v.ToolName,
		ToolInput:   v.ToolInput,
		SessionID:   v.SessionID,
		WorkingDir:  v.CWD,
		HarnessRaw:  raw,
	}, nil
}

func (claudeCodeAdapter) FormatResponse(ev types.Event, final types.FinalDecision) (json.RawMessage, error) {
	decision, reason := claudeCodeDecision(final)

	out := map[string]any{
		"hookSpecificOutput": map[string]any{
			"hookEventName":      ev.EventName,
			"permissionDecision": decision,
		},
	}
	if reason != "" {
		out["hookSpecificOutput"].(map[string]any)["permissionDecisionReason"] = reason
	}
	if len(final.ContextAdds) > 0 {
		out["hookSpecificOutput"].(map[string]any)["additionalContext"] = joinContext(final.ContextAdds)
	}
	return json.Marshal(out)
}

func claudeCodeDecision(final types.FinalDecision) (decision, reason string) {
	switch final.Verb {
	case types.VerbHalt, types.VerbDeny, types.VerbBlock:
		return "deny", final.Reason
	case types.VerbAsk:
		return "ask", final.Reason
	default:
		return "allow", final.Reason
	}
}

// cursorAdapter implements Cursor's beforeShellExecution /
// beforeMCPExecution hook shape: a top-level `permission` of
// "allow"/"deny"/"ask" and a `userMessage`/`agentMessage` pair.
type cursorAdapter struct{}

func (cursorAdapter) ExtractEvent(raw json.RawMessage) (types.Event, error) {
	var v struct {
		HookType  string          `json:"hook_type"`
		Command   json.RawMessage `json:"command"`
		ToolName  string          `json:"tool_name"`
		Workspace string          `json:"workspace_roots"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return types.Event{}, fmt.Errorf("harness: cursor decode: %w", err)
	}
	toolInput := v.Command
	if toolInput == nil {
		toolInput = json.RawMessage("{}")
	}
	return types.Event{
		HarnessName: string(Cursor),
		EventName:   v.HookType,
		ToolName:    v.ToolName,
		ToolInput:   toolInput,
		WorkingDir:  v.Workspace,
		HarnessRaw:  raw,
	}, nil
}

func (cursorAdapter) FormatResponse(ev types.Event, final types.FinalDecision) (json.RawMessage, error) {
	permission := "allow"
	switch final.Verb {
	case types.VerbHalt, types.VerbDeny, types.VerbBlock:
		permission = "deny"
	case types.VerbAsk:
		permission = "ask"
	}

	out := map[string]any{"permission": permission}
	if final.Reason != "" {
		out["userMessage"] = final.Reason
		out["agentMessage"] = final.Reason
	}
	if len(final.ContextAdds) > 0 {
		out["agentMessage"] = joinContext(final.ContextAdds)
	}
	return json.Marshal(out)
}

// factoryAdapter implements Factory's droid command-hook response:
// a simple `action` enum plus `message`.
type factoryAdapter struct{}

func (factoryAdapter) ExtractEvent(raw json.RawMessage) (types.Event, error) {
	var v struct {
		Event     string          `json:"event"`
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
		SessionID string          `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return types.Event{}, fmt.Errorf("harness: factory decode: %w", err)
	}
	return types.Event{
		HarnessName: string(Factory),
		EventName:   v.Event,
		ToolName:    v.Tool,
		ToolInput:   v.Arguments,
		SessionID:   v.SessionID,
		HarnessRaw:  raw,
	}, nil
}

func (factoryAdapter) FormatResponse(ev types.Event, final types.FinalDecision) (json.RawMessage, error) {
	action := "continue"
	switch final.Verb {
	case types.VerbHalt, types.VerbDeny, types.VerbBlock:
		action = "block"
	case types.VerbAsk:
		action = "confirm"
	}

	out := map[string]any{"action": action}
	if final.Reason != "" {
		out["message"] = final.Reason
	}
	if len(final.ContextAdds) > 0 {
		out["context"] = final.ContextAdds
	}
	return json.Marshal(out)
}

// openCodeAdapter implements OpenCode's plugin tool-call hook: a
// `status` field of "ok"/"error"/"needs_confirmation".
type openCodeAdapter struct{}

func (openCodeAdapter) ExtractEvent(raw json.RawMessage) (types.Event, error) {
	var v struct {
		Hook    string          `json:"hook"`
		Tool    string          `json:"tool"`
		Input   json.RawMessage `json:"input"`
		Session string          `json:"session"`
		Dir     string          `json:"directory"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return types.Event{}, fmt.Errorf("harness: opencode decode: %w", err)
	}
	return types.Event{
		HarnessName: string(OpenCode),
		EventName:   v.Hook,
		ToolName:    v.Tool,
		ToolInput:   v.Input,
		SessionID:   v.Session,
		WorkingDir:  v.Dir,
		HarnessRaw:  raw,
	}, nil
}

func (openCodeAdapter) FormatResponse(ev types.Event, final types.FinalDecision) (json.RawMessage, error) {
	status := "ok"
	switch final.Verb {
	case types.VerbHalt, types.VerbDeny, types.VerbBlock:
		status = "error"
	case types.VerbAsk:
		status = "needs_confirmation"
	}

	out := map[string]any{"status": status}
	if final.Reason != "" {
		out["message"] = final.Reason
	}
	if len(final.ContextAdds) > 0 {
		out["context"] = joinContext(final.ContextAdds)
	}
	return json.Marshal(out)
}

func joinContext(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
