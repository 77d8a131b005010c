// Package router provides O(1) lookup from an incoming event's
// (event_name, tool_name) pair to the policy modules that apply to it,
// built once per evaluation from the scanner's output.
package router

import (
	"github.com/cupcake-sh/cupcake/internal/types"
)

// Table maps event/tool pairs to the policy modules that should run
// for them. Built by Build and read-only once constructed, so a Table
// is safe to share across concurrent Lookup calls.
type Table struct {
	// byTool holds event -> tool -> modules for tool-specific policies.
	byTool map[string]map[string][]types.PolicyModule
	// wildcard holds event -> modules for policies with no Tools list,
	// which apply regardless of which tool fired the event.
	wildcard map[string][]types.PolicyModule
}

// Build indexes modules into a Table. A module with an empty Tools
// list is treated as matching every tool for its declared events.
func Build(modules []types.PolicyModule) *Table {
	t := &Table{
		byTool:   make(map[string]map[string][]types.PolicyModule),
		wildcard: make(map[string][]types.PolicyModule),
	}

	for _, mod := range modules {
		for _, event := range mod.Events {
			if len(mod.Tools) == 0 {
				t.wildcard[event] = append(t.wildcard[event], mod)
				continue
			}
			if t.byTool[event] == nil {
				t.byTool[event] = make(map[string][]types.PolicyModule)
			}
			for _, tool := range mod.Tools {
				t.byTool[event][tool] = append(t.byTool[event][tool], mod)
			}
		}
	}

	return t
}

// Lookup returns every module routed to key, merging tool-specific
// matches with wildcard-tool matches for the same event. Order is
// tool-specific first, then wildcard, both in scan order.
func (t *Table) Lookup(key types.RoutingKey) []types.PolicyModule {
	var out []types.PolicyModule

	if key.ToolName != "" {
		if byEvent, ok := t.byTool[key.EventName]; ok {
			out = append(out, byEvent[key.ToolName]...)
		}
	}
	out = append(out, t.wildcard[key.EventName]...)

	return out
}

// Dump returns a flattened event->tool->[]policy-id view of the table,
// used to satisfy CUPCAKE_DEBUG_ROUTING.
func (t *Table) Dump() map[string]map[string][]string {
	out := make(map[string]map[string][]string)

	for event, byTool := range t.byTool {
		if out[event] == nil {
			out[event] = make(map[string][]string)
		}
		for tool, mods := range byTool {
			for _, m := range mods {
				out[event][tool] = append(out[event][tool], m.ID)
			}
		}
	}
	for event, mods := range t.wildcard {
		if out[event] == nil {
			out[event] = make(map[string][]string)
		}
		for _, m := range mods {
			out[event]["*"] = append(out[event]["*"], m.ID)
		}
	}

	return out
}
