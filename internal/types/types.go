// Package types holds the data model shared by every Cupcake component:
// the inbound harness event, the enriched input derived from it, the
// verb-tagged decisions policies emit, and the final synthesized response.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verb is the decision a single policy module can return for an event.
type Verb string

const (
	VerbHalt         Verb = "halt"
	VerbDeny         Verb = "deny"
	VerbBlock        Verb = "block"
	VerbAsk          Verb = "ask"
	VerbAllowOverride Verb = "allow_override"
	VerbAddContext   Verb = "add_context"
	VerbModify       Verb = "modify"
)

// verbPriority encodes the non-override precedence order used by the
// synthesizer: lower index wins. halt beats deny beats block beats ask
// beats allow_override beats add_context. modify is resolved separately.
var verbPriority = map[Verb]int{
	VerbHalt:          0,
	VerbDeny:          1,
	VerbBlock:         2,
	VerbAsk:           3,
	VerbAllowOverride: 4,
	VerbAddContext:    5,
	VerbModify:        6,
}

// Priority returns the verb's rank in the non-override precedence order.
// Lower values win. Unknown verbs sort last.
func (v Verb) Priority() int {
	if p, ok := verbPriority[v]; ok {
		return p
	}
	return len(verbPriority)
}

// Tier identifies which rulebook a decision came from. Global-tier
// halt/deny decisions cannot be overridden by a project-tier allow_override.
type Tier string

const (
	TierGlobal  Tier = "global"
	TierProject Tier = "project"
)

// Duration marshals as a millisecond integer in JSON responses, matching
// the wire convention harnesses expect for timing fields.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Event is the normalized form of whatever JSON a harness writes to
// stdin. HarnessRaw retains the untouched payload for audit purposes.
type Event struct {
	HarnessName string          `json:"harness_name"`
	EventName   string          `json:"event_name"`
	ToolName    string          `json:"tool_name,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	WorkingDir  string          `json:"working_dir,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	HarnessRaw  json.RawMessage `json:"-"`
}

// ToolEdit describes a single file mutation a tool call would make,
// used by the preprocessor to resolve symlinks and canonicalize paths
// before any policy sees them.
type ToolEdit struct {
	FilePath    string `json:"file_path"`
	OldString   string `json:"old_string,omitempty"`
	NewString   string `json:"new_string,omitempty"`
	FileContent string `json:"file_content,omitempty"`

	ResolvedFilePath string `json:"resolved_file_path,omitempty"`
	OriginalFilePath string `json:"original_file_path,omitempty"`
	IsSymlink        bool   `json:"is_symlink,omitempty"`
}

// EnrichedInput is the Event after the preprocessor has normalized
// whitespace, resolved paths, and extracted derived facts. Every
// component downstream of the preprocessor reads this, never Event.
type EnrichedInput struct {
	Event Event `json:"event"`

	ResolvedFilePath          string   `json:"resolved_file_path,omitempty"`
	OriginalFilePath          string   `json:"original_file_path,omitempty"`
	IsSymlink                 bool     `json:"is_symlink"`
	AffectedParentDirectories []string `json:"affected_parent_directories,omitempty"`

	ExecutedScriptPath    string `json:"executed_script_path,omitempty"`
	ExecutedScriptContent string `json:"executed_script_content,omitempty"`

	NormalizedCommand string `json:"normalized_command,omitempty"`
	Edits             []ToolEdit `json:"edits,omitempty"`

	// Signals carries the output of any external signal scripts the
	// router determined applied to this event, keyed by signal name.
	Signals map[string]json.RawMessage `json:"signals,omitempty"`
}

// RoutingKey is the (event_name, tool_name) pair the router keys policy
// lookups on. ToolName is empty for wildcard-tool policies and for
// event types that carry no tool (e.g. SessionStart).
type RoutingKey struct {
	EventName string
	ToolName  string
}

func (k RoutingKey) String() string {
	if k.ToolName == "" {
		return k.EventName
	}
	return fmt.Sprintf("%s:%s", k.EventName, k.ToolName)
}

// SignalSpec declares an external enrichment script a rule's condition
// tree may reference via a `signal` predicate.
type SignalSpec struct {
	Name       string   `yaml:"name" json:"name"`
	Command    string   `yaml:"command" json:"command"`
	Args       []string `yaml:"args,omitempty" json:"args,omitempty"`
	TimeoutMs  int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// ActionSpec declares an external script the dispatcher fires after
// synthesis, unconditionally of the script's own exit status. It binds
// by the final verb (On) and/or by the rule_id of a specific triggered
// decision (RuleIDs); an action with both set fires when either binding
// matches, and an action with neither set always fires.
type ActionSpec struct {
	Name      string   `yaml:"name" json:"name"`
	Command   string   `yaml:"command" json:"command"`
	Args      []string `yaml:"args,omitempty" json:"args,omitempty"`
	On        []Verb   `yaml:"on,omitempty" json:"on,omitempty"`
	RuleIDs   []string `yaml:"by_rule_id,omitempty" json:"by_rule_id,omitempty"`
	TimeoutMs int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// PolicyModule is a single compiled rule file: its routing metadata,
// its condition tree (opaque here; see package ruleset), and the
// signals/actions it declared in front matter.
type PolicyModule struct {
	ID       string       `json:"id"`
	Path     string       `json:"path"`
	Tier     Tier         `json:"tier"`
	Events   []string     `json:"events"`
	Tools    []string     `json:"tools,omitempty"`
	Verb     Verb         `json:"verb"`
	Signals  []SignalSpec `json:"signals,omitempty"`
	Actions  []ActionSpec `json:"actions,omitempty"`
	Message  string       `json:"message,omitempty"`
	Priority int          `json:"priority,omitempty"`

	ContentHash string `json:"content_hash"`
}

// Decision is one policy module's evaluated output for a single event.
type Decision struct {
	PolicyID string          `json:"policy_id"`
	Tier     Tier            `json:"tier"`
	Verb     Verb            `json:"verb"`
	Reason   string          `json:"reason,omitempty"`
	Context  string          `json:"context,omitempty"`
	Edits    []ToolEdit      `json:"edits,omitempty"`
	Matched  bool            `json:"matched"`
}

// DecisionSet is the full collection of per-policy decisions produced
// during one evaluation pass, before synthesis collapses them into a
// FinalDecision.
type DecisionSet struct {
	Global  []Decision `json:"global"`
	Project []Decision `json:"project"`
}

// Matched returns only the decisions whose condition tree fired.
func (s DecisionSet) Matched() []Decision {
	out := make([]Decision, 0, len(s.Global)+len(s.Project))
	for _, d := range s.Global {
		if d.Matched {
			out = append(out, d)
		}
	}
	for _, d := range s.Project {
		if d.Matched {
			out = append(out, d)
		}
	}
	return out
}

// FinalDecision is the synthesized outcome of a full evaluation: the
// single verb that wins priority across both tiers, plus any
// add_context strings gathered along the way and whether the winning
// verb came from the global (non-overridable) tier.
type FinalDecision struct {
	Verb         Verb       `json:"verb"`
	Reason       string     `json:"reason,omitempty"`
	FromGlobal   bool       `json:"from_global"`
	ContextAdds  []string   `json:"context_adds,omitempty"`
	Edits        []ToolEdit `json:"edits,omitempty"`
	WinningPolicy string    `json:"winning_policy,omitempty"`
}

// TrustManifest enumerates the scripts whose SHA-256 digests have been
// recorded by `cupcake trust update` and are therefore eligible to run
// as signals or actions. The digests are plain, unkeyed SHA-256 sums;
// the HMAC covers the manifest file as a whole, and only when the
// trust store holds a key.
type TrustManifest struct {
	Version int                  `yaml:"version" json:"version"`
	Entries map[string]TrustEntry `yaml:"entries" json:"entries"`
}

// TrustEntry is one script's recorded digest and the time it was trusted.
type TrustEntry struct {
	Path      string    `yaml:"path" json:"path"`
	Digest    string    `yaml:"digest" json:"digest"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// SignalResult records one signal script's outcome for audit purposes:
// whether it ran successfully within its timeout, and the error if not.
type SignalResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Transformations records which preprocessing steps actually altered
// the event on its way into an evaluation, for audit purposes.
type Transformations struct {
	CommandNormalized bool `json:"command_normalized,omitempty"`
	PathResolved      bool `json:"path_resolved,omitempty"`
	SymlinkDetected   bool `json:"symlink_detected,omitempty"`
	EditsCanonicalized bool `json:"edits_canonicalized,omitempty"`
}

// AuditRecord is the NDJSON line written for every evaluation, win or
// lose, for later inspection or external log shipping.
type AuditRecord struct {
	ID              string           `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	HarnessName     string           `json:"harness_name"`
	EventName       string           `json:"event_name"`
	ToolName        string           `json:"tool_name,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	Decision        FinalDecision    `json:"decision"`
	MatchedPolicies []string         `json:"matched_policies,omitempty"`
	Signals         []SignalResult   `json:"signals,omitempty"`
	Transformations Transformations  `json:"transformations"`
	Timing          PipelineTiming   `json:"timing"`
	Err             string           `json:"error,omitempty"`
}

// PipelineTiming records how long each evaluation stage took, surfaced
// in audit records.
type PipelineTiming struct {
	Preprocess Duration `json:"preprocess_ms"`
	Routing    Duration `json:"routing_ms"`
	Signals    Duration `json:"signals_ms"`
	Evaluate   Duration `json:"evaluate_ms"`
	Synthesize Duration `json:"synthesize_ms"`
	Total      Duration `json:"total_ms"`
}

// ErrorResponse is a warning/detail shape for a failed evaluation. The
// engine's fail-open path does not emit it: it reports the error in
// the FinalDecision's Reason, which the harness adapter formats as
// usual.
type ErrorResponse struct {
	Warning string `json:"warning"`
	Detail  string `json:"detail,omitempty"`
}
