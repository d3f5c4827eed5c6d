package api

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rhuss/toolgate/pkg/when"
)

// SourceKind identifies where a tool or tool set was contributed from.
type SourceKind string

const (
	SourceInternal  SourceKind = "internal"
	SourceExtension SourceKind = "extension"
	SourceMCP       SourceKind = "mcp"
	SourceUser      SourceKind = "user"
)

// ToolSource describes the origin of a tool or tool set.
type ToolSource struct {
	Kind SourceKind `json:"type"`

	// ExtensionID is set for extension sources.
	ExtensionID string `json:"extension_id,omitempty"`

	// ServerLabel names the MCP server for mcp sources.
	ServerLabel string `json:"server_label,omitempty"`

	// CollectionID groups MCP servers contributed from one config.
	CollectionID string `json:"collection_id,omitempty"`

	// File is the definition file for user sources.
	File string `json:"file,omitempty"`
}

// InternalSource is the source of built-in tools.
var InternalSource = ToolSource{Kind: SourceInternal}

// ExtensionSource returns an extension source for the given extension id.
func ExtensionSource(extensionID string) ToolSource {
	return ToolSource{Kind: SourceExtension, ExtensionID: extensionID}
}

// MCPSource returns an MCP source for the given server.
func MCPSource(serverLabel string) ToolSource {
	return ToolSource{Kind: SourceMCP, ServerLabel: serverLabel}
}

// UserSource returns a user source backed by the given file.
func UserSource(file string) ToolSource {
	return ToolSource{Kind: SourceUser, File: file}
}

// ToolData is the metadata registered for a tool. It is immutable after
// registration; the registry stores and hands out copies.
type ToolData struct {
	ID                string     `json:"id"`
	ToolReferenceName string     `json:"tool_reference_name,omitempty"`
	DisplayName       string     `json:"display_name"`
	ModelDescription  string     `json:"model_description"`
	UserDescription   string     `json:"user_description,omitempty"`
	Source            ToolSource `json:"source"`

	// When gates visibility. A nil predicate is always true.
	When when.Expr `json:"-"`

	CanBeReferencedInPrompt  bool `json:"can_be_referenced_in_prompt"`
	AlwaysDisplayInputOutput bool `json:"always_display_input_output"`

	// RunsInWorkspace is nil when it is unknown whether the tool acts on
	// the workspace or at a global level.
	RunsInWorkspace *bool `json:"runs_in_workspace,omitempty"`

	LegacyToolReferenceFullNames []string `json:"legacy_tool_reference_full_names,omitempty"`

	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// ReferenceName returns the tool reference name, falling back to the
// display name.
func (t ToolData) ReferenceName() string {
	if t.ToolReferenceName != "" {
		return t.ToolReferenceName
	}
	return t.DisplayName
}

// Clone returns a deep copy of t's slices so the copy can be stored safely.
func (t ToolData) Clone() ToolData {
	t.LegacyToolReferenceFullNames = slices.Clone(t.LegacyToolReferenceFullNames)
	t.InputSchema = slices.Clone(t.InputSchema)
	t.Tags = slices.Clone(t.Tags)
	if t.RunsInWorkspace != nil {
		v := *t.RunsInWorkspace
		t.RunsInWorkspace = &v
	}
	return t
}

// ToolSet is a named, sourced group of tools. Membership is owned by the
// registry.
type ToolSet struct {
	ID              string     `json:"id"`
	ReferenceName   string     `json:"reference_name"`
	Description     string     `json:"description,omitempty"`
	Icon            string     `json:"icon,omitempty"`
	Source          ToolSource `json:"source"`
	LegacyFullNames []string   `json:"legacy_full_names,omitempty"`
}

// Clone returns a copy of s that shares no slices with it.
func (s ToolSet) Clone() ToolSet {
	s.LegacyFullNames = slices.Clone(s.LegacyFullNames)
	return s
}

// Bool returns a pointer to b, for RunsInWorkspace literals.
func Bool(b bool) *bool { return &b }

// ChatContext ties an invocation to a chat session.
type ChatContext struct {
	SessionID string `json:"session_id"`

	// RequestID and ModelID are derived from the session's latest request
	// by the orchestrator; callers leave them empty.
	RequestID string `json:"request_id,omitempty"`
	ModelID   string `json:"model_id,omitempty"`
}

// Invocation is one call of a tool.
type Invocation struct {
	CallID     string         `json:"call_id"`
	ToolID     string         `json:"tool_id"`
	Parameters map[string]any `json:"parameters"`

	// Context is nil for calls made outside a chat session.
	Context *ChatContext `json:"context,omitempty"`

	ToolSpecificData *ToolSpecificData `json:"tool_specific_data,omitempty"`
	FromSubAgent     bool              `json:"from_sub_agent,omitempty"`
}

// Tool-specific data kinds.
const (
	ToolDataKindInput    = "input"
	ToolDataKindTerminal = "terminal"
)

// ToolSpecificData carries presentation data produced by prepare. The
// "input" kind holds the raw parameters so a user can review or edit them
// before approval.
type ToolSpecificData struct {
	Kind     string         `json:"kind"`
	RawInput map[string]any `json:"raw_input,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// ConfirmationMessages asks the user to approve a call or its result.
type ConfirmationMessages struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Disclaimer string `json:"disclaimer,omitempty"`

	// AllowAutoConfirm is nil when the implementation expressed no
	// preference. False keeps the call waiting for the user even when the
	// policy would approve it.
	AllowAutoConfirm *bool `json:"allow_auto_confirm,omitempty"`
}

// PrepareContext is passed to ToolPreparer.PrepareToolInvocation.
type PrepareContext struct {
	Parameters    map[string]any
	ChatSessionID string
	ChatRequestID string
}

// PreparedInvocation is the result of preparing a call.
type PreparedInvocation struct {
	InvocationMessage    string                `json:"invocation_message,omitempty"`
	PastTenseMessage     string                `json:"past_tense_message,omitempty"`
	OriginMessage        string                `json:"origin_message,omitempty"`
	ConfirmationMessages *ConfirmationMessages `json:"confirmation_messages,omitempty"`
	ToolSpecificData     *ToolSpecificData     `json:"tool_specific_data,omitempty"`
	Hidden               bool                  `json:"hidden,omitempty"`
}

// NeedsConfirmation reports whether p requests a pre-execution confirmation.
func (p *PreparedInvocation) NeedsConfirmation() bool {
	return p != nil && p.ConfirmationMessages != nil && p.ConfirmationMessages.Title != ""
}

// ProgressStep is a progress update reported by an implementation.
type ProgressStep struct {
	Message   string  `json:"message,omitempty"`
	Increment float64 `json:"increment,omitempty"`
}

// ProgressReporter receives progress updates during Invoke.
type ProgressReporter interface {
	Report(step ProgressStep)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(ProgressStep)

func (f ProgressFunc) Report(step ProgressStep) { f(step) }

// CountTokensFunc counts tokens in text for the calling model.
type CountTokensFunc func(ctx context.Context, text string) (int, error)

// ToolImplementation executes a tool. Cancellation is signalled through ctx.
type ToolImplementation interface {
	Invoke(ctx context.Context, inv *Invocation, countTokens CountTokensFunc, progress ProgressReporter) (*ToolResult, error)
}

// ToolPreparer is optionally implemented by a ToolImplementation to
// produce confirmation messages and presentation data before Invoke.
type ToolPreparer interface {
	PrepareToolInvocation(ctx context.Context, pctx PrepareContext) (*PreparedInvocation, error)
}

// ToolFunc adapts a function to ToolImplementation.
type ToolFunc func(ctx context.Context, inv *Invocation, countTokens CountTokensFunc, progress ProgressReporter) (*ToolResult, error)

func (f ToolFunc) Invoke(ctx context.Context, inv *Invocation, countTokens CountTokensFunc, progress ProgressReporter) (*ToolResult, error) {
	return f(ctx, inv, countTokens, progress)
}

// EnablementKey identifies a tool or a tool set in an EnablementMap.
type EnablementKey struct {
	ToolSet bool
	ID      string
}

// ToolKey returns the key of a tool.
func ToolKey(id string) EnablementKey { return EnablementKey{ID: id} }

// ToolSetKey returns the key of a tool set.
func ToolSetKey(id string) EnablementKey { return EnablementKey{ToolSet: true, ID: id} }

// EnablementMap records which tools and tool sets are enabled.
type EnablementMap map[EnablementKey]bool

type enablementJSON struct {
	Tools    map[string]bool `json:"tools"`
	ToolSets map[string]bool `json:"tool_sets"`
}

// MarshalJSON encodes m as separate tool and tool set objects.
func (m EnablementMap) MarshalJSON() ([]byte, error) {
	out := enablementJSON{Tools: map[string]bool{}, ToolSets: map[string]bool{}}
	for k, v := range m {
		if k.ToolSet {
			out.ToolSets[k.ID] = v
		} else {
			out.Tools[k.ID] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (m *EnablementMap) UnmarshalJSON(b []byte) error {
	var in enablementJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*m = make(EnablementMap, len(in.Tools)+len(in.ToolSets))
	for id, v := range in.Tools {
		(*m)[ToolKey(id)] = v
	}
	for id, v := range in.ToolSets {
		(*m)[ToolSetKey(id)] = v
	}
	return nil
}
