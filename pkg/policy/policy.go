// Package policy decides whether a tool call may skip human confirmation.
//
// A call is auto-confirmed when the tool is eligible for auto approval and
// either a registered override approves it or the global auto-approve
// setting covers it. Global auto approval only takes effect after a
// one-time opt-in, which is asked for once per machine and remembered in
// the key-value store.
package policy

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/dialog"
	"github.com/rhuss/toolgate/pkg/settings"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/tools/naming"
)

// Setting and storage keys.
const (
	SettingGlobalAutoApprove         = "chat.tools.global.autoApprove"
	SettingEligibleForAutoApproval   = "chat.tools.eligibleForAutoApproval"
	StorageKeyGlobalAutoApproveOptIn = "chat.tools.global.autoApprove.optIn"
)

// AlwaysEligibleToolID is eligible for auto approval regardless of
// configuration.
const AlwaysEligibleToolID = "fetch_webpage_internal"

// Buttons of the opt-in prompt.
const (
	ButtonEnable  = "Enable"
	ButtonDisable = "Disable"
)

var optInPrompt = dialog.Prompt{
	Severity: dialog.SeverityWarning,
	Message:  "Enable global auto approve?",
	Detail: "Global auto approve disables manual approval for all tools in all workspaces, " +
		"so the agent can act without asking. Anything a tool can reach is exposed, " +
		"including credentials forwarded into containers.",
	Buttons: []string{ButtonEnable, ButtonDisable},
}

// Settings is the read/write view of the layered configuration.
type Settings interface {
	Inspect(key string) settings.Inspection
	UpdateValue(ctx context.Context, key string, value any) error
}

// Prompter asks the user a question with fixed answers.
type Prompter interface {
	Prompt(ctx context.Context, p dialog.Prompt) (string, error)
}

// Tools looks up registered tool metadata.
type Tools interface {
	GetTool(id string) (api.ToolData, bool)
}

// Request describes the call being checked.
type Request struct {
	ToolID string

	// RunsInWorkspace is nil when unknown.
	RunsInWorkspace *bool
	Source          api.ToolSource
	Parameters      map[string]any
	ChatSessionID   string
}

// Deps holds the collaborators of an Engine. Overrides may be nil.
type Deps struct {
	Tools     Tools
	Settings  Settings
	KV        storage.KVStore
	Prompter  Prompter
	Overrides Overrides
	Logger    *slog.Logger
}

// Engine implements the confirmation policy. It is safe for concurrent use.
type Engine struct {
	deps  Deps
	optIn singleflight.Group
}

// New creates an Engine.
func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Overrides == nil {
		deps.Overrides = NewOverrideSet()
	}
	return &Engine{deps: deps}
}

// IsToolEligibleForAutoApproval reports whether tool may ever be
// auto-confirmed. The eligibility setting is either a boolean for all tools
// or a map keyed by qualified name, legacy name, or the last segment of a
// legacy name. Tools not mentioned are eligible.
func (e *Engine) IsToolEligibleForAutoApproval(tool api.ToolData) bool {
	if tool.ID == AlwaysEligibleToolID {
		return true
	}
	cfg, ok := settings.ParseBoolOrMap(e.deps.Settings.Inspect(SettingEligibleForAutoApproval).Value)
	if !ok {
		return true
	}
	if cfg.All != nil {
		return *cfg.All
	}
	if v, found := cfg.Lookup(naming.ToolQualifiedName(tool)); found {
		return v
	}
	for _, legacy := range tool.LegacyToolReferenceFullNames {
		if v, found := cfg.Lookup(legacy); found {
			return v
		}
		if i := strings.LastIndex(legacy, "/"); i >= 0 {
			if v, found := cfg.Lookup(legacy[i+1:]); found {
				return v
			}
		}
	}
	return true
}

// ShouldAutoConfirm returns the reason a call needs no pre-execution
// confirmation, or nil when the user has to confirm it.
func (e *Engine) ShouldAutoConfirm(ctx context.Context, req Request) (*api.ConfirmedReason, error) {
	tool, ok := e.deps.Tools.GetTool(req.ToolID)
	if !ok || !e.IsToolEligibleForAutoApproval(tool) {
		return nil, nil
	}
	if reason := e.deps.Overrides.PreConfirmAction(ctx, req); reason != nil {
		debug.Log("policy", "pre-confirmation override", "tool", req.ToolID, "kind", reason.Kind)
		return reason, nil
	}
	if !globalAutoApproveCovers(e.deps.Settings.Inspect(SettingGlobalAutoApprove), req.ToolID, req.RunsInWorkspace) {
		return nil, nil
	}
	optedIn, err := e.checkGlobalAutoApprove(ctx)
	if err != nil {
		return nil, err
	}
	if !optedIn {
		return nil, nil
	}
	debug.Log("policy", "auto-confirmed by setting", "tool", req.ToolID)
	return settingReason(), nil
}

// ShouldAutoConfirmPostExecution returns the reason a result may be shared
// without confirmation, or nil.
func (e *Engine) ShouldAutoConfirmPostExecution(ctx context.Context, req Request) (*api.ConfirmedReason, error) {
	if globalAutoApproveEnabled(e.deps.Settings.Inspect(SettingGlobalAutoApprove).Value) {
		optedIn, err := e.checkGlobalAutoApprove(ctx)
		if err != nil {
			return nil, err
		}
		if optedIn {
			return settingReason(), nil
		}
	}
	return e.deps.Overrides.PostConfirmAction(ctx, req), nil
}

func settingReason() *api.ConfirmedReason {
	return &api.ConfirmedReason{Kind: api.ConfirmSettingApproved, SettingKey: SettingGlobalAutoApprove}
}

// globalAutoApproveCovers applies the layer rules of the global setting.
// When it is known where the tool runs, only layers that can legitimately
// govern that location are consulted.
func globalAutoApproveCovers(in settings.Inspection, toolID string, runsInWorkspace *bool) bool {
	value := in.Value
	if value == nil {
		value = in.Default
	}
	if runsInWorkspace != nil {
		value = firstDefined(in.UserLocal, in.Application)
		if *runsInWorkspace {
			value = firstDefined(in.Workspace, in.WorkspaceFolder, in.UserRemote, value)
		}
	}
	if settings.IsTrue(value) {
		return true
	}
	if m, ok := settings.ParseBoolOrMap(value); ok && m.All == nil {
		v, found := m.Lookup(toolID)
		return found && v
	}
	return false
}

// globalAutoApproveEnabled reports whether the setting is switched on in
// any form, a map value counting as on.
func globalAutoApproveEnabled(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case map[string]any, map[string]bool:
		return true
	}
	return false
}

func firstDefined(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// checkGlobalAutoApprove returns true once the user has opted in to global
// auto approval. Concurrent callers share a single prompt. Declining
// switches the setting off.
func (e *Engine) checkGlobalAutoApprove(ctx context.Context) (bool, error) {
	v, err, shared := e.optIn.Do(StorageKeyGlobalAutoApproveOptIn, func() (any, error) {
		optedIn, err := storage.GetBool(ctx, e.deps.KV, StorageKeyGlobalAutoApproveOptIn, storage.ScopeApplication, false)
		if err != nil {
			return false, err
		}
		if optedIn {
			return true, nil
		}

		answer, err := e.deps.Prompter.Prompt(ctx, optInPrompt)
		if err != nil {
			return false, err
		}
		if answer != ButtonEnable {
			e.deps.Logger.Info("global auto approve declined, switching it off")
			if err := e.deps.Settings.UpdateValue(ctx, SettingGlobalAutoApprove, false); err != nil {
				return false, err
			}
			return false, nil
		}

		if err := storage.SetBool(ctx, e.deps.KV, StorageKeyGlobalAutoApproveOptIn, true, storage.ScopeApplication, storage.TargetMachine); err != nil {
			return false, err
		}
		e.deps.Logger.Info("global auto approve enabled")
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if shared {
		debug.Log("policy", "shared opt-in check")
	}
	return v.(bool), nil
}
