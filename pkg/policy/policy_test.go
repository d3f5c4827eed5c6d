package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/dialog"
	"github.com/rhuss/toolgate/pkg/settings"
	"github.com/rhuss/toolgate/pkg/storage"
	"github.com/rhuss/toolgate/pkg/storage/memory"
)

type toolMap map[string]api.ToolData

func (m toolMap) GetTool(id string) (api.ToolData, bool) {
	t, ok := m[id]
	return t, ok
}

// mockPrompter answers every prompt with a fixed button, optionally
// waiting for release first.
type mockPrompter struct {
	answer  string
	release chan struct{}
	calls   atomic.Int32
}

func (p *mockPrompter) Prompt(ctx context.Context, _ dialog.Prompt) (string, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.answer, nil
}

type harness struct {
	engine   *Engine
	settings *settings.Store
	kv       *memory.Store
	prompter *mockPrompter
	over     *OverrideSet
}

func newHarness(t *testing.T, answer string) *harness {
	t.Helper()
	s, err := settings.New()
	if err != nil {
		t.Fatal(err)
	}
	tools := toolMap{
		"read_file":              {ID: "read_file", ToolReferenceName: "readFile", Source: api.InternalSource},
		"fetch_webpage_internal": {ID: "fetch_webpage_internal", ToolReferenceName: "fetch", Source: api.InternalSource},
		"run_in_terminal": {
			ID: "run_in_terminal", ToolReferenceName: "runInTerminal", Source: api.InternalSource,
			LegacyToolReferenceFullNames: []string{"runCommands/runInTerminalLegacy"},
		},
		"lint": {ID: "lint", ToolReferenceName: "lint", Source: api.ExtensionSource("Acme.Tools")},
	}
	h := &harness{
		settings: s,
		kv:       memory.New(),
		prompter: &mockPrompter{answer: answer},
		over:     NewOverrideSet(),
	}
	h.engine = New(Deps{
		Tools:     tools,
		Settings:  s,
		KV:        h.kv,
		Prompter:  h.prompter,
		Overrides: h.over,
	})
	return h
}

func (h *harness) set(t *testing.T, key string, value any, target settings.Target) {
	t.Helper()
	if err := h.settings.Update(context.Background(), key, value, target); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) optIn(t *testing.T) {
	t.Helper()
	if err := storage.SetBool(context.Background(), h.kv, StorageKeyGlobalAutoApproveOptIn, true, storage.ScopeApplication, storage.TargetMachine); err != nil {
		t.Fatal(err)
	}
}

func TestIsToolEligibleForAutoApproval(t *testing.T) {
	tests := []struct {
		name    string
		setting any
		tool    string
		want    bool
	}{
		{"unset", nil, "read_file", true},
		{"bool false applies to all", false, "read_file", false},
		{"always eligible", false, "fetch_webpage_internal", true},
		{"map by qualified name", map[string]any{"readFile": false}, "read_file", false},
		{"map other tool", map[string]any{"readFile": false}, "run_in_terminal", true},
		{"map by legacy name", map[string]any{"runCommands/runInTerminalLegacy": false}, "run_in_terminal", false},
		{"map by legacy last segment", map[string]any{"runInTerminalLegacy": false}, "run_in_terminal", false},
		{"map by extension name", map[string]any{"acme.tools/lint": false}, "lint", false},
		{"map cannot block fetch", map[string]any{"fetch": false}, "fetch_webpage_internal", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ButtonEnable)
			if tt.setting != nil {
				h.set(t, SettingEligibleForAutoApproval, tt.setting, settings.TargetUserLocal)
			}
			tool, _ := h.engine.deps.Tools.GetTool(tt.tool)
			if got := h.engine.IsToolEligibleForAutoApproval(tool); got != tt.want {
				t.Errorf("eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldAutoConfirm_GlobalSetting(t *testing.T) {
	ctx := context.Background()

	t.Run("off", func(t *testing.T) {
		h := newHarness(t, ButtonEnable)
		r, err := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"})
		if err != nil || r != nil {
			t.Errorf("got %v, %v; want nil", r, err)
		}
		if h.prompter.calls.Load() != 0 {
			t.Error("prompted with the setting off")
		}
	})

	t.Run("on and opted in", func(t *testing.T) {
		h := newHarness(t, ButtonEnable)
		h.optIn(t)
		h.set(t, SettingGlobalAutoApprove, true, settings.TargetUserLocal)
		r, err := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"})
		if err != nil {
			t.Fatal(err)
		}
		if r == nil || r.Kind != api.ConfirmSettingApproved || r.SettingKey != SettingGlobalAutoApprove {
			t.Errorf("reason = %+v", r)
		}
		if h.prompter.calls.Load() != 0 {
			t.Error("prompted although already opted in")
		}
	})

	t.Run("first use enables", func(t *testing.T) {
		h := newHarness(t, ButtonEnable)
		h.set(t, SettingGlobalAutoApprove, true, settings.TargetUserLocal)
		r, err := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"})
		if err != nil || r == nil {
			t.Fatalf("got %v, %v", r, err)
		}
		if opted, _ := storage.GetBool(ctx, h.kv, StorageKeyGlobalAutoApproveOptIn, storage.ScopeApplication, false); !opted {
			t.Error("opt-in not persisted")
		}
		if _, err := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"}); err != nil {
			t.Fatal(err)
		}
		if n := h.prompter.calls.Load(); n != 1 {
			t.Errorf("prompted %d times, want 1", n)
		}
	})

	t.Run("first use declined", func(t *testing.T) {
		h := newHarness(t, ButtonDisable)
		h.set(t, SettingGlobalAutoApprove, true, settings.TargetWorkspace)
		r, err := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"})
		if err != nil || r != nil {
			t.Fatalf("got %v, %v; want nil", r, err)
		}
		if v := h.settings.Inspect(SettingGlobalAutoApprove).Workspace; v != false {
			t.Errorf("setting not switched off in its layer: %v", v)
		}
	})

	t.Run("map value", func(t *testing.T) {
		h := newHarness(t, ButtonEnable)
		h.optIn(t)
		h.set(t, SettingGlobalAutoApprove, map[string]any{"read_file": true, "lint": false}, settings.TargetUserLocal)
		if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"}); r == nil {
			t.Error("mapped tool not approved")
		}
		if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "lint"}); r != nil {
			t.Error("tool mapped to false approved")
		}
		if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "run_in_terminal"}); r != nil {
			t.Error("unmapped tool approved")
		}
	})

	t.Run("ineligible wins", func(t *testing.T) {
		h := newHarness(t, ButtonEnable)
		h.optIn(t)
		h.set(t, SettingGlobalAutoApprove, true, settings.TargetUserLocal)
		h.set(t, SettingEligibleForAutoApproval, map[string]any{"readFile": false}, settings.TargetUserLocal)
		h.over.Register(Override{Pre: func(context.Context, Request) *api.ConfirmedReason {
			return &api.ConfirmedReason{Kind: api.ConfirmUserApproved}
		}})
		if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"}); r != nil {
			t.Errorf("ineligible tool auto-confirmed: %+v", r)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		h := newHarness(t, ButtonEnable)
		h.set(t, SettingGlobalAutoApprove, true, settings.TargetUserLocal)
		if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "nope"}); r != nil {
			t.Error("unknown tool auto-confirmed")
		}
	})
}

func TestShouldAutoConfirm_RunsInWorkspace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ButtonEnable)
	h.optIn(t)
	h.set(t, SettingGlobalAutoApprove, true, settings.TargetWorkspace)

	if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file"}); r == nil {
		t.Error("unknown location: workspace value should apply")
	}
	if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file", RunsInWorkspace: api.Bool(false)}); r != nil {
		t.Error("global tool approved by a workspace layer")
	}
	if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file", RunsInWorkspace: api.Bool(true)}); r == nil {
		t.Error("workspace tool not approved by the workspace layer")
	}

	h.set(t, SettingGlobalAutoApprove, false, settings.TargetWorkspace)
	h.set(t, SettingGlobalAutoApprove, true, settings.TargetApplication)
	if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file", RunsInWorkspace: api.Bool(false)}); r == nil {
		t.Error("global tool not approved by the application layer")
	}
	if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file", RunsInWorkspace: api.Bool(true)}); r != nil {
		t.Error("workspace layer false should override for a workspace tool")
	}
}

func TestShouldAutoConfirm_Override(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ButtonEnable)
	allow := NewSessionAllowList()
	d := h.over.Register(allow.Override())

	req := Request{ToolID: "read_file", ChatSessionID: "s1"}
	if r, _ := h.engine.ShouldAutoConfirm(ctx, req); r != nil {
		t.Fatal("approved before allow")
	}
	allow.Allow("s1", "read_file")
	r, _ := h.engine.ShouldAutoConfirm(ctx, req)
	if r == nil || r.Kind != api.ConfirmUserApproved || r.Scope != "session" {
		t.Errorf("reason = %+v", r)
	}
	if r, _ := h.engine.ShouldAutoConfirm(ctx, Request{ToolID: "read_file", ChatSessionID: "s2"}); r != nil {
		t.Error("allow list leaked across sessions")
	}

	allow.Forget("s1")
	if allow.Allowed("s1", "read_file") {
		t.Error("Forget kept the approval")
	}
	allow.Allow("s1", "read_file")
	d.Dispose()
	if r, _ := h.engine.ShouldAutoConfirm(ctx, req); r != nil {
		t.Error("disposed override still consulted")
	}
}

func TestCheckGlobalAutoApprove_SinglePrompt(t *testing.T) {
	h := newHarness(t, ButtonEnable)
	h.prompter.release = make(chan struct{})
	h.set(t, SettingGlobalAutoApprove, true, settings.TargetUserLocal)

	const callers = 8
	var wg sync.WaitGroup
	var approved atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.engine.ShouldAutoConfirm(context.Background(), Request{ToolID: "read_file"})
			if err != nil {
				t.Error(err)
				return
			}
			if r != nil {
				approved.Add(1)
			}
		}()
	}

	deadline := time.Now().Add(time.Second)
	for h.prompter.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(h.prompter.release)
	wg.Wait()

	if n := h.prompter.calls.Load(); n != 1 {
		t.Errorf("opt-in prompted %d times, want 1", n)
	}
	if n := approved.Load(); n != callers {
		t.Errorf("%d callers approved, want %d", n, callers)
	}
}

func TestShouldAutoConfirmPostExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ButtonEnable)

	if r, _ := h.engine.ShouldAutoConfirmPostExecution(ctx, Request{ToolID: "read_file"}); r != nil {
		t.Errorf("no setting, no override: %+v", r)
	}

	h.over.Register(Override{Post: func(_ context.Context, req Request) *api.ConfirmedReason {
		if req.ToolID == "read_file" {
			return &api.ConfirmedReason{Kind: api.ConfirmUserApproved}
		}
		return nil
	}})
	if r, _ := h.engine.ShouldAutoConfirmPostExecution(ctx, Request{ToolID: "read_file"}); r == nil || r.Kind != api.ConfirmUserApproved {
		t.Errorf("override not consulted: %+v", r)
	}

	h.optIn(t)
	h.set(t, SettingGlobalAutoApprove, true, settings.TargetUserLocal)
	if r, _ := h.engine.ShouldAutoConfirmPostExecution(ctx, Request{ToolID: "lint"}); r == nil || r.Kind != api.ConfirmSettingApproved {
		t.Errorf("global setting not applied: %+v", r)
	}
}

func TestUserActionAlert(t *testing.T) {
	tests := []struct {
		name         string
		signal       any
		screenReader bool
		global       bool
		want         Alert
	}{
		{"unset", nil, false, false, Alert{}},
		{"sound on", map[string]any{"sound": "on"}, false, false, Alert{Sound: true}},
		{"sound auto without reader", map[string]any{"sound": "auto", "announcement": "auto"}, false, false, Alert{}},
		{"auto with reader", map[string]any{"sound": "auto", "announcement": "auto"}, true, false, Alert{Sound: true, Announcement: true}},
		{"announcement only", map[string]any{"sound": "off", "announcement": "auto"}, true, false, Alert{Announcement: true}},
		{"silenced by auto approve", map[string]any{"sound": "on"}, false, true, Alert{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ButtonEnable)
			if tt.signal != nil {
				h.set(t, SettingUserActionRequiredSignal, tt.signal, settings.TargetUserLocal)
			}
			h.set(t, SettingScreenReaderOptimized, tt.screenReader, settings.TargetApplication)
			h.set(t, SettingGlobalAutoApprove, tt.global, settings.TargetUserLocal)
			if got := h.engine.UserActionAlert(); got != tt.want {
				t.Errorf("alert = %+v, want %+v", got, tt.want)
			}
		})
	}
}
