package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInspect_Precedence(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user.yaml")
	ws := filepath.Join(dir, "workspace.yaml")
	if err := os.WriteFile(user, []byte("a: 1\nb: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws, []byte("a: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(
		WithDefaults(map[string]any{"a": 0, "c": "default"}),
		WithLayerFile(TargetUserLocal, user),
		WithLayerFile(TargetWorkspace, ws),
		WithLayerFile(TargetApplication, filepath.Join(dir, "missing.yaml")),
	)
	if err != nil {
		t.Fatal(err)
	}

	in := s.Inspect("a")
	if in.Default != 0 || in.UserLocal != 1 || in.Workspace != 2 || in.Value != 2 {
		t.Errorf("Inspect(a) = %+v", in)
	}
	if in.Application != nil || in.UserRemote != nil || in.WorkspaceFolder != nil {
		t.Errorf("undefined layers not nil: %+v", in)
	}
	if got := s.Get("b"); got != true {
		t.Errorf("Get(b) = %v", got)
	}
	if got := s.Get("c"); got != "default" {
		t.Errorf("Get(c) = %v", got)
	}
	if got := s.Get("nope"); got != nil {
		t.Errorf("Get(nope) = %v", got)
	}
}

func TestUpdate_Persists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "user.yaml")
	s, err := New(WithLayerFile(TargetUserLocal, path))
	if err != nil {
		t.Fatal(err)
	}

	var changes atomic.Int32
	s.OnDidChange(func(c Change) {
		if c.Key == "chat.tools.global.autoApprove" && c.Target == TargetUserLocal {
			changes.Add(1)
		}
	})

	if err := s.UpdateValue(context.Background(), "chat.tools.global.autoApprove", false); err != nil {
		t.Fatal(err)
	}
	if n := changes.Load(); n != 1 {
		t.Errorf("change events = %d, want 1", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]any
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if v, ok := onDisk["chat.tools.global.autoApprove"]; !ok || v != false {
		t.Errorf("persisted layer = %v", onDisk)
	}

	reloaded, err := New(WithLayerFile(TargetUserLocal, path))
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Inspect("chat.tools.global.autoApprove").UserLocal; got != false {
		t.Errorf("reloaded value = %v", got)
	}

	if err := s.Update(context.Background(), "chat.tools.global.autoApprove", nil, TargetUserLocal); err != nil {
		t.Fatal(err)
	}
	if got := s.Get("chat.tools.global.autoApprove"); got != nil {
		t.Errorf("value after removal = %v", got)
	}
}

func TestUpdateValue_DerivesTarget(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Update(ctx, "k", true, TargetWorkspace); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "k", true, TargetApplication); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateValue(ctx, "k", false); err != nil {
		t.Fatal(err)
	}
	in := s.Inspect("k")
	if in.Workspace != false || in.Application != true {
		t.Errorf("UpdateValue wrote the wrong layer: %+v", in)
	}

	if err := s.UpdateValue(ctx, "fresh", 3); err != nil {
		t.Fatal(err)
	}
	if got := s.Inspect("fresh").UserLocal; got != 3 {
		t.Errorf("new key landed in %+v", s.Inspect("fresh"))
	}

	if err := s.Update(ctx, "k", 1, TargetDefault); err == nil {
		t.Error("writing the default layer must fail")
	}
}

func TestParseBoolOrMap(t *testing.T) {
	b, ok := ParseBoolOrMap(false)
	if !ok {
		t.Fatal("bool not parsed")
	}
	if v, decided := b.Lookup("anything"); !decided || v {
		t.Errorf("bool Lookup = %v, %v", v, decided)
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte("run_in_terminal: false\nread_file: true\n"), &raw); err != nil {
		t.Fatal(err)
	}
	m, ok := ParseBoolOrMap(raw)
	if !ok {
		t.Fatal("map not parsed")
	}
	if v, decided := m.Lookup("run_in_terminal"); !decided || v {
		t.Errorf("Lookup(run_in_terminal) = %v, %v", v, decided)
	}
	if _, decided := m.Lookup("other"); decided {
		t.Error("absent key decided")
	}

	for _, bad := range []any{nil, "yes", map[string]any{"x": "true"}} {
		if _, ok := ParseBoolOrMap(bad); ok {
			t.Errorf("ParseBoolOrMap(%v) accepted", bad)
		}
	}
}

func TestParseTarget(t *testing.T) {
	for tgt, name := range targetNames {
		got, err := ParseTarget(name)
		if err != nil || got != tgt {
			t.Errorf("ParseTarget(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseTarget("global"); err == nil {
		t.Error("unknown target accepted")
	}
}
