// Package settings implements the layered tool configuration store.
//
// A setting can be defined in any of several layers. The effective value is
// taken from the most specific layer that defines it, in the order
// WorkspaceFolder, Workspace, UserRemote, UserLocal, Application, Default.
// Each layer except Default can be backed by a YAML file holding a flat map
// of setting keys; writes to such a layer are persisted to its file.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
)

// Target identifies a settings layer.
type Target int

const (
	TargetDefault Target = iota
	TargetApplication
	TargetUserLocal
	TargetUserRemote
	TargetWorkspace
	TargetWorkspaceFolder
)

var targetNames = map[Target]string{
	TargetDefault:         "default",
	TargetApplication:     "application",
	TargetUserLocal:       "user_local",
	TargetUserRemote:      "user_remote",
	TargetWorkspace:       "workspace",
	TargetWorkspaceFolder: "workspace_folder",
}

func (t Target) String() string {
	if s, ok := targetNames[t]; ok {
		return s
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// ParseTarget returns the target with the given name.
func ParseTarget(s string) (Target, error) {
	for t, name := range targetNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown settings target %q", s)
}

// precedence lists the layers from most to least specific.
var precedence = []Target{
	TargetWorkspaceFolder,
	TargetWorkspace,
	TargetUserRemote,
	TargetUserLocal,
	TargetApplication,
	TargetDefault,
}

// Inspection holds the value of a key in every layer. A nil field means
// the layer does not define the key.
type Inspection struct {
	Key             string
	Default         any
	Application     any
	UserLocal       any
	UserRemote      any
	Workspace       any
	WorkspaceFolder any

	// Value is the effective value.
	Value any
}

// Layer returns the value defined in layer t.
func (i Inspection) Layer(t Target) any {
	switch t {
	case TargetDefault:
		return i.Default
	case TargetApplication:
		return i.Application
	case TargetUserLocal:
		return i.UserLocal
	case TargetUserRemote:
		return i.UserRemote
	case TargetWorkspace:
		return i.Workspace
	case TargetWorkspaceFolder:
		return i.WorkspaceFolder
	}
	return nil
}

// Change is delivered to OnDidChange subscribers.
type Change struct {
	Key    string
	Target Target
}

// Store is the layered settings store. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	layers map[Target]map[string]any
	files  map[Target]string

	onDidChange event.Emitter[Change]
}

// Option configures a Store.
type Option func(*Store)

// WithLayerFile backs layer t with the YAML file at path.
func WithLayerFile(t Target, path string) Option {
	return func(s *Store) {
		if t != TargetDefault && path != "" {
			s.files[t] = path
		}
	}
}

// WithDefaults registers default values.
func WithDefaults(defaults map[string]any) Option {
	return func(s *Store) {
		maps.Copy(s.layers[TargetDefault], defaults)
	}
}

// New creates a Store and loads every configured layer file. A missing
// file is an empty layer.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		layers: make(map[Target]map[string]any),
		files:  make(map[Target]string),
	}
	for _, t := range precedence {
		s.layers[t] = make(map[string]any)
	}
	for _, opt := range opts {
		opt(s)
	}
	for t, path := range s.files {
		values, err := readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s settings from %s: %w", t, path, err)
		}
		s.layers[t] = values
		debug.Log("settings", "layer loaded", "target", t, "path", path, "keys", len(values))
	}
	return s, nil
}

func readLayer(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// writeLayer replaces path atomically with the YAML encoding of values.
func writeLayer(path string, values map[string]any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RegisterDefault sets the default value of key.
func (s *Store) RegisterDefault(key string, value any) {
	s.mu.Lock()
	s.layers[TargetDefault][key] = value
	s.mu.Unlock()
}

// Get returns the effective value of key, or nil.
func (s *Store) Get(key string) any {
	return s.Inspect(key).Value
}

// Inspect returns the value of key in every layer.
func (s *Store) Inspect(key string) Inspection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in := Inspection{
		Key:             key,
		Default:         s.layers[TargetDefault][key],
		Application:     s.layers[TargetApplication][key],
		UserLocal:       s.layers[TargetUserLocal][key],
		UserRemote:      s.layers[TargetUserRemote][key],
		Workspace:       s.layers[TargetWorkspace][key],
		WorkspaceFolder: s.layers[TargetWorkspaceFolder][key],
	}
	for _, t := range precedence {
		if v := in.Layer(t); v != nil {
			in.Value = v
			break
		}
	}
	return in
}

// Update writes value for key into layer t. A nil value removes the key.
func (s *Store) Update(ctx context.Context, key string, value any, t Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == TargetDefault {
		return fmt.Errorf("settings: the default layer is read-only")
	}

	s.mu.Lock()
	layer := s.layers[t]
	if value == nil {
		delete(layer, key)
	} else {
		layer[key] = value
	}
	var err error
	if path, ok := s.files[t]; ok {
		err = writeLayer(path, layer)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persisting %s settings: %w", t, err)
	}
	slog.Info("setting updated", "key", key, "target", t)
	s.onDidChange.Fire(Change{Key: key, Target: t})
	return nil
}

// UpdateValue writes value for key into the most specific layer that
// already defines it, or into the UserLocal layer.
func (s *Store) UpdateValue(ctx context.Context, key string, value any) error {
	return s.Update(ctx, key, value, s.writeTarget(key))
}

func (s *Store) writeTarget(key string) Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range precedence {
		if t == TargetDefault {
			break
		}
		if _, ok := s.layers[t][key]; ok {
			return t
		}
	}
	return TargetUserLocal
}

// OnDidChange subscribes to value updates.
func (s *Store) OnDidChange(fn func(Change)) event.Disposable {
	return s.onDidChange.Subscribe(fn)
}
