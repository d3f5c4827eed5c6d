package contrib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/when"
)

// Manifest is the tool contribution file of one extension.
type Manifest struct {
	Extension string        `yaml:"extension"`
	Tools     []ToolSpec    `yaml:"tools"`
	ToolSets  []ToolSetSpec `yaml:"tool_sets"`

	path string
}

// ToolSpec declares one contributed tool.
type ToolSpec struct {
	ID                      string      `yaml:"id"`
	ReferenceName           string      `yaml:"reference_name"`
	DisplayName             string      `yaml:"display_name"`
	ModelDescription        string      `yaml:"model_description"`
	UserDescription         string      `yaml:"user_description"`
	LegacyNames             []string    `yaml:"legacy_names"`
	When                    when.Clause `yaml:"when"`
	CanBeReferencedInPrompt bool        `yaml:"can_be_referenced_in_prompt"`
	AlwaysDisplayInput      bool        `yaml:"always_display_input_output"`
	RunsInWorkspace         *bool       `yaml:"runs_in_workspace"`
	Tags                    []string    `yaml:"tags"`
	InputSchema             any         `yaml:"input_schema"`

	// Endpoint receives invocations once the tool is activated. Tools
	// without an endpoint stay without implementation.
	Endpoint string `yaml:"endpoint"`

	// Confirm, when set, is shown before every invocation.
	Confirm *ConfirmSpec `yaml:"confirm"`
}

// ConfirmSpec is a static confirmation prompt.
type ConfirmSpec struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

// ToolSetSpec declares a tool set of the extension.
type ToolSetSpec struct {
	ID              string   `yaml:"id"`
	ReferenceName   string   `yaml:"reference_name"`
	Description     string   `yaml:"description"`
	Icon            string   `yaml:"icon"`
	LegacyFullNames []string `yaml:"legacy_full_names"`
	Tools           []string `yaml:"tools"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.path = path
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	var errs []error
	if m.Extension == "" {
		errs = append(errs, errors.New("extension is required"))
	}
	ids := make(map[string]bool, len(m.Tools))
	for i, t := range m.Tools {
		data, err := t.toolData(m.Extension)
		if err != nil {
			errs = append(errs, fmt.Errorf("tools[%d]: %w", i, err))
			continue
		}
		if apiErr := api.ValidateToolData(data); apiErr != nil {
			errs = append(errs, fmt.Errorf("tools[%d]: %w", i, apiErr))
		}
		if ids[t.ID] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate id %q", i, t.ID))
		}
		ids[t.ID] = true
	}
	for i, s := range m.ToolSets {
		if s.ID == "" || s.ReferenceName == "" {
			errs = append(errs, fmt.Errorf("tool_sets[%d]: id and reference_name are required", i))
		}
	}
	return errors.Join(errs...)
}

// toolData converts the manifest entry into registry metadata.
func (t ToolSpec) toolData(extension string) (api.ToolData, error) {
	var schema json.RawMessage
	if t.InputSchema != nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return api.ToolData{}, fmt.Errorf("input_schema: %w", err)
		}
		schema = b
	}
	return api.ToolData{
		ID:                           t.ID,
		ToolReferenceName:            t.ReferenceName,
		DisplayName:                  t.DisplayName,
		ModelDescription:             t.ModelDescription,
		UserDescription:              t.UserDescription,
		Source:                       api.ExtensionSource(extension),
		When:                         t.When.Expr,
		CanBeReferencedInPrompt:      t.CanBeReferencedInPrompt,
		AlwaysDisplayInputOutput:     t.AlwaysDisplayInput,
		RunsInWorkspace:              t.RunsInWorkspace,
		LegacyToolReferenceFullNames: t.LegacyNames,
		InputSchema:                  schema,
		Tags:                         t.Tags,
	}, nil
}
