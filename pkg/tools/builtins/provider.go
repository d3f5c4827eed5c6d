// Package builtins contains the tools shipped with toolgate.
//
// Built-in tools have an internal source and are installed into the
// registry through [Provider].
package builtins

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/rhuss/toolgate/pkg/tools/registry"
)

// Provider contributes the built-in tools.
type Provider struct {
	fetch  *FetchTool
	echo   *EchoTool
	search *WebSearchTool
}

var _ registry.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithWebSearch adds the web search tool backed by backend.
func WithWebSearch(backend SearchBackend, maxResults int) Option {
	return func(p *Provider) {
		p.search = NewWebSearchTool(backend, maxResults)
	}
}

// New creates the built-in tool provider.
func New(cfg FetchConfig, opts ...Option) *Provider {
	p := &Provider{
		fetch: NewFetchTool(cfg),
		echo:  &EchoTool{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "builtins" }

// Tools returns the built-in tools.
func (p *Provider) Tools() []registry.Tool {
	tools := []registry.Tool{
		{Data: p.fetch.Data(), Impl: p.fetch},
		{Data: p.echo.Data(), Impl: p.echo},
	}
	if p.search != nil {
		tools = append(tools, registry.Tool{Data: p.search.Data(), Impl: p.search})
	}
	return tools
}

// schemaFor reflects the JSON schema of a tool's input struct.
func schemaFor[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var input T
	s := reflector.Reflect(input)
	schema := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflecting schema for %T: %v", input, err))
	}
	return b
}

// decodeParams converts invocation parameters into a typed input struct.
func decodeParams[T any](params map[string]any) (T, error) {
	var input T
	b, err := json.Marshal(params)
	if err != nil {
		return input, err
	}
	if err := json.Unmarshal(b, &input); err != nil {
		return input, fmt.Errorf("invalid arguments: %w", err)
	}
	return input, nil
}
