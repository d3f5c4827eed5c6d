package builtins

import (
	"context"
	"fmt"

	"github.com/rhuss/toolgate/pkg/api"
)

// EchoToolID is the id of the echo tool.
const EchoToolID = "echo_input"

type echoInput struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

// EchoTool returns its input. Input and output are always displayed, which
// makes it useful to check a front end's rendering of invocation details.
type EchoTool struct{}

var (
	_ api.ToolImplementation = (*EchoTool)(nil)
	_ api.ToolPreparer       = (*EchoTool)(nil)
)

// Data returns the tool metadata.
func (e *EchoTool) Data() api.ToolData {
	return api.ToolData{
		ID:                       EchoToolID,
		ToolReferenceName:        "echo",
		DisplayName:              "Echo",
		ModelDescription:         "Returns the given text unchanged.",
		UserDescription:          "Echo text back",
		Source:                   api.InternalSource,
		CanBeReferencedInPrompt:  true,
		AlwaysDisplayInputOutput: true,
		RunsInWorkspace:          api.Bool(false),
		InputSchema:              schemaFor[echoInput](),
	}
}

func (e *EchoTool) PrepareToolInvocation(_ context.Context, pctx api.PrepareContext) (*api.PreparedInvocation, error) {
	input, err := decodeParams[echoInput](pctx.Parameters)
	if err != nil {
		return nil, err
	}
	return &api.PreparedInvocation{
		InvocationMessage: fmt.Sprintf("Echoing %d characters", len(input.Text)),
		PastTenseMessage:  fmt.Sprintf("Echoed %d characters", len(input.Text)),
	}, nil
}

func (e *EchoTool) Invoke(_ context.Context, inv *api.Invocation, _ api.CountTokensFunc, _ api.ProgressReporter) (*api.ToolResult, error) {
	input, err := decodeParams[echoInput](inv.Parameters)
	if err != nil {
		return nil, err
	}
	return api.TextResult(input.Text), nil
}
