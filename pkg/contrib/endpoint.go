package contrib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/toolgate/pkg/api"
)

// maxResponseBytes bounds an endpoint response.
const maxResponseBytes = 4 << 20

// endpointRequest is the body POSTed to a tool endpoint.
type endpointRequest struct {
	CallID     string           `json:"call_id"`
	ToolID     string           `json:"tool_id"`
	Parameters map[string]any   `json:"parameters"`
	Context    *api.ChatContext `json:"context,omitempty"`
}

// endpointTool forwards invocations to an HTTP endpoint. The endpoint
// answers with an api.ToolResult document.
type endpointTool struct {
	id       string
	endpoint string
	confirm  *ConfirmSpec
	client   *http.Client
}

func (e *endpointTool) PrepareToolInvocation(_ context.Context, _ api.PrepareContext) (*api.PreparedInvocation, error) {
	if e.confirm == nil {
		return nil, nil
	}
	return &api.PreparedInvocation{
		ConfirmationMessages: &api.ConfirmationMessages{
			Title:   e.confirm.Title,
			Message: e.confirm.Message,
		},
	}, nil
}

func (e *endpointTool) Invoke(ctx context.Context, inv *api.Invocation, _ api.CountTokensFunc, _ api.ProgressReporter) (*api.ToolResult, error) {
	body, err := json.Marshal(endpointRequest{
		CallID:     inv.CallID,
		ToolID:     e.id,
		Parameters: inv.Parameters,
		Context:    inv.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result api.ToolResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &result, nil
}
