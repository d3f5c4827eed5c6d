package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/chat"
	"github.com/rhuss/toolgate/pkg/dialog"
	"github.com/rhuss/toolgate/pkg/invoke"
	"github.com/rhuss/toolgate/pkg/policy"
	"github.com/rhuss/toolgate/pkg/toolcall"
	"github.com/rhuss/toolgate/pkg/tools/naming"
	"github.com/rhuss/toolgate/pkg/tools/registry"
	"github.com/rhuss/toolgate/pkg/transport"
)

// --- fixtures ---

// askPolicy auto-approves only what its overrides approve.
type askPolicy struct {
	overrides policy.Overrides
}

func (askPolicy) IsToolEligibleForAutoApproval(api.ToolData) bool { return true }
func (p askPolicy) ShouldAutoConfirm(ctx context.Context, req policy.Request) (*api.ConfirmedReason, error) {
	if p.overrides == nil {
		return nil, nil
	}
	return p.overrides.PreConfirmAction(ctx, req), nil
}
func (askPolicy) ShouldAutoConfirmPostExecution(context.Context, policy.Request) (*api.ConfirmedReason, error) {
	return nil, nil
}
func (askPolicy) UserActionAlert() policy.Alert { return policy.Alert{} }

// guardedTool asks for confirmation before it echoes its input.
type guardedTool struct{}

func (guardedTool) PrepareToolInvocation(context.Context, api.PrepareContext) (*api.PreparedInvocation, error) {
	return &api.PreparedInvocation{
		ConfirmationMessages: &api.ConfirmationMessages{Title: "Run guarded?", Message: "It echoes."},
	}, nil
}

func (guardedTool) Invoke(_ context.Context, inv *api.Invocation, _ api.CountTokensFunc, _ api.ProgressReporter) (*api.ToolResult, error) {
	text, _ := inv.Parameters["text"].(string)
	return api.TextResult(text), nil
}

func echo(_ context.Context, inv *api.Invocation, _ api.CountTokensFunc, _ api.ProgressReporter) (*api.ToolResult, error) {
	text, _ := inv.Parameters["text"].(string)
	return api.TextResult(text), nil
}

func failing(context.Context, *api.Invocation, api.CountTokensFunc, api.ProgressReporter) (*api.ToolResult, error) {
	return nil, errors.New("disk full")
}

type fixture struct {
	reg       *registry.Registry
	chat      *chat.Service
	dialogs   *dialog.Broker
	approvals *policy.SessionAllowList
	srv       *httptest.Server
	reloads   atomic.Int32
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		reg:       registry.New(nil, registry.WithChangeDelay(time.Millisecond)),
		chat:      chat.NewService(),
		dialogs:   dialog.NewBroker(),
		approvals: policy.NewSessionAllowList(),
	}
	t.Cleanup(f.reg.Close)

	tools := []struct {
		data api.ToolData
		impl api.ToolImplementation
	}{
		{api.ToolData{ID: "echo", ToolReferenceName: "echo", DisplayName: "Echo", Source: api.InternalSource, CanBeReferencedInPrompt: true}, api.ToolFunc(echo)},
		{api.ToolData{ID: "guarded", ToolReferenceName: "guarded", DisplayName: "Guarded", Source: api.InternalSource, CanBeReferencedInPrompt: true}, guardedTool{}},
		{api.ToolData{ID: "failing", ToolReferenceName: "failing", DisplayName: "Failing", Source: api.InternalSource}, api.ToolFunc(failing)},
		{api.ToolData{ID: "mcp_gh_issues", ToolReferenceName: "issues", DisplayName: "Issues", Source: api.MCPSource("gh"), CanBeReferencedInPrompt: true}, nil},
	}
	for _, tt := range tools {
		var err error
		if tt.impl != nil {
			_, err = f.reg.RegisterTool(tt.data, tt.impl)
		} else {
			_, err = f.reg.RegisterToolData(tt.data)
		}
		if err != nil {
			t.Fatalf("registering %s: %v", tt.data.ID, err)
		}
	}
	set, err := f.reg.CreateToolSet(api.MCPSource("gh"), "mcp.gh", "github", registry.ToolSetOptions{
		Description:     "GitHub",
		LegacyFullNames: []string{"gh/*"},
	})
	if err != nil {
		t.Fatalf("CreateToolSet: %v", err)
	}
	if _, err := set.AddTool("mcp_gh_issues"); err != nil {
		t.Fatalf("AddTool: %v", err)
	}

	overrides := policy.NewOverrideSet()
	overrides.Register(f.approvals.Override())
	svc := invoke.New(invoke.Deps{
		Tools:   f.reg,
		Policy:  askPolicy{overrides: overrides},
		Chat:    f.chat,
		Dialogs: f.dialogs,
	})
	adapter := NewAdapter(Deps{
		Registry:         f.reg,
		Resolver:         naming.NewResolver(f.reg),
		Invoker:          svc,
		Chat:             f.chat,
		Dialogs:          f.dialogs,
		SessionApprovals: f.approvals,
		Reload: func(context.Context) error {
			f.reloads.Add(1)
			return nil
		},
	}, cfg)
	f.srv = httptest.NewServer(adapter.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal error: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

func wantErrorType(t *testing.T, resp *http.Response, status int, typ api.ErrorType) {
	t.Helper()
	wantStatus(t, resp, status)
	got := decode[api.ErrorResponse](t, resp)
	if got.Error == nil || got.Error.Type != typ {
		t.Errorf("error = %+v, want type %q", got.Error, typ)
	}
}

// waitPending polls until sid has n calls waiting for confirmation.
func (f *fixture) waitPending(t *testing.T, sid string, n int) []toolcall.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls, err := f.chat.ToolCalls(sid)
		if err != nil {
			t.Fatalf("ToolCalls: %v", err)
		}
		var pending []toolcall.View
		for _, c := range calls {
			if v := c.View(); v.State == api.CallWaitingForConfirmation || v.State == api.CallWaitingForPostConfirmation {
				pending = append(pending, v)
			}
		}
		if len(pending) == n {
			return pending
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending calls in %s", n, sid)
	return nil
}

func (f *fixture) startSession(t *testing.T, sid string) chat.Request {
	t.Helper()
	wantStatus(t, f.do(t, "POST", "/v1/sessions", map[string]string{"id": sid}), http.StatusCreated)
	resp := f.do(t, "POST", "/v1/sessions/"+sid+"/requests", map[string]string{"model_id": "test-model"})
	wantStatus(t, resp, http.StatusCreated)
	return decode[chat.Request](t, resp)
}

type invokeResult struct {
	status int
	body   invokeResponse
	err    api.ErrorResponse
}

// invokeAsync posts an invocation and delivers the decoded answer.
func (f *fixture) invokeAsync(t *testing.T, tool string, body map[string]any) <-chan invokeResult {
	t.Helper()
	data, _ := json.Marshal(body)
	ch := make(chan invokeResult, 1)
	go func() {
		resp, err := http.Post(f.srv.URL+"/v1/tools/"+tool+"/invocations", "application/json", bytes.NewReader(data))
		if err != nil {
			ch <- invokeResult{status: -1}
			return
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		res := invokeResult{status: resp.StatusCode}
		_ = json.Unmarshal(raw, &res.body)
		_ = json.Unmarshal(raw, &res.err)
		ch <- res
	}()
	return ch
}

func await(t *testing.T, ch <-chan invokeResult) invokeResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("invocation did not finish")
		return invokeResult{}
	}
}

// --- tools and names ---

func TestListTools(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "GET", "/v1/tools", nil)
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	got := decode[listResponse[toolView]](t, resp)

	byID := make(map[string]toolView)
	for _, v := range got.Data {
		byID[v.ID] = v
	}
	if len(byID) != 4 {
		t.Fatalf("tools = %d, want 4", len(byID))
	}
	if v := byID["echo"]; !v.HasImplementation || !cmp.Equal(v.QualifiedNames, []string{"echo"}) {
		t.Errorf("echo = %+v", v)
	}
	if v := byID["mcp_gh_issues"]; v.HasImplementation || !cmp.Equal(v.QualifiedNames, []string{"github/issues"}) {
		t.Errorf("mcp_gh_issues = %+v", v)
	}
	if v := byID["failing"]; len(v.QualifiedNames) != 0 {
		t.Errorf("unreferencable tool has names %v", v.QualifiedNames)
	}
}

func TestListTools_BadQuery(t *testing.T) {
	f := newFixture(t, Config{})
	wantErrorType(t, f.do(t, "GET", "/v1/tools?include_disabled=maybe", nil), http.StatusBadRequest, api.ErrorTypeInvalidRequest)
}

func TestGetTool(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "GET", "/v1/tools/echo", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[toolView](t, resp); got.DisplayName != "Echo" {
		t.Errorf("display name = %q", got.DisplayName)
	}

	wantErrorType(t, f.do(t, "GET", "/v1/tools/nope", nil), http.StatusNotFound, api.ErrorTypeNotContributed)
}

func TestListToolSets(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "GET", "/v1/toolsets", nil)
	wantStatus(t, resp, http.StatusOK)
	got := decode[listResponse[toolSetView]](t, resp)
	if len(got.Data) != 1 {
		t.Fatalf("tool sets = %d, want 1", len(got.Data))
	}
	set := got.Data[0]
	if set.ID != "mcp.gh" || set.QualifiedName != "github/*" || !cmp.Equal(set.Tools, []string{"mcp_gh_issues"}) {
		t.Errorf("tool set = %+v", set)
	}
}

func TestQualifiedAndDeprecatedNames(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "GET", "/v1/tools/qualified-names", nil)
	wantStatus(t, resp, http.StatusOK)
	names := decode[listResponse[string]](t, resp)
	want := []string{"github/*", "github/issues", "echo", "guarded"}
	if diff := cmp.Diff(want, names.Data); diff != "" {
		t.Errorf("qualified names mismatch (-want +got):\n%s", diff)
	}

	resp = f.do(t, "GET", "/v1/tools/deprecated-names", nil)
	wantStatus(t, resp, http.StatusOK)
	deprecated := decode[map[string][]string](t, resp)
	if diff := cmp.Diff(map[string][]string{"gh/*": {"github/*"}}, deprecated); diff != "" {
		t.Errorf("deprecated names mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name    string
		tool    string
		toolSet string
	}{
		{name: "github/issues", tool: "mcp_gh_issues"},
		{name: "github/*", toolSet: "mcp.gh"},
		{name: "github", toolSet: "mcp.gh"},
		{name: "gh/*", toolSet: "mcp.gh"},
		{name: "echo", tool: "echo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, "GET", "/v1/tools/resolve?name="+tt.name, nil)
			wantStatus(t, resp, http.StatusOK)
			got := decode[resolveResponse](t, resp)
			var tool, set string
			if got.Tool != nil {
				tool = got.Tool.ID
			}
			if got.ToolSet != nil {
				set = got.ToolSet.ID
			}
			if tool != tt.tool || set != tt.toolSet {
				t.Errorf("resolved tool %q set %q, want %q %q", tool, set, tt.tool, tt.toolSet)
			}
		})
	}

	wantErrorType(t, f.do(t, "GET", "/v1/tools/resolve?name=unknown", nil), http.StatusNotFound, api.ErrorTypeNotFound)
	wantErrorType(t, f.do(t, "GET", "/v1/tools/resolve", nil), http.StatusBadRequest, api.ErrorTypeInvalidRequest)
}

func TestEnablement(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "POST", "/v1/tools/enablement", enablementRequest{Names: []string{"github", "echo"}})
	wantStatus(t, resp, http.StatusOK)
	got := decode[enablementResponse](t, resp)

	if !got.Enablement[api.ToolSetKey("mcp.gh")] || !got.Enablement[api.ToolKey("echo")] {
		t.Errorf("enablement = %v", got.Enablement)
	}
	if got.Enablement[api.ToolKey("guarded")] {
		t.Error("guarded enabled without being named")
	}
	if diff := cmp.Diff([]string{"github/*", "echo"}, got.QualifiedNames); diff != "" {
		t.Errorf("qualified names mismatch (-want +got):\n%s", diff)
	}
}

func TestReload(t *testing.T) {
	f := newFixture(t, Config{})
	wantStatus(t, f.do(t, "POST", "/v1/tools/reload", nil), http.StatusNoContent)
	if n := f.reloads.Load(); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}

// --- request validation ---

func TestInvalidJSONBodyReturns400(t *testing.T) {
	f := newFixture(t, Config{})
	resp, err := http.Post(f.srv.URL+"/v1/tools/echo/invocations", "application/json", strings.NewReader("{invalid"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	wantErrorType(t, resp, http.StatusBadRequest, api.ErrorTypeInvalidRequest)
}

func TestOversizedBodyReturns413(t *testing.T) {
	f := newFixture(t, Config{MaxBodySize: 10})
	resp, err := http.Post(f.srv.URL+"/v1/tools/echo/invocations", "application/json",
		strings.NewReader(`{"parameters":{"text":"far more than ten bytes"}}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusRequestEntityTooLarge)
}

func TestWrongContentTypeReturns415(t *testing.T) {
	f := newFixture(t, Config{})
	resp, err := http.Post(f.srv.URL+"/v1/tools/echo/invocations", "text/plain", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusUnsupportedMediaType)
}

func TestUnknownPathReturns404(t *testing.T) {
	f := newFixture(t, Config{})
	wantStatus(t, f.do(t, "GET", "/v1/nonexistent", nil), http.StatusNotFound)
}

// --- invocation ---

func TestInvokeWithoutSession(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "POST", "/v1/tools/echo/invocations", map[string]any{"parameters": map[string]any{"text": "hello"}})
	wantStatus(t, resp, http.StatusOK)
	got := decode[invokeResponse](t, resp)

	if !strings.HasPrefix(got.CallID, "call_") {
		t.Errorf("call_id = %q, want a generated id", got.CallID)
	}
	if got.ToolID != "echo" || got.Error != nil {
		t.Errorf("response = %+v", got)
	}
	if got.Result == nil || len(got.Result.Content) != 1 || got.Result.Content[0].Text != "hello" {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestInvokeKeepsCallerCallID(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.do(t, "POST", "/v1/tools/echo/invocations", map[string]any{"call_id": "call_mine"})
	wantStatus(t, resp, http.StatusOK)
	if got := decode[invokeResponse](t, resp); got.CallID != "call_mine" {
		t.Errorf("call_id = %q", got.CallID)
	}
}

func TestInvokeErrors(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name   string
		tool   string
		body   map[string]any
		status int
		typ    api.ErrorType
	}{
		{"unknown tool", "nope", map[string]any{}, http.StatusNotFound, api.ErrorTypeNotContributed},
		{"no implementation", "mcp_gh_issues", map[string]any{}, http.StatusServiceUnavailable, api.ErrorTypeNoImplementation},
		{"unknown session", "echo", map[string]any{"session_id": "ghost"}, http.StatusNotFound, api.ErrorTypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantErrorType(t, f.do(t, "POST", "/v1/tools/"+tt.tool+"/invocations", tt.body), tt.status, tt.typ)
		})
	}
}

func TestInvokeExecutionErrorKeepsResult(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "POST", "/v1/tools/failing/invocations", map[string]any{})
	wantStatus(t, resp, http.StatusBadGateway)
	got := decode[invokeResponse](t, resp)
	if got.Error == nil || got.Error.Type != api.ErrorTypeExecution {
		t.Errorf("error = %+v", got.Error)
	}
	if got.Result == nil || !strings.Contains(got.Result.ToolResultError, "disk full") {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestInvokeMiddlewareWrapsInvocationOnly(t *testing.T) {
	reject := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			transport.WriteAPIError(w, &api.APIError{Type: api.ErrorTypeTooManyRequests, Message: "slow down"})
		})
	}
	f := newFixture(t, Config{InvokeMiddleware: []transport.Middleware{reject}})

	wantErrorType(t, f.do(t, "POST", "/v1/tools/echo/invocations", map[string]any{}), http.StatusTooManyRequests, api.ErrorTypeTooManyRequests)
	wantStatus(t, f.do(t, "GET", "/v1/tools", nil), http.StatusOK)
}

func TestAdminMiddlewareWrapsReload(t *testing.T) {
	forbid := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			transport.WriteAPIError(w, &api.APIError{Type: api.ErrorTypeForbidden, Message: "admins only"})
		})
	}
	f := newFixture(t, Config{AdminMiddleware: []transport.Middleware{forbid}})

	wantErrorType(t, f.do(t, "POST", "/v1/tools/reload", nil), http.StatusForbidden, api.ErrorTypeForbidden)
	if f.reloads.Load() != 0 {
		t.Errorf("reload ran %d times behind a rejecting middleware", f.reloads.Load())
	}
	wantStatus(t, f.do(t, "GET", "/v1/tools", nil), http.StatusOK)
}

// --- confirmation ---

func TestConfirmInChat(t *testing.T) {
	tests := []struct {
		decision string
		status   int
		state    api.CallState
	}{
		{"approve", http.StatusOK, api.CallCompleted},
		{"deny", http.StatusConflict, api.CallDenied},
		{"skip", http.StatusOK, api.CallSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.decision, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.startSession(t, "s1")

			done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1", "parameters": map[string]any{"text": "hi"}})
			pending := f.waitPending(t, "s1", 1)

			resp := f.do(t, "GET", "/v1/sessions/s1/invocations?pending=true", nil)
			wantStatus(t, resp, http.StatusOK)
			if got := decode[listResponse[toolcall.View]](t, resp); len(got.Data) != 1 || got.Data[0].Confirmation.Title != "Run guarded?" {
				t.Errorf("pending = %+v", got.Data)
			}

			resp = f.do(t, "POST", "/v1/invocations/"+pending[0].CallID+"/confirmation", confirmRequest{Decision: tt.decision})
			wantStatus(t, resp, http.StatusOK)

			res := await(t, done)
			if res.status != tt.status {
				t.Errorf("invocation status = %d, want %d", res.status, tt.status)
			}
			call, ok := f.chat.FindToolCall(pending[0].CallID)
			if !ok {
				t.Fatal("call not found")
			}
			if got := call.State(); got != tt.state {
				t.Errorf("state = %v, want %v", got, tt.state)
			}
		})
	}
}

func TestConfirmEditedInput(t *testing.T) {
	f := newFixture(t, Config{})
	f.startSession(t, "s1")

	done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1", "parameters": map[string]any{"text": "hi"}})
	pending := f.waitPending(t, "s1", 1)

	resp := f.do(t, "POST", "/v1/invocations/"+pending[0].CallID+"/confirmation", confirmRequest{
		Decision:    "approve",
		EditedInput: map[string]any{"text": "edited"},
	})
	wantStatus(t, resp, http.StatusOK)

	res := await(t, done)
	if res.status != http.StatusOK || res.body.Result == nil || res.body.Result.Content[0].Text != "edited" {
		t.Errorf("invocation = %+v", res)
	}
}

func TestConfirmErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.startSession(t, "s1")

	done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1"})
	pending := f.waitPending(t, "s1", 1)
	path := "/v1/invocations/" + pending[0].CallID + "/confirmation"

	wantErrorType(t, f.do(t, "POST", path, confirmRequest{Decision: "maybe"}), http.StatusBadRequest, api.ErrorTypeInvalidRequest)
	wantErrorType(t, f.do(t, "POST", path, confirmRequest{Decision: "approve", Gate: "middle"}), http.StatusBadRequest, api.ErrorTypeInvalidRequest)
	wantErrorType(t, f.do(t, "POST", path, confirmRequest{Decision: "approve", Gate: "post"}), http.StatusConflict, api.ErrorTypeConflict)
	wantErrorType(t, f.do(t, "POST", "/v1/invocations/call_nope/confirmation", confirmRequest{Decision: "approve"}), http.StatusNotFound, api.ErrorTypeNotFound)

	wantStatus(t, f.do(t, "POST", path, confirmRequest{Decision: "approve"}), http.StatusOK)
	await(t, done)

	// A decided gate cannot be decided again.
	wantErrorType(t, f.do(t, "POST", path, confirmRequest{Decision: "deny", Gate: "pre"}), http.StatusConflict, api.ErrorTypeConflict)
}

func TestConfirmSessionScope(t *testing.T) {
	f := newFixture(t, Config{})
	f.startSession(t, "s1")

	done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1", "parameters": map[string]any{"text": "one"}})
	pending := f.waitPending(t, "s1", 1)
	resp := f.do(t, "POST", "/v1/invocations/"+pending[0].CallID+"/confirmation", confirmRequest{Decision: "approve", Scope: "session"})
	wantStatus(t, resp, http.StatusOK)
	if res := await(t, done); res.status != http.StatusOK {
		t.Fatalf("first invocation status = %d", res.status)
	}
	if !f.approvals.Allowed("s1", "guarded") {
		t.Fatal("session approval was not recorded")
	}

	// The remembered approval answers the next call without asking.
	res := await(t, f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1", "call_id": "call_again", "parameters": map[string]any{"text": "two"}}))
	if res.status != http.StatusOK || res.body.Result == nil || res.body.Result.Content[0].Text != "two" {
		t.Fatalf("second invocation = %+v", res)
	}
	call, ok := f.chat.FindToolCall("call_again")
	if !ok {
		t.Fatal("second call not found")
	}
	if got := call.View().Confirmed; got.Kind != api.ConfirmUserApproved || got.Scope != "session" {
		t.Errorf("confirmed = %+v, want a session approval", got)
	}

	// Another session still asks.
	f.startSession(t, "s2")
	other := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s2"})
	pending = f.waitPending(t, "s2", 1)
	wantStatus(t, f.do(t, "POST", "/v1/invocations/"+pending[0].CallID+"/confirmation", confirmRequest{Decision: "approve"}), http.StatusOK)
	await(t, other)

	wantStatus(t, f.do(t, "DELETE", "/v1/sessions/s1", nil), http.StatusNoContent)
	if f.approvals.Allowed("s1", "guarded") {
		t.Error("deleting the session kept its approvals")
	}
}

func TestConfirmSessionScopeErrors(t *testing.T) {
	tests := []struct {
		name string
		req  confirmRequest
	}{
		{"unknown scope", confirmRequest{Decision: "approve", Scope: "forever"}},
		{"deny", confirmRequest{Decision: "deny", Scope: "session"}},
		{"skip", confirmRequest{Decision: "skip", Scope: "session"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.startSession(t, "s1")

			done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1"})
			pending := f.waitPending(t, "s1", 1)
			path := "/v1/invocations/" + pending[0].CallID + "/confirmation"

			wantErrorType(t, f.do(t, "POST", path, tt.req), http.StatusBadRequest, api.ErrorTypeInvalidRequest)
			if f.approvals.Allowed("s1", "guarded") {
				t.Error("rejected answer was remembered")
			}

			// The call is still waiting for a valid answer.
			wantStatus(t, f.do(t, "POST", path, confirmRequest{Decision: "approve"}), http.StatusOK)
			await(t, done)
		})
	}
}

func TestGetInvocation(t *testing.T) {
	f := newFixture(t, Config{})
	f.startSession(t, "s1")

	res := await(t, f.invokeAsync(t, "echo", map[string]any{"session_id": "s1", "call_id": "call_echo1"}))
	if res.status != http.StatusOK {
		t.Fatalf("invocation status = %d", res.status)
	}

	resp := f.do(t, "GET", "/v1/invocations/call_echo1", nil)
	wantStatus(t, resp, http.StatusOK)
	got := decode[toolcall.View](t, resp)
	if got.ToolID != "echo" || got.SessionID != "s1" || got.State != api.CallCompleted {
		t.Errorf("view = %+v", got)
	}

	wantErrorType(t, f.do(t, "GET", "/v1/invocations/call_missing", nil), http.StatusNotFound, api.ErrorTypeNotFound)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t, Config{})
	req := f.startSession(t, "s1")

	done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1"})
	f.waitPending(t, "s1", 1)

	resp := f.do(t, "DELETE", "/v1/requests/"+req.ID+"/tool-calls", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[map[string]int](t, resp); got["cancelled"] != 1 {
		t.Errorf("cancelled = %v, want 1", got)
	}

	res := await(t, done)
	if res.status != http.StatusConflict || res.err.Error == nil || res.err.Error.Type != api.ErrorTypeCancelled {
		t.Errorf("invocation = %+v", res)
	}
}

// --- event streams ---

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body io.Reader) <-chan sseEvent {
	t.Helper()
	ch := make(chan sseEvent, 16)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(body)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				ch <- ev
				ev = sseEvent{}
			}
		}
	}()
	return ch
}

func nextEvent(t *testing.T, ch <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event stream ended")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func viewOf(t *testing.T, ev sseEvent) toolcall.View {
	t.Helper()
	if ev.name != eventToolCall {
		t.Fatalf("event = %q, want %q", ev.name, eventToolCall)
	}
	var v toolcall.View
	if err := json.Unmarshal([]byte(ev.data), &v); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return v
}

func TestInvocationEvents(t *testing.T) {
	f := newFixture(t, Config{})
	f.startSession(t, "s1")

	done := f.invokeAsync(t, "guarded", map[string]any{"session_id": "s1"})
	pending := f.waitPending(t, "s1", 1)
	callID := pending[0].CallID

	resp := f.do(t, "GET", "/v1/invocations/"+callID+"/events", nil)
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	events := readEvents(t, resp.Body)

	if v := viewOf(t, nextEvent(t, events)); v.State != api.CallWaitingForConfirmation {
		t.Errorf("first state = %v", v.State)
	}

	wantStatus(t, f.do(t, "POST", "/v1/invocations/"+callID+"/confirmation", confirmRequest{Decision: "approve"}), http.StatusOK)
	await(t, done)

	var last toolcall.View
	for {
		ev := nextEvent(t, events)
		if ev.name == eventDone {
			break
		}
		last = viewOf(t, ev)
	}
	if last.State != api.CallCompleted {
		t.Errorf("last state = %v, want completed", last.State)
	}
}

func TestSessionEvents(t *testing.T) {
	f := newFixture(t, Config{})
	f.startSession(t, "s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", f.srv.URL+"/v1/sessions/s1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	wantStatus(t, resp, http.StatusOK)
	events := readEvents(t, resp.Body)

	res := await(t, f.invokeAsync(t, "echo", map[string]any{"session_id": "s1", "call_id": "call_streamed"}))
	if res.status != http.StatusOK {
		t.Fatalf("invocation status = %d", res.status)
	}

	for {
		v := viewOf(t, nextEvent(t, events))
		if v.CallID != "call_streamed" {
			t.Fatalf("unexpected call %q", v.CallID)
		}
		if v.State == api.CallCompleted {
			break
		}
	}

	wantErrorType(t, f.do(t, "GET", "/v1/sessions/ghost/events", nil), http.StatusNotFound, api.ErrorTypeNotFound)
}

// --- prompts ---

func TestPromptsConfirmCallsOutsideChat(t *testing.T) {
	f := newFixture(t, Config{})

	done := f.invokeAsync(t, "guarded", map[string]any{"parameters": map[string]any{"text": "out of chat"}})

	var prompts []dialog.Request
	deadline := time.Now().Add(2 * time.Second)
	for len(prompts) == 0 && time.Now().Before(deadline) {
		resp := f.do(t, "GET", "/v1/prompts", nil)
		wantStatus(t, resp, http.StatusOK)
		prompts = decode[listResponse[dialog.Request]](t, resp).Data
		time.Sleep(5 * time.Millisecond)
	}
	if len(prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(prompts))
	}
	p := prompts[0]
	if p.Message != "Run guarded?" || !cmp.Equal(p.Buttons, []string{dialog.ButtonYes, dialog.ButtonNo}) {
		t.Errorf("prompt = %+v", p)
	}

	wantErrorType(t, f.do(t, "POST", "/v1/prompts/"+p.ID, answerRequest{Button: "Maybe"}), http.StatusBadRequest, api.ErrorTypeInvalidRequest)
	wantErrorType(t, f.do(t, "POST", "/v1/prompts/nope", answerRequest{Button: dialog.ButtonYes}), http.StatusNotFound, api.ErrorTypeNotFound)
	wantStatus(t, f.do(t, "POST", "/v1/prompts/"+p.ID, answerRequest{Button: dialog.ButtonYes}), http.StatusNoContent)

	res := await(t, done)
	if res.status != http.StatusOK || res.body.Result == nil || res.body.Result.Content[0].Text != "out of chat" {
		t.Errorf("invocation = %+v", res)
	}
}

func TestPromptEvents(t *testing.T) {
	f := newFixture(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", f.srv.URL+"/v1/prompts/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	events := readEvents(t, resp.Body)

	done := f.invokeAsync(t, "guarded", map[string]any{})
	ev := nextEvent(t, events)
	if ev.name != eventPrompt {
		t.Fatalf("event = %q, want %q", ev.name, eventPrompt)
	}
	var p dialog.Request
	if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
		t.Fatalf("decode prompt: %v", err)
	}

	wantStatus(t, f.do(t, "POST", "/v1/prompts/"+p.ID, answerRequest{Button: dialog.ButtonNo}), http.StatusNoContent)
	if res := await(t, done); res.status != http.StatusConflict {
		t.Errorf("denied invocation status = %d, want 409", res.status)
	}
}

// --- sessions ---

func TestSessions(t *testing.T) {
	f := newFixture(t, Config{})

	resp := f.do(t, "POST", "/v1/sessions", map[string]string{"id": "s1"})
	wantStatus(t, resp, http.StatusCreated)
	if got := decode[chat.Session](t, resp); got.ID != "s1" {
		t.Errorf("session id = %q", got.ID)
	}
	wantErrorType(t, f.do(t, "POST", "/v1/sessions", map[string]string{"id": "s1"}), http.StatusConflict, api.ErrorTypeConflict)

	resp = f.do(t, "POST", "/v1/sessions", nil)
	wantStatus(t, resp, http.StatusCreated)
	if got := decode[chat.Session](t, resp); !strings.HasPrefix(got.ID, "sess_") {
		t.Errorf("generated session id = %q", got.ID)
	}

	resp = f.do(t, "GET", "/v1/sessions", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[listResponse[chat.Session]](t, resp); len(got.Data) != 2 || got.Data[0].ID != "s1" {
		t.Errorf("sessions = %+v", got.Data)
	}

	wantStatus(t, f.do(t, "POST", "/v1/sessions/s1/requests", map[string]string{"model_id": "m"}), http.StatusCreated)
	resp = f.do(t, "GET", "/v1/sessions/s1", nil)
	wantStatus(t, resp, http.StatusOK)
	if got := decode[chat.Session](t, resp); len(got.Requests) != 1 || got.Requests[0].ModelID != "m" {
		t.Errorf("requests = %+v", got.Requests)
	}

	wantStatus(t, f.do(t, "DELETE", "/v1/sessions/s1", nil), http.StatusNoContent)
	wantErrorType(t, f.do(t, "GET", "/v1/sessions/s1", nil), http.StatusNotFound, api.ErrorTypeNotFound)
	wantErrorType(t, f.do(t, "DELETE", "/v1/sessions/s1", nil), http.StatusNotFound, api.ErrorTypeNotFound)
	wantErrorType(t, f.do(t, "POST", "/v1/sessions/s1/requests", map[string]string{"model_id": "m"}), http.StatusNotFound, api.ErrorTypeNotFound)
}

func TestSessionWithoutRequestCannotInvoke(t *testing.T) {
	f := newFixture(t, Config{})
	wantStatus(t, f.do(t, "POST", "/v1/sessions", map[string]string{"id": "empty"}), http.StatusCreated)
	wantErrorType(t, f.do(t, "POST", "/v1/tools/echo/invocations", map[string]any{"session_id": "empty"}), http.StatusConflict, api.ErrorTypeConflict)
}
