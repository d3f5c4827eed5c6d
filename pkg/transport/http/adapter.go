package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/chat"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/dialog"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/policy"
	"github.com/rhuss/toolgate/pkg/toolcall"
	"github.com/rhuss/toolgate/pkg/tools/naming"
	"github.com/rhuss/toolgate/pkg/tools/registry"
	"github.com/rhuss/toolgate/pkg/transport"
)

// DefaultMaxBodySize is the default request body limit (10 MB).
const DefaultMaxBodySize = 10 << 20

// Invoker runs tool calls and cancels the calls of a chat request.
type Invoker interface {
	InvokeTool(ctx context.Context, inv *api.Invocation, countTokens api.CountTokensFunc) (*api.ToolResult, error)
	CancelToolCallsForRequest(requestID string) int
}

// Deps are the services the adapter exposes. Reload is optional; without
// it the reload endpoint is not mounted.
type Deps struct {
	Registry *registry.Registry
	Resolver *naming.Resolver
	Invoker  Invoker
	Chat     *chat.Service
	Dialogs  *dialog.Broker
	Reload   func(ctx context.Context) error

	// SessionApprovals records "approve for this session" answers. Without
	// it the session scope is rejected.
	SessionApprovals *policy.SessionAllowList
}

// Config holds HTTP adapter settings.
type Config struct {
	// MaxBodySize limits request bodies. Zero means DefaultMaxBodySize.
	MaxBodySize int64

	// InvokeMiddleware wraps the invocation route only, e.g. rate limiting.
	InvokeMiddleware []transport.Middleware

	// AdminMiddleware wraps the reload route.
	AdminMiddleware []transport.Middleware
}

// Adapter serves the tool control API over HTTP.
type Adapter struct {
	deps   Deps
	config Config
	logger *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(deps Deps, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Adapter{deps: deps, config: cfg, logger: slog.Default()}
}

// Handler returns the routed handler.
func (a *Adapter) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)

	mux.HandleFunc("GET /v1/tools", a.handleListTools)
	mux.HandleFunc("GET /v1/tools/qualified-names", a.handleQualifiedNames)
	mux.HandleFunc("GET /v1/tools/deprecated-names", a.handleDeprecatedNames)
	mux.HandleFunc("GET /v1/tools/resolve", a.handleResolve)
	mux.HandleFunc("POST /v1/tools/enablement", a.handleEnablement)
	if a.deps.Reload != nil {
		mux.Handle("POST /v1/tools/reload",
			transport.Chain(a.config.AdminMiddleware...)(http.HandlerFunc(a.handleReload)))
	}
	mux.HandleFunc("GET /v1/tools/{id}", a.handleGetTool)
	mux.Handle("POST /v1/tools/{id}/invocations",
		transport.Chain(a.config.InvokeMiddleware...)(http.HandlerFunc(a.handleInvoke)))
	mux.HandleFunc("GET /v1/toolsets", a.handleListToolSets)

	mux.HandleFunc("GET /v1/invocations/{callId}", a.handleGetInvocation)
	mux.HandleFunc("GET /v1/invocations/{callId}/events", a.handleInvocationEvents)
	mux.HandleFunc("POST /v1/invocations/{callId}/confirmation", a.handleConfirm)
	mux.HandleFunc("DELETE /v1/requests/{rid}/tool-calls", a.handleCancelRequest)

	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("POST /v1/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{sid}", a.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{sid}", a.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{sid}/requests", a.handleAddRequest)
	mux.HandleFunc("GET /v1/sessions/{sid}/invocations", a.handleSessionInvocations)
	mux.HandleFunc("GET /v1/sessions/{sid}/events", a.handleSessionEvents)

	mux.HandleFunc("GET /v1/prompts", a.handleListPrompts)
	mux.HandleFunc("GET /v1/prompts/events", a.handlePromptEvents)
	mux.HandleFunc("POST /v1/prompts/{id}", a.handleAnswerPrompt)

	return mux
}

func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toolView is a tool as listed by the API.
type toolView struct {
	api.ToolData
	QualifiedNames    []string `json:"qualified_names,omitempty"`
	HasImplementation bool     `json:"has_implementation"`
}

// toolSetView is a tool set with its member ids.
type toolSetView struct {
	api.ToolSet
	QualifiedName string   `json:"qualified_name"`
	Tools         []string `json:"tools"`
}

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

// qualifiedNames maps tool ids to every name they resolve from.
func (a *Adapter) qualifiedNames() map[string][]string {
	out := make(map[string][]string)
	for _, e := range a.deps.Resolver.Entries() {
		if e.Tool != nil {
			out[e.Tool.ID] = append(out[e.Tool.ID], e.Name)
		}
	}
	return out
}

func (a *Adapter) toolView(t api.ToolData, names map[string][]string) toolView {
	_, impl, _ := a.deps.Registry.Lookup(t.ID)
	return toolView{ToolData: t, QualifiedNames: names[t.ID], HasImplementation: impl != nil}
}

func (a *Adapter) toolSetView(s api.ToolSet) toolSetView {
	ids := []string{}
	for _, t := range a.deps.Registry.ToolSetMembers(s.ID) {
		ids = append(ids, t.ID)
	}
	return toolSetView{ToolSet: s, QualifiedName: naming.ToolSetQualifiedName(s), Tools: ids}
}

func (a *Adapter) handleListTools(w http.ResponseWriter, r *http.Request) {
	includeDisabled, err := parseBool(r, "include_disabled")
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("include_disabled", err.Error()))
		return
	}
	names := a.qualifiedNames()
	views := []toolView{}
	for t := range a.deps.Registry.GetTools(includeDisabled) {
		views = append(views, a.toolView(t, names))
	}
	writeJSON(w, http.StatusOK, listResponse[toolView]{Object: "list", Data: views})
}

func (a *Adapter) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := a.deps.Registry.GetTool(id)
	if !ok {
		a.writeError(w, api.NotContributedError(id))
		return
	}
	writeJSON(w, http.StatusOK, a.toolView(t, a.qualifiedNames()))
}

func (a *Adapter) handleListToolSets(w http.ResponseWriter, _ *http.Request) {
	views := []toolSetView{}
	for _, s := range a.deps.Registry.ToolSets() {
		views = append(views, a.toolSetView(s))
	}
	writeJSON(w, http.StatusOK, listResponse[toolSetView]{Object: "list", Data: views})
}

func (a *Adapter) handleQualifiedNames(w http.ResponseWriter, _ *http.Request) {
	names := a.deps.Resolver.QualifiedToolNames()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, listResponse[string]{Object: "list", Data: names})
}

func (a *Adapter) handleDeprecatedNames(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string][]string)
	for legacy, current := range a.deps.Resolver.DeprecatedQualifiedToolNames() {
		out[legacy] = slices.Sorted(maps.Keys(current))
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveResponse struct {
	Name    string       `json:"name"`
	Tool    *toolView    `json:"tool,omitempty"`
	ToolSet *toolSetView `json:"tool_set,omitempty"`
}

// handleResolve looks a qualified or legacy name up. A name can match a
// tool and a tool set at once; both are returned.
func (a *Adapter) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("name", "name is required"))
		return
	}
	resp := resolveResponse{Name: name}
	if t, ok := a.deps.Resolver.ToolByQualifiedName(name); ok {
		v := a.toolView(t, a.qualifiedNames())
		resp.Tool = &v
	}
	if s, ok := a.deps.Resolver.ToolSetByQualifiedName(name); ok {
		v := a.toolSetView(s)
		resp.ToolSet = &v
	}
	if resp.Tool == nil && resp.ToolSet == nil {
		transport.WriteAPIError(w, api.NewNotFoundError("no tool or tool set is named "+strconv.Quote(name)))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type enablementRequest struct {
	Names  []string `json:"names"`
	Target string   `json:"target,omitempty"`
}

type enablementResponse struct {
	Enablement     api.EnablementMap `json:"enablement"`
	QualifiedNames []string          `json:"qualified_names"`
}

// handleEnablement turns a list of qualified names into an enablement map,
// and returns the canonical names of the result.
func (a *Adapter) handleEnablement(w http.ResponseWriter, r *http.Request) {
	var req enablementRequest
	if !a.decode(w, r, &req) {
		return
	}
	m := a.deps.Resolver.ToToolAndToolSetEnablementMap(req.Names, req.Target)
	names := a.deps.Resolver.ToQualifiedToolNames(m)
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, enablementResponse{Enablement: m, QualifiedNames: names})
}

func (a *Adapter) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Reload(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type invokeRequest struct {
	CallID           string                `json:"call_id,omitempty"`
	Parameters       map[string]any        `json:"parameters"`
	SessionID        string                `json:"session_id,omitempty"`
	ToolSpecificData *api.ToolSpecificData `json:"tool_specific_data,omitempty"`
	FromSubAgent     bool                  `json:"from_sub_agent,omitempty"`
}

type invokeResponse struct {
	CallID string          `json:"call_id"`
	ToolID string          `json:"tool_id"`
	Result *api.ToolResult `json:"result,omitempty"`
	Error  *api.APIError   `json:"error,omitempty"`
}

// handleInvoke runs a call and answers once it finished. The call lives as
// long as the request: a client disconnect cancels it. A call that needs
// confirmation waits until it is confirmed through the confirmation or
// prompt endpoints.
func (a *Adapter) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !a.decode(w, r, &req) {
		return
	}

	inv := &api.Invocation{
		CallID:           req.CallID,
		ToolID:           r.PathValue("id"),
		Parameters:       req.Parameters,
		ToolSpecificData: req.ToolSpecificData,
		FromSubAgent:     req.FromSubAgent,
	}
	if inv.CallID == "" {
		inv.CallID = api.NewCallID()
	}
	if inv.Parameters == nil {
		inv.Parameters = map[string]any{}
	}
	if req.SessionID != "" {
		inv.Context = &api.ChatContext{SessionID: req.SessionID}
	}

	debug.Log("transport", "invoking tool", "tool", inv.ToolID, "call_id", inv.CallID, "session", req.SessionID)
	result, err := a.deps.Invoker.InvokeTool(r.Context(), inv, approxTokens)
	if err != nil && result == nil {
		a.writeError(w, err)
		return
	}

	resp := invokeResponse{CallID: inv.CallID, ToolID: inv.ToolID, Result: result}
	status := http.StatusOK
	if err != nil {
		resp.Error = apiError(err)
		status = transport.HTTPStatusFromError(resp.Error)
	}
	writeJSON(w, status, resp)
}

// approxTokens estimates a token count at four bytes per token.
func approxTokens(_ context.Context, text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

func (a *Adapter) call(w http.ResponseWriter, r *http.Request) (*toolcall.Call, bool) {
	id := r.PathValue("callId")
	c, ok := a.deps.Chat.FindToolCall(id)
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError("no tool call with id "+strconv.Quote(id)))
		return nil, false
	}
	return c, true
}

func (a *Adapter) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	c, ok := a.call(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Confirmation gates.
const (
	gatePre  = "pre"
	gatePost = "post"
)

type confirmRequest struct {
	// Decision is approve, deny or skip.
	Decision string `json:"decision"`

	// Gate is pre or post. It defaults to the gate the call waits at.
	Gate string `json:"gate,omitempty"`

	EditedInput map[string]any `json:"edited_input,omitempty"`

	// Scope "session" approves the tool for the rest of the chat session.
	Scope string `json:"scope,omitempty"`
}

var decisions = map[string]api.ConfirmKind{
	"approve": api.ConfirmUserApproved,
	"deny":    api.ConfirmDenied,
	"skip":    api.ConfirmSkipped,
}

func (a *Adapter) handleConfirm(w http.ResponseWriter, r *http.Request) {
	c, ok := a.call(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !a.decode(w, r, &req) {
		return
	}

	kind, ok := decisions[req.Decision]
	if !ok {
		transport.WriteAPIError(w, api.NewInvalidRequestError("decision", "decision must be approve, deny or skip"))
		return
	}
	gate := req.Gate
	if gate == "" {
		gate = gatePre
		if c.State() == api.CallWaitingForPostConfirmation {
			gate = gatePost
		}
	}
	if req.Scope != "" {
		if apiErr := a.checkScope(req, kind, gate, c); apiErr != nil {
			transport.WriteAPIError(w, apiErr)
			return
		}
	}
	reason := api.ConfirmedReason{Kind: kind, Scope: req.Scope}

	var err error
	switch gate {
	case gatePre:
		err = c.Confirm(reason, req.EditedInput)
	case gatePost:
		if req.EditedInput != nil {
			transport.WriteAPIError(w, api.NewInvalidRequestError("edited_input", "input cannot be edited after execution"))
			return
		}
		err = c.ConfirmPost(reason)
	default:
		transport.WriteAPIError(w, api.NewInvalidRequestError("gate", "gate must be pre or post"))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	if req.Scope == policy.ScopeSession {
		a.deps.SessionApprovals.Allow(c.SessionID(), c.ToolID())
	}
	debug.Log("transport", "tool call confirmed", "call_id", c.ID(), "gate", gate, "decision", req.Decision)
	writeJSON(w, http.StatusOK, c.View())
}

// checkScope validates a scoped answer. Only pre-execution approvals of
// chat calls can be remembered for the session.
func (a *Adapter) checkScope(req confirmRequest, kind api.ConfirmKind, gate string, c *toolcall.Call) *api.APIError {
	switch {
	case req.Scope != policy.ScopeSession:
		return api.NewInvalidRequestError("scope", "scope must be session")
	case a.deps.SessionApprovals == nil:
		return api.NewInvalidRequestError("scope", "session approvals are not enabled")
	case kind != api.ConfirmUserApproved || gate != gatePre:
		return api.NewInvalidRequestError("scope", "only pre-execution approvals can be remembered")
	case c.SessionID() == "":
		return api.NewInvalidRequestError("scope", "call has no chat session")
	}
	if msgs := c.View().Confirmation; msgs != nil && msgs.AllowAutoConfirm != nil && !*msgs.AllowAutoConfirm {
		return api.NewInvalidRequestError("scope", "this tool must be confirmed on every call")
	}
	return nil
}

func (a *Adapter) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	n := a.deps.Invoker.CancelToolCallsForRequest(r.PathValue("rid"))
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

// handleInvocationEvents streams the views of one call until it reaches a
// terminal state.
func (a *Adapter) handleInvocationEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := a.call(w, r)
	if !ok {
		return
	}

	q := newQueue[toolcall.View]()
	sub := c.OnDidChange(q.push)
	defer sub.Dispose()

	s, err := newEventStream(w)
	if err != nil {
		a.logger.Error("failed to open event stream", "error", err)
		return
	}

	v := c.View()
	for {
		if err := s.send(eventToolCall, v); err != nil {
			debug.Log("transport", "event stream closed", "call_id", c.ID(), "error", err)
			return
		}
		if v.State.Terminal() {
			_ = s.send(eventDone, map[string]string{"call_id": c.ID()})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-q.ready:
		}
		// Later changes supersede earlier ones.
		q.drain()
		v = c.View()
	}
}

// handleSessionEvents streams the calls of a session: every call already
// known, then every new call and each change of any of them. It ends when
// the client disconnects, or with the first event after the session was
// deleted.
func (a *Adapter) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	added := newQueue[*toolcall.Call]()
	subs := []event.Disposable{a.deps.Chat.OnDidAddToolCall(func(c *toolcall.Call) {
		if c.SessionID() == sid {
			added.push(c)
		}
	})}
	defer func() {
		for _, d := range subs {
			d.Dispose()
		}
	}()

	calls, err := a.deps.Chat.ToolCalls(sid)
	if err != nil {
		a.writeError(w, err)
		return
	}

	changed := newQueue[*toolcall.Call]()
	watched := make(map[*toolcall.Call]bool)
	watch := func(c *toolcall.Call) {
		if watched[c] {
			return
		}
		watched[c] = true
		changed.push(c)
		subs = append(subs, c.OnDidChange(func(toolcall.View) { changed.push(c) }))
	}
	for _, c := range calls {
		watch(c)
	}

	s, err := newEventStream(w)
	if err != nil {
		a.logger.Error("failed to open event stream", "error", err)
		return
	}

	for {
		for _, c := range added.drain() {
			watch(c)
		}
		var sent []*toolcall.Call
		for _, c := range changed.drain() {
			if slices.Contains(sent, c) {
				continue
			}
			sent = append(sent, c)
			if err := s.send(eventToolCall, c.View()); err != nil {
				debug.Log("transport", "event stream closed", "session", sid, "error", err)
				return
			}
		}
		if _, err := a.deps.Chat.GetSession(sid); err != nil {
			_ = s.send(eventDone, map[string]string{"session_id": sid})
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-added.ready:
		case <-changed.ready:
		}
	}
}

func (a *Adapter) handleSessionInvocations(w http.ResponseWriter, r *http.Request) {
	pending, err := parseBool(r, "pending")
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("pending", err.Error()))
		return
	}
	calls, err := a.deps.Chat.ToolCalls(r.PathValue("sid"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := []toolcall.View{}
	for _, c := range calls {
		v := c.View()
		if pending && v.State != api.CallWaitingForConfirmation && v.State != api.CallWaitingForPostConfirmation {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, listResponse[toolcall.View]{Object: "list", Data: views})
}

type createSessionRequest struct {
	ID string `json:"id,omitempty"`
}

func (a *Adapter) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	sess, err := a.deps.Chat.CreateSession(req.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *Adapter) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse[chat.Session]{Object: "list", Data: a.deps.Chat.Sessions()})
}

func (a *Adapter) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.deps.Chat.GetSession(r.PathValue("sid"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *Adapter) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := a.deps.Chat.DeleteSession(sid); err != nil {
		a.writeError(w, err)
		return
	}
	if a.deps.SessionApprovals != nil {
		a.deps.SessionApprovals.Forget(sid)
	}
	w.WriteHeader(http.StatusNoContent)
}

type addRequestRequest struct {
	ModelID string `json:"model_id"`
}

func (a *Adapter) handleAddRequest(w http.ResponseWriter, r *http.Request) {
	var req addRequestRequest
	if !a.decode(w, r, &req) {
		return
	}
	cr, err := a.deps.Chat.AddRequest(r.PathValue("sid"), req.ModelID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cr)
}

func (a *Adapter) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	pending := a.deps.Dialogs.Pending()
	if pending == nil {
		pending = []dialog.Request{}
	}
	writeJSON(w, http.StatusOK, listResponse[dialog.Request]{Object: "list", Data: pending})
}

type answerRequest struct {
	Button string `json:"button"`
}

func (a *Adapter) handleAnswerPrompt(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.deps.Dialogs.Answer(r.PathValue("id"), req.Button); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePromptEvents streams the pending prompts, then each new one.
func (a *Adapter) handlePromptEvents(w http.ResponseWriter, r *http.Request) {
	q := newQueue[dialog.Request]()
	sub := a.deps.Dialogs.OnDidAdd(q.push)
	defer sub.Dispose()

	s, err := newEventStream(w)
	if err != nil {
		a.logger.Error("failed to open event stream", "error", err)
		return
	}

	sent := make(map[string]bool)
	send := func(reqs []dialog.Request) bool {
		for _, p := range reqs {
			if sent[p.ID] {
				continue
			}
			sent[p.ID] = true
			if err := s.send(eventPrompt, p); err != nil {
				debug.Log("transport", "event stream closed", "error", err)
				return false
			}
		}
		return true
	}
	if !send(a.deps.Dialogs.Pending()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-q.ready:
			if !send(q.drain()) {
				return
			}
		}
	}
}

// decode validates the content type, limits the body size and decodes
// the JSON body into v. It writes the error response and returns false on
// failure.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", "request body too large"),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

// apiError maps service errors to API errors.
func apiError(err error) *api.APIError {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrRequestNotFound),
		errors.Is(err, dialog.ErrUnknownPrompt):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, chat.ErrSessionExists),
		errors.Is(err, chat.ErrNoRequest),
		errors.Is(err, toolcall.ErrNotPending):
		return api.NewConflictError(err.Error())
	case errors.Is(err, dialog.ErrInvalidButton):
		return api.NewInvalidRequestError("button", err.Error())
	}
	return transport.APIErrorFrom(err)
}

// writeError writes err as an API error. Server errors are logged.
func (a *Adapter) writeError(w http.ResponseWriter, err error) {
	apiErr := apiError(err)
	if transport.HTTPStatusFromError(apiErr) >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	transport.WriteAPIError(w, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseBool(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
