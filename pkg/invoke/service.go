// Package invoke runs tool calls.
//
// A call goes through prepare, an optional confirmation, invoke and an
// optional post-execution confirmation. Calls made inside a chat session
// are published to the chat service as a [toolcall.Call] so a user can
// answer their confirmations, and are tracked per chat request so that
// cancelling the request cancels them. Calls made outside a chat session
// confirm through a yes/no dialog and have no post-execution stage.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/policy"
	"github.com/rhuss/toolgate/pkg/toolcall"
	"github.com/rhuss/toolgate/pkg/tools/naming"
	"github.com/rhuss/toolgate/pkg/tracker"
)

// DefaultPrepareTimeout is how long prepare may run before the call is
// reported as unresponsive. The call keeps waiting for prepare afterwards.
const DefaultPrepareTimeout = 3 * time.Second

// Results substituted for skipped calls.
const (
	SkippedMessage     = "The user chose to skip the tool call, they want to proceed without running it"
	NotSharedMessage   = "The tool executed but the user chose not to share the results"
	defaultConfirmText = "Allow tool to execute?"
)

// Deps holds the collaborators of a Service. Tools and Policy are
// required; Chat is required for chat-context calls and Dialogs for
// calls outside a chat session that need confirmation.
type Deps struct {
	Tools     Tools
	Policy    Policy
	Activator Activator
	Chat      ChatService
	Dialogs   Dialogs
	Signals   AccessibilitySignals
	Telemetry Telemetry
	Tracker   *tracker.Tracker
	Logger    *slog.Logger

	PrepareTimeout time.Duration
}

// Service is the invocation orchestrator. It is safe for concurrent use;
// any number of calls may run at the same time.
type Service struct {
	deps Deps

	onDidPrepareUnresponsive event.Emitter[UnresponsiveEvent]
}

// New creates a Service, filling in defaults for optional collaborators.
func New(deps Deps) *Service {
	if deps.Activator == nil {
		deps.Activator = noopActivator
	}
	if deps.Signals == nil {
		deps.Signals = nopSignals{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = nopTelemetry{}
	}
	if deps.Tracker == nil {
		deps.Tracker = tracker.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PrepareTimeout <= 0 {
		deps.PrepareTimeout = DefaultPrepareTimeout
	}
	return &Service{deps: deps}
}

// OnDidPrepareToolCallBecomeUnresponsive subscribes to prepare calls that
// exceed the prepare timeout.
func (s *Service) OnDidPrepareToolCallBecomeUnresponsive(fn func(UnresponsiveEvent)) event.Disposable {
	return s.onDidPrepareUnresponsive.Subscribe(fn)
}

// CancelToolCallsForRequest cancels every running call of a chat request.
// Calls waiting for confirmation are denied. It returns the number of
// calls cancelled.
func (s *Service) CancelToolCallsForRequest(requestID string) int {
	return s.deps.Tracker.CancelRequest(requestID)
}

// InvokeTool runs one call of a tool. inv is not modified.
//
// A denied confirmation or a cancelled ctx yields an error matching
// api.ErrCancelled. When the implementation fails, the returned result
// carries the failure in ToolResultError alongside the error.
func (s *Service) InvokeTool(ctx context.Context, inv *api.Invocation, countTokens api.CountTokensFunc) (*api.ToolResult, error) {
	dto := *inv
	dto.Parameters = maps.Clone(inv.Parameters)
	if inv.Context != nil {
		cc := *inv.Context
		dto.Context = &cc
	}
	if dto.CallID == "" {
		dto.CallID = api.NewCallID()
	}

	tool, impl, err := s.resolve(ctx, &dto)
	if err != nil {
		return nil, err
	}

	r := &run{Service: s, tool: tool, impl: impl, dto: &dto, countTokens: countTokens}
	result, err := r.execute(ctx)
	return s.finish(r, result, err)
}

// resolve looks the tool up, activating its contributor once if a
// chat-context call finds no implementation.
func (s *Service) resolve(ctx context.Context, dto *api.Invocation) (api.ToolData, api.ToolImplementation, error) {
	tool, impl, err := s.deps.Tools.Lookup(dto.ToolID)
	if err != nil {
		return api.ToolData{}, nil, err
	}
	if impl != nil {
		return tool, impl, nil
	}
	if dto.Context == nil {
		return api.ToolData{}, nil, api.NoImplementationError(dto.ToolID)
	}

	ev := ActivationEvent(dto.ToolID)
	debug.Log("invoke", "activating tool contributor", "event", ev)
	if err := s.deps.Activator.ActivateByEvent(ctx, ev); err != nil {
		s.deps.Logger.Warn("tool activation failed", "event", ev, "error", err)
	}
	tool, impl, err = s.deps.Tools.Lookup(dto.ToolID)
	if err != nil || impl == nil {
		return api.ToolData{}, nil, api.NoImplementationError(dto.ToolID)
	}
	return tool, impl, nil
}

// run holds the state of one invocation.
type run struct {
	*Service

	tool        api.ToolData
	impl        api.ToolImplementation
	dto         *api.Invocation
	countTokens api.CountTokensFunc

	call     *toolcall.Call
	release  func()
	cancel   context.CancelFunc
	terminal api.CallState

	// dialogFailed is set when the confirmation dialog itself failed, so
	// the tool never ran.
	dialogFailed bool

	prepareDuration time.Duration
	invokeDuration  time.Duration
}

func (r *run) policyRequest() policy.Request {
	req := policy.Request{
		ToolID:          r.tool.ID,
		RunsInWorkspace: r.tool.RunsInWorkspace,
		Source:          r.tool.Source,
		Parameters:      r.dto.Parameters,
	}
	if r.dto.Context != nil {
		req.ChatSessionID = r.dto.Context.SessionID
	}
	return req
}

func (r *run) sessionID() string {
	if r.dto.Context == nil {
		return ""
	}
	return r.dto.Context.SessionID
}

func (r *run) execute(ctx context.Context) (*api.ToolResult, error) {
	if r.dto.Context != nil {
		var done bool
		var result *api.ToolResult
		var err error
		ctx, result, done, err = r.confirmInChat(ctx)
		if err != nil || done {
			return result, err
		}
	} else if err := r.confirmWithDialog(ctx); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, api.CancellationError(r.tool.ID)
	}

	if r.call != nil {
		if err := r.call.Transition(api.CallInvoking); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	result, err := r.invoke(ctx)
	r.invokeDuration = time.Since(start)
	if err != nil {
		return result, err
	}
	r.ensureToolDetails(result)

	if r.call != nil && result.PostConfirmation != nil {
		return r.confirmPost(ctx, result)
	}
	return result, nil
}

// confirmInChat prepares the call, publishes it to the chat session and
// waits for its confirmation. The returned context is cancelled when the
// chat request is. done reports that the call ended without invoking.
func (r *run) confirmInChat(ctx context.Context) (context.Context, *api.ToolResult, bool, error) {
	if r.deps.Chat == nil {
		return ctx, nil, false, errors.New("chat-context call without a chat service")
	}
	req, err := r.deps.Chat.LatestRequest(r.dto.Context.SessionID)
	if err != nil {
		return ctx, nil, false, fmt.Errorf("tool called for unknown chat session: %w", err)
	}
	r.dto.Context.RequestID = req.ID
	r.dto.Context.ModelID = req.ModelID

	ctx, r.cancel = context.WithCancel(ctx)
	r.release = r.deps.Tracker.Track(req.ID, r.dto.CallID, r.cancel)

	prepared, err := r.prepare(ctx)
	if err != nil {
		return ctx, nil, false, err
	}

	r.call = toolcall.New(toolcall.Options{
		CallID:     r.dto.CallID,
		ToolID:     r.tool.ID,
		SessionID:  r.dto.Context.SessionID,
		RequestID:  req.ID,
		Source:     r.tool.Source,
		Parameters: r.dto.Parameters,
	})
	if err := r.call.SetPrepared(prepared); err != nil {
		return ctx, nil, false, err
	}

	auto, err := r.autoConfirm(ctx, prepared)
	if err != nil {
		return ctx, nil, false, err
	}
	if auto != nil && r.call.PreConfirmation().Kind == api.ConfirmPending {
		if err := r.call.Confirm(*auto, nil); err != nil {
			return ctx, nil, false, err
		}
	}

	if err := r.deps.Chat.AppendToolCall(r.call); err != nil {
		return ctx, nil, false, err
	}
	r.dto.ToolSpecificData = r.call.ToolSpecificData()

	if !prepared.NeedsConfirmation() {
		return ctx, nil, false, nil
	}

	if !r.call.PreConfirmation().Kind.Decided() && auto == nil {
		if alert := r.deps.Policy.UserActionAlert(); alert.Any() {
			r.deps.Signals.UserActionRequired(ctx, SignalEvent{
				ToolID:        r.tool.ID,
				CallID:        r.dto.CallID,
				ChatSessionID: r.dto.Context.SessionID,
				Alert:         alert,
			})
		}
	}

	debug.Log("invoke", "awaiting confirmation", "tool", r.tool.ID, "call_id", r.dto.CallID)
	reason, err := r.call.AwaitConfirmation(ctx)
	r.deps.Telemetry.ToolConfirmed(ConfirmedEvent{ToolID: r.tool.ID, Gate: GatePre, Kind: reason.Kind})
	if err != nil || reason.Kind == api.ConfirmDenied {
		r.terminal = api.CallDenied
		return ctx, nil, false, api.CancellationError(r.tool.ID)
	}
	if reason.Kind == api.ConfirmSkipped {
		r.terminal = api.CallSkipped
		return ctx, api.TextResult(SkippedMessage), true, nil
	}

	// The approved data may carry input edited by the user.
	r.dto.ToolSpecificData = r.call.ToolSpecificData()
	if d := r.dto.ToolSpecificData; d != nil && d.Kind == api.ToolDataKindInput {
		r.dto.Parameters = maps.Clone(d.RawInput)
		r.dto.ToolSpecificData = nil
	}
	if err := r.call.Transition(api.CallApproved); err != nil {
		return ctx, nil, false, err
	}
	return ctx, nil, false, nil
}

// confirmWithDialog prepares a call made outside a chat session and asks
// a yes/no question if it needs confirmation.
func (r *run) confirmWithDialog(ctx context.Context) error {
	prepared, err := r.prepare(ctx)
	if err != nil {
		return err
	}
	if prepared.NeedsConfirmation() {
		auto, err := r.autoConfirm(ctx, prepared)
		if err != nil {
			return err
		}
		if auto == nil {
			if r.deps.Dialogs == nil {
				return errors.New("call needs confirmation but no dialog service is configured")
			}
			msgs := prepared.ConfirmationMessages
			ok, err := r.deps.Dialogs.Confirm(ctx, msgs.Title, msgs.Message)
			kind := api.ConfirmUserApproved
			if err != nil || !ok {
				kind = api.ConfirmDenied
			}
			r.deps.Telemetry.ToolConfirmed(ConfirmedEvent{ToolID: r.tool.ID, Gate: GatePre, Kind: kind})
			if err != nil && !api.IsCancellation(err) {
				r.dialogFailed = true
				return fmt.Errorf("asking for confirmation: %w", err)
			}
			if kind == api.ConfirmDenied {
				return api.CancellationError(r.tool.ID)
			}
		}
	}
	if prepared != nil {
		r.dto.ToolSpecificData = prepared.ToolSpecificData
	}
	return nil
}

// autoConfirm asks the policy for an automatic approval unless the
// confirmation opted out of it.
func (r *run) autoConfirm(ctx context.Context, prepared *api.PreparedInvocation) (*api.ConfirmedReason, error) {
	if prepared.NeedsConfirmation() {
		if allow := prepared.ConfirmationMessages.AllowAutoConfirm; allow != nil && !*allow {
			return nil, nil
		}
	}
	return r.deps.Policy.ShouldAutoConfirm(ctx, r.policyRequest())
}

type prepareResult struct {
	prepared *api.PreparedInvocation
	err      error
}

// prepare runs the implementation's prepare hook, reporting it as
// unresponsive once the prepare timeout passes, and applies the default
// confirmation rules to its result.
func (r *run) prepare(ctx context.Context) (*api.PreparedInvocation, error) {
	start := time.Now()
	defer func() { r.prepareDuration = time.Since(start) }()

	var prepared *api.PreparedInvocation
	if preparer, ok := r.impl.(api.ToolPreparer); ok {
		pctx := api.PrepareContext{Parameters: maps.Clone(r.dto.Parameters)}
		if r.dto.Context != nil {
			pctx.ChatSessionID = r.dto.Context.SessionID
			pctx.ChatRequestID = r.dto.Context.RequestID
		}

		ch := make(chan prepareResult, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					ch <- prepareResult{err: fmt.Errorf("prepare panicked: %v", p)}
				}
			}()
			p, err := preparer.PrepareToolInvocation(ctx, pctx)
			ch <- prepareResult{prepared: p, err: err}
		}()

		timer := time.NewTimer(r.deps.PrepareTimeout)
		defer timer.Stop()
	wait:
		for {
			select {
			case res := <-ch:
				if res.err != nil {
					return nil, res.err
				}
				prepared = res.prepared
				break wait
			case <-timer.C:
				ev := UnresponsiveEvent{
					Tool:          r.tool,
					CallID:        r.dto.CallID,
					ChatSessionID: r.sessionID(),
					Elapsed:       time.Since(start),
				}
				r.deps.Logger.Warn("tool prepare is unresponsive", "tool", r.tool.ID, "elapsed", ev.Elapsed)
				r.deps.Telemetry.PrepareUnresponsive(ev)
				r.onDidPrepareUnresponsive.Fire(ev)
			case <-ctx.Done():
				return nil, api.CancellationError(r.tool.ID)
			}
		}
	}
	return r.applyDefaults(prepared), nil
}

// applyDefaults forces a confirmation for tools that are not eligible for
// auto approval and decides whether the confirmation may be auto-confirmed.
func (r *run) applyDefaults(prepared *api.PreparedInvocation) *api.PreparedInvocation {
	if prepared != nil {
		cp := *prepared
		if cp.ConfirmationMessages != nil {
			msgs := *cp.ConfirmationMessages
			cp.ConfirmationMessages = &msgs
		}
		prepared = &cp
	}

	eligible := r.deps.Policy.IsToolEligibleForAutoApproval(r.tool)
	if !eligible && !prepared.NeedsConfirmation() {
		if prepared == nil {
			prepared = &api.PreparedInvocation{}
		}
		name := naming.ToolQualifiedName(r.tool)
		prepared.ConfirmationMessages = &api.ConfirmationMessages{
			Title:            defaultConfirmText,
			Message:          fmt.Sprintf("Run the '%s' tool?", name),
			Disclaimer:       fmt.Sprintf("Auto approval for '%s' is restricted via `%s`.", name, policy.SettingEligibleForAutoApproval),
			AllowAutoConfirm: api.Bool(false),
		}
	}

	if prepared.NeedsConfirmation() {
		msgs := prepared.ConfirmationMessages
		terminal := prepared.ToolSpecificData != nil && prepared.ToolSpecificData.Kind == api.ToolDataKindTerminal
		if !terminal && (msgs.AllowAutoConfirm == nil || *msgs.AllowAutoConfirm) {
			msgs.AllowAutoConfirm = api.Bool(eligible)
		}
	}

	if r.tool.AlwaysDisplayInputOutput && (prepared == nil || prepared.ToolSpecificData == nil) {
		if prepared == nil {
			prepared = &api.PreparedInvocation{}
		}
		prepared.ToolSpecificData = &api.ToolSpecificData{
			Kind:     api.ToolDataKindInput,
			RawInput: maps.Clone(r.dto.Parameters),
		}
	}
	return prepared
}

// invoke calls the implementation, turning a panic into an error.
func (r *run) invoke(ctx context.Context) (result *api.ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", r.tool.ID, p)
		}
	}()

	var progress api.ProgressReporter = api.ProgressFunc(func(api.ProgressStep) {})
	if r.call != nil {
		progress = r.call
	}
	debug.Log("invoke", "invoking tool", "tool", r.tool.ID, "call_id", r.dto.CallID)
	result, err = r.impl.Invoke(ctx, r.dto, r.countTokens, progress)
	if err == nil && result == nil {
		result = &api.ToolResult{}
	}
	return result, err
}

func (r *run) ensureToolDetails(result *api.ToolResult) {
	if !r.tool.AlwaysDisplayInputOutput || result.ToolResultDetails != nil {
		return
	}
	result.ToolResultDetails = &api.IODetails{
		Input:  api.FormatInput(r.dto.Parameters),
		Output: api.OutputParts(result.Content),
	}
}

// confirmPost runs the post-execution gate of a chat-context call.
func (r *run) confirmPost(ctx context.Context, result *api.ToolResult) (*api.ToolResult, error) {
	if err := r.call.RequestPostConfirmation(result.PostConfirmation); err != nil {
		return result, err
	}
	auto, err := r.deps.Policy.ShouldAutoConfirmPostExecution(ctx, r.policyRequest())
	if err != nil {
		return result, err
	}
	if auto != nil {
		if err := r.call.ConfirmPost(*auto); err != nil && !errors.Is(err, toolcall.ErrNotPending) {
			return result, err
		}
	}

	debug.Log("invoke", "awaiting post confirmation", "tool", r.tool.ID, "call_id", r.dto.CallID)
	reason, err := r.call.AwaitPostConfirmation(ctx)
	r.deps.Telemetry.ToolConfirmed(ConfirmedEvent{ToolID: r.tool.ID, Gate: GatePost, Kind: reason.Kind})
	switch {
	case err != nil || reason.Kind == api.ConfirmDenied:
		r.terminal = api.CallDenied
		return nil, api.CancellationError(r.tool.ID)
	case reason.Kind == api.ConfirmSkipped:
		return api.TextResult(NotSharedMessage), nil
	}
	if err := r.call.Transition(api.CallPostApproved); err != nil {
		return result, err
	}
	return result, nil
}

// finish records the outcome of a run: the result error fields, the
// tracked call's terminal state, telemetry and the tracker entry.
func (s *Service) finish(r *run, result *api.ToolResult, err error) (*api.ToolResult, error) {
	if r.release != nil {
		r.release()
	}
	if r.cancel != nil {
		defer r.cancel()
	}

	outcome := OutcomeSuccess
	state := api.CallCompleted
	switch {
	case err == nil:
		if r.terminal == api.CallSkipped {
			state = api.CallSkipped
		}
	case api.IsCancellation(err):
		outcome = OutcomeUserCancelled
		state = api.CallDenied
		if r.terminal != api.CallDenied {
			state = api.CallFailed
		}
		err = api.CancellationError(r.tool.ID)
	case r.dialogFailed:
		outcome = OutcomeError
		state = api.CallFailed
		s.deps.Logger.Warn("tool confirmation failed", "tool", r.tool.ID, "call_id", r.dto.CallID, "error", err)
	default:
		outcome = OutcomeError
		state = api.CallFailed
		if result == nil {
			result = &api.ToolResult{}
		}
		result.ToolResultError = err.Error()
		if r.tool.AlwaysDisplayInputOutput {
			result.ToolResultDetails = &api.IODetails{
				Input:   api.FormatInput(r.dto.Parameters),
				Output:  []api.IOPart{{Type: "embed", IsText: true, Value: err.Error()}},
				IsError: true,
			}
		}
		var te *api.ToolError
		if !errors.As(err, &te) {
			err = api.ExecutionError(r.tool.ID, err)
		}
		s.deps.Logger.Warn("tool invocation failed", "tool", r.tool.ID, "call_id", r.dto.CallID, "error", err)
	}

	if r.call != nil {
		if ferr := r.call.Finish(state, result, err); ferr != nil {
			debug.Log("invoke", "could not finish call", "call_id", r.dto.CallID, "error", ferr)
		}
	}

	s.deps.Telemetry.ToolInvoked(InvokedEvent{
		ToolID:          r.tool.ID,
		Source:          r.tool.Source,
		Outcome:         outcome,
		ChatSessionID:   r.sessionID(),
		PrepareDuration: r.prepareDuration,
		InvokeDuration:  r.invokeDuration,
	})
	debug.Log("invoke", "tool invocation finished", "tool", r.tool.ID, "call_id", r.dto.CallID, "outcome", outcome)

	if outcome == OutcomeUserCancelled {
		return nil, err
	}
	return result, err
}
