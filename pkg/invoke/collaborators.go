package invoke

import (
	"context"
	"time"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/chat"
	"github.com/rhuss/toolgate/pkg/policy"
	"github.com/rhuss/toolgate/pkg/toolcall"
)

// Tools resolves a tool id to its metadata and implementation. A missing
// implementation is reported as a nil ToolImplementation, an unknown id as
// an error.
type Tools interface {
	Lookup(id string) (api.ToolData, api.ToolImplementation, error)
}

// Policy decides whether confirmations can be skipped.
type Policy interface {
	IsToolEligibleForAutoApproval(tool api.ToolData) bool
	ShouldAutoConfirm(ctx context.Context, req policy.Request) (*api.ConfirmedReason, error)
	ShouldAutoConfirmPostExecution(ctx context.Context, req policy.Request) (*api.ConfirmedReason, error)
	UserActionAlert() policy.Alert
}

// Activator attaches implementations contributed lazily. Activation is
// best effort; it may leave the tool without an implementation.
type Activator interface {
	ActivateByEvent(ctx context.Context, event string) error
}

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func(ctx context.Context, event string) error

func (f ActivatorFunc) ActivateByEvent(ctx context.Context, event string) error {
	return f(ctx, event)
}

var noopActivator = ActivatorFunc(func(context.Context, string) error { return nil })

// ActivationEvent returns the activation event of a tool.
func ActivationEvent(toolID string) string {
	return "onLanguageModelTool:" + toolID
}

// ChatService is the part of the chat service used for chat-context calls.
type ChatService interface {
	LatestRequest(sessionID string) (chat.Request, error)
	AppendToolCall(c *toolcall.Call) error
}

// Dialogs shows a blocking yes/no confirmation for calls made outside a
// chat session.
type Dialogs interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
}

// AccessibilitySignals is told when a call starts waiting for the user.
type AccessibilitySignals interface {
	UserActionRequired(ctx context.Context, ev SignalEvent)
}

// Telemetry receives invocation events.
type Telemetry interface {
	ToolInvoked(ev InvokedEvent)
	ToolConfirmed(ev ConfirmedEvent)
	PrepareUnresponsive(ev UnresponsiveEvent)
}

// Outcome is the result label of an invocation.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeError         Outcome = "error"
	OutcomeUserCancelled Outcome = "userCancelled"
)

// InvokedEvent is emitted once per invocation, whatever its outcome.
type InvokedEvent struct {
	ToolID          string
	Source          api.ToolSource
	Outcome         Outcome
	ChatSessionID   string
	PrepareDuration time.Duration
	InvokeDuration  time.Duration
}

// Confirmation gates.
const (
	GatePre  = "pre"
	GatePost = "post"
)

// ConfirmedEvent is emitted when a confirmation gate is decided.
type ConfirmedEvent struct {
	ToolID string
	Gate   string
	Kind   api.ConfirmKind
}

// UnresponsiveEvent is emitted when prepare runs past the soft timeout.
type UnresponsiveEvent struct {
	Tool          api.ToolData
	CallID        string
	ChatSessionID string
	Elapsed       time.Duration
}

// SignalEvent describes a call waiting for confirmation.
type SignalEvent struct {
	ToolID        string
	CallID        string
	ChatSessionID string
	Alert         policy.Alert
}

type nopTelemetry struct{}

func (nopTelemetry) ToolInvoked(InvokedEvent)              {}
func (nopTelemetry) ToolConfirmed(ConfirmedEvent)          {}
func (nopTelemetry) PrepareUnresponsive(UnresponsiveEvent) {}

type nopSignals struct{}

func (nopSignals) UserActionRequired(context.Context, SignalEvent) {}
