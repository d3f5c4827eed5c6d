// Package toolcall holds the observable state of one tool call running in
// a chat session: its lifecycle state, the pre- and post-execution
// confirmation gates and the progress reported by the implementation.
//
// A Call is shared between the goroutine running the invocation and the
// user interface answering its confirmations; all methods are safe for
// concurrent use.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/event"
)

// ErrNotPending is returned when a confirmation is given for a gate that
// is not waiting for one.
var ErrNotPending = errors.New("confirmation is not pending")

// Options describes a new call.
type Options struct {
	CallID     string
	ToolID     string
	SessionID  string
	RequestID  string
	Source     api.ToolSource
	Parameters map[string]any
}

type gate struct {
	messages *api.ConfirmationMessages
	reason   api.ConfirmedReason
	done     chan struct{}
}

func newGate() gate {
	return gate{reason: api.Reason(api.ConfirmNotNeeded), done: make(chan struct{})}
}

// Call is a tool call tracked in a chat session.
type Call struct {
	mu sync.Mutex

	opts      Options
	state     api.CallState
	createdAt time.Time
	updatedAt time.Time

	prepared api.PreparedInvocation
	pre      gate
	post     gate

	progress []api.ProgressStep
	errMsg   string
	result   *api.ToolResult

	onDidChange event.Emitter[View]
}

// New creates a call in the Created state.
func New(opts Options) *Call {
	now := time.Now()
	opts.Parameters = maps.Clone(opts.Parameters)
	return &Call{
		opts:      opts,
		state:     api.CallCreated,
		createdAt: now,
		updatedAt: now,
		pre:       newGate(),
		post:      newGate(),
	}
}

// ID returns the call id.
func (c *Call) ID() string { return c.opts.CallID }

// ToolID returns the id of the called tool.
func (c *Call) ToolID() string { return c.opts.ToolID }

// SessionID returns the chat session id.
func (c *Call) SessionID() string { return c.opts.SessionID }

// RequestID returns the chat request id.
func (c *Call) RequestID() string { return c.opts.RequestID }

// State returns the lifecycle state.
func (c *Call) State() api.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Parameters returns a copy of the current parameters.
func (c *Call) Parameters() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.opts.Parameters)
}

// ToolSpecificData returns the presentation data set by prepare.
func (c *Call) ToolSpecificData() *api.ToolSpecificData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepared.ToolSpecificData
}

// SetToolSpecificData replaces the presentation data.
func (c *Call) SetToolSpecificData(d *api.ToolSpecificData) {
	c.update(func() { c.prepared.ToolSpecificData = d })
}

// Transition moves the call to state to. Backward moves and moves out of
// a terminal state are rejected, as is invoking before the pre-execution
// gate approved the call.
func (c *Call) Transition(to api.CallState) error {
	var err error
	c.update(func() {
		err = c.transitionLocked(to)
	})
	return err
}

func (c *Call) transitionLocked(to api.CallState) error {
	if err := api.ValidateCallTransition(c.state, to); err != nil {
		return fmt.Errorf("call %s: %w", c.opts.CallID, err)
	}
	if to == api.CallInvoking && !c.pre.reason.Kind.Approved() {
		return fmt.Errorf("call %s: cannot invoke with pre-execution confirmation %s", c.opts.CallID, c.pre.reason.Kind)
	}
	c.state = to
	return nil
}

// SetPrepared records the outcome of prepare and moves the call to
// Preparing, or to WaitingForConfirmation when prepared asks for a
// confirmation.
func (c *Call) SetPrepared(prepared *api.PreparedInvocation) error {
	var err error
	c.update(func() {
		if c.state > api.CallPreparing {
			err = fmt.Errorf("call %s: already prepared", c.opts.CallID)
			return
		}
		if prepared != nil {
			c.prepared = *prepared
		}
		if c.state < api.CallPreparing {
			if err = c.transitionLocked(api.CallPreparing); err != nil {
				return
			}
		}
		if prepared.NeedsConfirmation() {
			c.pre.messages = prepared.ConfirmationMessages
			c.pre.reason = api.Reason(api.ConfirmPending)
			err = c.transitionLocked(api.CallWaitingForConfirmation)
			return
		}
		close(c.pre.done)
	})
	return err
}

// PreConfirmation returns the state of the pre-execution gate.
func (c *Call) PreConfirmation() api.ConfirmedReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pre.reason
}

// Confirm decides the pending pre-execution gate. When the call carries
// input-kind tool data and editedInput is not nil, it replaces the raw
// input presented for review.
func (c *Call) Confirm(reason api.ConfirmedReason, editedInput map[string]any) error {
	if reason.Kind == api.ConfirmPending {
		return fmt.Errorf("call %s: cannot confirm with kind %s", c.opts.CallID, reason.Kind)
	}
	var err error
	c.update(func() {
		if c.pre.reason.Kind != api.ConfirmPending {
			err = fmt.Errorf("call %s: %w", c.opts.CallID, ErrNotPending)
			return
		}
		c.pre.reason = reason
		if editedInput != nil && c.prepared.ToolSpecificData != nil && c.prepared.ToolSpecificData.Kind == api.ToolDataKindInput {
			d := *c.prepared.ToolSpecificData
			d.RawInput = maps.Clone(editedInput)
			c.prepared.ToolSpecificData = &d
		}
		close(c.pre.done)
	})
	return err
}

// AwaitConfirmation blocks until the pre-execution gate is decided. If ctx
// ends first the gate is denied and ctx's error is returned.
func (c *Call) AwaitConfirmation(ctx context.Context) (api.ConfirmedReason, error) {
	return c.await(ctx, &c.pre)
}

// RequestPostConfirmation opens the post-execution gate.
func (c *Call) RequestPostConfirmation(messages *api.ConfirmationMessages) error {
	var err error
	c.update(func() {
		if err = c.transitionLocked(api.CallWaitingForPostConfirmation); err != nil {
			return
		}
		c.post.messages = messages
		c.post.reason = api.Reason(api.ConfirmPending)
	})
	return err
}

// PostConfirmation returns the state of the post-execution gate.
func (c *Call) PostConfirmation() api.ConfirmedReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.post.reason
}

// ConfirmPost decides the pending post-execution gate.
func (c *Call) ConfirmPost(reason api.ConfirmedReason) error {
	if reason.Kind == api.ConfirmPending {
		return fmt.Errorf("call %s: cannot confirm with kind %s", c.opts.CallID, reason.Kind)
	}
	var err error
	c.update(func() {
		if c.post.reason.Kind != api.ConfirmPending {
			err = fmt.Errorf("call %s: %w", c.opts.CallID, ErrNotPending)
			return
		}
		c.post.reason = reason
		close(c.post.done)
	})
	return err
}

// AwaitPostConfirmation blocks until the post-execution gate is decided.
func (c *Call) AwaitPostConfirmation(ctx context.Context) (api.ConfirmedReason, error) {
	return c.await(ctx, &c.post)
}

func (c *Call) await(ctx context.Context, g *gate) (api.ConfirmedReason, error) {
	select {
	case <-g.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return g.reason, nil
	case <-ctx.Done():
		c.update(func() {
			if g.reason.Kind == api.ConfirmPending {
				g.reason = api.Reason(api.ConfirmDenied)
				close(g.done)
			}
		})
		return api.Reason(api.ConfirmDenied), ctx.Err()
	}
}

// Report implements api.ProgressReporter.
func (c *Call) Report(step api.ProgressStep) {
	c.update(func() { c.progress = append(c.progress, step) })
}

// Finish moves the call to a terminal state. A nil err with state
// CallFailed records no message.
func (c *Call) Finish(state api.CallState, result *api.ToolResult, err error) error {
	if !state.Terminal() {
		return fmt.Errorf("call %s: %s is not a terminal state", c.opts.CallID, state)
	}
	var terr error
	c.update(func() {
		if terr = c.transitionLocked(state); terr != nil {
			return
		}
		c.result = result
		if err != nil {
			c.errMsg = err.Error()
		}
	})
	return terr
}

// OnDidChange subscribes to state changes. Handlers receive a snapshot.
func (c *Call) OnDidChange(fn func(View)) event.Disposable {
	return c.onDidChange.Subscribe(fn)
}

func (c *Call) update(fn func()) {
	c.mu.Lock()
	fn()
	c.updatedAt = time.Now()
	v := c.viewLocked()
	c.mu.Unlock()
	c.onDidChange.Fire(v)
}

// View is a serialisable snapshot of a Call.
type View struct {
	CallID    string `json:"call_id"`
	ToolID    string `json:"tool_id"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`

	State      api.CallState  `json:"state"`
	Parameters map[string]any `json:"parameters"`

	InvocationMessage string                `json:"invocation_message,omitempty"`
	PastTenseMessage  string                `json:"past_tense_message,omitempty"`
	OriginMessage     string                `json:"origin_message,omitempty"`
	ToolSpecificData  *api.ToolSpecificData `json:"tool_specific_data,omitempty"`
	Hidden            bool                  `json:"hidden,omitempty"`

	Confirmation     *api.ConfirmationMessages `json:"confirmation,omitempty"`
	Confirmed        api.ConfirmedReason       `json:"confirmed"`
	PostConfirmation *api.ConfirmationMessages `json:"post_confirmation,omitempty"`
	PostConfirmed    api.ConfirmedReason       `json:"post_confirmed"`

	Progress []api.ProgressStep `json:"progress,omitempty"`
	Result   *api.ToolResult    `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View returns a snapshot of the call.
func (c *Call) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Call) viewLocked() View {
	return View{
		CallID:            c.opts.CallID,
		ToolID:            c.opts.ToolID,
		SessionID:         c.opts.SessionID,
		RequestID:         c.opts.RequestID,
		State:             c.state,
		Parameters:        maps.Clone(c.opts.Parameters),
		InvocationMessage: c.prepared.InvocationMessage,
		PastTenseMessage:  c.prepared.PastTenseMessage,
		OriginMessage:     c.prepared.OriginMessage,
		ToolSpecificData:  c.prepared.ToolSpecificData,
		Hidden:            c.prepared.Hidden,
		Confirmation:      c.pre.messages,
		Confirmed:         c.pre.reason,
		PostConfirmation:  c.post.messages,
		PostConfirmed:     c.post.reason,
		Progress:          slices.Clone(c.progress),
		Result:            c.result,
		Error:             c.errMsg,
		CreatedAt:         c.createdAt,
		UpdatedAt:         c.updatedAt,
	}
}
