// Package dialog queues questions for a human and blocks the asking
// goroutine until an answer arrives or its context ends. Pending questions
// are listed and answered over the HTTP API.
package dialog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/toolgate/pkg/event"
)

// Errors returned by Answer.
var (
	ErrUnknownPrompt = errors.New("no pending prompt with this id")
	ErrInvalidButton = errors.New("button is not offered by the prompt")
)

// Kind distinguishes yes/no confirmations from multi-button prompts.
type Kind string

const (
	KindConfirm Kind = "confirm"
	KindPrompt  Kind = "prompt"
)

// Severity is a display hint.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Buttons of a confirmation.
const (
	ButtonYes = "Yes"
	ButtonNo  = "No"
)

// Prompt describes a question with a fixed set of answers.
type Prompt struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Detail   string   `json:"detail,omitempty"`
	Buttons  []string `json:"buttons"`
}

// Request is a pending question.
type Request struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Prompt
}

type pending struct {
	req    Request
	answer chan string
}

// Broker holds the pending questions. The zero value is not usable; call
// NewBroker.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pending

	onDidAdd event.Emitter[Request]
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{pending: make(map[string]*pending)}
}

// Confirm asks a yes/no question and reports whether it was answered yes.
func (b *Broker) Confirm(ctx context.Context, title, message string) (bool, error) {
	answer, err := b.ask(ctx, KindConfirm, Prompt{
		Severity: SeverityInfo,
		Message:  title,
		Detail:   message,
		Buttons:  []string{ButtonYes, ButtonNo},
	})
	if err != nil {
		return false, err
	}
	return answer == ButtonYes, nil
}

// Prompt asks p and returns the label of the chosen button.
func (b *Broker) Prompt(ctx context.Context, p Prompt) (string, error) {
	if len(p.Buttons) == 0 {
		return "", fmt.Errorf("prompt %q offers no buttons", p.Message)
	}
	return b.ask(ctx, KindPrompt, p)
}

func (b *Broker) ask(ctx context.Context, kind Kind, p Prompt) (string, error) {
	pd := &pending{
		req: Request{
			ID:        uuid.NewString(),
			Kind:      kind,
			CreatedAt: time.Now(),
			Prompt:    p,
		},
		answer: make(chan string, 1),
	}
	pd.req.Buttons = slices.Clone(p.Buttons)

	b.mu.Lock()
	b.pending[pd.req.ID] = pd
	b.mu.Unlock()
	b.onDidAdd.Fire(pd.req)

	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, pd.req.ID)
		b.mu.Unlock()
		return "", ctx.Err()
	case a := <-pd.answer:
		return a, nil
	}
}

// Answer resolves the pending prompt id with button.
func (b *Broker) Answer(id, button string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pd, ok := b.pending[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
	}
	if !slices.Contains(pd.req.Buttons, button) {
		return fmt.Errorf("%w: %q", ErrInvalidButton, button)
	}
	delete(b.pending, id)
	pd.answer <- button
	return nil
}

// Pending returns the unanswered questions, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	out := make([]Request, 0, len(b.pending))
	for _, pd := range b.pending {
		out = append(out, pd.req)
	}
	b.mu.Unlock()
	slices.SortFunc(out, func(x, y Request) int { return cmp.Compare(x.CreatedAt.UnixNano(), y.CreatedAt.UnixNano()) })
	return out
}

// OnDidAdd subscribes to newly queued questions.
func (b *Broker) OnDidAdd(fn func(Request)) event.Disposable {
	return b.onDidAdd.Subscribe(fn)
}
