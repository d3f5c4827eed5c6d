package policy

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rhuss/toolgate/pkg/api"
	"github.com/rhuss/toolgate/pkg/event"
)

// Overrides lets other components decide confirmations before the
// settings are consulted. A nil reason means no opinion.
type Overrides interface {
	PreConfirmAction(ctx context.Context, req Request) *api.ConfirmedReason
	PostConfirmAction(ctx context.Context, req Request) *api.ConfirmedReason
}

// Override is a pair of optional hooks. A hook returning nil defers to the
// next registered override.
type Override struct {
	Pre  func(ctx context.Context, req Request) *api.ConfirmedReason
	Post func(ctx context.Context, req Request) *api.ConfirmedReason
}

// OverrideSet consults registered overrides in registration order. The
// first non-nil answer wins.
type OverrideSet struct {
	mu        sync.RWMutex
	overrides []registeredOverride
}

type registeredOverride struct {
	id uuid.UUID
	o  Override
}

var _ Overrides = (*OverrideSet)(nil)

// NewOverrideSet returns an empty OverrideSet.
func NewOverrideSet() *OverrideSet {
	return &OverrideSet{}
}

// Register adds o. Disposing the handle removes it.
func (s *OverrideSet) Register(o Override) event.Disposable {
	id := uuid.New()
	s.mu.Lock()
	s.overrides = append(s.overrides, registeredOverride{id: id, o: o})
	s.mu.Unlock()
	return event.DisposeFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, r := range s.overrides {
			if r.id == id {
				s.overrides = append(s.overrides[:i:i], s.overrides[i+1:]...)
				return
			}
		}
	})
}

func (s *OverrideSet) snapshot() []Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Override, len(s.overrides))
	for i, r := range s.overrides {
		out[i] = r.o
	}
	return out
}

// PreConfirmAction returns the first pre-execution decision.
func (s *OverrideSet) PreConfirmAction(ctx context.Context, req Request) *api.ConfirmedReason {
	for _, o := range s.snapshot() {
		if o.Pre == nil {
			continue
		}
		if r := o.Pre(ctx, req); r != nil {
			return r
		}
	}
	return nil
}

// PostConfirmAction returns the first post-execution decision.
func (s *OverrideSet) PostConfirmAction(ctx context.Context, req Request) *api.ConfirmedReason {
	for _, o := range s.snapshot() {
		if o.Post == nil {
			continue
		}
		if r := o.Post(ctx, req); r != nil {
			return r
		}
	}
	return nil
}

// ScopeSession marks an approval that holds for the rest of a chat session.
const ScopeSession = "session"

// SessionAllowList is an Override that approves the tools a user chose to
// always allow within one chat session.
type SessionAllowList struct {
	mu      sync.RWMutex
	allowed map[string]map[string]bool
}

// NewSessionAllowList returns an empty allow list.
func NewSessionAllowList() *SessionAllowList {
	return &SessionAllowList{allowed: make(map[string]map[string]bool)}
}

// Allow approves toolID for the rest of session sessionID.
func (l *SessionAllowList) Allow(sessionID, toolID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowed[sessionID] == nil {
		l.allowed[sessionID] = make(map[string]bool)
	}
	l.allowed[sessionID][toolID] = true
}

// Allowed reports whether toolID is approved for sessionID.
func (l *SessionAllowList) Allowed(sessionID, toolID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowed[sessionID][toolID]
}

// Forget drops every approval of sessionID.
func (l *SessionAllowList) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.allowed, sessionID)
}

// Override returns the pre-execution hook of the list.
func (l *SessionAllowList) Override() Override {
	return Override{Pre: func(_ context.Context, req Request) *api.ConfirmedReason {
		if req.ChatSessionID == "" {
			return nil
		}
		l.mu.RLock()
		ok := l.allowed[req.ChatSessionID][req.ToolID]
		l.mu.RUnlock()
		if !ok {
			return nil
		}
		return &api.ConfirmedReason{Kind: api.ConfirmUserApproved, Scope: ScopeSession}
	}}
}
