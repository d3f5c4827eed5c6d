// Package chat keeps chat sessions, their requests and the tool calls
// running on their behalf.
package chat

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/toolgate/pkg/debug"
	"github.com/rhuss/toolgate/pkg/event"
	"github.com/rhuss/toolgate/pkg/toolcall"
)

// Sentinel errors.
var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrNoRequest       = errors.New("chat session has no request")
	ErrRequestNotFound = errors.New("chat request not found")
	ErrSessionExists   = errors.New("chat session already exists")
)

// Request is one user turn of a session.
type Request struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a snapshot of a chat session.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Requests  []Request `json:"requests"`
}

type session struct {
	id        string
	createdAt time.Time
	requests  []Request
	calls     map[string][]*toolcall.Call
	state     map[string]any
}

// Service is the in-process chat service. It is safe for concurrent use.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session
	calls    map[string]*toolcall.Call

	onDidAddCall event.Emitter[*toolcall.Call]
}

// NewService creates an empty Service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*session),
		calls:    make(map[string]*toolcall.Call),
	}
}

// CreateSession starts a session. An empty id gets a generated one.
func (s *Service) CreateSession(id string) (Session, error) {
	if id == "" {
		id = "sess_" + uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	ss := &session{
		id:        id,
		createdAt: time.Now(),
		calls:     make(map[string][]*toolcall.Call),
		state:     make(map[string]any),
	}
	s.sessions[id] = ss
	debug.Log("invoke", "chat session created", "session", id)
	return ss.snapshot(), nil
}

func (ss *session) snapshot() Session {
	return Session{ID: ss.id, CreatedAt: ss.createdAt, Requests: slices.Clone(ss.requests)}
}

// GetSession returns a session.
func (s *Service) GetSession(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ss.snapshot(), nil
}

// DeleteSession removes a session and forgets its calls.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	for _, calls := range ss.calls {
		for _, c := range calls {
			delete(s.calls, c.ID())
		}
	}
	delete(s.sessions, id)
	return nil
}

// AddRequest appends a request to a session and makes it the latest.
func (s *Service) AddRequest(sessionID, modelID string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[sessionID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	req := Request{ID: "req_" + uuid.NewString(), ModelID: modelID, CreatedAt: time.Now()}
	ss.requests = append(ss.requests, req)
	return req, nil
}

// LatestRequest returns the newest request of a session.
func (s *Service) LatestRequest(sessionID string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[sessionID]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if len(ss.requests) == 0 {
		return Request{}, fmt.Errorf("%w: %s", ErrNoRequest, sessionID)
	}
	return ss.requests[len(ss.requests)-1], nil
}

// AppendToolCall records c as progress of its session's request.
func (s *Service) AppendToolCall(c *toolcall.Call) error {
	s.mu.Lock()
	ss, ok := s.sessions[c.SessionID()]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, c.SessionID())
	}
	if !slices.ContainsFunc(ss.requests, func(r Request) bool { return r.ID == c.RequestID() }) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, c.RequestID())
	}
	ss.calls[c.RequestID()] = append(ss.calls[c.RequestID()], c)
	s.calls[c.ID()] = c
	s.mu.Unlock()

	s.onDidAddCall.Fire(c)
	return nil
}

// ToolCalls returns the calls of a session in request order.
func (s *Service) ToolCalls(sessionID string) ([]*toolcall.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var out []*toolcall.Call
	for _, r := range ss.requests {
		out = append(out, ss.calls[r.ID]...)
	}
	return out, nil
}

// FindToolCall looks a call up by id across all sessions.
func (s *Service) FindToolCall(callID string) (*toolcall.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	return c, ok
}

// OnDidAddToolCall subscribes to newly appended calls.
func (s *Service) OnDidAddToolCall(fn func(*toolcall.Call)) event.Disposable {
	return s.onDidAddCall.Subscribe(fn)
}

// SetState stores a per-session value for tools that keep state across
// calls.
func (s *Service) SetState(sessionID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	ss.state[key] = value
	return nil
}

// State returns a copy of a session's stored values.
func (s *Service) State(sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return maps.Clone(ss.state), nil
}

// Sessions lists every session, oldest first.
func (s *Service) Sessions() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		out = append(out, ss.snapshot())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
