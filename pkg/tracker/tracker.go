// Package tracker keeps the cancel functions of in-flight tool calls,
// grouped by the chat request that issued them, so that every call of a
// request can be cancelled at once.
//
// All methods are safe for concurrent access.
package tracker

import (
	"context"
	"sync"

	"github.com/rhuss/toolgate/pkg/debug"
)

type call struct {
	id     string
	cancel context.CancelFunc
}

// Tracker maps request ids to the calls running on their behalf.
type Tracker struct {
	mu        sync.Mutex
	byRequest map[string][]*call
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{byRequest: make(map[string][]*call)}
}

// Track records a running call of requestID. The returned release function
// removes the call without cancelling it; it is safe to call more than
// once and after the request was cancelled.
func (t *Tracker) Track(requestID, callID string, cancel context.CancelFunc) (release func()) {
	c := &call{id: callID, cancel: cancel}
	t.mu.Lock()
	t.byRequest[requestID] = append(t.byRequest[requestID], c)
	t.mu.Unlock()
	debug.Log("invoke", "call tracked", "request", requestID, "call", callID)

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(requestID, c) })
	}
}

func (t *Tracker) remove(requestID string, c *call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	calls := t.byRequest[requestID]
	for i, cur := range calls {
		if cur == c {
			calls = append(calls[:i:i], calls[i+1:]...)
			break
		}
	}
	if len(calls) == 0 {
		delete(t.byRequest, requestID)
		return
	}
	t.byRequest[requestID] = calls
}

// CancelRequest cancels every tracked call of requestID and forgets them.
// It returns the number of calls cancelled; an unknown request is a no-op.
func (t *Tracker) CancelRequest(requestID string) int {
	t.mu.Lock()
	calls := t.byRequest[requestID]
	delete(t.byRequest, requestID)
	t.mu.Unlock()

	for _, c := range calls {
		c.cancel()
	}
	if len(calls) > 0 {
		debug.Log("invoke", "request calls cancelled", "request", requestID, "count", len(calls))
	}
	return len(calls)
}

// Calls returns the ids of the tracked calls of requestID.
func (t *Tracker) Calls(requestID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.byRequest[requestID]))
	for i, c := range t.byRequest[requestID] {
		ids[i] = c.id
	}
	return ids
}

// Len returns the number of tracked calls across all requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, calls := range t.byRequest {
		n += len(calls)
	}
	return n
}
