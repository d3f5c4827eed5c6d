package api

import "fmt"

// CallState is the lifecycle state of one tool invocation. Non-terminal
// states are ordered; a call only ever moves forward.
type CallState int

const (
	CallCreated CallState = iota
	CallPreparing
	CallWaitingForConfirmation
	CallApproved
	CallInvoking
	CallWaitingForPostConfirmation
	CallPostApproved

	// Terminal states.
	CallCompleted
	CallFailed
	CallDenied
	CallSkipped
)

var callStateNames = [...]string{
	CallCreated:                    "created",
	CallPreparing:                  "preparing",
	CallWaitingForConfirmation:     "waiting_for_confirmation",
	CallApproved:                   "approved",
	CallInvoking:                   "invoking",
	CallWaitingForPostConfirmation: "waiting_for_post_confirmation",
	CallPostApproved:               "post_approved",
	CallCompleted:                  "completed",
	CallFailed:                     "failed",
	CallDenied:                     "denied",
	CallSkipped:                    "skipped",
}

func (s CallState) String() string {
	if s >= 0 && int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return fmt.Sprintf("call_state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are allowed.
func (s CallState) Terminal() bool {
	return s >= CallCompleted
}

// ValidateCallTransition checks whether a call may move from one state to
// another. Terminal states accept no transitions. Any non-terminal state may
// move to a terminal one, except that Completed is only reachable once the
// call has been invoked. Otherwise the target must come later in the order.
func ValidateCallTransition(from, to CallState) error {
	if from.Terminal() {
		return fmt.Errorf("invalid call transition from terminal state %s to %s", from, to)
	}
	switch to {
	case CallCompleted:
		if from < CallInvoking {
			return fmt.Errorf("invalid call transition from %s to %s", from, to)
		}
		return nil
	case CallFailed, CallDenied, CallSkipped:
		return nil
	}
	if to <= from {
		return fmt.Errorf("invalid call transition from %s to %s", from, to)
	}
	return nil
}
