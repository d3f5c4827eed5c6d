package api

import "fmt"

// ConfirmKind is the outcome of a confirmation gate.
type ConfirmKind int

const (
	ConfirmNotNeeded ConfirmKind = iota
	ConfirmPending
	ConfirmDenied
	ConfirmUserApproved
	ConfirmSettingApproved
	ConfirmSkipped
)

var confirmKindNames = map[ConfirmKind]string{
	ConfirmNotNeeded:       "not_needed",
	ConfirmPending:         "pending",
	ConfirmDenied:          "denied",
	ConfirmUserApproved:    "user_approved",
	ConfirmSettingApproved: "setting_approved",
	ConfirmSkipped:         "skipped",
}

func (k ConfirmKind) String() string {
	if s, ok := confirmKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("confirm_kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k ConfirmKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ConfirmKind) UnmarshalText(b []byte) error {
	for kind, name := range confirmKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown confirmation kind %q", string(b))
}

// Decided reports whether the gate has left the pending state.
func (k ConfirmKind) Decided() bool {
	return k != ConfirmPending
}

// Approved reports whether the gate allows the call to proceed.
func (k ConfirmKind) Approved() bool {
	switch k {
	case ConfirmNotNeeded, ConfirmUserApproved, ConfirmSettingApproved:
		return true
	}
	return false
}

// ConfirmedReason records how a gate was decided.
type ConfirmedReason struct {
	Kind ConfirmKind `json:"kind"`

	// SettingKey names the setting that approved the call for
	// ConfirmSettingApproved.
	SettingKey string `json:"setting_key,omitempty"`

	// Scope is an optional free-form qualifier set by override hooks,
	// e.g. "session" or "workspace".
	Scope string `json:"scope,omitempty"`
}

// Reason returns a ConfirmedReason of the given kind.
func Reason(k ConfirmKind) ConfirmedReason {
	return ConfirmedReason{Kind: k}
}
