package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is the vote of one authenticator.
type Decision int

const (
	// Yes accepts the credentials. The chain stops and the identity is used.
	Yes Decision = iota

	// No rejects credentials that are present but invalid. The chain stops.
	No

	// Abstain passes credentials this authenticator does not understand on
	// to the next one.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Result is the outcome of one authentication attempt. Identity is set for
// Yes, Err for No.
type Result struct {
	Decision Decision
	Identity *Identity
	Err      error
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain asks its authenticators in order until one votes Yes or No.
type Chain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains. Yes admits
	// the caller as Anonymous, which is how auth type "none" is served.
	DefaultDecision Decision
}

func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.DefaultDecision == Yes {
		return Result{Decision: Yes, Identity: Anonymous()}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}
