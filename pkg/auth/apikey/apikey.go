// Package apikey authenticates control API callers by static API keys.
// Keys arrive as a bearer token or in the X-API-Key header. Only their
// SHA-256 hashes are kept, and every stored hash is compared in constant
// time so the position of a match does not leak.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/debug"
)

// HeaderName is the alternative header carrying a raw API key.
const HeaderName = "X-API-Key"

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

type keyEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates API keys against a static key store.
type Authenticator struct {
	keys []keyEntry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates an API key authenticator. Keys are hashed immediately;
// plaintext keys are not stored. Entries with an empty key are ignored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		a.keys = append(a.keys, keyEntry{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Authenticate returns Yes for a known key, No for an unknown or empty
// one, and Abstain when the request carries no key at all, including
// Authorization headers of other schemes.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key, ok := extractKey(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	hash := sha256.Sum256([]byte(key))
	match := -1
	for i, entry := range a.keys {
		if subtle.ConstantTimeCompare(hash[:], entry.hash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		debug.Log("auth", "unknown API key", "remote_addr", r.RemoteAddr)
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := cloneIdentity(a.keys[match].identity)
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

func extractKey(r *http.Request) (string, bool) {
	if v := r.Header.Get(HeaderName); v != "" {
		return strings.TrimSpace(v), true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// cloneIdentity copies id so callers cannot mutate the stored entry.
func cloneIdentity(id auth.Identity) auth.Identity {
	id.Scopes = slices.Clone(id.Scopes)
	id.Metadata = maps.Clone(id.Metadata)
	return id
}
