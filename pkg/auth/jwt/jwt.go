// Package jwt provides a JWT/OIDC authenticator for the toolgate control
// API. Bearer tokens are verified against the RSA keys of a JWKS endpoint;
// the subject, tenant, service tier and scopes of the caller are read from
// configurable claims.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/rhuss/toolgate/pkg/auth"
	"github.com/rhuss/toolgate/pkg/debug"
)

const (
	// maxJWKSBytes bounds the JWKS document read from the endpoint.
	maxJWKSBytes = 1 << 20

	// minRefreshInterval throttles refreshes triggered by unknown key IDs.
	minRefreshInterval = 30 * time.Second
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer is the expected JWT issuer (iss claim). If empty, issuer is not validated.
	Issuer string

	// Audience is the expected JWT audience (aud claim). If empty, audience is not validated.
	Audience string

	// JWKSURL is the URL to fetch the JSON Web Key Set for signature verification.
	JWKSURL string

	// UserClaim is the JWT claim used as the identity subject. Default: "sub".
	UserClaim string

	// TenantClaim is the JWT claim used for the tenant_id metadata. Default: "tenant_id".
	TenantClaim string

	// TierClaim is the JWT claim naming the caller's service tier, which
	// selects the invocation rate limit. Default: "tier".
	TierClaim string

	// ScopesClaim is the JWT claim used for authorization scopes. Default: "scope".
	// The value can be a space-separated string or a JSON array.
	ScopesClaim string

	// CacheTTL controls how long JWKS keys are cached. Default: 1 hour.
	CacheTTL time.Duration

	// HTTPClient allows injecting a custom HTTP client.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens against a JWKS endpoint.
type Authenticator struct {
	config Config
	keys   *keySet
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates a JWT authenticator with the given configuration.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{
		config: cfg,
		keys: &keySet{
			keys:   make(map[string]*rsa.PublicKey),
			ttl:    cfg.CacheTTL,
			url:    cfg.JWKSURL,
			client: cfg.HTTPClient,
		},
	}
}

// Authenticate extracts a bearer token from the Authorization header,
// validates it as a JWT, and returns an identity on success.
//
// Decision outcomes:
//   - Abstain: no Authorization header or not a Bearer scheme
//   - No: bearer token present but invalid (expired, wrong issuer, bad signature, etc.)
//   - Yes: valid JWT with populated Identity
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token missing kid header")
		}
		key, err := a.keys.get(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("fetching JWKS key for kid %q: %w", kid, err)
		}
		return key, nil
	}, a.parserOptions()...)
	if err != nil {
		debug.Log("auth", "JWT validation failed", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Result{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.Result{
			Decision: auth.No,
			Err:      fmt.Errorf("JWT missing %q claim", a.config.UserClaim),
		}
	}

	identity := &auth.Identity{
		Subject:     subject,
		ServiceTier: claimString(claims, a.config.TierClaim),
		Scopes:      extractScopes(claims, a.config.ScopesClaim),
		Metadata:    make(map[string]string),
	}
	if tenant := claimString(claims, a.config.TenantClaim); tenant != "" {
		identity.Metadata["tenant_id"] = tenant
	}

	return auth.Result{Decision: auth.Yes, Identity: identity}
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.config.Audience))
	}
	return opts
}

// claimString returns the claim as a string, or "" when it is missing or
// of another type.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes reads a scope claim that is either a space-separated
// string or a JSON array of strings.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var scopes []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}

// keySet caches the RSA keys of a JWKS endpoint. Concurrent misses share
// one fetch.
type keySet struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	ttl    time.Duration
	url    string
	client *http.Client
	group  singleflight.Group
}

// get returns the key for kid. The set is refreshed when it has expired,
// or when kid is unknown and the last refresh is old enough; a token
// signed with a rotated key is then accepted without waiting for the TTL.
func (s *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	age := time.Since(s.fetchedAt)
	fetched := !s.fetchedAt.IsZero()
	s.mu.RUnlock()

	switch {
	case ok && age < s.ttl:
		return key, nil
	case !ok && fetched && age < minRefreshInterval:
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}

	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %q not found in JWKS", kid)
}

func (s *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&doc); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := parseRSAPublicKey(jwk)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = pub
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	debug.Log("auth", "JWKS refreshed", "keys", len(keys), "url", s.url)
	return nil
}

type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"` // base64url modulus
	E   string `json:"e"` // base64url exponent
}

func parseRSAPublicKey(jwk jwkKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}
