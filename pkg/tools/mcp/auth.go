package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthOAuthClientCredentials selects the OAuth 2.0 client_credentials grant.
const AuthOAuthClientCredentials = "oauth_client_credentials"

// tokenTimeout bounds a single token endpoint request.
const tokenTimeout = 10 * time.Second

// buildHTTPClient returns an HTTP client adding the configured headers and
// OAuth bearer tokens to every request. Returns nil if neither is
// configured, in which case the SDK default client is used.
func buildHTTPClient(cfg ServerConfig) (*http.Client, error) {
	var rt http.RoundTripper
	switch cfg.Auth.Type {
	case "":
		if len(cfg.Headers) == 0 {
			return nil, nil
		}
		rt = http.DefaultTransport

	case AuthOAuthClientCredentials:
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		// The token source caches the token and refreshes it once it
		// expires. Token requests do not carry the static headers.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: tokenTimeout})
		rt = &oauth2.Transport{
			Source: cc.TokenSource(tokenCtx),
			Base:   http.DefaultTransport,
		}

	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Auth.Type)
	}

	// Static headers are applied first so the bearer token wins over a
	// configured Authorization header.
	if len(cfg.Headers) > 0 {
		rt = &headerTransport{base: rt, headers: cfg.Headers}
	}
	return &http.Client{Transport: rt}, nil
}

// headerTransport is an http.RoundTripper that adds custom headers to
// every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
