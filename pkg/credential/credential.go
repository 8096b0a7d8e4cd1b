// Package credential fetches the short-lived, use-limited tokens that open
// sessions to the remote speech service.
//
// Tokens are single-use-limited: the supervisor fetches a fresh credential
// before every connect attempt and never caches one across a reconnect.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Credential is one ephemeral token.
type Credential struct {
	// Token is the opaque bearer value used to open a session.
	Token string `json:"token"`

	// Expiry is when the token stops being accepted.
	Expiry time.Time `json:"expiry"`

	// UsesRemaining is how many sessions the token may still open. Zero
	// means the issuer did not report a limit.
	UsesRemaining int `json:"uses_remaining"`
}

// Expired reports whether the credential is past its expiry at the given time.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// Provider issues fresh credentials. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Fetch returns a new credential. Each call must return a token that has
	// not been consumed by a previous session.
	Fetch(ctx context.Context) (Credential, error)
}

// HTTPProvider fetches credentials from a token-issuing endpoint. The
// endpoint is expected to respond to a POST with a JSON body matching
// [Credential].
type HTTPProvider struct {
	// Endpoint is the token-issuing URL.
	Endpoint string

	// Client is the HTTP client used for fetches. Defaults to
	// [http.DefaultClient] when nil.
	Client *http.Client
}

// Fetch implements [Provider].
func (p *HTTPProvider) Fetch(ctx context.Context) (Credential, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("credential: fetch: unexpected status %d", resp.StatusCode)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("credential: decode response: %w", err)
	}
	if cred.Token == "" {
		return Credential{}, fmt.Errorf("credential: empty token in response")
	}
	return cred, nil
}

// Static is a Provider returning a fixed token. Useful for development
// against services that accept a long-lived API key, and in tests.
type Static struct {
	Token string
}

// Fetch implements [Provider].
func (s *Static) Fetch(_ context.Context) (Credential, error) {
	if s.Token == "" {
		return Credential{}, fmt.Errorf("credential: static token is empty")
	}
	return Credential{Token: s.Token, UsesRemaining: 1}, nil
}
