package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiryBuffer is how far ahead of expiry a cached token is refreshed.
const tokenExpiryBuffer = 30 * time.Second

// ErrNoToken is returned when a token source has no credential to offer.
var ErrNoToken = errors.New("auth: no token available")

// TokenSource supplies the bearer credential for queue store calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed credential.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a TokenSource that always returns token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the configured credential, or ErrNoToken when empty.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// RefreshingTokenSource obtains bearer tokens from the queue store's auth
// endpoint with a password grant, caches them, and refreshes ahead of the
// token's exp claim.
type RefreshingTokenSource struct {
	mu       sync.RWMutex
	authURL  string
	apiKey   string
	email    string
	password string
	client   *http.Client

	accessToken string
	expiresAt   time.Time
}

// NewRefreshingTokenSource creates a token source for the given auth
// endpoint and credentials. The client may be nil, in which case a default
// 30-second-timeout client is used.
func NewRefreshingTokenSource(authURL, apiKey, email, password string, client *http.Client) *RefreshingTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RefreshingTokenSource{
		authURL:  authURL,
		apiKey:   apiKey,
		email:    email,
		password: password,
		client:   client,
	}
}

// Token returns a valid access token, refreshing if expired or near expiry.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.accessToken != "" && time.Now().Before(s.expiresAt.Add(-tokenExpiryBuffer)) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx)
}

// Invalidate clears the cached token, forcing a refresh on next call.
func (s *RefreshingTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.expiresAt = time.Time{}
}

func (s *RefreshingTokenSource) refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the write lock.
	if s.accessToken != "" && time.Now().Before(s.expiresAt.Add(-tokenExpiryBuffer)) {
		return s.accessToken, nil
	}

	payload, err := json.Marshal(map[string]string{
		"email":    s.email,
		"password": s.password,
	})
	if err != nil {
		return "", fmt.Errorf("auth: marshal token request: %w", err)
	}

	url := s.authURL + "/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: token request returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("auth: parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("auth: empty access token in response")
	}

	s.accessToken = tr.AccessToken
	s.expiresAt = tokenExpiry(tr)

	return s.accessToken, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenExpiry determines when the token expires, preferring the expires_in
// field and falling back to the JWT exp claim. Tokens carrying neither are
// treated as valid for one minute so the source keeps re-checking.
func tokenExpiry(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	// The claim is read without signature verification; the store verifies
	// the token, this side only needs the expiry for cache bookkeeping.
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return time.Now().Add(time.Minute)
}
