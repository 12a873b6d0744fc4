package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cubeplus/trading-engine/internal/store"
)

// CredentialAccessToken is the credential name under which an admin can store
// a broker access token directly, bypassing the login flow.
const CredentialAccessToken = "ACCESS_TOKEN"

// tokenValidity is how long a fetched broker token is trusted before the
// manager requests a fresh one.
const tokenValidity = 8 * time.Hour

// ErrNoToken is returned when no broker access token can be obtained.
var ErrNoToken = errors.New("pricefeed: no broker access token available")

// BrokerAuth holds the credentials for the broker token endpoint.
type BrokerAuth struct {
	AuthURL   string // token endpoint, e.g. https://api.tradejini.com/v2/api-gw/oauth/individual-token-v2
	APIKey    string
	Password  string
	TwoFA     string // rotating one-time passcode
	TwoFAType string // e.g. "TOTP"
}

// TokenManager obtains and caches the broker access token. Resolution order:
// an admin-stored credential in the ledger store, then the in-memory cached
// token while still valid, then a fresh fetch against the broker.
type TokenManager struct {
	auth   BrokerAuth
	st     store.Store // optional; nil skips the credential lookup
	client *http.Client

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewTokenManager creates a token manager. st may be nil.
func NewTokenManager(auth BrokerAuth, st store.Store) *TokenManager {
	return &TokenManager{
		auth:   auth,
		st:     st,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// AccessToken returns a usable broker access token.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if m.st != nil {
		if c, err := m.st.GetAdminCredential(ctx, CredentialAccessToken); err == nil {
			// Placeholder tokens saved by the mock admin flow are skipped.
			if !strings.HasPrefix(c.Value, "MOCK_") {
				return c.Value, nil
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Since(m.fetchedAt) < tokenValidity {
		return m.token, nil
	}
	return m.fetchLocked(ctx)
}

// Invalidate discards the cached token, forcing a re-fetch on next use.
// Called when the stream is rejected as unauthorized.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.fetchedAt = time.Time{}
	m.mu.Unlock()
}

func (m *TokenManager) fetchLocked(ctx context.Context) (string, error) {
	if m.auth.AuthURL == "" || m.auth.APIKey == "" {
		return "", ErrNoToken
	}

	form := url.Values{}
	form.Set("password", m.auth.Password)
	form.Set("twoFa", m.auth.TwoFA)
	form.Set("twoFaTyp", m.auth.TwoFAType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.auth.AuthURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.auth.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: broker auth status %d", ErrNoToken, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("broker token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", ErrNoToken
	}

	m.token = body.AccessToken
	m.fetchedAt = time.Now()
	slog.Info("broker access token refreshed", "valid_for", tokenValidity.String())
	return m.token, nil
}
