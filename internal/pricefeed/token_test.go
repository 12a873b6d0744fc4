package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/store"
)

func newBrokerServer(t *testing.T, token string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if r.PostForm.Get("password") != "pw" || r.PostForm.Get("twoFaTyp") != "TOTP" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"` + token + `"}`))
	}))
}

func TestTokenManagerFetchAndCache(t *testing.T) {
	calls := 0
	srv := newBrokerServer(t, "fresh-token", &calls)
	defer srv.Close()

	m := NewTokenManager(BrokerAuth{
		AuthURL:   srv.URL,
		APIKey:    "test-api-key",
		Password:  "pw",
		TwoFA:     "123456",
		TwoFAType: "TOTP",
	}, nil)

	ctx := context.Background()
	tok, err := m.AccessToken(ctx)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("expected fresh-token, got %q", tok)
	}

	// Second call serves from cache.
	if _, err := m.AccessToken(ctx); err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 broker call, got %d", calls)
	}

	// Invalidate forces a re-fetch.
	m.Invalidate()
	if _, err := m.AccessToken(ctx); err != nil {
		t.Fatalf("re-fetch failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 broker calls after invalidate, got %d", calls)
	}
}

func TestTokenManagerPrefersStoredCredential(t *testing.T) {
	calls := 0
	srv := newBrokerServer(t, "fresh-token", &calls)
	defer srv.Close()

	ms := store.NewMemoryStore()
	ctx := context.Background()
	if err := ms.CreateAccount(ctx, &model.Account{
		ID: "admin-1", Username: "admin", Email: "admin@example.com",
		Balance: decimal.NewFromInt(0), IsAdmin: true, IsActive: true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := ms.PutCredential(ctx, &model.Credential{
		AccountID: "admin-1", Name: CredentialAccessToken, Value: "stored-token",
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	m := NewTokenManager(BrokerAuth{AuthURL: srv.URL, APIKey: "test-api-key"}, ms)
	tok, err := m.AccessToken(ctx)
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if tok != "stored-token" {
		t.Errorf("stored credential should win, got %q", tok)
	}
	if calls != 0 {
		t.Errorf("broker should not be called, got %d calls", calls)
	}
}

func TestTokenManagerSkipsMockCredential(t *testing.T) {
	calls := 0
	srv := newBrokerServer(t, "fresh-token", &calls)
	defer srv.Close()

	ms := store.NewMemoryStore()
	ctx := context.Background()
	if err := ms.CreateAccount(ctx, &model.Account{
		ID: "admin-1", Username: "admin", Email: "admin@example.com",
		Balance: decimal.NewFromInt(0), IsAdmin: true, IsActive: true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := ms.PutCredential(ctx, &model.Credential{
		AccountID: "admin-1", Name: CredentialAccessToken, Value: "MOCK_placeholder",
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	m := NewTokenManager(BrokerAuth{
		AuthURL: srv.URL, APIKey: "test-api-key",
		Password: "pw", TwoFA: "123456", TwoFAType: "TOTP",
	}, ms)
	tok, err := m.AccessToken(ctx)
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("mock credential should be skipped, got %q", tok)
	}
	if calls != 1 {
		t.Errorf("expected 1 broker call, got %d", calls)
	}
}

func TestTokenManagerNoConfig(t *testing.T) {
	m := NewTokenManager(BrokerAuth{}, nil)
	if _, err := m.AccessToken(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestTokenManagerBrokerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewTokenManager(BrokerAuth{AuthURL: srv.URL, APIKey: "test-api-key"}, nil)
	if _, err := m.AccessToken(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}
