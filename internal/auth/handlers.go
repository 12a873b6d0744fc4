package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/store"
)

// Service handles registration, login, and admin user management.
type Service struct {
	store    store.Store
	secret   string
	tokenTTL time.Duration
}

// NewService creates an auth service signing sessions with secret.
func NewService(st store.Store, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{store: st, secret: secret, tokenTTL: tokenTTL}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse carries the signed token and account snapshot.
type SessionResponse struct {
	Token   string        `json:"token"`
	Account model.Account `json:"account"`
}

// CreateUserRequest is the admin JSON body for creating an account,
// optionally with a non-default starting balance.
type CreateUserRequest struct {
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Balance  decimal.Decimal `json:"balance"`
	IsAdmin  bool            `json:"is_admin"`
}

// UpdateUserRequest is the admin JSON body for editing an account.
// Pointer fields are applied only when present.
type UpdateUserRequest struct {
	Username *string          `json:"username,omitempty"`
	Email    *string          `json:"email,omitempty"`
	Balance  *decimal.Decimal `json:"balance,omitempty"`
	IsActive *bool            `json:"is_active,omitempty"`
	IsAdmin  *bool            `json:"is_admin,omitempty"`
}

// SaveCredentialRequest is the admin JSON body for storing a broker
// credential (e.g. the access token consumed by the live price feed).
type SaveCredentialRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Username) < 3 {
		writeError(w, "username must be at least 3 characters", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, "invalid email address", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 6 {
		writeError(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		writeError(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Balance:      model.DefaultStartingBalance,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, "username or email already taken", http.StatusConflict)
			return
		}
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	slog.Info("account registered", "account", account.ID, "username", account.Username)
	s.writeSession(w, account, http.StatusCreated)
}

// Login handles POST /api/v1/auth/login.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.store.GetAccountByUsername(r.Context(), req.Username)
	if err != nil || CheckPassword(account.PasswordHash, req.Password) != nil {
		writeError(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if !account.IsActive {
		writeError(w, "account is deactivated", http.StatusForbidden)
		return
	}

	s.writeSession(w, account, http.StatusOK)
}

// ListUsers handles GET /api/v1/admin/users.
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// CreateUser handles POST /api/v1/admin/users.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Username) < 3 || len(req.Password) < 6 {
		writeError(w, "username or password too short", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, "invalid email address", http.StatusBadRequest)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		writeError(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	balance := req.Balance
	if balance.IsZero() {
		balance = model.DefaultStartingBalance
	}
	if balance.IsNegative() {
		writeError(w, "starting balance must not be negative", http.StatusBadRequest)
		return
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Balance:      balance,
		IsAdmin:      req.IsAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, "username or email already taken", http.StatusConflict)
			return
		}
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	slog.Info("account created by admin", "account", account.ID, "username", account.Username)
	writeJSON(w, http.StatusCreated, account)
}

// UpdateUser handles PATCH /api/v1/admin/users/{accountID}.
func (s *Service) UpdateUser(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	if req.Username != nil {
		account.Username = *req.Username
	}
	if req.Email != nil {
		account.Email = *req.Email
	}
	if req.Balance != nil {
		if req.Balance.IsNegative() {
			writeError(w, "balance must not be negative", http.StatusBadRequest)
			return
		}
		account.Balance = *req.Balance
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.IsAdmin != nil {
		account.IsAdmin = *req.IsAdmin
	}

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		writeError(w, "failed to update account", http.StatusInternalServerError)
		return
	}

	slog.Info("account updated by admin", "account", account.ID)
	writeJSON(w, http.StatusOK, account)
}

// SaveCredential handles POST /api/v1/admin/credentials.
// Stores a broker credential under the calling admin's account.
func (s *Service) SaveCredential(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	var req SaveCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || len(req.Value) < 10 {
		writeError(w, "credential name and value are required", http.StatusBadRequest)
		return
	}

	cred := &model.Credential{
		AccountID: claims.AccountID,
		Name:      req.Name,
		Value:     req.Value,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutCredential(r.Context(), cred); err != nil {
		writeError(w, "failed to save credential", http.StatusInternalServerError)
		return
	}

	slog.Info("broker credential saved", "account", claims.AccountID, "name", req.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) writeSession(w http.ResponseWriter, account *model.Account, status int) {
	token, err := GenerateToken(account.ID, account.IsAdmin, s.secret, s.tokenTTL)
	if err != nil {
		writeError(w, "failed to sign session token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, SessionResponse{Token: token, Account: *account})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
