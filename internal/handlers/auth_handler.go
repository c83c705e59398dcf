package handlers

import (
	"net/http"
	"time"

	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/middleware"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/services"
)

type AuthHandler struct {
	accounts  *services.AccountService
	tokens    *services.TokenService
	validator *services.ValidationHelper
}

func NewAuthHandler(accounts *services.AccountService, tokens *services.TokenService) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		tokens:    tokens,
		validator: services.NewValidationHelper(),
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Account   *models.Account `json:"account"`
}

// Register opens a player wallet.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Infof("[AUTH] Register - Decode error: %v", err)
		badBody(w, err)
		return
	}

	account, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Infof("[AUTH] Registered account %s (%s)", account.ID, account.Username)
	writeJSON(w, http.StatusCreated, account)
}

// Login checks credentials and issues a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Infof("[AUTH] Login successful for account %s", account.ID)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, Account: account})
}

// Logout revokes the presented bearer token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
		return
	}

	if err := h.tokens.Revoke(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Me returns the caller's own account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), identity, identity.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
