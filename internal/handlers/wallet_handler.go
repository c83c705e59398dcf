package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/middleware"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/services"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// IdempotencyHeader carries the client-chosen idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// entryRequest is the body of keyed mutations (credit, debit, bonus, refund).
type entryRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"required,money"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=255"`
	Description    string          `json:"description" validate:"max=500"`
	Metadata       models.Metadata `json:"metadata"`
}

// gameRequest is the body of wager and payout; their keys are generated.
type gameRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required,money"`
	Description string          `json:"description" validate:"max=500"`
	Metadata    models.Metadata `json:"metadata"`
}

type keyedOperation func(ctx context.Context, accountID, key string, amount decimal.Decimal, opts services.EntryOptions) (*models.LedgerEntry, error)

type gameOperation func(ctx context.Context, accountID string, amount decimal.Decimal, opts services.EntryOptions) (*models.LedgerEntry, error)

type WalletHandler struct {
	ledger    *services.LedgerService
	query     *services.QueryService
	validator *services.ValidationHelper
}

func NewWalletHandler(ledger *services.LedgerService, query *services.QueryService) *WalletHandler {
	return &WalletHandler{
		ledger:    ledger,
		query:     query,
		validator: services.NewValidationHelper(),
	}
}

func (h *WalletHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "credit", h.ledger.Credit)
}

func (h *WalletHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "debit", h.ledger.Debit)
}

func (h *WalletHandler) Wager(w http.ResponseWriter, r *http.Request) {
	h.game(w, r, "wager", h.ledger.Wager)
}

func (h *WalletHandler) Payout(w http.ResponseWriter, r *http.Request) {
	h.game(w, r, "payout", h.ledger.Payout)
}

func (h *WalletHandler) keyed(w http.ResponseWriter, r *http.Request, name string, op keyedOperation) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	runKeyed(w, r, h.validator, name, identity.AccountID, op)
}

func (h *WalletHandler) game(w http.ResponseWriter, r *http.Request, name string, op gameOperation) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}

	var req gameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Infof("[WALLET] %s - Decode error: %v", name, err)
		badBody(w, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := op(r.Context(), identity.AccountID, req.Amount, services.EntryOptions{
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// runKeyed decodes an entryRequest and applies op to accountID. The
// Idempotency-Key header and the body key must agree when both are sent.
func runKeyed(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, name, accountID string, op keyedOperation) {
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Infof("[WALLET] %s - Decode error: %v", name, err)
		badBody(w, err)
		return
	}
	if err := v.ValidateStruct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	key := req.IdempotencyKey
	if header := r.Header.Get(IdempotencyHeader); header != "" {
		if key != "" && key != header {
			services.SendErrorResponse(w, "Idempotency-Key header and body key differ", http.StatusBadRequest, nil)
			return
		}
		key = header
	}

	logger.WithFields(logrus.Fields{
		"operation":  name,
		"account_id": accountID,
		"key":        key,
		"amount":     req.Amount.String(),
	}).Debug("[WALLET] Request")

	entry, err := op(r.Context(), accountID, key, req.Amount, services.EntryOptions{
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	balance, err := h.query.GetBalance(r.Context(), identity, identity.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	filter, err := parseEntryFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.AccountID = identity.AccountID

	page, err := h.query.ListTransactions(r.Context(), identity, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *WalletHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	entry, err := h.query.GetTransaction(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *WalletHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	filter, err := parseStatsFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.AccountID = identity.AccountID

	stats, err := h.query.Stats(r.Context(), identity, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func callerOrReject(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return identity, ok
}
