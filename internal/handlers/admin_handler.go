package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/services"
)

// AdminHandler serves the admin-only routes. RequireAdmin guards the whole
// group; the services re-check the role.
type AdminHandler struct {
	accounts  *services.AccountService
	ledger    *services.LedgerService
	query     *services.QueryService
	validator *services.ValidationHelper
}

func NewAdminHandler(accounts *services.AccountService, ledger *services.LedgerService, query *services.QueryService) *AdminHandler {
	return &AdminHandler{
		accounts:  accounts,
		ledger:    ledger,
		query:     query,
		validator: services.NewValidationHelper(),
	}
}

type statusRequest struct {
	Status models.AccountStatus `json:"status" validate:"required,oneof=active suspended inactive"`
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetAccount(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.accounts.SetStatus(r.Context(), identity, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AdminHandler) Balance(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	balance, err := h.query.GetBalance(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "admin credit", h.ledger.Credit)
}

func (h *AdminHandler) Debit(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "admin debit", h.ledger.Debit)
}

func (h *AdminHandler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "bonus", h.ledger.Bonus)
}

func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.keyed(w, r, "refund", h.ledger.Refund)
}

func (h *AdminHandler) keyed(w http.ResponseWriter, r *http.Request, name string, op keyedOperation) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	accountID := chi.URLParam(r, "id")
	logger.Infof("[ADMIN] %s on %s by %s", name, accountID, identity.AccountID)
	runKeyed(w, r, h.validator, name, accountID, op)
}

// Transactions lists entries system-wide, or for one account when
// account_id is given.
func (h *AdminHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	filter, err := parseEntryFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.AccountID = r.URL.Query().Get("account_id")

	page, err := h.query.ListTransactions(r.Context(), identity, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identity, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	filter, err := parseStatsFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.AccountID = r.URL.Query().Get("account_id")

	stats, err := h.query.Stats(r.Context(), identity, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
