package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/ruralpay/wallet-ledger/internal/services"
)

const maxBodyBytes = 1_048_576

var errMultipleObjects = errors.New("request body must only contain a single JSON object")

// errorStatuses maps error kinds to HTTP statuses. Order matters: the first
// match wins.
var errorStatuses = []struct {
	err    error
	status int
}{
	{models.ErrAccountNotFound, http.StatusNotFound},
	{models.ErrEntryNotFound, http.StatusNotFound},
	{models.ErrAccountNotActive, http.StatusForbidden},
	{models.ErrForbidden, http.StatusForbidden},
	{models.ErrInsufficientFunds, http.StatusPaymentRequired},
	{models.ErrInvalidAmount, http.StatusBadRequest},
	{models.ErrInvalidEntryType, http.StatusBadRequest},
	{models.ErrInvalidIdempotencyKey, http.StatusBadRequest},
	{models.ErrInvalidStatus, http.StatusBadRequest},
	{models.ErrInvalidFilter, http.StatusBadRequest},
	{models.ErrDuplicateIdempotencyKey, http.StatusConflict},
	{models.ErrIdempotencyKeyConflict, http.StatusConflict},
	{models.ErrAccountExists, http.StatusConflict},
	{models.ErrInvalidCredentials, http.StatusUnauthorized},
	{models.ErrInvalidToken, http.StatusUnauthorized},
	{models.ErrLockTimeout, http.StatusServiceUnavailable},
}

// statusFor returns the HTTP status for err and the message safe to show the
// caller. Unknown errors become 500 with a generic message.
func statusFor(err error) (int, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, "Validation failed"
	}
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status, err.Error()
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeError logs and renders err. Insufficient funds carries the balance
// and the requested amount so clients can show them.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[HTTP] %s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		logger.Debugf("[HTTP] %s %s rejected (%d): %v", r.Method, r.URL.Path, status, err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	var insufficient *models.InsufficientFundsError
	if errors.As(err, &insufficient) {
		writeJSON(w, status, services.ErrorResponse{
			Error: message,
			Details: map[string]string{
				"balance":   insufficient.Balance.StringFixed(2),
				"requested": insufficient.Requested.StringFixed(2),
			},
		})
		return
	}

	services.SendErrorResponse(w, message, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("[HTTP] Failed to encode response: %v", err)
	}
}

// decodeJSON reads exactly one JSON object into dst, rejecting unknown
// fields and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errMultipleObjects
	}
	return nil
}

// badBody answers a request whose body could not be decoded.
func badBody(w http.ResponseWriter, err error) {
	message := "Invalid request body"
	if errors.Is(err, errMultipleObjects) {
		message = "Request body must only contain a single JSON object"
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		services.SendErrorResponse(w, "Request body too large", http.StatusRequestEntityTooLarge, nil)
		return
	}
	services.SendErrorResponse(w, message, http.StatusBadRequest, nil)
}

// parseEntryFilter reads history query parameters:
// type (repeatable or comma separated), from, to (RFC 3339), sort, order,
// limit and offset.
func parseEntryFilter(r *http.Request) (models.EntryFilter, error) {
	q := r.URL.Query()
	var filter models.EntryFilter

	for _, raw := range q["type"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := models.ParseEntryType(part)
			if err != nil {
				return filter, fmt.Errorf("%w: %q", err, part)
			}
			filter.Types = append(filter.Types, t)
		}
	}

	var err error
	if filter.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return filter, err
	}

	switch sortBy := q.Get("sort"); sortBy {
	case "", models.SortCreatedAt, models.SortAmount, models.SortType:
		filter.SortBy = sortBy
	default:
		return filter, fmt.Errorf("%w: unknown sort %q", models.ErrInvalidFilter, sortBy)
	}

	switch order := strings.ToLower(q.Get("order")); order {
	case "", "asc":
	case "desc":
		filter.Desc = true
	default:
		return filter, fmt.Errorf("%w: order must be asc or desc", models.ErrInvalidFilter)
	}

	if filter.Limit, err = parseInt(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseInt(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseStatsFilter(r *http.Request) (models.StatsFilter, error) {
	q := r.URL.Query()
	var (
		filter models.StatsFilter
		err    error
	)
	if filter.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339", models.ErrInvalidFilter, name)
	}
	t = t.UTC()
	return &t, nil
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrInvalidFilter, name)
	}
	return n, nil
}
