package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

const (
	statusSuccess   = "success"
	statusError     = "error"
	maxAccountIDLen = 255

	maxExtendDays = 365
	maxResetLimit = 10000
)

// Handler provides HTTP endpoints for usage ledger inspection and administration
type Handler struct {
	config Config
}

// Routes returns a mux serving every endpoint.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.GetStatus)
	mux.HandleFunc("GET /check-limit/{calls}", h.CheckLimit)
	mux.HandleFunc("POST /extend-expiry/{days}", h.ExtendExpiry)
	mux.HandleFunc("POST /reset-calls", h.ResetCalls)
	mux.HandleFunc("GET /ledgers", h.ListLedgers)
	mux.HandleFunc("GET /ledgers/expired", h.CountExpired)
	if h.config.Pipeline != nil {
		mux.HandleFunc("POST /batches", h.SubmitBatch)
	}
	return mux
}

// GetStatus returns the caller's ledger summary
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	summary, err := h.config.Ledgers.Summary(r.Context(), accountID)
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{
		Status:  statusSuccess,
		Data:    summary,
		Message: "usage status retrieved",
	})
}

// CheckLimit reports whether the caller could spend the given number of calls now
func (h *Handler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	required, err := strconv.Atoi(h.config.PathParam(r, "calls"))
	if err != nil || required <= 0 {
		h.handleError(w, r, fmt.Errorf("required calls must be greater than 0"), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	data := CheckLimitData{RequiredCalls: required}

	summary, err := h.config.Ledgers.CheckCapacity(ctx, accountID, required)
	var quotaErr *geopulse.QuotaError
	switch {
	case err == nil:
		data.CanMakeCalls = true
		data.UsageInfo = summary
	case errors.As(err, &quotaErr):
		msg := quotaErr.Error()
		data.ErrorMessage = &msg
		if data.UsageInfo, err = h.config.Ledgers.Summary(ctx, accountID); err != nil {
			h.handleLedgerError(w, r, err)
			return
		}
	default:
		h.handleLedgerError(w, r, err)
		return
	}

	status := statusSuccess
	if !data.CanMakeCalls {
		status = statusError
	}
	h.writeJSON(w, http.StatusOK, Envelope{
		Status:  status,
		Data:    data,
		Message: "limit check completed",
	})
}

// ExtendExpiry pushes the caller's expiry date out by 1 to 365 days
func (h *Handler) ExtendExpiry(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	days, err := strconv.Atoi(h.config.PathParam(r, "days"))
	if err != nil || days < 1 || days > maxExtendDays {
		h.handleError(w, r, fmt.Errorf("days must be between 1 and %d", maxExtendDays), http.StatusBadRequest)
		return
	}

	if _, err := h.config.Ledgers.ExtendExpiry(r.Context(), accountID, days); err != nil {
		h.handleLedgerError(w, r, err)
		return
	}
	h.respondWithSummary(w, r, accountID, fmt.Sprintf("access extended by %d days", days))
}

// ResetCalls zeroes the caller's performed calls. An optional new_limit query
// parameter (1 to 10000) replaces the allowance.
func (h *Handler) ResetCalls(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var newLimit *int
	if raw := r.URL.Query().Get("new_limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxResetLimit {
			h.handleError(w, r, fmt.Errorf("new limit must be between 1 and %d", maxResetLimit), http.StatusBadRequest)
			return
		}
		newLimit = &n
	}

	if _, err := h.config.Ledgers.Reset(r.Context(), accountID, newLimit); err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	msg := "calls reset"
	if newLimit != nil {
		msg = fmt.Sprintf("calls reset with new limit: %d", *newLimit)
	}
	h.respondWithSummary(w, r, accountID, msg)
}

// ListLedgers returns every ledger's summary
func (h *Handler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.config.Ledgers.Summaries(r.Context())
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	list := LedgerList{Ledgers: summaries, Total: len(summaries)}
	for _, s := range summaries {
		if s.IsExpired {
			list.Expired++
		}
	}
	h.writeJSON(w, http.StatusOK, Envelope{
		Status:  statusSuccess,
		Data:    list,
		Message: "ledgers listed",
	})
}

// CountExpired returns how many ledgers have expired
func (h *Handler) CountExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.config.Ledgers.CountExpired(r.Context())
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{
		Status:  statusSuccess,
		Data:    ExpiredCount{Expired: n},
		Message: "expired ledgers counted",
	})
}

func (h *Handler) respondWithSummary(w http.ResponseWriter, r *http.Request, accountID, msg string) {
	summary, err := h.config.Ledgers.Summary(r.Context(), accountID)
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{
		Status:  statusSuccess,
		Data:    summary,
		Message: msg,
	})
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := h.config.GetAccountID(r)
	if accountID == "" {
		h.handleError(w, r, fmt.Errorf("account ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(accountID) > maxAccountIDLen {
		h.handleError(w, r, fmt.Errorf("invalid account ID format"), http.StatusBadRequest)
		return "", false
	}
	return accountID, true
}

// handleLedgerError maps ledger errors onto status codes
func (h *Handler) handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geopulse.ErrLedgerNotFound):
		h.handleError(w, r, fmt.Errorf("usage record not found"), http.StatusNotFound)
	case errors.Is(err, geopulse.ErrInvalidAmount):
		h.handleError(w, r, err, http.StatusBadRequest)
	default:
		h.config.Logger.Error("usage api request failed",
			geopulse.Field{Key: "path", Value: r.URL.Path},
			geopulse.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, err, http.StatusInternalServerError)
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.writeJSON(w, statusCode, Envelope{Status: statusError, Message: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already started
		_ = err
	}
}
