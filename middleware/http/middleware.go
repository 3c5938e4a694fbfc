// Package http provides HTTP middleware that admits requests only when the
// caller's usage ledger can cover the imagery calls they are about to cause.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// AccountIDExtractor extracts the account ID from an HTTP request
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(r *http.Request) string

// CallsExtractor calculates how many imagery calls the request will need
type CallsExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration
type Config struct {
	// Ledgers is the ledger manager instance
	Ledgers *geopulse.LedgerManager

	// GetAccountID extracts the account ID from the request (required)
	GetAccountID AccountIDExtractor

	// GetRequiredCalls calculates the calls the request needs (required)
	GetRequiredCalls CallsExtractor

	// OnQuotaExceeded is called when the ledger cannot cover the request
	// If nil, returns 429 Too Many Requests (403 Forbidden for expired accounts)
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, err *geopulse.QuotaError)

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 400 for bad input and 500 for storage failures
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// AccountIDKey is the context key for the admitted account ID
	AccountIDKey ContextKey = "geopulse:accountID"

	// SummaryKey is the context key for the ledger summary at admission
	SummaryKey ContextKey = "geopulse:summary"
)

// Middleware creates an HTTP middleware that checks ledger capacity. It never
// spends calls; the batch charges what it actually used when it finishes.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := config.GetAccountID(r)
			if accountID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			required, err := config.GetRequiredCalls(r)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Bad Request", http.StatusBadRequest)
				}
				return
			}

			summary, err := config.Ledgers.CheckCapacity(r.Context(), accountID, required)
			if err != nil {
				var quotaErr *geopulse.QuotaError
				switch {
				case errors.As(err, &quotaErr) && config.OnQuotaExceeded != nil:
					config.OnQuotaExceeded(w, r, quotaErr)
				case StatusFor(err) == http.StatusInternalServerError && config.OnError != nil:
					config.OnError(w, r, err)
				default:
					http.Error(w, Message(err), StatusFor(err))
				}
				return
			}

			ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
			ctx = context.WithValue(ctx, SummaryKey, summary)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StatusFor maps a capacity check error onto an HTTP status code:
// 429 when short on calls, 403 when expired or unknown, 500 otherwise.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, geopulse.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, geopulse.ErrAccountExpired), errors.Is(err, geopulse.ErrLedgerNotFound):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for a capacity check error.
// Storage failures are not echoed to the client.
func Message(err error) string {
	var quotaErr *geopulse.QuotaError
	switch {
	case errors.As(err, &quotaErr):
		return quotaErr.Error()
	case errors.Is(err, geopulse.ErrLedgerNotFound):
		return "No usage record for account"
	default:
		return "Internal Server Error"
	}
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// FixedCalls returns a CallsExtractor that always returns a fixed amount
func FixedCalls(calls int) CallsExtractor {
	return func(r *http.Request) (int, error) {
		return calls, nil
	}
}

// PropertyCountHeader returns a CallsExtractor that reads a property count
// from a header and charges CallsPerProperty for each.
func PropertyCountHeader(headerName string) CallsExtractor {
	return func(r *http.Request) (int, error) {
		n, err := strconv.Atoi(r.Header.Get(headerName))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("header %s must be a positive property count", headerName)
		}
		return n * geopulse.CallsPerProperty, nil
	}
}

// FromContext returns an AccountIDExtractor that gets the account ID from request context
func FromContext(key interface{}) AccountIDExtractor {
	return func(r *http.Request) string {
		if accountID, ok := r.Context().Value(key).(string); ok {
			return accountID
		}
		return ""
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// AccountID returns the account admitted by the middleware.
func AccountID(ctx context.Context) string {
	accountID, _ := ctx.Value(AccountIDKey).(string)
	return accountID
}

// Summary returns the ledger summary recorded at admission.
func Summary(ctx context.Context) *geopulse.Summary {
	summary, _ := ctx.Value(SummaryKey).(*geopulse.Summary)
	return summary
}
