// Package gin provides Gin middleware that checks usage ledger capacity
package gin

import (
	"errors"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	quotahttp "github.com/mihaimyh/geopulse/middleware/http"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// RemainingHeader carries the calls left on the ledger at admission.
const RemainingHeader = "X-Remaining-Calls"

// SummaryKey is the Gin context key holding the admission *geopulse.Summary.
const SummaryKey = "geopulse.summary"

// AccountIDExtractor extracts the account ID from a Gin context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c *gongin.Context) string

// CallsExtractor calculates the imagery calls the request will need
type CallsExtractor func(c *gongin.Context) (int, error)

// Config holds middleware configuration
type Config struct {
	// Ledgers is the ledger manager instance
	Ledgers *geopulse.LedgerManager

	// GetAccountID extracts the account ID from context (required)
	GetAccountID AccountIDExtractor

	// GetRequiredCalls calculates the calls the request needs (required)
	GetRequiredCalls CallsExtractor

	// OnQuotaExceeded is called when the ledger cannot cover the request
	// If nil, uses default response: 429 (403 when expired) JSON with the ledger message
	OnQuotaExceeded func(c *gongin.Context, err *geopulse.QuotaError)

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c *gongin.Context)

	// OnError is called for bad input and storage failures
	// If nil, returns 400 or 500 JSON
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that checks ledger capacity
func Middleware(cfg Config) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		required, err := cfg.GetRequiredCalls(c)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusBadRequest, gongin.H{"error": err.Error()})
			}
			c.Abort()
			return
		}

		summary, err := cfg.Ledgers.CheckCapacity(c.Request.Context(), accountID, required)
		if err != nil {
			var quotaErr *geopulse.QuotaError
			switch {
			case errors.As(err, &quotaErr) && cfg.OnQuotaExceeded != nil:
				cfg.OnQuotaExceeded(c, quotaErr)
			case quotahttp.StatusFor(err) == http.StatusInternalServerError && cfg.OnError != nil:
				cfg.OnError(c, err)
			default:
				c.JSON(quotahttp.StatusFor(err), gongin.H{"error": quotahttp.Message(err)})
			}
			c.Abort()
			return
		}

		c.Set(SummaryKey, summary)
		c.Header(RemainingHeader, strconv.Itoa(summary.Remaining))
		c.Next()
	}
}

// FromContext returns an AccountIDExtractor that reads a string set with c.Set
func FromContext(key string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns an AccountIDExtractor that gets the account ID from a route parameter
func FromParam(paramName string) AccountIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FixedCalls returns a CallsExtractor that always returns a fixed amount
func FixedCalls(calls int) CallsExtractor {
	return func(_ *gongin.Context) (int, error) {
		return calls, nil
	}
}

// PropertyCountQuery reads a property count from a query parameter and
// charges CallsPerProperty for each
func PropertyCountQuery(name string) CallsExtractor {
	return func(c *gongin.Context) (int, error) {
		n, err := strconv.Atoi(c.Query(name))
		if err != nil || n <= 0 {
			return 0, errors.New("query parameter " + name + " must be a positive property count")
		}
		return n * geopulse.CallsPerProperty, nil
	}
}
