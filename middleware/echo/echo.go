// Package echo provides Echo middleware that checks usage ledger capacity
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	quotahttp "github.com/mihaimyh/geopulse/middleware/http"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// RemainingHeader carries the calls left on the ledger at admission.
const RemainingHeader = "X-Remaining-Calls"

// SummaryKey is the Echo context key holding the admission *geopulse.Summary.
const SummaryKey = "geopulse.summary"

// AccountIDExtractor extracts the account ID from an Echo context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c echo.Context) string

// CallsExtractor calculates the imagery calls the request will need
type CallsExtractor func(c echo.Context) (int, error)

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
	OnQuotaExceeded func(c echo.Context, err *geopulse.QuotaError) error

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c echo.Context) error

	// OnError is called for bad input and storage failures
	// If nil, returns 400 or 500 JSON
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that checks ledger capacity
func Middleware(cfg Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := cfg.GetAccountID(c)
			if accountID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			required, err := cfg.GetRequiredCalls(c)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			summary, err := cfg.Ledgers.CheckCapacity(c.Request().Context(), accountID, required)
			if err != nil {
				var quotaErr *geopulse.QuotaError
				switch {
				case errors.As(err, &quotaErr) && cfg.OnQuotaExceeded != nil:
					return cfg.OnQuotaExceeded(c, quotaErr)
				case quotahttp.StatusFor(err) == http.StatusInternalServerError && cfg.OnError != nil:
					return cfg.OnError(c, err)
				default:
					return c.JSON(quotahttp.StatusFor(err), map[string]string{"error": quotahttp.Message(err)})
				}
			}

			c.Set(SummaryKey, summary)
			c.Response().Header().Set(RemainingHeader, strconv.Itoa(summary.Remaining))
			return next(c)
		}
	}
}

// FromContext returns an AccountIDExtractor that reads a string set with c.Set
func FromContext(key string) AccountIDExtractor {
	return func(c echo.Context) string {
		if s, ok := c.Get(key).(string); ok {
			return s
		}
		return ""
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns an AccountIDExtractor that gets the account ID from a route parameter
func FromParam(paramName string) AccountIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FixedCalls returns a CallsExtractor that always returns a fixed amount
func FixedCalls(calls int) CallsExtractor {
	return func(_ echo.Context) (int, error) {
		return calls, nil
	}
}

// PropertyCountQuery reads a property count from a query parameter and
// charges CallsPerProperty for each
func PropertyCountQuery(name string) CallsExtractor {
	return func(c echo.Context) (int, error) {
		n, err := strconv.Atoi(c.QueryParam(name))
		if err != nil || n <= 0 {
			return 0, errors.New("query parameter " + name + " must be a positive property count")
		}
		return n * geopulse.CallsPerProperty, nil
	}
}
