// Package fiber provides Fiber middleware that checks usage ledger capacity
package fiber

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	quotahttp "github.com/mihaimyh/geopulse/middleware/http"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// RemainingHeader carries the calls left on the ledger at admission.
const RemainingHeader = "X-Remaining-Calls"

// SummaryKey is the Locals key holding the admission *geopulse.Summary.
const SummaryKey = "geopulse.summary"

// AccountIDExtractor extracts the account ID from a Fiber context
// Return empty string if the caller is not authenticated
type AccountIDExtractor func(c *fiber.Ctx) string

// CallsExtractor calculates the imagery calls the request will need
type CallsExtractor func(c *fiber.Ctx) (int, error)

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
	OnQuotaExceeded func(c *fiber.Ctx, err *geopulse.QuotaError) error

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called for bad input and storage failures
	// If nil, returns 400 or 500 JSON
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that checks ledger capacity
func Middleware(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID := cfg.GetAccountID(c)
		if accountID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		required, err := cfg.GetRequiredCalls(c)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		summary, err := cfg.Ledgers.CheckCapacity(c.UserContext(), accountID, required)
		if err != nil {
			var quotaErr *geopulse.QuotaError
			switch {
			case errors.As(err, &quotaErr) && cfg.OnQuotaExceeded != nil:
				return cfg.OnQuotaExceeded(c, quotaErr)
			case quotahttp.StatusFor(err) == http.StatusInternalServerError && cfg.OnError != nil:
				return cfg.OnError(c, err)
			default:
				return c.Status(quotahttp.StatusFor(err)).JSON(fiber.Map{"error": quotahttp.Message(err)})
			}
		}

		c.Locals(SummaryKey, summary)
		c.Set(RemainingHeader, strconv.Itoa(summary.Remaining))
		return c.Next()
	}
}

// FromLocals returns an AccountIDExtractor that reads a string stored in c.Locals
func FromLocals(key string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		if s, ok := c.Locals(key).(string); ok {
			return s
		}
		return ""
	}
}

// FromHeader returns an AccountIDExtractor that gets the account ID from a header
func FromHeader(headerName string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns an AccountIDExtractor that gets the account ID from a route parameter
func FromParam(paramName string) AccountIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FixedCalls returns a CallsExtractor that always returns a fixed amount
func FixedCalls(calls int) CallsExtractor {
	return func(_ *fiber.Ctx) (int, error) {
		return calls, nil
	}
}

// PropertyCountQuery reads a property count from a query parameter and
// charges CallsPerProperty for each
func PropertyCountQuery(name string) CallsExtractor {
	return func(c *fiber.Ctx) (int, error) {
		n, err := strconv.Atoi(c.Query(name))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("query parameter %s must be a positive property count", name)
		}
		return n * geopulse.CallsPerProperty, nil
	}
}
