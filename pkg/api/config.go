package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Config holds configuration for the usage API handler
type Config struct {
	// Ledgers is the ledger manager instance (required)
	Ledgers *geopulse.LedgerManager

	// GetAccountID extracts the account ID from the HTTP request (required)
	GetAccountID func(*http.Request) string

	// Pipeline runs uploaded batches. POST /batches is only served when set.
	Pipeline *geopulse.Pipeline

	// MaxUploadBytes caps an uploaded property table (default: 50 MiB)
	MaxUploadBytes int64

	// PathParam reads a named path parameter (default: r.PathValue).
	// Routers such as chi plug in their own lookup here.
	PathParam func(r *http.Request, name string) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger geopulse.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Ledgers == nil {
		return fmt.Errorf("ledger manager is required")
	}
	if c.GetAccountID == nil {
		return fmt.Errorf("getAccountID is required")
	}
	return nil
}

// NewHandler creates a new usage API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.PathParam == nil {
		config.PathParam = func(r *http.Request, name string) string {
			return r.PathValue(name)
		}
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 50 << 20
	}
	if config.Logger == nil {
		config.Logger = &geopulse.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common account ID extraction patterns

// FromHeader returns a GetAccountID function that extracts the account ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetAccountID function that extracts the account ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if accountID, ok := r.Context().Value(key).(string); ok {
			return accountID
		}
		return ""
	}
}
