package billing

import (
	"strings"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Plan is what a purchase grants.
type Plan struct {
	// Name labels the plan in logs and metrics
	Name string

	// Calls becomes the ledger's allowance and performed calls restart at zero
	Calls int

	// ExtendDays pushes the expiry out (from now when already expired).
	// New accounts get the ledger's default validity instead.
	ExtendDays int
}

// Config defines the standard configuration all providers accept
type Config struct {
	// Ledgers is the ledger manager renewed on purchase (required)
	Ledgers *geopulse.LedgerManager

	// Plans maps provider price IDs to plans (matched case-insensitively)
	Plans map[string]Plan

	// Metrics is an optional metrics collector (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger geopulse.Logger
}

// PlanFor looks up the plan for a provider price ID.
func (c *Config) PlanFor(priceID string) (Plan, bool) {
	key := strings.ToLower(strings.TrimSpace(priceID))
	for id, plan := range c.Plans {
		if strings.ToLower(id) == key {
			return plan, true
		}
	}
	return Plan{}, false
}

// Validate checks the plans are usable
func (c *Config) Validate() error {
	if c.Ledgers == nil {
		return ErrProviderNotConfigured
	}
	if len(c.Plans) == 0 {
		return ErrPlanNotConfigured
	}
	for id, plan := range c.Plans {
		if plan.Calls < 1 || plan.ExtendDays < 1 {
			return &PlanError{PriceID: id}
		}
	}
	return nil
}
