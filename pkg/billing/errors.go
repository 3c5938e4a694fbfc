package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrPlanNotConfigured is returned when a price ID has no plan
	ErrPlanNotConfigured = errors.New("plan not configured")

	// ErrAccountMissing is returned when an event does not name the account to renew
	ErrAccountMissing = errors.New("account id missing from event")
)

// PlanError reports a plan that grants no calls or no time.
type PlanError struct {
	PriceID string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan %q must grant at least one call and one day", e.PriceID)
}

func (e *PlanError) Unwrap() error {
	return ErrPlanNotConfigured
}
