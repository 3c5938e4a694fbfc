// Package billing renews usage ledgers from payment provider events.
//
// A paid plan maps to a call allowance and a validity extension. When the
// provider reports a completed payment the account's ledger is reset to the
// plan's allowance and its expiry pushed out, or provisioned if the account
// has no ledger yet.
package billing

import (
	"net/http"
)

// Provider is the interface a payment backend implements.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing and ledger renewal internally.
	WebhookHandler() http.Handler
}
