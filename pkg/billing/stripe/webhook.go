package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/geopulse/pkg/billing"
	"github.com/mihaimyh/geopulse/pkg/billing/internal"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Event outcomes recorded in metrics
const (
	outcomeSuccess   = "success"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("stripe webhook rejected",
			geopulse.Field{Key: "error", Value: fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err).Error()})
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	outcome, err := p.processWebhookEvent(r.Context(), &event)
	p.metrics.RecordWebhookEvent(providerName, eventType, outcome)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.logger.Error("stripe webhook failed",
			geopulse.Field{Key: "event_id", Value: event.ID},
			geopulse.Field{Key: "event_type", Value: eventType},
			geopulse.Field{Key: "error", Value: err.Error()})

		// A malformed event is the sender's fault; anything else is worth a retry.
		if errors.Is(err, billing.ErrInvalidWebhookPayload) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// processWebhookEvent applies an event at most once per remembered event ID
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) (string, error) {
	if event.ID != "" && p.events.Seen(event.ID) {
		return outcomeDuplicate, nil
	}

	var (
		outcome string
		err     error
	)
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		outcome, err = p.handleCheckoutSession(ctx, event)
	default:
		outcome = outcomeIgnored
	}
	if err != nil {
		return outcomeError, err
	}

	if event.ID != "" {
		p.events.Mark(event.ID)
	}
	return outcome, nil
}

// handleCheckoutSession renews the ledger named in a paid session's metadata
func (p *Provider) handleCheckoutSession(ctx context.Context, event *stripe.Event) (string, error) {
	if event.Data == nil {
		return "", fmt.Errorf("%w: event %s has no data", billing.ErrInvalidWebhookPayload, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	// Delayed payment methods complete later with async_payment_succeeded.
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return outcomeIgnored, nil
	}

	accountID := session.Metadata[metadataAccountID]
	if accountID == "" {
		accountID = session.ClientReferenceID
	}
	if accountID == "" {
		return "", fmt.Errorf("%w: checkout session %s", billing.ErrAccountMissing, session.ID)
	}

	priceID := session.Metadata[metadataPriceID]
	plan, ok := p.config.PlanFor(priceID)
	if !ok {
		return "", fmt.Errorf("%w: price %q on checkout session %s", billing.ErrPlanNotConfigured, priceID, session.ID)
	}

	ledger, provisioned, err := billing.Renew(ctx, p.ledgers, billing.Renewal{
		AccountID: accountID,
		Plan:      plan,
		Provider:  providerName,
		EventID:   event.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to renew ledger for %s: %w", accountID, err)
	}

	p.metrics.RecordRenewal(providerName, plan.Name, provisioned)
	p.logger.Info("ledger renewed from payment",
		geopulse.Field{Key: "account_id", Value: accountID},
		geopulse.Field{Key: "plan", Value: plan.Name},
		geopulse.Field{Key: "allowed_calls", Value: ledger.AllowedCalls},
		geopulse.Field{Key: "expires_at", Value: ledger.ExpiresAt.Format(geopulse.DateLayout)},
		geopulse.Field{Key: "provisioned", Value: provisioned},
		geopulse.Field{Key: "event_id", Value: event.ID})
	return outcomeSuccess, nil
}
