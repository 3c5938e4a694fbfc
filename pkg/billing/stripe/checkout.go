package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/geopulse/pkg/billing"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// CheckoutURL creates a one-time Stripe Checkout Session for a plan and returns
// its URL. The account and price are stored in the session metadata so the
// webhook can renew the right ledger.
func (p *Provider) CheckoutURL(ctx context.Context, accountID, priceID, successURL, cancelURL string) (string, error) {
	if accountID == "" {
		return "", billing.ErrAccountMissing
	}
	if _, ok := p.config.PlanFor(priceID); !ok {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "plan_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, priceID)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(accountID),
	}
	params.Metadata = map[string]string{
		metadataAccountID: accountID,
		metadataPriceID:   priceID,
	}

	start := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")

	p.logger.Info("checkout session created",
		geopulse.Field{Key: "account_id", Value: accountID},
		geopulse.Field{Key: "price_id", Value: priceID},
		geopulse.Field{Key: "session_id", Value: session.ID})
	return session.URL, nil
}
