// Package stripe renews usage ledgers from Stripe Checkout payments.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/geopulse/pkg/billing"
	"github.com/mihaimyh/geopulse/pkg/billing/internal"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBytes          = 256 * 1024

	// Checkout session metadata keys read back by the webhook
	metadataAccountID = "account_id"
	metadataPriceID   = "price_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Ledgers, Plans, etc.)

	StripeAPIKey        string
	StripeWebhookSecret string

	// RememberEvents bounds the redelivery guard (default: 10000 event IDs)
	RememberEvents int
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	ledgers       *geopulse.LedgerManager
	config        Config
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	stripeClient  *stripe.Client
	events        *billing.EventLog
	metrics       billing.Metrics
	logger        geopulse.Logger
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &geopulse.NoopLogger{}
	}

	return &Provider{
		ledgers:       config.Ledgers,
		config:        config,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: strings.TrimSpace(config.StripeWebhookSecret),
		stripeClient:  stripe.NewClient(apiKey),
		events:        billing.NewEventLog(config.RememberEvents),
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

var _ billing.Provider = (*Provider)(nil)
