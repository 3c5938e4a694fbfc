package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/geopulse/pkg/billing"
	"github.com/mihaimyh/geopulse/pkg/geopulse"
	"github.com/mihaimyh/geopulse/storage/memory"
)

const testSecret = "whsec_test"

func newTestProvider(t *testing.T) (*Provider, *geopulse.LedgerManager) {
	t.Helper()
	ledgers, err := geopulse.NewLedgerManager(memory.New(), geopulse.LedgerConfig{})
	if err != nil {
		t.Fatalf("NewLedgerManager() error = %v", err)
	}
	p, err := NewProvider(Config{
		Config: billing.Config{
			Ledgers: ledgers,
			Plans: map[string]billing.Plan{
				"price_starter": {Name: "starter", Calls: 200, ExtendDays: 30},
			},
		},
		StripeAPIKey:        "sk_test_123",
		StripeWebhookSecret: testSecret,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p, ledgers
}

func checkoutEvent(id, status string, metadata string) *stripe.Event {
	raw := `{"id":"cs_1","object":"checkout.session","payment_status":"` + status +
		`","client_reference_id":"","metadata":` + metadata + `}`
	return &stripe.Event{
		ID:      id,
		Type:    "checkout.session.completed",
		Created: time.Now().Unix(),
		Data:    &stripe.EventData{Raw: []byte(raw)},
	}
}

func TestNewProvider_Validation(t *testing.T) {
	ledgers, _ := geopulse.NewLedgerManager(memory.New(), geopulse.LedgerConfig{})

	if _, err := NewProvider(Config{StripeAPIKey: "sk"}); !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("missing ledgers: error = %v", err)
	}
	if _, err := NewProvider(Config{Config: billing.Config{Ledgers: ledgers}, StripeAPIKey: "sk"}); !errors.Is(err, billing.ErrPlanNotConfigured) {
		t.Errorf("missing plans: error = %v", err)
	}
	plans := map[string]billing.Plan{"p": {Name: "p", Calls: 1, ExtendDays: 1}}
	if _, err := NewProvider(Config{Config: billing.Config{Ledgers: ledgers, Plans: plans}}); !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("missing api key: error = %v", err)
	}
}

func TestProcessEvent_ProvisionsNewAccount(t *testing.T) {
	p, ledgers := newTestProvider(t)
	ctx := context.Background()

	outcome, err := p.processWebhookEvent(ctx,
		checkoutEvent("evt_1", "paid", `{"account_id":"acct-1","price_id":"PRICE_STARTER"}`))
	if err != nil {
		t.Fatalf("processWebhookEvent() error = %v", err)
	}
	if outcome != outcomeSuccess {
		t.Errorf("outcome = %q, want %q", outcome, outcomeSuccess)
	}

	ledger, err := ledgers.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ledger.AllowedCalls != 200 {
		t.Errorf("AllowedCalls = %d, want 200", ledger.AllowedCalls)
	}
}

func TestProcessEvent_RenewsExistingAccount(t *testing.T) {
	p, ledgers := newTestProvider(t)
	ctx := context.Background()

	if _, err := ledgers.Provision(ctx, "acct-1", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := ledgers.Increment(ctx, "acct-1", 8); err != nil {
		t.Fatal(err)
	}
	before, _ := ledgers.Get(ctx, "acct-1")

	if _, err := p.processWebhookEvent(ctx,
		checkoutEvent("evt_2", "paid", `{"account_id":"acct-1","price_id":"price_starter"}`)); err != nil {
		t.Fatalf("processWebhookEvent() error = %v", err)
	}

	after, _ := ledgers.Get(ctx, "acct-1")
	if after.AllowedCalls != 200 || after.PerformedCalls != 0 {
		t.Errorf("ledger = %d/%d, want 0/200", after.PerformedCalls, after.AllowedCalls)
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want after %v", after.ExpiresAt, before.ExpiresAt)
	}
}

func TestProcessEvent_DuplicateIsSkipped(t *testing.T) {
	p, ledgers := newTestProvider(t)
	ctx := context.Background()
	event := checkoutEvent("evt_dup", "paid", `{"account_id":"acct-1","price_id":"price_starter"}`)

	if _, err := p.processWebhookEvent(ctx, event); err != nil {
		t.Fatal(err)
	}
	if _, err := ledgers.Increment(ctx, "acct-1", 5); err != nil {
		t.Fatal(err)
	}

	outcome, err := p.processWebhookEvent(ctx, event)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != outcomeDuplicate {
		t.Errorf("outcome = %q, want %q", outcome, outcomeDuplicate)
	}
	ledger, _ := ledgers.Get(ctx, "acct-1")
	if ledger.PerformedCalls != 5 {
		t.Errorf("PerformedCalls = %d, want 5 (redelivery must not reset)", ledger.PerformedCalls)
	}
}

func TestProcessEvent_Ignored(t *testing.T) {
	p, ledgers := newTestProvider(t)
	ctx := context.Background()

	outcome, err := p.processWebhookEvent(ctx,
		checkoutEvent("evt_unpaid", "unpaid", `{"account_id":"acct-1","price_id":"price_starter"}`))
	if err != nil || outcome != outcomeIgnored {
		t.Errorf("unpaid session: outcome = %q, err = %v", outcome, err)
	}

	outcome, err = p.processWebhookEvent(ctx, &stripe.Event{ID: "evt_other", Type: "customer.created"})
	if err != nil || outcome != outcomeIgnored {
		t.Errorf("other event: outcome = %q, err = %v", outcome, err)
	}

	if _, err := ledgers.Get(ctx, "acct-1"); !errors.Is(err, geopulse.ErrLedgerNotFound) {
		t.Errorf("Get() error = %v, want ErrLedgerNotFound", err)
	}
}

func TestProcessEvent_Errors(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event *stripe.Event
		want  error
	}{
		{"missing account", checkoutEvent("e1", "paid", `{"price_id":"price_starter"}`), billing.ErrAccountMissing},
		{"unknown price", checkoutEvent("e2", "paid", `{"account_id":"a","price_id":"price_gold"}`), billing.ErrPlanNotConfigured},
		{"no data", &stripe.Event{ID: "e3", Type: "checkout.session.completed"}, billing.ErrInvalidWebhookPayload},
		{"bad json", &stripe.Event{ID: "e4", Type: "checkout.session.completed",
			Data: &stripe.EventData{Raw: []byte(`{"metadata":`)}}, billing.ErrInvalidWebhookPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := p.processWebhookEvent(ctx, tt.event)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if outcome != outcomeError {
				t.Errorf("outcome = %q, want %q", outcome, outcomeError)
			}
			if p.events.Seen(tt.event.ID) {
				t.Error("failed event must not be remembered")
			}
		})
	}
}

func TestWebhookHandler(t *testing.T) {
	p, ledgers := newTestProvider(t)

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		p.WebhookHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		w := httptest.NewRecorder()
		p.WebhookHandler().ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("signed checkout", func(t *testing.T) {
		payload := []byte(`{"id":"evt_signed","object":"event","api_version":"` + stripe.APIVersion +
			`","type":"checkout.session.completed","data":{"object":{"id":"cs_9","object":"checkout.session",` +
			`"payment_status":"paid","metadata":{"account_id":"acct-9","price_id":"price_starter"}}}}`)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    testSecret,
			Timestamp: time.Now(),
			Scheme:    "v1",
		})

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(payload)))
		req.Header.Set("Stripe-Signature", signed.Header)
		w := httptest.NewRecorder()
		p.WebhookHandler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}

		ledger, err := ledgers.Get(context.Background(), "acct-9")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ledger.AllowedCalls != 200 {
			t.Errorf("AllowedCalls = %d, want 200", ledger.AllowedCalls)
		}
	})
}

func TestWebhookHandler_NoSecret(t *testing.T) {
	p, _ := newTestProvider(t)
	p.webhookSecret = ""

	w := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`)))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestCheckoutURL_Validation(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	if _, err := p.CheckoutURL(ctx, "", "price_starter", "https://ok", "https://cancel"); !errors.Is(err, billing.ErrAccountMissing) {
		t.Errorf("missing account: error = %v", err)
	}
	if _, err := p.CheckoutURL(ctx, "acct-1", "price_gold", "https://ok", "https://cancel"); !errors.Is(err, billing.ErrPlanNotConfigured) {
		t.Errorf("unknown price: error = %v", err)
	}
}
