package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
	"github.com/mihaimyh/geopulse/storage/memory"
)

var testNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

// Test helper to create a ledger manager with one provisioned account
func setupLedgers(t *testing.T, now *time.Time, allowed int) *geopulse.LedgerManager {
	t.Helper()

	ledgers, err := geopulse.NewLedgerManager(memory.New(), geopulse.LedgerConfig{
		Clock: func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("Failed to create ledger manager: %v", err)
	}
	if _, err := ledgers.Provision(context.Background(), "acct1", allowed); err != nil {
		t.Fatalf("Failed to provision ledger: %v", err)
	}
	return ledgers
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountID(r.Context()) != "acct1" {
			t.Errorf("Expected admitted account acct1, got %q", AccountID(r.Context()))
		}
		if Summary(r.Context()) == nil {
			t.Error("Expected ledger summary in context")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(handler http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/batches", http.NoBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestMiddleware_Admits(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)

	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: PropertyCountHeader("X-Property-Count"),
	})

	w := serve(mw(okHandler(t)), map[string]string{"X-Account-ID": "acct1", "X-Property-Count": "5"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// Admission never spends
	ledger, err := ledgers.Get(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("Failed to read ledger: %v", err)
	}
	if ledger.PerformedCalls != 0 {
		t.Errorf("Expected 0 performed calls, got %d", ledger.PerformedCalls)
	}
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)

	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: PropertyCountHeader("X-Property-Count"),
	})

	w := serve(mw(okHandler(t)), map[string]string{"X-Account-ID": "acct1", "X-Property-Count": "6"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "short by 2") {
		t.Errorf("Expected shortfall in body, got %q", w.Body.String())
	}
}

func TestMiddleware_Expired(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)
	now = testNow.AddDate(0, 3, 0)

	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: FixedCalls(2),
	})

	w := serve(mw(okHandler(t)), map[string]string{"X-Account-ID": "acct1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", w.Code)
	}
}

func TestMiddleware_CustomQuotaHandler(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 1)

	var got *geopulse.QuotaError
	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: FixedCalls(2),
		OnQuotaExceeded: func(w http.ResponseWriter, _ *http.Request, err *geopulse.QuotaError) {
			got = err
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})

	w := serve(mw(okHandler(t)), map[string]string{"X-Account-ID": "acct1"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}
	if got == nil || got.Required != 2 || got.Remaining() != 1 {
		t.Errorf("Unexpected quota error: %+v", got)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)

	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: FixedCalls(1),
	})

	w := serve(mw(okHandler(t)), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}

	called := false
	mw = Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: FixedCalls(1),
		OnUnauthorized: func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		},
	})
	serve(mw(okHandler(t)), nil)
	if !called {
		t.Error("Expected OnUnauthorized to be called")
	}
}

func TestMiddleware_UnknownAccount(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)

	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: FixedCalls(1),
	})

	w := serve(mw(okHandler(t)), map[string]string{"X-Account-ID": "ghost"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", w.Code)
	}
}

func TestMiddleware_BadPropertyCount(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)

	var got error
	mw := Middleware(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: PropertyCountHeader("X-Property-Count"),
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusBadRequest)
		},
	})

	for _, count := range []string{"", "0", "-1", "many"} {
		got = nil
		w := serve(mw(okHandler(t)), map[string]string{"X-Account-ID": "acct1", "X-Property-Count": count})
		if w.Code != http.StatusBadRequest {
			t.Errorf("count %q: expected status 400, got %d", count, w.Code)
		}
		if got == nil {
			t.Errorf("count %q: expected OnError to be called", count)
		}
	}
}

func TestHandlerFunc(t *testing.T) {
	now := testNow
	ledgers := setupLedgers(t, &now, 10)

	hf := HandlerFunc(Config{
		Ledgers:          ledgers,
		GetAccountID:     FromHeader("X-Account-ID"),
		GetRequiredCalls: FixedCalls(2),
	})
	handler := hf(okHandler(t).ServeHTTP)

	w := serve(handler, map[string]string{"X-Account-ID": "acct1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), AccountIDKey, "acct1"))
	if got := FromContext(AccountIDKey)(req); got != "acct1" {
		t.Errorf("Expected acct1, got %q", got)
	}
	if got := AccountID(context.Background()); got != "" {
		t.Errorf("Expected empty account ID, got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&geopulse.QuotaError{Err: geopulse.ErrQuotaExceeded}, http.StatusTooManyRequests},
		{&geopulse.QuotaError{Err: geopulse.ErrAccountExpired}, http.StatusForbidden},
		{geopulse.ErrLedgerNotFound, http.StatusForbidden},
		{&geopulse.PersistenceError{AccountID: "a", Op: "get", Err: context.DeadlineExceeded}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
	if got := Message(context.DeadlineExceeded); got != "Internal Server Error" {
		t.Errorf("Expected storage errors to be masked, got %q", got)
	}
}
