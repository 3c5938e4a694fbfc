package billing

import (
	"context"
	"errors"
	"sync"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Renewal is one purchase to apply to a ledger.
type Renewal struct {
	AccountID string
	Plan      Plan
	Provider  string
	EventID   string
}

// Renew applies a purchase. An account without a ledger is provisioned with
// the plan's calls; an existing ledger is reset to them and its expiry extended.
// It reports whether the ledger was newly provisioned.
func Renew(ctx context.Context, ledgers *geopulse.LedgerManager, r Renewal) (*geopulse.Ledger, bool, error) {
	if r.AccountID == "" {
		return nil, false, ErrAccountMissing
	}

	_, err := ledgers.Get(ctx, r.AccountID)
	switch {
	case errors.Is(err, geopulse.ErrLedgerNotFound):
		ledger, err := ledgers.Provision(ctx, r.AccountID, r.Plan.Calls)
		if errors.Is(err, geopulse.ErrLedgerExists) {
			// Provisioned concurrently; renew it instead.
			break
		}
		return ledger, err == nil, err
	case err != nil:
		return nil, false, err
	}

	calls := r.Plan.Calls
	if _, err := ledgers.Reset(ctx, r.AccountID, &calls); err != nil {
		return nil, false, err
	}
	ledger, err := ledgers.ExtendExpiry(ctx, r.AccountID, r.Plan.ExtendDays)
	return ledger, false, err
}

// EventLog remembers recently processed event IDs so redelivered webhooks are
// not applied twice. It is bounded and process-local.
type EventLog struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	size  int
}

// NewEventLog creates a log remembering up to size event IDs (default: 10000).
func NewEventLog(size int) *EventLog {
	if size <= 0 {
		size = 10000
	}
	return &EventLog{seen: make(map[string]struct{}, size), size: size}
}

// Seen reports whether id was already marked.
func (l *EventLog) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Mark records id, evicting the oldest entry when full.
func (l *EventLog) Mark(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return
	}
	if len(l.order) >= l.size {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
}
