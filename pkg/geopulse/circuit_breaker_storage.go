package geopulse

import "context"

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) GetLedger(ctx context.Context, accountID string) (*Ledger, error) {
	var ledger *Ledger
	err := s.cb.Execute(ctx, func() error {
		var e error
		ledger, e = s.storage.GetLedger(ctx, accountID)
		return e
	})
	return ledger, err
}

func (s *CircuitBreakerStorage) CreateLedger(ctx context.Context, ledger *Ledger) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.CreateLedger(ctx, ledger)
	})
}

func (s *CircuitBreakerStorage) UpdateLedger(ctx context.Context, accountID string, fn UpdateFunc) (*Ledger, error) {
	var ledger *Ledger
	err := s.cb.Execute(ctx, func() error {
		var e error
		ledger, e = s.storage.UpdateLedger(ctx, accountID, fn)
		return e
	})
	return ledger, err
}

func (s *CircuitBreakerStorage) ListLedgers(ctx context.Context) ([]*Ledger, error) {
	var ledgers []*Ledger
	err := s.cb.Execute(ctx, func() error {
		var e error
		ledgers, e = s.storage.ListLedgers(ctx)
		return e
	})
	return ledgers, err
}
