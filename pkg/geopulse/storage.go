package geopulse

import "context"

// UpdateFunc mutates a ledger inside a storage transaction. Backends with
// optimistic concurrency may call it more than once, so it must only touch
// the ledger it is given. Returning an error aborts the write.
type UpdateFunc func(l *Ledger) error

// Storage defines the interface for ledger persistence.
// All methods use concrete types from this package to avoid import cycles.
type Storage interface {
	// GetLedger retrieves an account's ledger
	// Returns ErrLedgerNotFound when the account has none
	GetLedger(ctx context.Context, accountID string) (*Ledger, error)

	// CreateLedger stores a new ledger
	// Returns ErrLedgerExists when the account already has one
	CreateLedger(ctx context.Context, ledger *Ledger) error

	// UpdateLedger applies fn as a single atomic read-modify-write (row lock,
	// transaction or optimistic retry) and returns the stored result.
	// Concurrent updates to the same account must never lose a write.
	UpdateLedger(ctx context.Context, accountID string, fn UpdateFunc) (*Ledger, error)

	// ListLedgers returns every stored ledger ordered by account ID
	ListLedgers(ctx context.Context) ([]*Ledger, error)
}
