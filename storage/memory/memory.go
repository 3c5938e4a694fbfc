// Package memory provides an in-memory implementation of the geopulse.Storage interface.
// This implementation is primarily intended for testing, development and single-process runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Storage implements geopulse.Storage using an in-memory map
type Storage struct {
	mu      sync.RWMutex
	ledgers map[string]*geopulse.Ledger
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		ledgers: make(map[string]*geopulse.Ledger),
	}
}

// GetLedger implements geopulse.Storage
func (s *Storage) GetLedger(_ context.Context, accountID string) (*geopulse.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[accountID]
	if !ok {
		return nil, geopulse.ErrLedgerNotFound
	}

	// Return a copy to prevent external mutations
	return ledger.Clone(), nil
}

// CreateLedger implements geopulse.Storage
func (s *Storage) CreateLedger(_ context.Context, ledger *geopulse.Ledger) error {
	if ledger == nil || ledger.AccountID == "" {
		return fmt.Errorf("invalid ledger")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[ledger.AccountID]; ok {
		return geopulse.ErrLedgerExists
	}
	s.ledgers[ledger.AccountID] = ledger.Clone()
	return nil
}

// UpdateLedger implements geopulse.Storage. The write lock is held for the
// whole read-modify-write.
func (s *Storage) UpdateLedger(ctx context.Context, accountID string,
	fn geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.ledgers[accountID]
	if !ok {
		return nil, geopulse.ErrLedgerNotFound
	}

	// fn works on a copy so a failed update leaves the stored ledger intact
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	s.ledgers[accountID] = working
	return working.Clone(), nil
}

// ListLedgers implements geopulse.Storage
func (s *Storage) ListLedgers(_ context.Context) ([]*geopulse.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*geopulse.Ledger, 0, len(s.ledgers))
	for _, l := range s.ledgers {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledgers = make(map[string]*geopulse.Ledger)
}
