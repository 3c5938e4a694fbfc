// Package tiered provides a Hot/Cold tiered ledger storage that serves reads
// from fast ephemeral storage (Hot) while keeping durable persistent storage
// (Cold) as the source of truth.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

const lockStripes = 64

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory) for reads
	Hot geopulse.Storage

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold geopulse.Storage

	// AsyncHotSync refreshes Hot in the background after Cold writes. If false,
	// Hot is refreshed before the write returns.
	AsyncHotSync bool

	// SyncBufferSize is the size of the buffered channel for async refreshes.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a Hot refresh fails.
	AsyncErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered storage architecture.
//   - Read-Through: GetLedger (Hot → Cold → populate Hot)
//   - Write-Through: CreateLedger, UpdateLedger (Cold → Hot)
//   - Cold-Only: ListLedgers
//
// Every writer must go through the same tiered Storage, otherwise Hot may serve
// stale ledgers. A Cold write and the Hot refresh it triggers run under a
// per-account lock, so Hot receives snapshots in commit order.
type Storage struct {
	hot  geopulse.Storage
	cold geopulse.Storage
	conf Config

	locks [lockStripes]sync.Mutex

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotSync {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background refresh loop. Jobs run sequentially so
// refreshes for one account apply in write order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
	}
}

// GetLedger implements geopulse.Storage with read-through strategy.
func (s *Storage) GetLedger(ctx context.Context, accountID string) (*geopulse.Ledger, error) {
	ledger, err := s.hot.GetLedger(ctx, accountID)
	if err == nil {
		return ledger, nil
	}

	ledger, err = s.cold.GetLedger(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Cache fill only creates: a writer may have refreshed Hot with a newer
	// snapshot since Cold was read. Errors are non-critical.
	_ = s.hot.CreateLedger(ctx, ledger.Clone()) //nolint:errcheck

	return ledger, nil
}

// CreateLedger implements geopulse.Storage with write-through strategy.
func (s *Storage) CreateLedger(ctx context.Context, ledger *geopulse.Ledger) error {
	mu := s.lock(ledger.AccountID)
	defer mu.Unlock()

	if err := s.cold.CreateLedger(ctx, ledger); err != nil {
		return err
	}
	s.refresh(ctx, ledger)
	return nil
}

// UpdateLedger implements geopulse.Storage. The update runs atomically on Cold
// and the result is copied to Hot.
func (s *Storage) UpdateLedger(ctx context.Context, accountID string,
	fn geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	mu := s.lock(accountID)
	defer mu.Unlock()

	ledger, err := s.cold.UpdateLedger(ctx, accountID, fn)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, ledger)
	return ledger, nil
}

func (s *Storage) lock(accountID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu
}

// ListLedgers implements geopulse.Storage from Cold only.
func (s *Storage) ListLedgers(ctx context.Context) ([]*geopulse.Ledger, error) {
	return s.cold.ListLedgers(ctx)
}

// refresh copies ledger to Hot. Callers hold the account lock, so async jobs
// are queued in commit order; a full queue makes the writer wait. After Close
// the put runs inline.
func (s *Storage) refresh(ctx context.Context, ledger *geopulse.Ledger) {
	snapshot := ledger.Clone()
	if !s.conf.AsyncHotSync {
		s.report(s.putHot(ctx, snapshot))
		return
	}

	job := func() error {
		return s.putHot(context.WithoutCancel(ctx), snapshot)
	}
	select {
	case <-s.shutdown:
		s.report(s.putHot(ctx, snapshot))
		return
	default:
	}
	select {
	case s.syncQueue <- job:
	case <-s.shutdown:
		s.report(s.putHot(ctx, snapshot))
	}
}

// putHot overwrites (or creates) the Hot copy of ledger.
func (s *Storage) putHot(ctx context.Context, ledger *geopulse.Ledger) error {
	_, err := s.hot.UpdateLedger(ctx, ledger.AccountID, func(l *geopulse.Ledger) error {
		*l = *ledger.Clone()
		return nil
	})
	if errors.Is(err, geopulse.ErrLedgerNotFound) {
		err = s.hot.CreateLedger(ctx, ledger.Clone())
		if errors.Is(err, geopulse.ErrLedgerExists) {
			return s.putHot(ctx, ledger)
		}
	}
	return err
}
