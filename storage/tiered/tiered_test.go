package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
	"github.com/mihaimyh/geopulse/storage/memory"
)

var _ geopulse.Storage = (*Storage)(nil)

func testLedger(id string) *geopulse.Ledger {
	return geopulse.NewLedger(id, 50, geopulse.DefaultValidity, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncHotSync: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})
}

func TestStorage_ReadThrough(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	ctx := context.Background()
	require.NoError(t, cold.CreateLedger(ctx, testLedger("acct")))

	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	got, err := storage.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 50, got.AllowedCalls)

	// Hot was populated by the read
	cached, err := hot.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "acct", cached.AccountID)

	_, err = storage.GetLedger(ctx, "missing")
	assert.ErrorIs(t, err, geopulse.ErrLedgerNotFound)
}

func TestStorage_WriteThrough(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	ctx := context.Background()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	require.NoError(t, storage.CreateLedger(ctx, testLedger("acct")))
	assert.ErrorIs(t, storage.CreateLedger(ctx, testLedger("acct")), geopulse.ErrLedgerExists)

	updated, err := storage.UpdateLedger(ctx, "acct", func(l *geopulse.Ledger) error {
		return l.Increment(6, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, 6, updated.PerformedCalls)

	fromHot, _ := hot.GetLedger(ctx, "acct")
	fromCold, _ := cold.GetLedger(ctx, "acct")
	assert.Equal(t, 6, fromHot.PerformedCalls)
	assert.Equal(t, 6, fromCold.PerformedCalls)
}

func TestStorage_AsyncHotSync(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	ctx := context.Background()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncHotSync: true})
	require.NoError(t, err)

	require.NoError(t, storage.CreateLedger(ctx, testLedger("acct")))
	for i := 0; i < 5; i++ {
		_, err := storage.UpdateLedger(ctx, "acct", func(l *geopulse.Ledger) error {
			return l.Increment(1, time.Now())
		})
		require.NoError(t, err)
	}
	require.NoError(t, storage.Close())

	fromHot, err := hot.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 5, fromHot.PerformedCalls)
}

type failingHot struct {
	geopulse.Storage
}

func (failingHot) UpdateLedger(context.Context, string, geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	return nil, errors.New("hot down")
}

func TestStorage_HotFailureDoesNotFailWrite(t *testing.T) {
	cold := memory.New()
	ctx := context.Background()
	require.NoError(t, cold.CreateLedger(ctx, testLedger("acct")))

	var mu sync.Mutex
	var reported []error
	storage, err := New(Config{
		Hot:  failingHot{memory.New()},
		Cold: cold,
		AsyncErrorHandler: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	_, err = storage.UpdateLedger(ctx, "acct", func(l *geopulse.Ledger) error {
		return l.Increment(2, time.Now())
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "hot down")
}

func TestStorage_ListFromCold(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	ctx := context.Background()
	require.NoError(t, cold.CreateLedger(ctx, testLedger("a")))
	require.NoError(t, hot.CreateLedger(ctx, testLedger("stale")))

	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	ledgers, err := storage.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 1)
	assert.Equal(t, "a", ledgers[0].AccountID)
}

// gatedHot holds back the Hot write of one snapshot until released.
type gatedHot struct {
	geopulse.Storage
	holdPerformed int
	reached       chan struct{}
	release       chan struct{}
	once          sync.Once
}

func (g *gatedHot) UpdateLedger(ctx context.Context, accountID string, fn geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	var incoming geopulse.Ledger
	if err := fn(&incoming); err == nil && incoming.PerformedCalls == g.holdPerformed {
		g.once.Do(func() {
			close(g.reached)
			<-g.release
		})
	}
	return g.Storage.UpdateLedger(ctx, accountID, fn)
}

func TestStorage_HotRefreshesApplyInCommitOrder(t *testing.T) {
	ctx := context.Background()
	hot := &gatedHot{
		Storage:       memory.New(),
		holdPerformed: 1,
		reached:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)

	ledgers, err := geopulse.NewLedgerManager(storage, geopulse.LedgerConfig{})
	require.NoError(t, err)
	_, err = ledgers.Provision(ctx, "acct", 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := ledgers.Increment(ctx, "acct", 1)
		assert.NoError(t, err)
	}()

	<-hot.reached
	go func() {
		defer wg.Done()
		_, err := ledgers.Increment(ctx, "acct", 1)
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	close(hot.release)
	wg.Wait()

	fromCold, err := cold.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, fromCold.PerformedCalls)

	got, err := storage.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 2, got.PerformedCalls)

	_, err = ledgers.CheckCapacity(ctx, "acct", 1)
	assert.ErrorIs(t, err, geopulse.ErrQuotaExceeded)
}

func TestStorage_ConcurrentWriters(t *testing.T) {
	for _, async := range []bool{false, true} {
		t.Run(map[bool]string{false: "sync", true: "async"}[async], func(t *testing.T) {
			ctx := context.Background()
			hot, cold := memory.New(), memory.New()
			storage, err := New(Config{Hot: hot, Cold: cold, AsyncHotSync: async, SyncBufferSize: 4})
			require.NoError(t, err)
			require.NoError(t, storage.CreateLedger(ctx, testLedger("acct")))

			const writers = 32
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := storage.UpdateLedger(ctx, "acct", func(l *geopulse.Ledger) error {
						return l.Increment(1, time.Now())
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			require.NoError(t, storage.Close())

			fromHot, err := hot.GetLedger(ctx, "acct")
			require.NoError(t, err)
			fromCold, err := cold.GetLedger(ctx, "acct")
			require.NoError(t, err)
			assert.Equal(t, writers, fromCold.PerformedCalls)
			assert.Equal(t, writers, fromHot.PerformedCalls)
		})
	}
}

// missingHot always misses on reads, forcing a fill from Cold.
type missingHot struct {
	geopulse.Storage
}

func (missingHot) GetLedger(context.Context, string) (*geopulse.Ledger, error) {
	return nil, geopulse.ErrLedgerNotFound
}

func TestStorage_ReadFillDoesNotOverwriteNewerHot(t *testing.T) {
	ctx := context.Background()
	hot, cold := memory.New(), memory.New()
	stale := testLedger("acct")
	require.NoError(t, cold.CreateLedger(ctx, stale))

	fresh := stale.Clone()
	require.NoError(t, fresh.Increment(9, time.Now()))
	require.NoError(t, hot.CreateLedger(ctx, fresh))

	storage, err := New(Config{Hot: missingHot{hot}, Cold: cold})
	require.NoError(t, err)

	got, err := storage.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 0, got.PerformedCalls)

	cached, err := hot.GetLedger(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 9, cached.PerformedCalls)
}
