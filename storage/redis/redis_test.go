package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func testLedger(id string) *geopulse.Ledger {
	return geopulse.NewLedger(id, 50, geopulse.DefaultValidity, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	s, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	require.NoError(t, err)
	assert.Equal(t, "geopulse:", s.config.KeyPrefix)
	assert.Equal(t, 20, s.config.MaxRetries)
}

func TestLedgerCodec(t *testing.T) {
	in := testLedger("acct-1")
	in.PerformedCalls = 7

	data, err := encodeLedger(in)
	require.NoError(t, err)
	out, err := decodeLedger(data)
	require.NoError(t, err)
	assert.Equal(t, in.PerformedCalls, out.PerformedCalls)
	assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt))

	_, err = decodeLedger([]byte("{"))
	assert.Error(t, err)
}

func TestStorage_CreateGet(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.GetLedger(ctx, "acct-1")
	assert.ErrorIs(t, err, geopulse.ErrLedgerNotFound)

	require.NoError(t, s.CreateLedger(ctx, testLedger("acct-1")))
	assert.ErrorIs(t, s.CreateLedger(ctx, testLedger("acct-1")), geopulse.ErrLedgerExists)

	got, err := s.GetLedger(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.AllowedCalls)
}

func TestStorage_UpdateLedger_Concurrent(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.CreateLedger(ctx, testLedger("acct-1")))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateLedger(ctx, "acct-1", func(l *geopulse.Ledger) error {
				return l.Increment(3, time.Now())
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetLedger(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 30, got.PerformedCalls)
}

func TestStorage_UpdateLedger_Errors(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.UpdateLedger(ctx, "missing", func(*geopulse.Ledger) error { return nil })
	assert.ErrorIs(t, err, geopulse.ErrLedgerNotFound)

	require.NoError(t, s.CreateLedger(ctx, testLedger("acct-1")))
	boom := errors.New("boom")
	_, err = s.UpdateLedger(ctx, "acct-1", func(l *geopulse.Ledger) error {
		l.PerformedCalls = 40
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.GetLedger(ctx, "acct-1")
	assert.Equal(t, 0, got.PerformedCalls)
}

func TestStorage_ListLedgers(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()
	s, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.CreateLedger(ctx, testLedger(id)))
	}

	ledgers, err := s.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 3)
	assert.Equal(t, "a", ledgers[0].AccountID)
	assert.Equal(t, "c", ledgers[2].AccountID)
}
