// Package redis provides a Redis implementation of the geopulse.Storage interface.
// Ledgers are stored as JSON strings. Creation runs as a Lua script and updates
// use WATCH/MULTI optimistic transactions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Storage implements geopulse.Storage using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "geopulse:")
	KeyPrefix string

	// MaxRetries is the number of optimistic transaction attempts per update (default: 20)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "geopulse:",
		MaxRetries: 20,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "geopulse:"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 20
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Create a ledger only if absent and index it
	s.scripts["create"] = redis.NewScript(`
		local ledgerKey = KEYS[1]
		local indexKey = KEYS[2]
		local accountID = ARGV[1]
		local data = ARGV[2]

		if redis.call('EXISTS', ledgerKey) == 1 then
			return 0
		end

		redis.call('SET', ledgerKey, data)
		redis.call('SADD', indexKey, accountID)
		return 1
	`)
}

type ledgerRecord struct {
	AccountID      string    `json:"account_id"`
	AllowedCalls   int       `json:"allowed_calls"`
	PerformedCalls int       `json:"performed_calls"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func encodeLedger(l *geopulse.Ledger) ([]byte, error) {
	return json.Marshal(ledgerRecord{
		AccountID:      l.AccountID,
		AllowedCalls:   l.AllowedCalls,
		PerformedCalls: l.PerformedCalls,
		CreatedAt:      l.CreatedAt.UTC(),
		ExpiresAt:      l.ExpiresAt.UTC(),
		UpdatedAt:      l.UpdatedAt.UTC(),
	})
}

func decodeLedger(data []byte) (*geopulse.Ledger, error) {
	var rec ledgerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	return &geopulse.Ledger{
		AccountID:      rec.AccountID,
		AllowedCalls:   rec.AllowedCalls,
		PerformedCalls: rec.PerformedCalls,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

func (s *Storage) ledgerKey(accountID string) string {
	return s.config.KeyPrefix + "ledger:" + accountID
}

func (s *Storage) indexKey() string {
	return s.config.KeyPrefix + "ledgers"
}

// GetLedger implements geopulse.Storage
func (s *Storage) GetLedger(ctx context.Context, accountID string) (*geopulse.Ledger, error) {
	data, err := s.client.Get(ctx, s.ledgerKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, geopulse.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return decodeLedger(data)
}

// CreateLedger implements geopulse.Storage
func (s *Storage) CreateLedger(ctx context.Context, ledger *geopulse.Ledger) error {
	if ledger == nil || ledger.AccountID == "" {
		return fmt.Errorf("invalid ledger")
	}

	data, err := encodeLedger(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	created, err := s.scripts["create"].Run(ctx, s.client,
		[]string{s.ledgerKey(ledger.AccountID), s.indexKey()},
		ledger.AccountID, string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	if created == 0 {
		return geopulse.ErrLedgerExists
	}
	return nil
}

// UpdateLedger implements geopulse.Storage. The ledger key is watched and the
// write is retried when another client modified it in between.
func (s *Storage) UpdateLedger(ctx context.Context, accountID string,
	fn geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	key := s.ledgerKey(accountID)

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		var updated *geopulse.Ledger

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return geopulse.ErrLedgerNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to get ledger for update: %w", err)
			}

			ledger, err := decodeLedger(data)
			if err != nil {
				return err
			}
			if err := fn(ledger); err != nil {
				return err
			}

			encoded, err := encodeLedger(ledger)
			if err != nil {
				return fmt.Errorf("failed to encode ledger: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = ledger
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("failed to update ledger %s: too many concurrent modifications", accountID)
}

// ListLedgers implements geopulse.Storage
func (s *Storage) ListLedgers(ctx context.Context) ([]*geopulse.Ledger, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	sort.Strings(ids)

	out := make([]*geopulse.Ledger, 0, len(ids))
	for _, id := range ids {
		ledger, err := s.GetLedger(ctx, id)
		if errors.Is(err, geopulse.ErrLedgerNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ledger)
	}
	return out, nil
}
