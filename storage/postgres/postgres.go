// Package postgres provides a PostgreSQL implementation of the geopulse.Storage interface.
// Ledger updates run in a transaction with SELECT FOR UPDATE so concurrent
// increments on the same account serialize on the row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Schema creates the ledger table. EnsureSchema applies it.
const Schema = `CREATE TABLE IF NOT EXISTS usage_ledgers (
	account_id      TEXT PRIMARY KEY,
	allowed_calls   INTEGER NOT NULL CHECK (allowed_calls >= 0),
	performed_calls INTEGER NOT NULL DEFAULT 0 CHECK (performed_calls >= 0),
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
)`

const selectColumns = `account_id, allowed_calls, performed_calls, created_at, expires_at, updated_at`

// Storage implements geopulse.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// EnsureSchema creates the ledger table on startup when true
	EnsureSchema bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		EnsureSchema:    true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}

	if config.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// EnsureSchema creates the ledger table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedger(row rowScanner) (*geopulse.Ledger, error) {
	var l geopulse.Ledger
	err := row.Scan(&l.AccountID, &l.AllowedCalls, &l.PerformedCalls, &l.CreatedAt, &l.ExpiresAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// GetLedger implements geopulse.Storage
func (s *Storage) GetLedger(ctx context.Context, accountID string) (*geopulse.Ledger, error) {
	ledger, err := scanLedger(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM usage_ledgers WHERE account_id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, geopulse.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return ledger, nil
}

// CreateLedger implements geopulse.Storage
func (s *Storage) CreateLedger(ctx context.Context, ledger *geopulse.Ledger) error {
	if ledger == nil || ledger.AccountID == "" {
		return fmt.Errorf("invalid ledger")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO usage_ledgers (`+selectColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (account_id) DO NOTHING`,
		ledger.AccountID, ledger.AllowedCalls, ledger.PerformedCalls,
		ledger.CreatedAt, ledger.ExpiresAt, ledger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return geopulse.ErrLedgerExists
	}
	return nil
}

// UpdateLedger implements geopulse.Storage with a row-locked transaction
func (s *Storage) UpdateLedger(ctx context.Context, accountID string,
	fn geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	ledger, err := scanLedger(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM usage_ledgers WHERE account_id = $1 FOR UPDATE`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, geopulse.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger for update: %w", err)
	}

	if err := fn(ledger); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE usage_ledgers
			SET allowed_calls = $2, performed_calls = $3, expires_at = $4, updated_at = $5
			WHERE account_id = $1`,
		accountID, ledger.AllowedCalls, ledger.PerformedCalls, ledger.ExpiresAt, ledger.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return ledger, nil
}

// ListLedgers implements geopulse.Storage
func (s *Storage) ListLedgers(ctx context.Context) ([]*geopulse.Ledger, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM usage_ledgers ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	defer rows.Close()

	var out []*geopulse.Ledger
	for rows.Next() {
		ledger, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger: %w", err)
		}
		out = append(out, ledger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	return out, nil
}
