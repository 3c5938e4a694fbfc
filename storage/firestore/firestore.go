// Package firestore provides a Firestore implementation of the geopulse.Storage interface.
// Updates run inside Firestore transactions, which retry on contention.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Storage implements geopulse.Storage using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// LedgersCollection is the Firestore collection for usage ledgers
	// Default: "usage_ledgers"
	LedgersCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.LedgersCollection == "" {
		config.LedgersCollection = "usage_ledgers"
	}

	return &Storage{
		client:     client,
		collection: config.LedgersCollection,
	}, nil
}

func ledgerData(l *geopulse.Ledger) map[string]interface{} {
	return map[string]interface{}{
		"allowedCalls":   l.AllowedCalls,
		"performedCalls": l.PerformedCalls,
		"createdAt":      l.CreatedAt.UTC(),
		"expiresAt":      l.ExpiresAt.UTC(),
		"updatedAt":      l.UpdatedAt.UTC(),
	}
}

func ledgerFromData(accountID string, data map[string]interface{}) *geopulse.Ledger {
	return &geopulse.Ledger{
		AccountID:      accountID,
		AllowedCalls:   getInt(data, "allowedCalls"),
		PerformedCalls: getInt(data, "performedCalls"),
		CreatedAt:      getTime(data, "createdAt"),
		ExpiresAt:      getTime(data, "expiresAt"),
		UpdatedAt:      getTime(data, "updatedAt"),
	}
}

// GetLedger implements geopulse.Storage
func (s *Storage) GetLedger(ctx context.Context, accountID string) (*geopulse.Ledger, error) {
	snap, err := s.client.Collection(s.collection).Doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, geopulse.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	if !snap.Exists() {
		return nil, geopulse.ErrLedgerNotFound
	}
	return ledgerFromData(accountID, snap.Data()), nil
}

// CreateLedger implements geopulse.Storage
func (s *Storage) CreateLedger(ctx context.Context, ledger *geopulse.Ledger) error {
	if ledger == nil || ledger.AccountID == "" {
		return fmt.Errorf("invalid ledger")
	}

	_, err := s.client.Collection(s.collection).Doc(ledger.AccountID).Create(ctx, ledgerData(ledger))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return geopulse.ErrLedgerExists
		}
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

// UpdateLedger implements geopulse.Storage
func (s *Storage) UpdateLedger(ctx context.Context, accountID string,
	fn geopulse.UpdateFunc) (*geopulse.Ledger, error) {
	doc := s.client.Collection(s.collection).Doc(accountID)

	var updated *geopulse.Ledger
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return geopulse.ErrLedgerNotFound
			}
			return err
		}
		if !snap.Exists() {
			return geopulse.ErrLedgerNotFound
		}

		ledger := ledgerFromData(accountID, snap.Data())
		if err := fn(ledger); err != nil {
			return err
		}
		updated = ledger
		return tx.Set(doc, ledgerData(ledger))
	})
	if err != nil {
		if errors.Is(err, geopulse.ErrLedgerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update ledger: %w", err)
	}
	return updated, nil
}

// ListLedgers implements geopulse.Storage
func (s *Storage) ListLedgers(ctx context.Context) ([]*geopulse.Ledger, error) {
	iter := s.client.Collection(s.collection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*geopulse.Ledger
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list ledgers: %w", err)
		}
		out = append(out, ledgerFromData(snap.Ref.ID, snap.Data()))
	}
	return out, nil
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
