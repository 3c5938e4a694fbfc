package geopulse

import (
	"context"
	"errors"
	"time"
)

// LedgerConfig holds ledger manager configuration
type LedgerConfig struct {
	// DefaultAllowedCalls is the allowance for newly provisioned accounts (default: 50)
	DefaultAllowedCalls int

	// DefaultValidity is how long a new account stays active (default: 30 days)
	DefaultValidity time.Duration

	// Clock supplies "now" (default: time.Now in UTC)
	Clock Clock

	// Metrics is used for tracking ledger operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger
}

// LedgerManager applies the usage ledger's business rules on top of a Storage.
type LedgerManager struct {
	storage Storage
	config  LedgerConfig
}

// NewLedgerManager creates a new ledger manager with the given storage and configuration
func NewLedgerManager(storage Storage, config LedgerConfig) (*LedgerManager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	if config.DefaultAllowedCalls == 0 {
		config.DefaultAllowedCalls = DefaultAllowedCalls
	}
	if config.DefaultValidity == 0 {
		config.DefaultValidity = DefaultValidity
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}

	return &LedgerManager{
		storage: storage,
		config:  config,
	}, nil
}

// Provision creates the ledger for a new account. A non-positive allowedCalls
// uses the configured default.
func (m *LedgerManager) Provision(ctx context.Context, accountID string, allowedCalls int) (*Ledger, error) {
	if allowedCalls <= 0 {
		allowedCalls = m.config.DefaultAllowedCalls
	}
	ledger := NewLedger(accountID, allowedCalls, m.config.DefaultValidity, m.config.Clock())

	start := time.Now()
	err := m.storage.CreateLedger(ctx, ledger)
	m.config.Metrics.RecordStorageOperation("create", time.Since(start), err)
	if err != nil {
		return nil, m.wrap("create", accountID, err)
	}

	m.config.Logger.Info("ledger provisioned",
		Field{"account_id", accountID},
		Field{"allowed_calls", allowedCalls},
		Field{"expires_at", ledger.ExpiresAt.Format(DateLayout)})
	return ledger, nil
}

// Get returns the account's current ledger.
func (m *LedgerManager) Get(ctx context.Context, accountID string) (*Ledger, error) {
	start := time.Now()
	ledger, err := m.storage.GetLedger(ctx, accountID)
	m.config.Metrics.RecordStorageOperation("get", time.Since(start), err)
	if err != nil {
		return nil, m.wrap("get", accountID, err)
	}
	return ledger, nil
}

// CheckCapacity verifies the account may issue required calls right now.
// It returns the ledger summary on success and a *QuotaError when the account
// is expired or short on calls.
func (m *LedgerManager) CheckCapacity(ctx context.Context, accountID string, required int) (*Summary, error) {
	start := time.Now()
	ledger, err := m.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := m.config.Clock()
	checkErr := ledger.CanSpend(now, required)
	m.config.Metrics.RecordQuotaCheck(accountID, checkErr == nil, time.Since(start))

	if checkErr != nil {
		m.config.Logger.Warn("quota check failed",
			Field{"account_id", accountID},
			Field{"required_calls", required},
			Field{"error", checkErr.Error()})
		return nil, checkErr
	}

	summary := ledger.Summary(now)
	m.config.Logger.Info("quota check passed",
		Field{"account_id", accountID},
		Field{"required_calls", required},
		Field{"remaining_calls", summary.Remaining})
	return &summary, nil
}

// Increment charges successful calls to the account.
func (m *LedgerManager) Increment(ctx context.Context, accountID string, calls int) (*Ledger, error) {
	if calls < 0 {
		return nil, ErrInvalidAmount
	}

	var before int
	ledger, err := m.update(ctx, "increment", accountID, func(l *Ledger) error {
		before = l.PerformedCalls
		return l.Increment(calls, m.config.Clock())
	})
	if err != nil {
		return nil, err
	}

	m.config.Metrics.RecordCallsSpent(accountID, calls)
	m.config.Logger.Info("ledger incremented",
		Field{"account_id", accountID},
		Field{"performed_before", before},
		Field{"performed_after", ledger.PerformedCalls},
		Field{"calls", calls})
	return ledger, nil
}

// ExtendExpiry moves the account's expiry date out by days.
func (m *LedgerManager) ExtendExpiry(ctx context.Context, accountID string, days int) (*Ledger, error) {
	if days <= 0 {
		return nil, ErrInvalidAmount
	}

	var oldExpiry time.Time
	ledger, err := m.update(ctx, "extend", accountID, func(l *Ledger) error {
		oldExpiry = l.ExpiresAt
		return l.ExtendExpiry(days, m.config.Clock())
	})
	if err != nil {
		return nil, err
	}

	m.config.Logger.Info("ledger expiry extended",
		Field{"account_id", accountID},
		Field{"old_expiry", oldExpiry.Format(DateLayout)},
		Field{"new_expiry", ledger.ExpiresAt.Format(DateLayout)})
	return ledger, nil
}

// Reset zeroes the account's performed calls and optionally sets a new allowance.
func (m *LedgerManager) Reset(ctx context.Context, accountID string, newLimit *int) (*Ledger, error) {
	if newLimit != nil && *newLimit < 0 {
		return nil, ErrInvalidAmount
	}

	var oldPerformed, oldAllowed int
	ledger, err := m.update(ctx, "reset", accountID, func(l *Ledger) error {
		oldPerformed, oldAllowed = l.PerformedCalls, l.AllowedCalls
		return l.Reset(newLimit, m.config.Clock())
	})
	if err != nil {
		return nil, err
	}

	m.config.Logger.Info("ledger reset",
		Field{"account_id", accountID},
		Field{"old_performed", oldPerformed},
		Field{"old_allowed", oldAllowed},
		Field{"new_allowed", ledger.AllowedCalls})
	return ledger, nil
}

// Summary returns the account's ledger summary at the current time.
func (m *LedgerManager) Summary(ctx context.Context, accountID string) (*Summary, error) {
	ledger, err := m.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s := ledger.Summary(m.config.Clock())
	return &s, nil
}

// Summaries returns the summary of every ledger.
func (m *LedgerManager) Summaries(ctx context.Context) ([]Summary, error) {
	start := time.Now()
	ledgers, err := m.storage.ListLedgers(ctx)
	m.config.Metrics.RecordStorageOperation("list", time.Since(start), err)
	if err != nil {
		return nil, m.wrap("list", "*", err)
	}

	now := m.config.Clock()
	out := make([]Summary, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, l.Summary(now))
	}
	return out, nil
}

// CountExpired returns how many ledgers are past their expiry date.
func (m *LedgerManager) CountExpired(ctx context.Context) (int, error) {
	summaries, err := m.Summaries(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range summaries {
		if s.IsExpired {
			n++
		}
	}
	m.config.Logger.Info("expired ledgers counted", Field{"expired", n})
	return n, nil
}

func (m *LedgerManager) update(ctx context.Context, op, accountID string, fn UpdateFunc) (*Ledger, error) {
	start := time.Now()
	ledger, err := m.storage.UpdateLedger(ctx, accountID, fn)
	m.config.Metrics.RecordStorageOperation(op, time.Since(start), err)
	if err != nil {
		return nil, m.wrap(op, accountID, err)
	}
	return ledger, nil
}

// wrap leaves business errors untouched and turns everything else into a
// PersistenceError.
func (m *LedgerManager) wrap(op, accountID string, err error) error {
	if errors.Is(err, ErrLedgerNotFound) || errors.Is(err, ErrLedgerExists) || errors.Is(err, ErrInvalidAmount) {
		return err
	}
	m.config.Logger.Error("ledger storage operation failed",
		Field{"operation", op},
		Field{"account_id", accountID},
		Field{"error", err.Error()})
	return &PersistenceError{AccountID: accountID, Op: op, Err: err}
}
