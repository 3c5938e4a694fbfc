package geopulse

import (
	"math"
	"time"
)

const (
	// DefaultAllowedCalls is the allowance given to a newly provisioned account
	DefaultAllowedCalls = 50

	// DefaultValidity is how long a newly provisioned account stays active
	DefaultValidity = 30 * 24 * time.Hour
)

// Ledger is the per-account record of allowed versus performed imagery calls.
// PerformedCalls only decreases through Reset.
type Ledger struct {
	AccountID      string
	AllowedCalls   int
	PerformedCalls int
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UpdatedAt      time.Time
}

// NewLedger creates a ledger for a freshly provisioned account.
func NewLedger(accountID string, allowedCalls int, validity time.Duration, now time.Time) *Ledger {
	now = now.UTC()
	return &Ledger{
		AccountID:    accountID,
		AllowedCalls: allowedCalls,
		CreatedAt:    now,
		ExpiresAt:    now.Add(validity),
		UpdatedAt:    now,
	}
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	return &c
}

// Remaining returns allowed minus performed, never below zero.
func (l *Ledger) Remaining() int {
	if r := l.AllowedCalls - l.PerformedCalls; r > 0 {
		return r
	}
	return 0
}

// IsExpired reports whether now is past the expiry date.
func (l *Ledger) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// CanSpend checks whether required calls may be issued at now.
// Expiry is checked before the allowance.
func (l *Ledger) CanSpend(now time.Time, required int) error {
	if required < 0 {
		return ErrInvalidAmount
	}
	if l.IsExpired(now) {
		return &QuotaError{
			AccountID: l.AccountID,
			Required:  required,
			Allowed:   l.AllowedCalls,
			Performed: l.PerformedCalls,
			ExpiresAt: l.ExpiresAt,
			Err:       ErrAccountExpired,
		}
	}
	if l.AllowedCalls-l.PerformedCalls < required {
		return &QuotaError{
			AccountID: l.AccountID,
			Required:  required,
			Allowed:   l.AllowedCalls,
			Performed: l.PerformedCalls,
			ExpiresAt: l.ExpiresAt,
			Err:       ErrQuotaExceeded,
		}
	}
	return nil
}

// Increment charges successful calls. It does not re-check the allowance: a
// batch admitted within quota may finish above it.
func (l *Ledger) Increment(calls int, now time.Time) error {
	if calls < 0 {
		return ErrInvalidAmount
	}
	l.PerformedCalls += calls
	l.UpdatedAt = now.UTC()
	return nil
}

// ExtendExpiry pushes the expiry date out by days. An expired ledger is
// extended from now, an active one from its current expiry.
func (l *Ledger) ExtendExpiry(days int, now time.Time) error {
	if days <= 0 {
		return ErrInvalidAmount
	}
	extension := time.Duration(days) * 24 * time.Hour
	if l.IsExpired(now) {
		l.ExpiresAt = now.UTC().Add(extension)
	} else {
		l.ExpiresAt = l.ExpiresAt.Add(extension)
	}
	l.UpdatedAt = now.UTC()
	return nil
}

// Reset zeroes performed calls and optionally replaces the allowance.
func (l *Ledger) Reset(newLimit *int, now time.Time) error {
	if newLimit != nil && *newLimit < 0 {
		return ErrInvalidAmount
	}
	l.PerformedCalls = 0
	if newLimit != nil {
		l.AllowedCalls = *newLimit
	}
	l.UpdatedAt = now.UTC()
	return nil
}

// Summary is a point-in-time view of a ledger.
type Summary struct {
	AccountID       string  `json:"account_id"`
	Allowed         int     `json:"allowed_calls"`
	Performed       int     `json:"performed_calls"`
	Remaining       int     `json:"remaining_calls"`
	UsagePercent    float64 `json:"usage_percentage"`
	CreatedDate     string  `json:"account_created"`
	ExpiryDate      string  `json:"account_expires"`
	DaysUntilExpiry int     `json:"days_until_expiry"`
	IsExpired       bool    `json:"is_expired"`
}

// Summary reports the ledger's standing at now.
func (l *Ledger) Summary(now time.Time) Summary {
	var pct float64
	if l.AllowedCalls > 0 {
		pct = math.Round(float64(l.PerformedCalls)/float64(l.AllowedCalls)*100*100) / 100
	}
	days := int(math.Floor(l.ExpiresAt.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return Summary{
		AccountID:       l.AccountID,
		Allowed:         l.AllowedCalls,
		Performed:       l.PerformedCalls,
		Remaining:       l.Remaining(),
		UsagePercent:    pct,
		CreatedDate:     l.CreatedAt.UTC().Format(DateLayout),
		ExpiryDate:      l.ExpiresAt.UTC().Format(DateLayout),
		DaysUntilExpiry: days,
		IsExpired:       l.IsExpired(now),
	}
}
