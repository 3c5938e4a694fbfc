package geopulse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLedger_CanSpend(t *testing.T) {
	tests := []struct {
		name      string
		allowed   int
		performed int
		required  int
		now       time.Time
		wantErr   error
	}{
		{"within allowance", 50, 0, 20, epoch.Add(time.Hour), nil},
		{"exactly remaining", 50, 30, 20, epoch.Add(time.Hour), nil},
		{"one short", 50, 31, 20, epoch.Add(time.Hour), ErrQuotaExceeded},
		{"zero required", 50, 50, 0, epoch.Add(time.Hour), nil},
		{"expired before allowance", 50, 50, 20, epoch.Add(31 * 24 * time.Hour), ErrAccountExpired},
		{"expired with room", 50, 0, 2, epoch.Add(31 * 24 * time.Hour), ErrAccountExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger("acct", tt.allowed, DefaultValidity, epoch)
			l.PerformedCalls = tt.performed

			err := l.CanSpend(tt.now, tt.required)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			var qe *QuotaError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.required, qe.Required)
		})
	}
}

func TestLedger_CanSpend_NegativeIsInvalid(t *testing.T) {
	l := NewLedger("acct", 50, DefaultValidity, epoch)
	assert.ErrorIs(t, l.CanSpend(epoch, -1), ErrInvalidAmount)
}

func TestQuotaError_Messages(t *testing.T) {
	l := NewLedger("acct", 50, DefaultValidity, epoch)
	l.PerformedCalls = 45

	err := l.CanSpend(epoch, 10)
	require.Error(t, err)
	assert.Equal(t, "api call limit exceeded: used 45/50, need 10 calls but only 5 remaining (short by 5)", err.Error())

	err = l.CanSpend(epoch.Add(40*24*time.Hour), 2)
	require.Error(t, err)
	assert.Equal(t, "account expired on 2025-01-31, please renew your subscription", err.Error())
}

func TestLedger_IncrementMayExceedAllowance(t *testing.T) {
	l := NewLedger("acct", 10, DefaultValidity, epoch)
	require.NoError(t, l.Increment(8, epoch))
	require.NoError(t, l.Increment(6, epoch))

	assert.Equal(t, 14, l.PerformedCalls)
	assert.Equal(t, 0, l.Remaining())
	assert.ErrorIs(t, l.Increment(-1, epoch), ErrInvalidAmount)
}

func TestLedger_ExtendExpiry(t *testing.T) {
	l := NewLedger("acct", 50, DefaultValidity, epoch)

	require.NoError(t, l.ExtendExpiry(10, epoch))
	assert.Equal(t, epoch.Add(40*24*time.Hour), l.ExpiresAt)

	// Expired ledgers extend from now
	later := epoch.Add(100 * 24 * time.Hour)
	require.NoError(t, l.ExtendExpiry(5, later))
	assert.Equal(t, later.Add(5*24*time.Hour), l.ExpiresAt)
	assert.False(t, l.IsExpired(later))

	assert.ErrorIs(t, l.ExtendExpiry(0, later), ErrInvalidAmount)
}

func TestLedger_Reset(t *testing.T) {
	l := NewLedger("acct", 50, DefaultValidity, epoch)
	l.PerformedCalls = 42

	require.NoError(t, l.Reset(nil, epoch))
	assert.Equal(t, 0, l.PerformedCalls)
	assert.Equal(t, 50, l.AllowedCalls)

	limit := 200
	require.NoError(t, l.Reset(&limit, epoch))
	assert.Equal(t, 200, l.AllowedCalls)

	negative := -1
	assert.ErrorIs(t, l.Reset(&negative, epoch), ErrInvalidAmount)
}

func TestLedger_Summary(t *testing.T) {
	l := NewLedger("acct", 30, DefaultValidity, epoch)
	l.PerformedCalls = 7

	s := l.Summary(epoch.Add(36 * time.Hour))
	assert.Equal(t, 23.33, s.UsagePercent)
	assert.Equal(t, 23, s.Remaining)
	assert.Equal(t, 28, s.DaysUntilExpiry)
	assert.Equal(t, "2025-01-01", s.CreatedDate)
	assert.Equal(t, "2025-01-31", s.ExpiryDate)
	assert.False(t, s.IsExpired)

	expired := l.Summary(epoch.Add(60 * 24 * time.Hour))
	assert.Equal(t, 0, expired.DaysUntilExpiry)
	assert.True(t, expired.IsExpired)

	zero := NewLedger("acct", 0, DefaultValidity, epoch).Summary(epoch)
	assert.Equal(t, 0.0, zero.UsagePercent)
}
