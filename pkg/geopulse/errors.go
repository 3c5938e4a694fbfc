package geopulse

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is returned when the ledger cannot cover the required calls
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAccountExpired is returned when the ledger's expiry date has passed
	ErrAccountExpired = errors.New("account expired")

	// ErrLedgerNotFound is returned when an account has no usage ledger
	ErrLedgerNotFound = errors.New("ledger not found")

	// ErrLedgerExists is returned when provisioning an account that already has a ledger
	ErrLedgerExists = errors.New("ledger already exists")

	// ErrInvalidAmount is returned for negative call counts, limits or day counts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrStorageUnavailable is returned when no storage backend is configured
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNoProperties is returned when a batch is submitted without input rows
	ErrNoProperties = errors.New("no properties to analyze")

	// ErrNoData is returned by providers whose response covered no valid pixels
	ErrNoData = errors.New(NoDataMessage)

	// ErrAnalyzerRequired is returned when an orchestrator is built without an analyzer
	ErrAnalyzerRequired = errors.New("analyzer is required")
)

// NoDataMessage is the measurement error text for an empty imagery response.
const NoDataMessage = "no data available"

// CancelledMessage is the status detail for properties cut off by cancellation.
const CancelledMessage = "cancelled"

// CallFailedMessage is the status detail of a failed property whose
// measurements carry no error text.
const CallFailedMessage = "API call failed"

// QuotaError is the batch-level admission failure. Its message is meant to be
// shown to the account holder verbatim.
type QuotaError struct {
	AccountID string
	Required  int
	Allowed   int
	Performed int
	ExpiresAt time.Time

	// Err is ErrQuotaExceeded or ErrAccountExpired
	Err error
}

// Remaining returns the calls left on the ledger at check time.
func (e *QuotaError) Remaining() int {
	if r := e.Allowed - e.Performed; r > 0 {
		return r
	}
	return 0
}

func (e *QuotaError) Error() string {
	if errors.Is(e.Err, ErrAccountExpired) {
		return fmt.Sprintf("account expired on %s, please renew your subscription",
			e.ExpiresAt.UTC().Format(DateLayout))
	}
	return fmt.Sprintf("api call limit exceeded: used %d/%d, need %d calls but only %d remaining (short by %d)",
		e.Performed, e.Allowed, e.Required, e.Remaining(), e.Required-e.Remaining())
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a ledger read or write that could not be completed.
type PersistenceError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s for account %q failed: %v", e.Op, e.AccountID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ArtifactError reports a report artifact that could not be published.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("write artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}
