package geopulse

import (
	"context"
	"time"
)

// Index identifies one of the normalized-difference indices measured per property.
type Index string

const (
	// IndexNDVI is the vegetation index
	IndexNDVI Index = "ndvi"
	// IndexNDBI is the built-up area index
	IndexNDBI Index = "ndbi"
	// IndexNDWI is the water/moisture index
	IndexNDWI Index = "ndwi"
)

// Indices lists the measured indices in report order.
var Indices = []Index{IndexNDVI, IndexNDBI, IndexNDWI}

// Label returns the human readable column prefix for the index.
func (i Index) Label() string {
	switch i {
	case IndexNDVI:
		return "Vegetation (NDVI)"
	case IndexNDBI:
		return "Built-up Area (NDBI)"
	case IndexNDWI:
		return "Water/Moisture (NDWI)"
	default:
		return string(i)
	}
}

// Attribute is one verbatim input cell carried through to the report.
type Attribute struct {
	Name  string
	Value string
}

// Property is one row of batch input.
type Property struct {
	Latitude    float64
	Longitude   float64
	ExtentAcres float64

	// Attributes holds every input column in its original order, including
	// the coordinate columns, exactly as read.
	Attributes []Attribute
}

// TimeWindow is an inclusive date range used for one imagery query.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the window is unset.
func (w TimeWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// StartToken returns the start date as YYYY-MM-DD.
func (w TimeWindow) StartToken() string {
	return w.Start.UTC().Format(DateLayout)
}

// EndToken returns the end date as YYYY-MM-DD.
func (w TimeWindow) EndToken() string {
	return w.End.UTC().Format(DateLayout)
}

func (w TimeWindow) String() string {
	return w.StartToken() + ".." + w.EndToken()
}

// DateLayout is the date format used for windows and ledger dates.
const DateLayout = "2006-01-02"

// DefaultBeforeWindow returns the window used when a caller supplies none for "before".
func DefaultBeforeWindow() TimeWindow {
	return TimeWindow{
		Start: time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

// DefaultAfterWindow returns the window used when a caller supplies none for "after".
func DefaultAfterWindow() TimeWindow {
	return TimeWindow{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Measurement is the result of analyzing one property in one window.
type Measurement struct {
	NDVI  float64
	NDBI  float64
	NDWI  float64
	Error string
}

// Value returns the measured value for an index.
func (m Measurement) Value(i Index) float64 {
	switch i {
	case IndexNDVI:
		return m.NDVI
	case IndexNDBI:
		return m.NDBI
	case IndexNDWI:
		return m.NDWI
	default:
		return 0
	}
}

// Successful reports whether the measurement carries usable data.
// An error-free response with all three indices at zero counts as no data.
func (m Measurement) Successful() bool {
	if m.Error != "" {
		return false
	}
	return m.NDVI != 0 || m.NDBI != 0 || m.NDWI != 0
}

// FailedMeasurement returns a zero-valued measurement carrying msg.
func FailedMeasurement(msg string) Measurement {
	return Measurement{Error: msg}
}

// Status is the per-property outcome of a batch run.
type Status string

const (
	// StatusSuccess means both measurements were successful
	StatusSuccess Status = "success"
	// StatusFailed means at least one measurement failed
	StatusFailed Status = "failed"
)

// StatusSuccessful is the status text written for successful rows.
const StatusSuccessful = "Successful"

// PropertyResult is the immutable outcome of analyzing one property.
type PropertyResult struct {
	Index        int
	Property     Property
	Before       Measurement
	After        Measurement
	Status       Status
	StatusDetail string
}

// Succeeded reports whether the property was analyzed successfully.
func (r PropertyResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// SuccessfulCalls returns how many of the two imagery calls produced data.
func (r PropertyResult) SuccessfulCalls() int {
	n := 0
	if r.Before.Successful() {
		n++
	}
	if r.After.Successful() {
		n++
	}
	return n
}

// Clock returns the current time. Tests replace it to pin "now".
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// Emitter materializes a finished batch into report artifacts.
type Emitter interface {
	Emit(ctx context.Context, report *Report) (*Artifacts, error)
}

// Report is everything an Emitter needs to render one batch.
type Report struct {
	RunID       string
	AccountID   string
	Engagement  string
	GeneratedAt time.Time
	Before      TimeWindow
	After       TimeWindow
	Results     []PropertyResult
	Changes     []ChangeSet
}

// Artifacts lists the files published for one batch.
type Artifacts struct {
	CSVPath  string
	XLSXPath string
	HTMLPath string
}

// Paths returns the artifact paths in publication order.
func (a *Artifacts) Paths() []string {
	return []string{a.CSVPath, a.XLSXPath, a.HTMLPath}
}
