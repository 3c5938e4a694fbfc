package api

import "github.com/mihaimyh/geopulse/pkg/geopulse"

// Envelope wraps every response body.
type Envelope struct {
	Status  string      `json:"status"` // "success" or "error"
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// CheckLimitData is the payload of GET /check-limit/{calls}.
type CheckLimitData struct {
	CanMakeCalls  bool              `json:"can_make_calls"`
	RequiredCalls int               `json:"required_calls"`
	ErrorMessage  *string           `json:"error_message"`
	UsageInfo     *geopulse.Summary `json:"usage_info"`
}

// LedgerList is the payload of GET /ledgers.
type LedgerList struct {
	Ledgers []geopulse.Summary `json:"ledgers"`
	Total   int                `json:"total"`
	Expired int                `json:"expired"`
}

// ExpiredCount is the payload of GET /ledgers/expired.
type ExpiredCount struct {
	Expired int `json:"expired"`
}

// BatchData is the payload of POST /batches.
type BatchData struct {
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	Properties    int       `json:"properties"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	RequiredCalls int       `json:"required_calls"`
	SpentCalls    int       `json:"spent_calls"`
	Artifacts     *Artifact `json:"artifacts,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Artifact lists the published report files.
type Artifact struct {
	CSV  string `json:"csv"`
	XLSX string `json:"xlsx"`
	HTML string `json:"html"`
}
