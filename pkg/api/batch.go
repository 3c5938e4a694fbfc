package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
	"github.com/mihaimyh/geopulse/pkg/table"
)

const (
	maxEngagementLen = 255
	multipartMemory  = 8 << 20
)

// SubmitBatch runs an uploaded property table through the pipeline.
//
// The multipart form carries the table in "file" (.csv or .xlsx), an optional
// "engagement_name" and optional window dates "before_start", "before_end",
// "after_start" and "after_end" (YYYY-MM-DD). A window left blank uses the
// built-in default. The batch is charged to the caller's ledger.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	if r.ContentLength > h.config.MaxUploadBytes {
		h.handleError(w, r, fmt.Errorf("upload exceeds %d bytes", h.config.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleError(w, r, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		h.handleError(w, r, fmt.Errorf("invalid multipart form: %w", err), http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	engagement := r.FormValue("engagement_name")
	if len(engagement) > maxEngagementLen {
		h.handleError(w, r, fmt.Errorf("engagement name must be at most %d characters", maxEngagementLen), http.StatusBadRequest)
		return
	}

	before, err := formWindow(r, "before")
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	after, err := formWindow(r, "after")
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, r, fmt.Errorf("file is required"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	properties, err := table.Read(file, header.Filename)
	switch {
	case errors.Is(err, table.ErrUnsupportedFormat):
		h.handleError(w, r, err, http.StatusUnsupportedMediaType)
		return
	case err != nil:
		h.handleError(w, r, err, http.StatusUnprocessableEntity)
		return
	}

	h.config.Logger.Info("batch upload received",
		geopulse.Field{Key: "account_id", Value: accountID},
		geopulse.Field{Key: "filename", Value: header.Filename},
		geopulse.Field{Key: "properties", Value: len(properties)})

	out, err := h.config.Pipeline.Run(r.Context(), properties, before, after, accountID,
		geopulse.WithEngagement(engagement))

	var quotaErr *geopulse.QuotaError
	switch {
	case errors.As(err, &quotaErr):
		status := http.StatusTooManyRequests
		if errors.Is(err, geopulse.ErrAccountExpired) {
			status = http.StatusForbidden
		}
		h.handleError(w, r, quotaErr, status)
		return
	case out == nil && err != nil:
		h.handleLedgerError(w, r, err)
		return
	}

	data := batchData(out)
	if err != nil {
		h.config.Logger.Error("batch finished with error",
			geopulse.Field{Key: "run_id", Value: data.RunID},
			geopulse.Field{Key: "error", Value: err.Error()})
		data.Error = err.Error()
		h.writeJSON(w, http.StatusInternalServerError, Envelope{
			Status:  statusError,
			Data:    data,
			Message: "batch processed with errors",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, Envelope{
		Status:  statusSuccess,
		Data:    data,
		Message: "batch processed",
	})
}

func batchData(out *geopulse.Outcome) BatchData {
	b := out.Batch
	data := BatchData{
		RunID:         b.RunID,
		State:         string(b.State),
		Properties:    len(b.Results),
		Succeeded:     b.SucceededCount(),
		Failed:        b.FailedCount(),
		RequiredCalls: b.RequiredCalls,
		SpentCalls:    b.SpentCalls,
	}
	if a := out.Artifacts; a != nil {
		data.Artifacts = &Artifact{CSV: a.CSVPath, XLSX: a.XLSXPath, HTML: a.HTMLPath}
	}
	return data
}

// formWindow reads {name}_start and {name}_end. Both blank means the default window.
func formWindow(r *http.Request, name string) (geopulse.TimeWindow, error) {
	rawStart := r.FormValue(name + "_start")
	rawEnd := r.FormValue(name + "_end")
	if rawStart == "" && rawEnd == "" {
		return geopulse.TimeWindow{}, nil
	}

	start, err := time.Parse(geopulse.DateLayout, rawStart)
	if err != nil {
		return geopulse.TimeWindow{}, fmt.Errorf("%s_start must be a YYYY-MM-DD date", name)
	}
	end, err := time.Parse(geopulse.DateLayout, rawEnd)
	if err != nil {
		return geopulse.TimeWindow{}, fmt.Errorf("%s_end must be a YYYY-MM-DD date", name)
	}
	if end.Before(start) {
		return geopulse.TimeWindow{}, fmt.Errorf("%s window ends before it starts", name)
	}
	return geopulse.TimeWindow{Start: start, End: end}, nil
}
