// Package report renders batch results into CSV, styled XLSX and HTML
// artifacts that are published together or not at all.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

const (
	timestampLayout = "20060102_150405"
	periodLayout    = "20060102"

	// maxCollisionSuffix bounds the search for a free artifact name
	maxCollisionSuffix = 1000
)

// Config holds emitter configuration
type Config struct {
	// OutputDir receives the artifacts; it is created if missing
	OutputDir string

	// FileMode is applied to published artifacts (default: 0o644)
	FileMode os.FileMode

	// Logger is used for structured logging (default: NoopLogger)
	Logger geopulse.Logger
}

// Emitter writes the three report artifacts for a batch.
type Emitter struct {
	config Config
}

// New creates an emitter and makes sure the output directory exists.
func New(config Config) (*Emitter, error) {
	if config.OutputDir == "" {
		return nil, errors.New("report: output directory is required")
	}
	if config.FileMode == 0 {
		config.FileMode = 0o644
	}
	if config.Logger == nil {
		config.Logger = &geopulse.NoopLogger{}
	}
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Emitter{config: config}, nil
}

// BaseName returns the artifact name stem for a report:
// {YYYYMMDD_HHMMSS}_batch_analysis_before{beforeStart}_{afterStart}.
func BaseName(r *geopulse.Report) string {
	return fmt.Sprintf("%s_batch_analysis_before%s_%s",
		r.GeneratedAt.Format(timestampLayout),
		r.Before.Start.UTC().Format(periodLayout),
		r.After.Start.UTC().Format(periodLayout))
}

var _ geopulse.Emitter = (*Emitter)(nil)

type artifact struct {
	ext    string
	render func(w io.Writer) error
	temp   string
	final  string
}

// Emit implements geopulse.Emitter. Either all three files are published or
// none are; a failure removes temporaries and anything already published.
func (e *Emitter) Emit(ctx context.Context, r *geopulse.Report) (*geopulse.Artifacts, error) {
	start := time.Now()
	table := BuildTable(r)

	artifacts := []*artifact{
		{ext: ".csv", render: func(w io.Writer) error { return WriteCSV(w, table) }},
		{ext: ".xlsx", render: func(w io.Writer) error { return WriteXLSX(w, table) }},
		{ext: ".html", render: func(w io.Writer) error {
			return WriteHTML(w, table, r.Engagement, r.GeneratedAt)
		}},
	}

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			e.cleanup(artifacts, nil)
			return nil, &geopulse.ArtifactError{Path: BaseName(r) + a.ext, Err: err}
		}
		if err := e.writeTemp(a); err != nil {
			e.cleanup(artifacts, nil)
			return nil, &geopulse.ArtifactError{Path: BaseName(r) + a.ext, Err: err}
		}
	}

	if err := e.publish(BaseName(r), artifacts); err != nil {
		e.cleanup(artifacts, nil)
		return nil, err
	}
	e.cleanup(artifacts, nil)

	e.config.Logger.Debug("report artifacts written",
		geopulse.Field{Key: "run_id", Value: r.RunID},
		geopulse.Field{Key: "rows", Value: len(table.Rows)},
		geopulse.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()})

	return &geopulse.Artifacts{
		CSVPath:  artifacts[0].final,
		XLSXPath: artifacts[1].final,
		HTMLPath: artifacts[2].final,
	}, nil
}

// publish hard-links every temp file under the first stem (base, base_1,
// base_2, ...) whose names are all free. A link never replaces an existing
// file, so concurrent emitters cannot claim the same stem.
func (e *Emitter) publish(base string, artifacts []*artifact) error {
	for n := 0; n < maxCollisionSuffix; n++ {
		stem := base
		if n > 0 {
			stem = base + "_" + strconv.Itoa(n)
		}

		var linked []*artifact
		taken := false
		for _, a := range artifacts {
			a.final = filepath.Join(e.config.OutputDir, stem+a.ext)
			err := os.Link(a.temp, a.final)
			if err == nil {
				linked = append(linked, a)
				continue
			}
			e.cleanup(nil, linked)
			if errors.Is(err, os.ErrExist) {
				taken = true
				break
			}
			return &geopulse.ArtifactError{Path: a.final, Err: err}
		}
		if !taken {
			return nil
		}
	}
	return &geopulse.ArtifactError{Path: base, Err: errors.New("no free artifact name")}
}

func (e *Emitter) writeTemp(a *artifact) error {
	var buf bytes.Buffer
	if err := a.render(&buf); err != nil {
		return err
	}

	f, err := os.CreateTemp(e.config.OutputDir, ".geopulse-*"+a.ext+".tmp")
	if err != nil {
		return err
	}
	a.temp = f.Name()

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(a.temp, e.config.FileMode)
}

func (e *Emitter) cleanup(artifacts, published []*artifact) {
	for _, a := range artifacts {
		if a.temp != "" {
			e.remove(a.temp)
			a.temp = ""
		}
	}
	for _, a := range published {
		e.remove(a.final)
	}
}

func (e *Emitter) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.config.Logger.Warn("failed to remove report artifact",
			geopulse.Field{Key: "path", Value: path},
			geopulse.Field{Key: "error", Value: err.Error()})
	}
}
