// Package table loads batch input properties from CSV or XLSX files.
//
// A table needs a latitude and a longitude column (matched case-insensitively,
// with the aliases lat, lon, lng and long) and may carry an extent_ac column
// holding the property area in acres. Every column, including the coordinate
// columns, is kept verbatim as a property attribute so the report can echo it.
package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

var (
	// ErrEmptyTable is returned when the input has no data rows.
	ErrEmptyTable = errors.New("table has no data rows")

	// ErrMissingHeader is returned when the input has no header row.
	ErrMissingHeader = errors.New("table has no header row")

	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("required column missing")

	// ErrUnsupportedFormat is returned for file extensions other than .csv and .xlsx.
	ErrUnsupportedFormat = errors.New("unsupported table format")
)

var (
	latitudeNames  = []string{"latitude", "lat"}
	longitudeNames = []string{"longitude", "lon", "lng", "long"}
	extentNames    = []string{"extent_ac", "extent_acres", "extent"}
)

// RowError reports an unparsable cell. Row is the 1-based data row number.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d, column %q: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Load reads properties from a .csv or .xlsx file.
func Load(path string) ([]geopulse.Property, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	return Read(f, path)
}

// Read reads properties from r, picking the format from the extension of name.
func Read(r io.Reader, name string) ([]geopulse.Property, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// ReadCSV reads properties from CSV. A UTF-8 byte order mark is ignored.
func ReadCSV(r io.Reader) ([]geopulse.Property, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return parse(records)
}

// ReadXLSX reads properties from the first worksheet of a workbook.
func ReadXLSX(r io.Reader) ([]geopulse.Property, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrMissingHeader
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return parse(rows)
}

func parse(records [][]string) ([]geopulse.Property, error) {
	if len(records) == 0 || isBlank(records[0]) {
		return nil, ErrMissingHeader
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	latCol := findColumn(header, latitudeNames)
	if latCol < 0 {
		return nil, fmt.Errorf("%w: LATITUDE", ErrMissingColumn)
	}
	lonCol := findColumn(header, longitudeNames)
	if lonCol < 0 {
		return nil, fmt.Errorf("%w: LONGITUDE", ErrMissingColumn)
	}
	extentCol := findColumn(header, extentNames)

	var properties []geopulse.Property
	for n, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		row := n + 1

		p := geopulse.Property{Attributes: make([]geopulse.Attribute, len(header))}
		for i, name := range header {
			p.Attributes[i] = geopulse.Attribute{Name: name, Value: cell(record, i)}
		}

		var err error
		if p.Latitude, err = parseCoordinate(cell(record, latCol), 90); err != nil {
			return nil, &RowError{Row: row, Column: header[latCol], Err: err}
		}
		if p.Longitude, err = parseCoordinate(cell(record, lonCol), 180); err != nil {
			return nil, &RowError{Row: row, Column: header[lonCol], Err: err}
		}
		if extentCol >= 0 {
			if p.ExtentAcres, err = parseExtent(cell(record, extentCol)); err != nil {
				return nil, &RowError{Row: row, Column: header[extentCol], Err: err}
			}
		}
		properties = append(properties, p)
	}

	if len(properties) == 0 {
		return nil, ErrEmptyTable
	}
	return properties, nil
}

func findColumn(header []string, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}

func cell(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseCoordinate(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("%v out of range [-%v, %v]", v, limit, limit)
	}
	return v, nil
}

func parseExtent(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("extent must be >= 0, got %v", v)
	}
	return v, nil
}
