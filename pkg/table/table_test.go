package table

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = `lp_no,extent_ac,POINT_ID,LATITUDE,LONGITUDE
LP-1,2.5,101,40.0150,-105.2705
LP-2,,102,39.7392,-104.9903
`

func TestReadCSV(t *testing.T) {
	props, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, props, 2)

	assert.InDelta(t, 40.015, props[0].Latitude, 1e-9)
	assert.InDelta(t, -105.2705, props[0].Longitude, 1e-9)
	assert.Equal(t, 2.5, props[0].ExtentAcres)
	assert.Equal(t, 0.0, props[1].ExtentAcres)

	require.Len(t, props[0].Attributes, 5)
	assert.Equal(t, "lp_no", props[0].Attributes[0].Name)
	assert.Equal(t, "LP-1", props[0].Attributes[0].Value)
	assert.Equal(t, "40.0150", props[0].Attributes[3].Value)
	assert.Equal(t, "", props[1].Attributes[1].Value)
}

func TestReadCSV_AliasesAndBOM(t *testing.T) {
	data := "\xEF\xBB\xBFName,Lat,LNG\nHome,1.5,2.5\n"
	props, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 1.5, props[0].Latitude)
	assert.Equal(t, 2.5, props[0].Longitude)
	assert.Equal(t, "Name", props[0].Attributes[0].Name)
}

func TestReadCSV_SkipsBlankRowsAndPadsShortRows(t *testing.T) {
	data := "LATITUDE,LONGITUDE,Note\n1,2\n,,\n3,4,x\n"
	props, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "", props[0].Attributes[2].Value)
	assert.Equal(t, "x", props[1].Attributes[2].Value)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty input", "", ErrMissingHeader},
		{"header only", "LATITUDE,LONGITUDE\n", ErrEmptyTable},
		{"missing latitude", "x,LONGITUDE\n1,2\n", ErrMissingColumn},
		{"missing longitude", "LATITUDE,y\n1,2\n", ErrMissingColumn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadCSV_RowErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		row    int
		column string
	}{
		{"bad latitude", "LATITUDE,LONGITUDE\n1,2\nabc,2\n", 2, "LATITUDE"},
		{"latitude out of range", "LATITUDE,LONGITUDE\n91,2\n", 1, "LATITUDE"},
		{"longitude out of range", "lat,lon\n1,-181\n", 1, "lon"},
		{"negative extent", "LATITUDE,LONGITUDE,extent_ac\n1,2,-3\n", 1, "extent_ac"},
		{"NaN latitude", "LATITUDE,LONGITUDE\nNaN,2\n", 1, "LATITUDE"},
		{"infinite latitude", "LATITUDE,LONGITUDE\nInf,2\n", 1, "LATITUDE"},
		{"negative infinite longitude", "lat,lon\n1,-Inf\n", 1, "lon"},
		{"NaN extent", "LATITUDE,LONGITUDE,extent_ac\n1,2,NaN\n", 1, "extent_ac"},
		{"infinite extent", "LATITUDE,LONGITUDE,extent_ac\n1,2,+Inf\n", 1, "extent_ac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.data))
			var rowErr *RowError
			require.True(t, errors.As(err, &rowErr), "got %v", err)
			assert.Equal(t, tt.row, rowErr.Row)
			assert.Equal(t, tt.column, rowErr.Column)
		})
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"LATITUDE", "LONGITUDE", "extent_ac", "Owner"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"40.5", "-105", "1.25", "Smith"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	props, err := ReadXLSX(&buf)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, 40.5, props[0].Latitude)
	assert.Equal(t, 1.25, props[0].ExtentAcres)
	assert.Equal(t, "Smith", props[0].Attributes[3].Value)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "input.CSV")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o644))
	props, err := Load(csvPath)
	require.NoError(t, err)
	assert.Len(t, props, 2)

	txtPath := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(sampleCSV), 0o644))
	_, err = Load(txtPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
