package report

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the results.
const SheetName = "Results"

// maxColumnWidth caps auto-sized columns, in characters.
const maxColumnWidth = 50

var (
	successStyle = &excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"CCFFCC"}},
		Font: &excelize.Font{Color: "008000", Bold: true},
	}
	failedStyle = &excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFCCCC"}},
		Font: &excelize.Font{Color: "FF0000"},
	}
	headerStyle = &excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Font:      &excelize.Font{Color: "FFFFFF", Bold: true, Size: 11},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}
	// A significant change is flagged red, no change green.
	significantStyle = &excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFCCCC"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}
	insignificantStyle = &excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"CCFFCC"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}
)

// WriteXLSX writes the table as a styled workbook. Successful rows get a
// green status cell and coloured significance cells; failed rows are red
// across every column.
func WriteXLSX(w io.Writer, t *Table) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	headerID, err := f.NewStyle(headerStyle)
	if err != nil {
		return err
	}
	successID, err := f.NewStyle(successStyle)
	if err != nil {
		return err
	}
	failedID, err := f.NewStyle(failedStyle)
	if err != nil {
		return err
	}
	significantID, err := f.NewStyle(significantStyle)
	if err != nil {
		return err
	}
	insignificantID, err := f.NewStyle(insignificantStyle)
	if err != nil {
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(len(t.Header))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", headerID); err != nil {
		return err
	}

	for i, row := range t.Rows {
		rowNum := i + 2
		first, _ := excelize.CoordinatesToCellName(1, rowNum)
		values := row.Values
		if err := f.SetSheetRow(SheetName, first, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}

		if row.Failed {
			last, _ := excelize.CoordinatesToCellName(len(t.Header), rowNum)
			err = f.SetCellStyle(SheetName, first, last, failedID)
		} else {
			status, _ := excelize.CoordinatesToCellName(t.StatusColumn+1, rowNum)
			err = f.SetCellStyle(SheetName, status, status, successID)
			for _, col := range t.SignificanceColumns {
				if err != nil {
					break
				}
				var styleID int
				switch row.Values[col] {
				case "Yes":
					styleID = significantID
				case "No":
					styleID = insignificantID
				default:
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(col+1, rowNum)
				err = f.SetCellStyle(SheetName, cell, cell, styleID)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to style row %d: %w", i+1, err)
		}
	}

	for col, width := range columnWidths(t) {
		name, _ := excelize.ColumnNumberToName(col + 1)
		if err := f.SetColWidth(SheetName, name, name, width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", name, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	return f.Write(w)
}

// columnWidths sizes each column to its longest cell plus padding.
func columnWidths(t *Table) []float64 {
	widths := make([]float64, len(t.Header))
	for i, h := range t.Header {
		widths[i] = float64(utf8.RuneCountInString(h))
	}
	for _, row := range t.Rows {
		for i, v := range row.Strings() {
			if n := float64(utf8.RuneCountInString(v)); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for i := range widths {
		widths[i] = min(widths[i]+2, maxColumnWidth)
	}
	return widths
}
