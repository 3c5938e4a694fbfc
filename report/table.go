package report

import (
	"strconv"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

// Column names shared by every artifact.
const (
	ColumnBeforeStart = "Before Period Start"
	ColumnBeforeEnd   = "Before Period End"
	ColumnAfterStart  = "After Period Start"
	ColumnAfterEnd    = "After Period End"
	ColumnStatus      = "Conversion_status"
)

var indexColumns = []string{"Before Value", "After Value", "Difference", "Interpretation", "Significance"}

// Row is one rendered report row. Values hold either a string or a float64.
type Row struct {
	Values []any
	Failed bool
}

// Status returns the trailing status cell.
func (r Row) Status() string {
	if len(r.Values) == 0 {
		return ""
	}
	s, _ := r.Values[len(r.Values)-1].(string)
	return s
}

// Strings returns the row formatted as text.
func (r Row) Strings() []string {
	out := make([]string, len(r.Values))
	for i, v := range r.Values {
		out[i] = formatValue(v)
	}
	return out
}

// Table is the single in-memory view every writer renders from, so the CSV,
// XLSX and HTML artifacts cannot diverge.
type Table struct {
	Header []string
	Rows   []Row

	// StatusColumn is the zero-based index of Conversion_status
	StatusColumn int

	// SignificanceColumns are the zero-based indexes of the per-index
	// Significance columns
	SignificanceColumns []int
}

// inputColumn identifies the n-th attribute of a given name within one
// property, so repeated names keep separate columns.
type inputColumn struct {
	name string
	n    int
}

// IndexColumn returns the header text for one per-index column.
func IndexColumn(idx geopulse.Index, suffix string) string {
	return idx.Label() + "-" + suffix
}

// BuildTable renders a report into a table. Input attribute columns come
// first in first-seen order, so properties with differing attribute sets
// still share one schema; missing cells are blank.
func BuildTable(r *geopulse.Report) *Table {
	var inputs []string
	seen := make(map[string]int)
	for _, res := range r.Results {
		for _, a := range res.Property.Attributes {
			if _, ok := seen[a.Name]; !ok {
				seen[a.Name] = len(inputs)
				inputs = append(inputs, a.Name)
			}
		}
	}

	header := make([]string, 0, len(inputs)+4+len(geopulse.Indices)*len(indexColumns)+1)
	header = append(header, inputs...)
	header = append(header, ColumnBeforeStart, ColumnBeforeEnd, ColumnAfterStart, ColumnAfterEnd)
	for _, idx := range geopulse.Indices {
		for _, suffix := range indexColumns {
			header = append(header, IndexColumn(idx, suffix))
		}
	}
	header = append(header, ColumnStatus)

	t := &Table{
		Header:       header,
		Rows:         make([]Row, 0, len(r.Results)),
		StatusColumn: len(header) - 1,
	}

	for i, res := range r.Results {
		values := make([]any, len(header))
		for j := range values {
			values[j] = ""
		}
		eachInput(res.Property, func(key inputColumn, value string) {
			values[seen[key.name]] = value
		})

		col := len(inputs)
		values[col] = r.Before.StartToken()
		values[col+1] = r.Before.EndToken()
		values[col+2] = r.After.StartToken()
		values[col+3] = r.After.EndToken()
		col += 4

		var changes geopulse.ChangeSet
		if i < len(r.Changes) {
			changes = r.Changes[i]
		}
		for _, idx := range geopulse.Indices {
			if c, ok := changes.Get(idx); ok && changes.Valid {
				values[col] = c.Before
				values[col+1] = c.After
				values[col+2] = c.Difference
				values[col+3] = c.Label()
				values[col+4] = yesNo(c.Significant)
			}
			col += len(indexColumns)
		}

		failed := !res.Succeeded()
		if failed {
			values[col] = res.StatusDetail
		} else {
			values[col] = geopulse.StatusSuccessful
		}
		t.Rows = append(t.Rows, Row{Values: values, Failed: failed})
	}
	return t
}

func eachInput(p geopulse.Property, fn func(key inputColumn, value string)) {
	counts := make(map[string]int, len(p.Attributes))
	for _, a := range p.Attributes {
		fn(inputColumn{name: a.Name, n: counts[a.Name]}, a.Value)
		counts[a.Name]++
	}
}

// uniqueNames suffixes input names that repeat an earlier input or any
// reserved name.
func uniqueNames(names, reserved []string) []string {
	taken := make(map[string]bool, len(names)+len(reserved))
	for _, n := range reserved {
		taken[n] = true
	}
	out := make([]string, len(names))
	for i, name := range names {
		h := name
		for n := 1; taken[h]; n++ {
			h = name + "." + strconv.Itoa(n)
		}
		taken[h] = true
		out[i] = h
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}
