package report

import (
	"html/template"
	"io"
	"time"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Satellite Change Analysis - {{.Engagement}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 20px; }
h1 { color: #333; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; font-weight: bold; }
tr.failed td { background-color: #ffcccc; color: red; }
td.success { background-color: #ccffcc; color: green; font-weight: bold; }
</style>
</head>
<body>
<h1>Satellite Change Analysis Results</h1>
<p><strong>Engagement:</strong> {{.Engagement}}</p>
<p><strong>Generated:</strong> {{.GeneratedAt}}</p>
<p><strong>Total Properties:</strong> {{.Total}}</p>
<table id="results_table">
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range $row := .Rows}}
<tr{{if $row.Failed}} class="failed"{{end}}>{{range $i, $v := $row.Cells}}<td{{if and (eq $i $.StatusColumn) (not $row.Failed)}} class="success"{{end}}>{{$v}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
<script>
document.addEventListener('DOMContentLoaded', function () {
  var col = {{.StatusColumn}};
  document.querySelectorAll('#results_table tbody tr').forEach(function (row) {
    var cells = row.querySelectorAll('td');
    var status = cells[col];
    if (!status) { return; }
    var text = status.textContent.trim();
    row.classList.remove('failed');
    status.classList.remove('success');
    if (text === 'Successful') {
      status.classList.add('success');
    } else if (text !== '') {
      row.classList.add('failed');
    }
  });
});
</script>
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Parse(htmlTemplate))

type htmlRow struct {
	Cells  []string
	Failed bool
}

type htmlView struct {
	Engagement   string
	GeneratedAt  string
	Total        int
	Header       []string
	Rows         []htmlRow
	StatusColumn int
}

// WriteHTML renders the table as a standalone HTML page. Colouring is
// pre-rendered and then re-derived in the browser from the status text.
func WriteHTML(w io.Writer, t *Table, engagement string, generatedAt time.Time) error {
	view := htmlView{
		Engagement:   engagement,
		GeneratedAt:  generatedAt.Format("2006-01-02 15:04:05"),
		Total:        len(t.Rows),
		Header:       t.Header,
		Rows:         make([]htmlRow, len(t.Rows)),
		StatusColumn: t.StatusColumn,
	}
	for i, row := range t.Rows {
		view.Rows[i] = htmlRow{Cells: row.Strings(), Failed: row.Failed}
	}
	return reportTemplate.Execute(w, view)
}
