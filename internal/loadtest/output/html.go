package output

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Dedenruslan19/bidload/internal/loadtest/engine"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

// reportData is what the HTML template renders.
type reportData struct {
	*engine.TestResult
	ScenarioNames []string
	Rows          []metricRow
}

type metricRow struct {
	Name      string
	Submetric bool
	Kind      string
	Summary   string
}

// GenerateHTML writes an HTML report of result to outputPath.
func GenerateHTML(result *engine.TestResult, outputPath string) error {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, result); err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// RenderHTML renders an HTML report of result to w.
func RenderHTML(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatTime":     func(t time.Time) string { return t.Format(time.RFC1123) },
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	data := reportData{TestResult: result, Rows: metricRows(result)}
	for name := range result.Scenarios {
		data.ScenarioNames = append(data.ScenarioNames, name)
	}
	sort.Strings(data.ScenarioNames)

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// metricRows flattens recorded series into table rows, each submetric
// right after its parent.
func metricRows(result *engine.TestResult) []metricRow {
	names := make([]string, 0, len(result.Metrics))
	for name, s := range result.Metrics {
		if s.Count > 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := metrics.ParentName(names[i]), metrics.ParentName(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})

	plain := NoColorScheme()
	rows := make([]metricRow, 0, len(names))
	for _, name := range names {
		s := result.Metrics[name]
		rows = append(rows, metricRow{
			Name:      name,
			Submetric: metrics.ParentName(name) != name,
			Kind:      s.Kind.String(),
			Summary:   strings.TrimSpace(formatSeries(plain, s, result.Duration)),
		})
	}
	return rows
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Bid Load Test Report</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f8fafc; color: #1e293b; margin: 0; }
.container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
.card { background: #fff; border: 1px solid #e2e8f0; border-radius: 8px; padding: 1.25rem; margin-bottom: 1.5rem; }
.status { display: inline-block; padding: .25rem .75rem; border-radius: 999px; font-weight: 600; color: #fff; }
.pass { background: #22c55e; }
.fail { background: #ef4444; }
table { width: 100%; border-collapse: collapse; font-size: .9rem; }
th, td { text-align: left; padding: .4rem .6rem; border-bottom: 1px solid #e2e8f0; }
td.sub { padding-left: 2rem; color: #64748b; }
.muted { color: #64748b; }
</style>
</head>
<body>
<div class="container">
<div class="card">
  <h1>{{.Name}} <span class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}PASSED{{else}}FAILED{{end}}</span></h1>
  {{if .Description}}<p class="muted">{{.Description}}</p>{{end}}
  <table>
    <tr><th>Run ID</th><td>{{.ID}}</td></tr>
    <tr><th>Target</th><td>{{.Target}}</td></tr>
    <tr><th>Started</th><td>{{formatTime .StartTime}}</td></tr>
    <tr><th>Duration</th><td>{{formatDuration .Duration}}</td></tr>
    <tr><th>Peak VUs</th><td>{{.PeakVUs}}</td></tr>
    <tr><th>Dropped iterations</th><td>{{formatNumber .DroppedIterations}}</td></tr>
    <tr><th>Forced stops</th><td>{{.ForcedStops}}</td></tr>
  </table>
</div>

{{if .Thresholds}}
<div class="card">
  <h2>Thresholds</h2>
  <table>
    <tr><th></th><th>Metric</th><th>Expression</th><th>Observed</th></tr>
    {{range .Thresholds}}
    <tr>
      <td>{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
      <td>{{.Metric}}</td>
      <td>{{.Expression}}</td>
      <td>{{if .Message}}{{.Message}}{{else}}{{printf "%.4g" .Observed}}{{end}}</td>
    </tr>
    {{end}}
  </table>
</div>
{{end}}

<div class="card">
  <h2>Scenarios</h2>
  <table>
    <tr><th>Name</th><th>Executor</th><th>Workload</th><th>Start</th><th>Iterations</th><th>Dropped</th><th>Max VUs</th></tr>
    {{range $name := .ScenarioNames}}{{with index $.Scenarios $name}}
    <tr>
      <td>{{$name}}{{if .Skipped}} <span class="muted">(skipped)</span>{{end}}</td>
      <td>{{.Executor}}</td>
      <td>{{.Workload}}</td>
      <td>{{formatDuration .StartOffset}}</td>
      <td>{{formatNumber .Iterations}}</td>
      <td>{{formatNumber .DroppedIterations}}</td>
      <td>{{.MaxVUs}}</td>
    </tr>
    {{end}}{{end}}
  </table>
</div>

<div class="card">
  <h2>Metrics</h2>
  <table>
    <tr><th>Metric</th><th>Kind</th><th>Values</th></tr>
    {{range .Rows}}
    <tr>
      <td{{if .Submetric}} class="sub"{{end}}>{{.Name}}</td>
      <td>{{.Kind}}</td>
      <td>{{.Summary}}</td>
    </tr>
    {{end}}
  </table>
</div>
</div>
</body>
</html>
`
