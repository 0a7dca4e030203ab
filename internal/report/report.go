// Package report summarizes the fetch attempt audit log.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/aliscrape/internal/storage"
)

// Summary aggregates fetch attempts over a period.
type Summary struct {
	TotalAttempts   int            `json:"total_attempts"`
	Crawls          int            `json:"crawls"`
	Pages           int            `json:"pages"`
	Retries         int            `json:"retries"`
	TotalErrors     int            `json:"total_errors"`
	TotalDetections int            `json:"total_detections"`
	Outcomes        map[string]int `json:"outcomes"`
	StatusCodes     map[int]int    `json:"status_codes"`
	DetectionsBySrc map[string]int `json:"detections_by_src"`
	Profiles        map[string]int `json:"profiles"`
	TotalBytes      int64          `json:"total_bytes"`
	AvgDuration     time.Duration  `json:"avg_duration"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	Duration        time.Duration  `json:"duration"`
}

// GenerateSummary processes attempt records into summary metrics.
func GenerateSummary(records []*storage.AttemptRecord) Summary {
	s := Summary{
		Outcomes:        make(map[string]int),
		StatusCodes:     make(map[int]int),
		DetectionsBySrc: make(map[string]int),
		Profiles:        make(map[string]int),
	}

	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	type pageKey struct {
		crawl string
		page  int
	}
	crawls := make(map[string]struct{})
	pages := make(map[pageKey]struct{})
	var total time.Duration

	for _, r := range records {
		s.TotalAttempts++
		s.Outcomes[r.Outcome]++
		crawls[r.CrawlID] = struct{}{}
		pages[pageKey{r.CrawlID, r.Page}] = struct{}{}

		if r.Attempt > 1 {
			s.Retries++
		}
		if r.Error != "" {
			s.TotalErrors++
		}
		if r.DetectedBot {
			s.TotalDetections++
			s.DetectionsBySrc[r.DetectionSrc]++
		}
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		if r.Profile != "" {
			s.Profiles[r.Profile]++
		}
		s.TotalBytes += int64(r.BodyBytes)
		total += r.Duration

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	s.Crawls = len(crawls)
	s.Pages = len(pages)
	s.AvgDuration = total / time.Duration(s.TotalAttempts)
	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `Fetch Audit Summary
-------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Crawls:        {{.Crawls}} ({{.Pages}} pages)
Attempts:      {{.TotalAttempts}} ({{.Retries}} retries, avg {{.AvgDuration}})
Total Bytes:   {{.TotalBytes}} bytes
Total Errors:  {{.TotalErrors}}

Outcomes:
{{- range $outcome, $count := .Outcomes}}
  {{$outcome}}: {{$count}}
{{- else}}
  None
{{- end}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Detections: {{.TotalDetections}}
{{- range $src, $count := .DetectionsBySrc}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Fetch Audit Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Fetch Audit Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card"><div>Crawls</div><div class="stat-val">{{.Crawls}}</div></div>
  <div class="stat-card"><div>Attempts</div><div class="stat-val">{{.TotalAttempts}}</div></div>
  <div class="stat-card"><div>Retries</div><div class="stat-val">{{.Retries}}</div></div>
  <div class="stat-card">
    <div>Detections</div>
    <div class="stat-val" style="color: {{if gt .TotalDetections 0}}red{{else}}green{{end}};">{{.TotalDetections}}</div>
  </div>

  <h3>Outcomes</h3>
  <table>
    <tr><th>Outcome</th><th>Count</th></tr>
    {{- range $outcome, $count := .Outcomes}}
    <tr><td>{{$outcome}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Detections By Source</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .DetectionsBySrc}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}

// Write renders summary in the named format: text, json or html.
func Write(w io.Writer, format string, summary Summary) error {
	switch format {
	case "", "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "html":
		return WriteHTML(w, summary)
	}
	return fmt.Errorf("report: unknown format %q", format)
}
