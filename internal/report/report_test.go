package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/aliscrape/internal/storage"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Now()
	records := []*storage.AttemptRecord{
		{CrawlID: "c1", Page: 1, Attempt: 1, StatusCode: 200, Outcome: "success", Profile: "chrome", BodyBytes: 4, Duration: 100 * time.Millisecond, CreatedAt: now},
		{CrawlID: "c1", Page: 2, Attempt: 1, StatusCode: 429, Outcome: "rate_limited", Profile: "chrome", Duration: 300 * time.Millisecond, CreatedAt: now.Add(time.Second), Error: "status 429"},
		{CrawlID: "c1", Page: 2, Attempt: 2, StatusCode: 200, Outcome: "rate_limited", Profile: "firefox", BodyBytes: 3, DetectedBot: true, DetectionSrc: "Slider", Duration: 200 * time.Millisecond, CreatedAt: now.Add(2 * time.Second), Error: "bot challenge"},
		{CrawlID: "c2", Page: 1, Attempt: 1, Outcome: "transient", Duration: 200 * time.Millisecond, CreatedAt: now.Add(-time.Second), Error: "connection reset"},
	}

	s := GenerateSummary(records)

	assert.Equal(t, 4, s.TotalAttempts)
	assert.Equal(t, 2, s.Crawls)
	assert.Equal(t, 3, s.Pages)
	assert.Equal(t, 1, s.Retries)
	assert.Equal(t, 3, s.TotalErrors)
	assert.Equal(t, 1, s.TotalDetections)
	assert.Equal(t, map[string]int{"success": 1, "rate_limited": 2, "transient": 1}, s.Outcomes)
	assert.Equal(t, map[int]int{200: 2, 429: 1}, s.StatusCodes)
	assert.Equal(t, map[string]int{"Slider": 1}, s.DetectionsBySrc)
	assert.Equal(t, map[string]int{"chrome": 2, "firefox": 1}, s.Profiles)
	assert.Equal(t, int64(7), s.TotalBytes)
	assert.Equal(t, 200*time.Millisecond, s.AvgDuration)
	assert.Equal(t, 3*time.Second, s.Duration)
}

func TestGenerateSummaryEmpty(t *testing.T) {
	s := GenerateSummary(nil)
	assert.Zero(t, s.TotalAttempts)
	assert.NotNil(t, s.Outcomes)
	assert.Zero(t, s.AvgDuration)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Summary{TotalAttempts: 5}))
	assert.Contains(t, buf.String(), `"total_attempts": 5`)
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		TotalAttempts: 5,
		Retries:       1,
		TotalErrors:   1,
		Outcomes:      map[string]int{"success": 4, "transient": 1},
		StatusCodes:   map[int]int{200: 4, 500: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, summary))

	out := buf.String()
	assert.Contains(t, out, "Attempts:      5 (1 retries")
	assert.Contains(t, out, "200: 4")
	assert.Contains(t, out, "transient: 1")
}

func TestWriteHTML(t *testing.T) {
	summary := Summary{
		TotalAttempts:   10,
		TotalDetections: 2,
		DetectionsBySrc: map[string]int{"Slider": 2},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, summary))

	out := buf.String()
	assert.Contains(t, out, "<title>Fetch Audit Report</title>")
	assert.Contains(t, out, "Slider")
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, "xml", Summary{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "report:"))
}
