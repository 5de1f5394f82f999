package sink

import (
	"bytes"
	"testing"
	"time"

	"github.com/ramkansal/seosum/internal/model"
	"github.com/stretchr/testify/require"
)

func sampleRecord() model.PageRecord {
	issues := []model.SeoIssue{model.IssueLowWordCount, model.IssueMissingCanonical}
	return model.PageRecord{
		URL:               "https://example.test/a",
		Status:            200,
		MIME:              "text/html",
		RetrievalStatus:   model.Retrieved,
		Indexability:      model.Indexable,
		Title:             "A Title",
		TitleLength:       7,
		Meta:              "A meta description",
		MetaLength:         18,
		H1:                "A Title",
		Canonical:         "",
		WordCount:         100,
		Size:              1024,
		ResponseTimeMs:    42,
		LinkCount:         2,
		InternalLinkCount: 2,
		ExternalLinkCount: 0,
		H1Count:           1,
		Issues:            issues,
		SeoScore:          model.ComputeSeoScore(issues),
		OutgoingLinks:     []string{"https://example.test/b", "https://example.test/c"},
		CrawlTimestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(CSV, &buf)
	require.NoError(t, err)

	record := sampleRecord()
	require.NoError(t, s.Write(record))
	require.NoError(t, s.Finalize())

	rows, err := LoadRows(&buf, CSV)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, record.URL, rows[0].URL)
	require.Equal(t, record.Status, rows[0].Status)
	require.ElementsMatch(t, record.Issues, rows[0].Issues)
	require.Equal(t, record.SeoScore, rows[0].SeoScore)
	require.Equal(t, record.OutgoingLinks, rows[0].OutgoingLinks)
}

func TestJSONRoundTripArray(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(JSON, &buf)
	require.NoError(t, err)

	record := sampleRecord()
	require.NoError(t, s.Write(record))
	require.NoError(t, s.Write(record))
	require.NoError(t, s.Finalize())
	// Finalize must be idempotent.
	require.NoError(t, s.Finalize())

	rows, err := LoadRows(bytes.NewReader(buf.Bytes()), JSON)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, record.URL, rows[0].URL)
}

func TestJSONEmptySinkClosesBracketOnly(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(JSON, &buf)
	require.NoError(t, err)
	require.NoError(t, s.Finalize())
	require.Equal(t, "[\n]\n", buf.String())
}

func TestDetectFormat(t *testing.T) {
	require.Equal(t, JSON, DetectFormat("out.json", CSV))
	require.Equal(t, CSV, DetectFormat("out.csv", JSON))
	require.Equal(t, CSV, DetectFormat("out.dat", CSV))
}
