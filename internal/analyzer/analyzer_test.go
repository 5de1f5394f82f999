package analyzer

import (
	"net/http"
	"strings"
	"testing"

	"github.com/ramkansal/seosum/internal/model"
	"github.com/stretchr/testify/require"
)

// TestAnalyzeScenario1 implements spec end-to-end scenario 1.
func TestAnalyzeScenario1(t *testing.T) {
	meta90 := strings.Repeat("d", 90)
	words100 := strings.Repeat("word ", 100)
	body := `<html><head><title>Example Landing Page</title>
<meta name="description" content="` + meta90 + `">
<link rel="canonical" href="https://example.test/">
</head><body><h1>Example</h1>` + words100 + `</body></html>`

	page := FetchedPage{
		RequestedURL: "https://example.test/",
		FinalURL:     "https://example.test/",
		Status:       200,
		Headers:      http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:         body,
		RootHost:     "example.test",
	}

	record, _ := Analyze(page)

	require.Equal(t, 200, record.Status)
	require.Equal(t, model.Indexable, record.Indexability)
	require.Equal(t, []model.SeoIssue{model.IssueLowWordCount}, record.Issues)
	require.Equal(t, 90, record.SeoScore)
}

// TestIssuesAndScoreInvariant implements testable property 1.
func TestIssuesAndScoreInvariant(t *testing.T) {
	issues := []model.SeoIssue{
		model.IssueMissingTitle,
		model.IssueMissingTitle,
		model.IssueLowWordCount,
	}
	deduped := model.DedupIssues(issues)
	require.Len(t, deduped, 2)

	expectedScore := 100 - model.IssuePenalty(model.IssueMissingTitle) - model.IssuePenalty(model.IssueLowWordCount)
	require.Equal(t, expectedScore, model.ComputeSeoScore(issues))
}

func TestAnalyzeHttp5xxSkipsContentChecks(t *testing.T) {
	page := FetchedPage{
		RequestedURL: "https://example.test/broken",
		FinalURL:     "https://example.test/broken",
		Status:       503,
		Headers:      http.Header{"Content-Type": []string{"text/html"}},
		Body:         `<html><body></body></html>`,
		RootHost:     "example.test",
	}
	record, _ := Analyze(page)
	require.Equal(t, []model.SeoIssue{model.IssueHttp5xx}, record.Issues)
	require.Equal(t, model.NonIndexable, record.Indexability)
}
