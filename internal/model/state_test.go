package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushRowFirstSeenThenReplaceSameURL(t *testing.T) {
	s := NewAppState()

	first := PageRecord{URL: "https://example.test/a", Status: 503, RetrievalStatus: Retrieved, SeoScore: 30}
	require.True(t, s.PushRow(first, nil))
	require.Len(t, s.AllRows(), 1)
	require.Equal(t, []string{"https://example.test/a"}, s.RetryFailedURLs())

	// Re-queuing the same URL with a fresh, successful record replaces the
	// prior one in every counter, rather than accumulating alongside it.
	second := PageRecord{URL: "https://example.test/a", Status: 200, RetrievalStatus: Retrieved, SeoScore: 90}
	require.False(t, s.PushRow(second, nil))

	rows := s.AllRows()
	require.Len(t, rows, 2, "sink history keeps every row emitted")
	require.Empty(t, s.RetryFailedURLs(), "latest in-memory record for the URL is no longer failing")
	require.Equal(t, 90.0, s.AverageSeoScore(), "average is computed over current (latest-per-URL) records only")
}

func TestPushRowTracksIncomingAndDiscoveredLinks(t *testing.T) {
	s := NewAppState()
	s.PushRow(PageRecord{URL: "https://example.test/", Status: 200, SeoScore: 100}, []string{
		"https://example.test/a",
		"https://example.test/b",
		"https://example.test/a", // duplicate, must collapse
	})

	require.Equal(t, 2, s.DiscoveredTotal())
	require.Equal(t, 1, s.IncomingCount("https://example.test/a"))
	require.Equal(t, []string{"https://example.test/"}, s.IncomingSources("https://example.test/a", 0))

	all := s.RetryAllURLs()
	require.Contains(t, all, "https://example.test/")
	require.Contains(t, all, "https://example.test/a")
	require.Contains(t, all, "https://example.test/b")
}

func TestDuplicateTitleAndMetaTracking(t *testing.T) {
	s := NewAppState()
	s.PushRow(PageRecord{URL: "https://example.test/a", Title: "Same Title", Meta: "Same meta", Status: 200}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/b", Title: "same title", Meta: "different meta", Status: 200}, nil)

	titles := s.DuplicateTitlePages()
	require.Equal(t, 2, titles["same title"])
	require.Empty(t, s.DuplicateMetaPages())
}

func TestTopIssuesRankedByFrequencyThenLabel(t *testing.T) {
	s := NewAppState()
	s.PushRow(PageRecord{URL: "https://example.test/a", Issues: []SeoIssue{IssueMissingTitle, IssueMissingH1}}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/b", Issues: []SeoIssue{IssueMissingTitle}}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/c", Issues: []SeoIssue{IssueMissingH1}}, nil)

	top := s.TopIssues(1)
	require.Len(t, top, 1)
	require.Equal(t, IssueMissingH1, top[0].Issue)
	require.Equal(t, 2, top[0].Count)
}

func TestPushErrorAndStatusAreBounded(t *testing.T) {
	s := NewAppState()
	for i := 0; i < 15; i++ {
		s.PushError("err")
	}
	for i := 0; i < 25; i++ {
		s.PushStatus("status")
	}
	require.LessOrEqual(t, len(s.errors), maxErrors)
	require.LessOrEqual(t, len(s.statusMsgs), maxStatusMsgs)
}

func TestFilteredRowsSortedByStatusAndFilterQuery(t *testing.T) {
	s := NewAppState()
	s.PushRow(PageRecord{URL: "https://example.test/a", Status: 404, SeoScore: 40, Issues: []SeoIssue{IssueHttp4xx}}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/b", Status: 200, SeoScore: 95}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/c", Status: 500, SeoScore: 10, Issues: []SeoIssue{IssueHttp5xx}}, nil)

	byStatusAsc := s.FilteredRowsSorted("", SortStatus, Ascending)
	require.Len(t, byStatusAsc, 3)
	require.Equal(t, 200, byStatusAsc[0].Status)
	require.Equal(t, 500, byStatusAsc[2].Status)

	onlyIssue := s.FilteredRowsSorted("issue:status_5xx", SortLatest, Ascending)
	require.Len(t, onlyIssue, 1)
	require.Equal(t, "https://example.test/c", onlyIssue[0].URL)

	negated := s.FilteredRowsSorted("!status:200", SortLatest, Ascending)
	require.Len(t, negated, 2)
}

func TestDisplayRowsLatestFirstBounded(t *testing.T) {
	s := NewAppState()
	s.PushRow(PageRecord{URL: "https://example.test/a", Status: 200}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/b", Status: 200}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/c", Status: 200}, nil)

	rows := s.DisplayRows(2)
	require.Len(t, rows, 2)
	require.Equal(t, "https://example.test/c", rows[0].URL)
	require.Equal(t, "https://example.test/b", rows[1].URL)
}

func TestRetryFailedURLsIncludesNotRetrievedAnd5xx(t *testing.T) {
	s := NewAppState()
	s.PushRow(UnretrievedRecord("https://example.test/timeout", "timeout", time.Now()), nil)
	s.PushRow(PageRecord{URL: "https://example.test/ok", Status: 200, RetrievalStatus: Retrieved}, nil)
	s.PushRow(PageRecord{URL: "https://example.test/gone", Status: 503, RetrievalStatus: Retrieved}, nil)

	failed := s.RetryFailedURLs()
	require.ElementsMatch(t, []string{"https://example.test/timeout", "https://example.test/gone"}, failed)
}
