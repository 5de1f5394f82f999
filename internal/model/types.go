// Package model holds the wire-level types shared by every crawl component:
// the page record, the event/control sum types, and the in-memory dashboard
// state that both the CLI summary and the controller's retry loop read from.
package model

import "time"

// RetrievalStatus classifies whether an HTTP response was ever obtained for a URL.
type RetrievalStatus string

const (
	Retrieved    RetrievalStatus = "retrieved"
	NotRetrieved RetrievalStatus = "not_retrieved"
)

// Indexability reflects whether a page is eligible for search engine indexing.
type Indexability string

const (
	Indexable     Indexability = "Indexable"
	NonIndexable  Indexability = "Non-Indexable"
	NotRetrieved_ Indexability = "Not Retrieved"
)

// RedirectType classifies a 3xx response by its permanence.
type RedirectType string

const (
	RedirectPermanent RedirectType = "Permanent"
	RedirectTemporary RedirectType = "Temporary"
	RedirectOther     RedirectType = "Redirect"
	RedirectNone      RedirectType = ""
)

// ClassifyRedirect maps a 3xx status code to its RedirectType.
func ClassifyRedirect(status int) RedirectType {
	switch status {
	case 301, 308:
		return RedirectPermanent
	case 302, 303, 307:
		return RedirectTemporary
	default:
		if status >= 300 && status < 400 {
			return RedirectOther
		}
		return RedirectNone
	}
}

// SeoIssue is a member of the closed issue vocabulary. Label and Penalty are
// fixed; see IssuePenalty for the authoritative table.
type SeoIssue string

const (
	IssueNotRetrieved             SeoIssue = "not_retrieved"
	IssueHttp5xx                  SeoIssue = "status_5xx"
	IssueHttp4xx                  SeoIssue = "status_4xx"
	IssueMissingTitle             SeoIssue = "missing_title"
	IssueNoindex                  SeoIssue = "noindex"
	IssueMissingMetaDescription   SeoIssue = "missing_meta_description"
	IssueMissingH1                SeoIssue = "missing_h1"
	IssueTitleTooShort            SeoIssue = "title_too_short"
	IssueMissingCanonical         SeoIssue = "missing_canonical"
	IssueLowWordCount             SeoIssue = "low_word_count"
	IssueTitleTooLong             SeoIssue = "title_too_long"
	IssueMetaDescriptionTooShort  SeoIssue = "meta_description_too_short"
	IssueMetaDescriptionTooLong   SeoIssue = "meta_description_too_long"
	IssueMultipleH1               SeoIssue = "multiple_h1"
	IssueImagesMissingAlt         SeoIssue = "images_missing_alt"
	IssueTooManyExternalLinks     SeoIssue = "too_many_external_links"
)

// issuePenalties is the closed vocabulary from spec §6.2.
var issuePenalties = map[SeoIssue]int{
	IssueNotRetrieved:            70,
	IssueHttp5xx:                 65,
	IssueHttp4xx:                 40,
	IssueMissingTitle:            25,
	IssueNoindex:                 20,
	IssueMissingMetaDescription:  20,
	IssueMissingH1:               14,
	IssueTitleTooShort:           10,
	IssueMissingCanonical:        10,
	IssueLowWordCount:            10,
	IssueTitleTooLong:            8,
	IssueMetaDescriptionTooShort: 8,
	IssueMetaDescriptionTooLong:  8,
	IssueMultipleH1:              8,
	IssueImagesMissingAlt:        8,
	IssueTooManyExternalLinks:    6,
}

// IssuePenalty returns the fixed penalty for an issue, or 0 if unknown.
func IssuePenalty(issue SeoIssue) int {
	return issuePenalties[issue]
}

// IssueFromLabel reverses SeoIssue's string value for CSV/JSON round-trips.
func IssueFromLabel(label string) (SeoIssue, bool) {
	issue := SeoIssue(label)
	if _, ok := issuePenalties[issue]; ok {
		return issue, true
	}
	return "", false
}

// ComputeSeoScore implements score = max(0, 100 - sum(penalty(issue))), with
// duplicate issues counted once.
func ComputeSeoScore(issues []SeoIssue) int {
	seen := make(map[SeoIssue]bool, len(issues))
	total := 0
	for _, issue := range issues {
		if seen[issue] {
			continue
		}
		seen[issue] = true
		total += IssuePenalty(issue)
	}
	score := 100 - total
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// DedupIssues removes duplicate issues while preserving first-seen order.
func DedupIssues(issues []SeoIssue) []SeoIssue {
	seen := make(map[SeoIssue]bool, len(issues))
	out := make([]SeoIssue, 0, len(issues))
	for _, issue := range issues {
		if seen[issue] {
			continue
		}
		seen[issue] = true
		out = append(out, issue)
	}
	return out
}

// CrawlQualityBucket buckets a score into the four output categories.
func CrawlQualityBucket(score int) string {
	switch {
	case score >= 85:
		return "excellent"
	case score >= 70:
		return "good"
	case score >= 50:
		return "warning"
	default:
		return "critical"
	}
}

// PageRecord is the canonical per-URL observation. See spec §3 for invariants.
type PageRecord struct {
	URL             string
	Status          int
	MIME            string
	RetrievalStatus RetrievalStatus
	Indexability    Indexability
	Title           string
	TitleLength     int
	Meta            string
	MetaLength      int
	H1              string
	Canonical       string
	WordCount       int
	Size            int64
	ResponseTimeMs  int64
	LastModified    string
	RedirectURL     string
	RedirectType    RedirectType

	LinkCount               int
	InternalLinkCount       int
	ExternalLinkCount       int
	H1Count                 int
	H2Count                 int
	ImageCount              int
	ImageMissingAltCount    int
	StructuredDataCount     int

	SeoScore int
	Issues   []SeoIssue

	OutgoingLinks []string

	CrawlTimestamp time.Time
}

// UnretrievedRecord builds the PageRecord for a URL that could never be
// fetched, per spec §4.4/§4.6.
func UnretrievedRecord(url, reason string, now time.Time) PageRecord {
	issues := []SeoIssue{IssueNotRetrieved}
	return PageRecord{
		URL:             url,
		Status:          0,
		MIME:            "unknown",
		RetrievalStatus: NotRetrieved,
		Indexability:    NotRetrieved_,
		Meta:            reason,
		Issues:          issues,
		SeoScore:        ComputeSeoScore(issues),
		CrawlTimestamp:  now,
	}
}

// EventType tags a CrawlEvent variant.
type EventType int

const (
	EventPage EventType = iota
	EventUnretrieved
	EventStats
	EventStatus
	EventError
	EventFinished
)

// CrawlEvent is the sum type emitted by discovery backends (spec §3, §6.5).
type CrawlEvent struct {
	Type             EventType
	Record           *PageRecord
	DiscoveredLinks  []string
	URL              string
	Reason           string
	DiscoveredCount  int
	Message          string
}

func PageEvent(record PageRecord, discoveredLinks []string) CrawlEvent {
	r := record
	return CrawlEvent{Type: EventPage, Record: &r, DiscoveredLinks: discoveredLinks}
}

func UnretrievedEvent(url, reason string) CrawlEvent {
	return CrawlEvent{Type: EventUnretrieved, URL: url, Reason: reason}
}

func StatsEvent(discovered int) CrawlEvent {
	return CrawlEvent{Type: EventStats, DiscoveredCount: discovered}
}

func StatusEvent(message string) CrawlEvent {
	return CrawlEvent{Type: EventStatus, Message: message}
}

func ErrorEvent(message string) CrawlEvent {
	return CrawlEvent{Type: EventError, Message: message}
}

func FinishedEvent() CrawlEvent {
	return CrawlEvent{Type: EventFinished}
}

// RetryScope selects which URLs a RetryUrls control command targets (spec §3, §6.4).
type RetryScope string

const (
	RetrySingleEntry RetryScope = "SingleEntry"
	RetryFailedOnly  RetryScope = "FailedOnly"
	RetryComplete    RetryScope = "Complete"
)

// ControlType tags a CrawlControl variant.
type ControlType int

const (
	ControlSetFetchConcurrency ControlType = iota
	ControlRetryUrls
	ControlShutdown
)

// CrawlControl is the sum type accepted by the controller (spec §3, §6.4).
type CrawlControl struct {
	Type       ControlType
	Concurrency int
	Scope      RetryScope
	URLs       []string
}

func SetFetchConcurrency(n int) CrawlControl {
	return CrawlControl{Type: ControlSetFetchConcurrency, Concurrency: n}
}

func RetryUrls(scope RetryScope, urls []string) CrawlControl {
	return CrawlControl{Type: ControlRetryUrls, Scope: scope, URLs: urls}
}

func Shutdown() CrawlControl {
	return CrawlControl{Type: ControlShutdown}
}
