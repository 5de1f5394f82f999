package model

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
)

const (
	maxDisplayRows = 500
	maxErrors      = 10
	maxStatusMsgs  = 20
)

// AppState is the in-memory, dashboard-facing view of a crawl. It is also
// consulted internally by the controller's retry loop to pick RetryUrls
// targets, so it lives here rather than behind the (out-of-scope) TUI.
//
// The bounded 500-row "latest first" display queue is backed by
// golang/groupcache's lru.Cache used purely as a fixed-capacity ring: Add
// evicts the oldest entry once Cap is reached, matching the VecDeque
// push_front/pop_back behavior of the original implementation.
type AppState struct {
	mu sync.Mutex

	allRows []PageRecord
	display *lru.Cache // key: insertion sequence number, value: *PageRecord
	seq     int64

	seen          map[string]int // url -> index into allRows of its current record
	discoveredSeen map[string]bool

	incomingLinks map[string]map[string]bool
	outgoingLinks map[string][]string

	done bool

	errors        []string
	statusMsgs    []string
	statusCounts  map[int]int
	issueCounts   map[SeoIssue]int
	titleCounts   map[string]int
	metaCounts    map[string]int

	discoveredTargets int
}

// NewAppState returns an empty, ready-to-use AppState.
func NewAppState() *AppState {
	s := &AppState{
		display:        lru.New(maxDisplayRows),
		seen:           make(map[string]int),
		discoveredSeen: make(map[string]bool),
		incomingLinks:  make(map[string]map[string]bool),
		outgoingLinks:  make(map[string][]string),
		statusCounts:   make(map[int]int),
		issueCounts:    make(map[SeoIssue]int),
		titleCounts:    make(map[string]int),
		metaCounts:     make(map[string]int),
	}
	return s
}

// PushRow records a record and its discovered outgoing links. Per spec §3's
// explicit lifecycle invariant, a re-queued URL's latest record REPLACES any
// prior in-memory counters (unlike original_source's push_row, which no-ops
// on a repeat URL — spec.md resolves that discrepancy explicitly in its
// DESIGN NOTES "Open question", see SPEC_FULL.md).
//
// Returns true if this is the first time url has been seen.
func (s *AppState) PushRow(row PageRecord, discoveredLinks []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := row.URL
	firstSeen := true

	if idx, ok := s.seen[url]; ok {
		firstSeen = false
		s.retractCounters(s.allRows[idx])
	}

	dedupOutgoing := dedupPreserveOrder(discoveredLinks)
	row.OutgoingLinks = dedupOutgoing

	idx := len(s.allRows)
	s.allRows = append(s.allRows, row)
	s.seen[url] = idx

	for _, link := range dedupOutgoing {
		if link == url {
			continue
		}
		set, ok := s.incomingLinks[link]
		if !ok {
			set = make(map[string]bool)
			s.incomingLinks[link] = set
		}
		set[url] = true
	}
	s.outgoingLinks[url] = dedupOutgoing

	for _, link := range discoveredLinks {
		if !s.discoveredSeen[link] {
			s.discoveredSeen[link] = true
			s.discoveredTargets++
		}
	}

	s.applyCounters(row)

	s.seq++
	s.display.Add(s.seq, &row)

	return firstSeen
}

// DisplayRows returns up to limit of the most recently pushed records,
// latest first, from the bounded 500-row display queue (spec §3). limit is
// clamped to [1, maxDisplayRows]; pass 0 for the full bounded window.
func (s *AppState) DisplayRows(limit int) []PageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > maxDisplayRows {
		limit = maxDisplayRows
	}
	// Get marks an entry as recently used, so every retained entry is read
	// oldest to newest to keep the cache's eviction order equal to insertion
	// order.
	start := s.seq - maxDisplayRows + 1
	if start < 1 {
		start = 1
	}
	retained := make([]PageRecord, 0, maxDisplayRows)
	for seq := start; seq <= s.seq; seq++ {
		if v, ok := s.display.Get(seq); ok {
			retained = append(retained, *(v.(*PageRecord)))
		}
	}
	rows := make([]PageRecord, 0, limit)
	for i := len(retained) - 1; i >= 0 && len(rows) < limit; i-- {
		rows = append(rows, retained[i])
	}
	return rows
}

func (s *AppState) retractCounters(old PageRecord) {
	s.statusCounts[old.Status]--
	if s.statusCounts[old.Status] <= 0 {
		delete(s.statusCounts, old.Status)
	}
	for _, issue := range DedupIssues(old.Issues) {
		s.issueCounts[issue]--
		if s.issueCounts[issue] <= 0 {
			delete(s.issueCounts, issue)
		}
	}
	if t := normalizeTitleKey(old.Title); t != "" {
		s.titleCounts[t]--
		if s.titleCounts[t] <= 0 {
			delete(s.titleCounts, t)
		}
	}
	if m := normalizeTitleKey(old.Meta); m != "" {
		s.metaCounts[m]--
		if s.metaCounts[m] <= 0 {
			delete(s.metaCounts, m)
		}
	}
}

func (s *AppState) applyCounters(row PageRecord) {
	s.statusCounts[row.Status]++
	for _, issue := range DedupIssues(row.Issues) {
		s.issueCounts[issue]++
	}
	if t := normalizeTitleKey(row.Title); t != "" {
		s.titleCounts[t]++
	}
	if m := normalizeTitleKey(row.Meta); m != "" {
		s.metaCounts[m]++
	}
}

func normalizeTitleKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func dedupPreserveOrder(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// PushError appends a bounded (10) error message, dropping the oldest.
func (s *AppState) PushError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
	if len(s.errors) > maxErrors {
		s.errors = s.errors[len(s.errors)-maxErrors:]
	}
}

// PushStatus appends a bounded (20) status message, dropping the oldest.
func (s *AppState) PushStatus(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusMsgs = append(s.statusMsgs, msg)
	if len(s.statusMsgs) > maxStatusMsgs {
		s.statusMsgs = s.statusMsgs[len(s.statusMsgs)-maxStatusMsgs:]
	}
}

// SetDone marks the crawl as finished.
func (s *AppState) SetDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// Done reports whether the crawl has finished.
func (s *AppState) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// AllRows returns a copy of every row recorded so far, in emission order.
func (s *AppState) AllRows() []PageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PageRecord, len(s.allRows))
	copy(out, s.allRows)
	return out
}

// DiscoveredTotal is the number of distinct URLs ever referenced by a parsed
// page, including cross-origin links.
func (s *AppState) DiscoveredTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoveredTargets
}

// AverageSeoScore averages the SEO score across every current record.
func (s *AppState) AverageSeoScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return 0
	}
	total := 0
	for _, idx := range s.seen {
		total += s.allRows[idx].SeoScore
	}
	return float64(total) / float64(len(s.seen))
}

// DuplicateTitlePages returns titles (lowercase, trimmed) shared by more than
// one current record, along with their counts.
func (s *AppState) DuplicateTitlePages() map[string]int {
	return s.duplicatesFrom(s.titleCounts)
}

// DuplicateMetaPages returns meta descriptions shared by more than one
// current record, along with their counts.
func (s *AppState) DuplicateMetaPages() map[string]int {
	return s.duplicatesFrom(s.metaCounts)
}

func (s *AppState) duplicatesFrom(counts map[string]int) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for k, v := range counts {
		if v > 1 {
			out[k] = v
		}
	}
	return out
}

// IssueCount is a ranked (issue, count) pair used by TopIssues.
type IssueCount struct {
	Issue SeoIssue
	Count int
}

// TopIssues returns up to limit issues ranked by current frequency, most
// common first, ties broken by issue label for determinism.
func (s *AppState) TopIssues(limit int) []IssueCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]IssueCount, 0, len(s.issueCounts))
	for issue, count := range s.issueCounts {
		out = append(out, IssueCount{Issue: issue, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Issue < out[j].Issue
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// IncomingSources returns up to limit URLs known to link to url, sorted for
// determinism.
func (s *AppState) IncomingSources(url string, limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.incomingLinks[url]
	out := make([]string, 0, len(set))
	for src := range set {
		out = append(out, src)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// IncomingCount returns the number of distinct pages linking to url.
func (s *AppState) IncomingCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.incomingLinks[url])
}

// RetryFailedURLs returns, sorted and deduplicated, every URL whose current
// record has retrieval_status != retrieved, or a 5xx status.
func (s *AppState) RetryFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool)
	for url, idx := range s.seen {
		row := s.allRows[idx]
		if row.RetrievalStatus != Retrieved || (row.Status >= 500 && row.Status <= 599) {
			set[url] = true
		}
	}
	return sortedKeys(set)
}

// RetryAllURLs returns, sorted and deduplicated, every URL ever seen plus
// every URL ever discovered on a page.
func (s *AppState) RetryAllURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool)
	for url := range s.seen {
		set[url] = true
	}
	for url := range s.discoveredSeen {
		set[url] = true
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SortMode selects the ordering used by FilteredRowsSorted.
type SortMode string

const (
	SortLatest           SortMode = "latest"
	SortStatus           SortMode = "status"
	SortLowestSeoScore   SortMode = "lowest_seo_score"
	SortHighestRespTime  SortMode = "highest_response_time"
)

// SortDirection is ascending or descending.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// FilteredRowsSorted applies a filter query (see matchesFilterQuery) then
// sorts the current (latest-per-URL) rows per mode/direction.
func (s *AppState) FilteredRowsSorted(filter string, mode SortMode, direction SortDirection) []PageRecord {
	s.mu.Lock()
	rows := make([]PageRecord, 0, len(s.seen))
	for _, idx := range s.seen {
		rows = append(rows, s.allRows[idx])
	}
	s.mu.Unlock()

	filtered := rows[:0:0]
	for _, row := range rows {
		if matchesFilterQuery(row, filter) {
			filtered = append(filtered, row)
		}
	}

	less := func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		switch mode {
		case SortStatus:
			return a.Status < b.Status
		case SortLowestSeoScore:
			return a.SeoScore < b.SeoScore
		case SortHighestRespTime:
			return a.ResponseTimeMs < b.ResponseTimeMs
		default: // SortLatest
			return a.CrawlTimestamp.Before(b.CrawlTimestamp)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if direction == Descending {
			return less(j, i)
		}
		return less(i, j)
	})
	return filtered
}

// matchesFilterQuery implements the token-based advanced filter syntax from
// original_source: whitespace-separated tokens, each either a bare substring
// matched against the URL, or a "prefix:value" pair matched against a named
// field. A leading "!" or "-" negates a token.
func matchesFilterQuery(row PageRecord, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	for _, token := range strings.Fields(query) {
		if !matchesToken(row, token) {
			return false
		}
	}
	return true
}

func matchesToken(row PageRecord, token string) bool {
	negate := false
	if strings.HasPrefix(token, "!") || strings.HasPrefix(token, "-") {
		negate = true
		token = token[1:]
	}
	result := matchesTokenBody(row, token)
	if negate {
		return !result
	}
	return result
}

func matchesTokenBody(row PageRecord, token string) bool {
	prefix, value, hasPrefix := strings.Cut(token, ":")
	if !hasPrefix {
		return rowHostContains(row, token) || containsFold(row.URL, token)
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(prefix) {
	case "status":
		n, err := strconv.Atoi(value)
		return err == nil && row.Status == n
	case "issue":
		for _, issue := range row.Issues {
			if string(issue) == value {
				return true
			}
		}
		return false
	case "url":
		return containsFold(row.URL, value)
	case "title":
		return containsFold(row.Title, value)
	case "meta":
		return containsFold(row.Meta, value)
	case "host":
		return rowHostContains(row, value)
	case "retrieval":
		return string(row.RetrievalStatus) == value
	default:
		return containsFold(row.URL, token)
	}
}

func rowHostContains(row PageRecord, fragment string) bool {
	return containsFold(row.URL, fragment)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
