// Package sink implements the output sink (spec §4.9): streaming CSV or JSON
// writers plus their round-trip readers (spec §8). Grounded near one-to-one
// on original_source/src/app/data_io.rs's CsvSink/JsonSink/OutputSink and
// load_rows_from_csv/load_rows_from_json, Go-idiomized around io.Writer and
// an idempotent Finalize.
package sink

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"
	"github.com/ramkansal/seosum/internal/model"
)

// CSVHeaders is the fixed 31-column schema from spec §6.1.
var CSVHeaders = []string{
	"url", "status", "mime", "retrieval_status", "indexability", "title",
	"title_length", "meta", "meta_length", "h1", "canonical", "word_count",
	"size", "response_time_ms", "last_modified", "redirect_url",
	"redirect_type", "link_count", "internal_link_count",
	"external_link_count", "h1_count", "h2_count", "image_count",
	"image_missing_alt_count", "structured_data_count", "seo_score",
	"issue_count", "issues", "outgoing_links", "crawl_timestamp",
	"crawl_quality_bucket",
}

// Format selects the output encoding.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// DetectFormat chooses a format from a path's suffix, falling back to
// fallback when the suffix doesn't match either known extension.
func DetectFormat(path string, fallback Format) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".json"):
		return JSON
	case strings.HasSuffix(lower, ".csv"):
		return CSV
	default:
		return fallback
	}
}

// DefaultOutputPath builds a host-sanitized, timestamp-based filename,
// grounded on original_source's default_output_path.
func DefaultOutputPath(seedURL string, format Format, now time.Time) string {
	host := ""
	if u, err := url.Parse(seedURL); err == nil {
		host = sanitize.BaseName(u.Hostname())
	}
	if host == "" {
		host = "crawl"
	}
	ext := "csv"
	if format == JSON {
		ext = "json"
	}
	return fmt.Sprintf("%s-%s.%s", host, now.Format("20060102-150405"), ext)
}

// exportRecord is the flattened, serializable form of a model.PageRecord
// used by both sinks, mirroring original_source's ExportRecord.
type exportRecord struct {
	URL                  string `json:"url"`
	Status               int    `json:"status"`
	MIME                 string `json:"mime"`
	RetrievalStatus      string `json:"retrieval_status"`
	Indexability         string `json:"indexability"`
	Title                string `json:"title"`
	TitleLength          int    `json:"title_length"`
	Meta                 string `json:"meta"`
	MetaLength           int    `json:"meta_length"`
	H1                   string `json:"h1"`
	Canonical            string `json:"canonical"`
	WordCount            int    `json:"word_count"`
	Size                 int64  `json:"size"`
	ResponseTimeMs       int64  `json:"response_time_ms"`
	LastModified         string `json:"last_modified"`
	RedirectURL          string `json:"redirect_url"`
	RedirectType         string `json:"redirect_type"`
	LinkCount            int    `json:"link_count"`
	InternalLinkCount    int    `json:"internal_link_count"`
	ExternalLinkCount    int    `json:"external_link_count"`
	H1Count              int    `json:"h1_count"`
	H2Count              int    `json:"h2_count"`
	ImageCount           int    `json:"image_count"`
	ImageMissingAltCount int    `json:"image_missing_alt_count"`
	StructuredDataCount  int    `json:"structured_data_count"`
	SeoScore             int    `json:"seo_score"`
	IssueCount           int    `json:"issue_count"`
	Issues               string `json:"issues"`
	OutgoingLinks        []string `json:"outgoing_links"`
	CrawlTimestamp       string `json:"crawl_timestamp"`
	CrawlQualityBucket   string `json:"crawl_quality_bucket"`
}

func toExportRecord(r model.PageRecord) exportRecord {
	issues := model.DedupIssues(r.Issues)
	labels := make([]string, len(issues))
	for i, issue := range issues {
		labels[i] = string(issue)
	}
	return exportRecord{
		URL:                  r.URL,
		Status:               r.Status,
		MIME:                 r.MIME,
		RetrievalStatus:      string(r.RetrievalStatus),
		Indexability:         string(r.Indexability),
		Title:                r.Title,
		TitleLength:          r.TitleLength,
		Meta:                 r.Meta,
		MetaLength:           r.MetaLength,
		H1:                   r.H1,
		Canonical:            r.Canonical,
		WordCount:            r.WordCount,
		Size:                 r.Size,
		ResponseTimeMs:       r.ResponseTimeMs,
		LastModified:         r.LastModified,
		RedirectURL:          r.RedirectURL,
		RedirectType:         string(r.RedirectType),
		LinkCount:            r.LinkCount,
		InternalLinkCount:    r.InternalLinkCount,
		ExternalLinkCount:    r.ExternalLinkCount,
		H1Count:              r.H1Count,
		H2Count:              r.H2Count,
		ImageCount:           r.ImageCount,
		ImageMissingAltCount: r.ImageMissingAltCount,
		StructuredDataCount:  r.StructuredDataCount,
		SeoScore:             r.SeoScore,
		IssueCount:           len(issues),
		Issues:               strings.Join(labels, "|"),
		OutgoingLinks:        r.OutgoingLinks,
		CrawlTimestamp:       r.CrawlTimestamp.UTC().Format(time.RFC3339),
		CrawlQualityBucket:   model.CrawlQualityBucket(r.SeoScore),
	}
}

// fromExportRecord reverses toExportRecord. Issues are recovered from
// pipe-joined labels, falling back to [NotRetrieved] if empty and
// retrieval_status is not_retrieved; the score is recomputed only if the
// stored score is 0 and issues are non-empty, else the stored value is
// trusted — matching original_source's export_record_to_row exactly.
func fromExportRecord(e exportRecord) model.PageRecord {
	var issues []model.SeoIssue
	if strings.TrimSpace(e.Issues) != "" {
		for _, label := range strings.Split(e.Issues, "|") {
			if issue, ok := model.IssueFromLabel(strings.TrimSpace(label)); ok {
				issues = append(issues, issue)
			}
		}
	}
	if len(issues) == 0 && e.RetrievalStatus == string(model.NotRetrieved) {
		issues = []model.SeoIssue{model.IssueNotRetrieved}
	}

	score := e.SeoScore
	if score == 0 && len(issues) > 0 {
		score = model.ComputeSeoScore(issues)
	}

	ts, _ := time.Parse(time.RFC3339, e.CrawlTimestamp)

	return model.PageRecord{
		URL:                  e.URL,
		Status:               e.Status,
		MIME:                 e.MIME,
		RetrievalStatus:      model.RetrievalStatus(e.RetrievalStatus),
		Indexability:         model.Indexability(e.Indexability),
		Title:                e.Title,
		TitleLength:          e.TitleLength,
		Meta:                 e.Meta,
		MetaLength:           e.MetaLength,
		H1:                   e.H1,
		Canonical:            e.Canonical,
		WordCount:            e.WordCount,
		Size:                 e.Size,
		ResponseTimeMs:       e.ResponseTimeMs,
		LastModified:         e.LastModified,
		RedirectURL:          e.RedirectURL,
		RedirectType:         model.RedirectType(e.RedirectType),
		LinkCount:            e.LinkCount,
		InternalLinkCount:    e.InternalLinkCount,
		ExternalLinkCount:    e.ExternalLinkCount,
		H1Count:              e.H1Count,
		H2Count:              e.H2Count,
		ImageCount:           e.ImageCount,
		ImageMissingAltCount: e.ImageMissingAltCount,
		StructuredDataCount:  e.StructuredDataCount,
		SeoScore:             score,
		Issues:               issues,
		OutgoingLinks:        e.OutgoingLinks,
		CrawlTimestamp:       ts,
	}
}

// Sink is the unified write/flush/finalize contract spec §4.9 requires.
type Sink interface {
	Write(record model.PageRecord) error
	Flush() error
	Finalize() error
}

// New opens a sink of the given format writing to w.
func New(format Format, w io.Writer) (Sink, error) {
	switch format {
	case JSON:
		return newJSONSink(w), nil
	default:
		return newCSVSink(w)
	}
}

type csvSink struct {
	w   *csv.Writer
	buf *bufio.Writer
}

func newCSVSink(w io.Writer) (*csvSink, error) {
	buf := bufio.NewWriter(w)
	cw := csv.NewWriter(buf)
	if err := cw.Write(CSVHeaders); err != nil {
		return nil, err
	}
	return &csvSink{w: cw, buf: buf}, nil
}

func (s *csvSink) Write(record model.PageRecord) error {
	e := toExportRecord(record)
	row := []string{
		e.URL,
		strconv.Itoa(e.Status),
		e.MIME,
		e.RetrievalStatus,
		e.Indexability,
		e.Title,
		strconv.Itoa(e.TitleLength),
		e.Meta,
		strconv.Itoa(e.MetaLength),
		e.H1,
		e.Canonical,
		strconv.Itoa(e.WordCount),
		strconv.FormatInt(e.Size, 10),
		strconv.FormatInt(e.ResponseTimeMs, 10),
		e.LastModified,
		e.RedirectURL,
		e.RedirectType,
		strconv.Itoa(e.LinkCount),
		strconv.Itoa(e.InternalLinkCount),
		strconv.Itoa(e.ExternalLinkCount),
		strconv.Itoa(e.H1Count),
		strconv.Itoa(e.H2Count),
		strconv.Itoa(e.ImageCount),
		strconv.Itoa(e.ImageMissingAltCount),
		strconv.Itoa(e.StructuredDataCount),
		strconv.Itoa(e.SeoScore),
		strconv.Itoa(e.IssueCount),
		e.Issues,
		strings.Join(e.OutgoingLinks, "|"),
		e.CrawlTimestamp,
		e.CrawlQualityBucket,
	}
	return s.w.Write(row)
}

func (s *csvSink) Flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.buf.Flush()
}

// Finalize just flushes for CSV: there is no closing structure to write.
func (s *csvSink) Finalize() error {
	return s.Flush()
}

type jsonSink struct {
	w       *bufio.Writer
	first   bool
	closed  bool
}

func newJSONSink(w io.Writer) *jsonSink {
	buf := bufio.NewWriter(w)
	buf.WriteString("[\n")
	return &jsonSink{w: buf, first: true}
}

func (s *jsonSink) Write(record model.PageRecord) error {
	if s.closed {
		return fmt.Errorf("sink: write after finalize")
	}
	if !s.first {
		s.w.WriteString(",\n")
	}
	s.first = false
	enc := json.NewEncoder(s.w)
	return enc.Encode(toExportRecord(record))
}

func (s *jsonSink) Flush() error {
	return s.w.Flush()
}

// Finalize writes the closing bracket exactly once; subsequent calls are a
// no-op, matching spec §4.9/§9's "second call must be a no-op" and
// original_source's Drop-triggered idempotent finalize.
func (s *jsonSink) Finalize() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.first {
		s.w.WriteString("]\n")
	} else {
		s.w.WriteString("\n]\n")
	}
	return s.w.Flush()
}

// LoadRows reads every PageRecord back from r via format,
// accepting both JSON-array and JSON-lines inputs for JSON (spec §8).
func LoadRows(r io.Reader, format Format) ([]model.PageRecord, error) {
	if format == JSON {
		return loadRowsFromJSON(r)
	}
	return loadRowsFromCSV(r)
}

func loadRowsFromCSV(r io.Reader) ([]model.PageRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[normalizeHeaderName(name)] = i
	}

	get := func(row []string, name string) string {
		if i, ok := index[normalizeHeaderName(name)]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var out []model.PageRecord
	for _, row := range rows[1:] {
		status, _ := strconv.Atoi(get(row, "status"))
		retrievalStatus := get(row, "retrieval_status")
		if retrievalStatus == "" {
			if status == 0 {
				retrievalStatus = string(model.NotRetrieved)
			} else {
				retrievalStatus = string(model.Retrieved)
			}
		}
		e := exportRecord{
			URL:                  get(row, "url"),
			Status:               status,
			MIME:                 get(row, "mime"),
			RetrievalStatus:      retrievalStatus,
			Indexability:         get(row, "indexability"),
			Title:                get(row, "title"),
			TitleLength:          atoiOr0(get(row, "title_length")),
			Meta:                 get(row, "meta"),
			MetaLength:           atoiOr0(get(row, "meta_length")),
			H1:                   get(row, "h1"),
			Canonical:            get(row, "canonical"),
			WordCount:            atoiOr0(get(row, "word_count")),
			Size:                 atoi64Or0(get(row, "size")),
			ResponseTimeMs:       atoi64Or0(get(row, "response_time_ms")),
			LastModified:         get(row, "last_modified"),
			RedirectURL:          get(row, "redirect_url"),
			RedirectType:         get(row, "redirect_type"),
			LinkCount:            atoiOr0(get(row, "link_count")),
			InternalLinkCount:    atoiOr0(get(row, "internal_link_count")),
			ExternalLinkCount:    atoiOr0(get(row, "external_link_count")),
			H1Count:              atoiOr0(get(row, "h1_count")),
			H2Count:              atoiOr0(get(row, "h2_count")),
			ImageCount:           atoiOr0(get(row, "image_count")),
			ImageMissingAltCount: atoiOr0(get(row, "image_missing_alt_count")),
			StructuredDataCount:  atoiOr0(get(row, "structured_data_count")),
			SeoScore:             atoiOr0(get(row, "seo_score")),
			Issues:               get(row, "issues"),
			OutgoingLinks:        splitNonEmpty(get(row, "outgoing_links"), "|"),
			CrawlTimestamp:       get(row, "crawl_timestamp"),
		}
		out = append(out, fromExportRecord(e))
	}
	return out, nil
}

// normalizeHeaderName folds a couple of original_source's known header
// aliases (e.g. "word count" vs "word_count") onto the canonical name.
func normalizeHeaderName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(lower, " ", "_")
}

func loadRowsFromJSON(r io.Reader) ([]model.PageRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []exportRecord
		if err := json.Unmarshal([]byte(trimmed), &records); err == nil {
			out := make([]model.PageRecord, len(records))
			for i, e := range records {
				out[i] = fromExportRecord(e)
			}
			return out, nil
		}
	}

	// Fall back to JSON-lines.
	var out []model.PageRecord
	scanner := bufioScanner(trimmed)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimSuffix(line, ",")
		if line == "" || line == "[" || line == "]" {
			continue
		}
		var e exportRecord
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		out = append(out, fromExportRecord(e))
	}
	return out, nil
}

func bufioScanner(s string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(s))
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atoi64Or0(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
