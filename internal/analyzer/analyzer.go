// Package analyzer implements the page analyzer (spec §4.6): given a fetched
// page it produces a model.PageRecord and its outgoing links. Grounded on the
// teacher's goquery usage in internal/extractor/{links,metadata}.go,
// generalized with the exact thresholds and vocabulary from
// original_source/src/app/crawl.rs (page_to_row, collect_row_issues,
// compute_seo_score).
package analyzer

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/urlnorm"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// FetchedPage is the minimal input the analyzer needs from any fetcher
// (HTTP, WebDriver-rendered overlay, or redirect probe final hop).
type FetchedPage struct {
	RequestedURL   string
	FinalURL       string
	Status         int
	Headers        http.Header
	Body           string // raw (or rendered) HTML
	Size           int64
	ResponseTimeMs int64
	FetcherLinks   []string // links the fetcher itself is aware of (e.g. browser network log)
	RootHost       string
}

const (
	minTitleLength = 15
	maxTitleLength = 60
	minMetaLength  = 70
	maxMetaLength  = 160
	minWordCount   = 120
	maxExternalLinks = 60
)

// Analyze parses the page, builds its PageRecord, and returns the
// deduplicated outgoing links discovered on it.
func Analyze(page FetchedPage) (model.PageRecord, []string) {
	requested, ok := urlnorm.Normalize(page.RequestedURL)
	if !ok {
		requested = page.RequestedURL
	}
	final := requested
	if page.FinalURL != "" {
		if normalized, ok := urlnorm.Normalize(page.FinalURL); ok {
			final = normalized
		}
	}
	isRedirect := page.Status >= 300 && page.Status < 400
	isFollowedRedirect := requested != final

	rowURL := requested
	if !isRedirect && isFollowedRedirect {
		rowURL = final
	}

	retrievalStatus := model.Retrieved
	isHTML := looksLikeHTML(page.Headers, page.Body)
	body := decodeNonUTF8(page.Body, page.Headers)

	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(body))
	var baseURL *url.URL
	if parsed, err := url.Parse(rowURL); err == nil {
		baseURL = parsed
	}

	title := ""
	meta := ""
	h1 := ""
	canonical := ""
	h1Count, h2Count := 0, 0
	imageCount, imageMissingAlt := 0, 0
	structuredDataCount := 0
	wordCount := 0
	var links []string
	internalCount, externalCount := 0, 0
	noindex := false

	if doc != nil && isHTML {
		title = extractTitle(doc)
		meta = extractMetaDescription(doc)
		h1 = extractFirstH1(doc)
		h1Count = doc.Find("h1").Length()
		h2Count = doc.Find("h2").Length()
		canonical = extractCanonical(doc, baseURL)
		imageCount, imageMissingAlt = imageAltStats(doc)
		structuredDataCount = countStructuredDataBlocks(doc)
		wordCount = countWords(doc)
		links, internalCount, externalCount = extractLinksWithBreakdown(doc, baseURL, page.RootHost)
		noindex = hasNoindex(doc, page.Headers)
	}

	mimeType := mimeFromHeaders(page.Headers)
	if mimeType == "" {
		mimeType = inferMime(rowURL, body)
	}

	discoveredLinks := dedupPreserveOrder(append(append([]string{}, page.FetcherLinks...), links...))

	redirectURL := ""
	redirectType := model.RedirectNone
	if isRedirect {
		redirectType = model.ClassifyRedirect(page.Status)
		if isFollowedRedirect {
			redirectURL = final
		}
	}

	indexability := model.NonIndexable
	if page.Status >= 200 && page.Status < 300 && !noindex {
		indexability = model.Indexable
	}

	issues := collectRowIssues(page.Status, retrievalStatus, isHTML, noindex, len(title), len(meta), h1Count, canonical, wordCount, imageMissingAlt, externalCount)
	issues = model.DedupIssues(issues)

	record := model.PageRecord{
		URL:                  rowURL,
		Status:               page.Status,
		MIME:                 mimeType,
		RetrievalStatus:      retrievalStatus,
		Indexability:         indexability,
		Title:                title,
		TitleLength:          len(title),
		Meta:                 meta,
		MetaLength:           len(meta),
		H1:                   h1,
		Canonical:            canonical,
		WordCount:            wordCount,
		Size:                 page.Size,
		ResponseTimeMs:       page.ResponseTimeMs,
		LastModified:         page.Headers.Get("Last-Modified"),
		RedirectURL:          redirectURL,
		RedirectType:         redirectType,
		LinkCount:            internalCount + externalCount,
		InternalLinkCount:    internalCount,
		ExternalLinkCount:    externalCount,
		H1Count:              h1Count,
		H2Count:              h2Count,
		ImageCount:           imageCount,
		ImageMissingAltCount: imageMissingAlt,
		StructuredDataCount:  structuredDataCount,
		Issues:               issues,
		SeoScore:             model.ComputeSeoScore(issues),
		CrawlTimestamp:       time.Now(),
	}
	return record, discoveredLinks
}

// OverlayRenderedHTML re-derives content signals from a browser-rendered
// HTML snapshot and overwrites them onto an existing record (spec §4.3 step
// 3), grounded on original_source's apply_rendered_html_to_row. Title is
// only overwritten when the rendered value is non-empty.
func OverlayRenderedHTML(record model.PageRecord, renderedHTML string, rootHost string) model.PageRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(renderedHTML))
	if err != nil {
		return record
	}
	var baseURL *url.URL
	if parsed, err := url.Parse(record.URL); err == nil {
		baseURL = parsed
	}

	if title := extractTitle(doc); title != "" {
		record.Title = title
		record.TitleLength = len(title)
	}
	record.Meta = extractMetaDescription(doc)
	record.MetaLength = len(record.Meta)
	record.H1 = extractFirstH1(doc)
	record.H1Count = doc.Find("h1").Length()
	record.H2Count = doc.Find("h2").Length()
	record.Canonical = extractCanonical(doc, baseURL)
	record.WordCount = countWords(doc)
	record.Size = int64(len(renderedHTML))
	record.ImageCount, record.ImageMissingAltCount = imageAltStats(doc)
	record.StructuredDataCount = countStructuredDataBlocks(doc)

	links, internalCount, externalCount := extractLinksWithBreakdown(doc, baseURL, rootHost)
	record.LinkCount = internalCount + externalCount
	record.InternalLinkCount = internalCount
	record.ExternalLinkCount = externalCount
	record.OutgoingLinks = dedupPreserveOrder(links)

	record.MIME = "text/html"

	noindex := hasNoindexMeta(doc)
	indexability := model.NonIndexable
	if record.Status >= 200 && record.Status < 300 && !noindex {
		indexability = model.Indexable
	}
	record.Indexability = indexability

	issues := collectRowIssues(record.Status, record.RetrievalStatus, true, noindex, record.TitleLength, record.MetaLength, record.H1Count, record.Canonical, record.WordCount, record.ImageMissingAltCount, record.ExternalLinkCount)
	record.Issues = model.DedupIssues(issues)
	record.SeoScore = model.ComputeSeoScore(record.Issues)

	return record
}

// collectRowIssues mirrors original_source's collect_row_issues exactly.
func collectRowIssues(status int, retrievalStatus model.RetrievalStatus, isHTML, noindex bool, titleLength, metaLength, h1Count int, canonical string, wordCount, imageMissingAlt, externalLinkCount int) []model.SeoIssue {
	if retrievalStatus != model.Retrieved {
		return []model.SeoIssue{model.IssueNotRetrieved}
	}

	var issues []model.SeoIssue
	if status >= 400 && status < 500 {
		issues = append(issues, model.IssueHttp4xx)
	}
	if status >= 500 && status < 600 {
		issues = append(issues, model.IssueHttp5xx)
	}

	if !isHTML || status < 200 || status >= 300 {
		return issues
	}

	if noindex {
		issues = append(issues, model.IssueNoindex)
	}

	switch {
	case titleLength == 0:
		issues = append(issues, model.IssueMissingTitle)
	case titleLength < minTitleLength:
		issues = append(issues, model.IssueTitleTooShort)
	case titleLength > maxTitleLength:
		issues = append(issues, model.IssueTitleTooLong)
	}

	switch {
	case metaLength == 0:
		issues = append(issues, model.IssueMissingMetaDescription)
	case metaLength < minMetaLength:
		issues = append(issues, model.IssueMetaDescriptionTooShort)
	case metaLength > maxMetaLength:
		issues = append(issues, model.IssueMetaDescriptionTooLong)
	}

	switch {
	case h1Count == 0:
		issues = append(issues, model.IssueMissingH1)
	case h1Count > 1:
		issues = append(issues, model.IssueMultipleH1)
	}

	if strings.TrimSpace(canonical) == "" {
		issues = append(issues, model.IssueMissingCanonical)
	}
	if wordCount < minWordCount {
		issues = append(issues, model.IssueLowWordCount)
	}
	if imageMissingAlt > 0 {
		issues = append(issues, model.IssueImagesMissingAlt)
	}
	if externalLinkCount > maxExternalLinks {
		issues = append(issues, model.IssueTooManyExternalLinks)
	}

	return issues
}

// decodeNonUTF8 best-effort transcodes body to UTF-8 before HTML parsing.
// goquery/x/net's HTML tokenizer assumes UTF-8, so a declared or sniffed
// non-UTF-8 charset is transcoded first rather than fed through unmodified.
func decodeNonUTF8(body string, headers http.Header) string {
	declared := ""
	if headers != nil {
		if _, params, err := mime.ParseMediaType(headers.Get("Content-Type")); err == nil {
			declared = strings.ToLower(params["charset"])
		}
	}
	if declared == "utf-8" || declared == "utf8" {
		return body
	}
	if declared == "" {
		detector := chardet.NewTextDetector()
		result, err := detector.DetectBest([]byte(body))
		if err != nil || result == nil {
			return body
		}
		declared = strings.ToLower(result.Charset)
	}
	if declared == "" || declared == "utf-8" || declared == "utf8" || declared == "ascii" || declared == "us-ascii" {
		return body
	}
	reader, err := charset.NewReaderLabel(declared, strings.NewReader(body))
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(reader)
	if err != nil || len(decoded) == 0 {
		return body
	}
	return string(decoded)
}

func extractTitle(doc *goquery.Document) string {
	if t := normalizeText(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := extractMetaContent(doc, "og:title"); t != "" {
		return t
	}
	if t := extractMetaContent(doc, "twitter:title"); t != "" {
		return t
	}
	return extractFirstH1(doc)
}

func extractMetaDescription(doc *goquery.Document) string {
	if m := extractMetaContent(doc, "description"); m != "" {
		return m
	}
	if m := extractMetaContent(doc, "og:description"); m != "" {
		return m
	}
	return extractMetaContent(doc, "twitter:description")
}

func extractMetaContent(doc *goquery.Document, name string) string {
	var content string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		attrName, _ := s.Attr("name")
		attrProp, _ := s.Attr("property")
		if strings.EqualFold(attrName, name) || strings.EqualFold(attrProp, name) {
			c, _ := s.Attr("content")
			content = normalizeText(c)
			return false
		}
		return true
	})
	return content
}

func extractFirstH1(doc *goquery.Document) string {
	return normalizeText(doc.Find("h1").First().Text())
}

func extractCanonical(doc *goquery.Document, base *url.URL) string {
	href, exists := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !exists || href == "" {
		return ""
	}
	if resolved, ok := urlnorm.ResolveHref(base, href); ok {
		return resolved
	}
	return href
}

func imageAltStats(doc *goquery.Document) (count, missingAlt int) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		count++
		alt, exists := s.Attr("alt")
		if !exists || strings.TrimSpace(alt) == "" {
			missingAlt++
		}
	})
	return
}

func countStructuredDataBlocks(doc *goquery.Document) int {
	count := 0
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) != "" {
			count++
		}
	})
	return count
}

func countWords(doc *goquery.Document) int {
	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	return len(strings.Fields(text))
}

func extractLinksWithBreakdown(doc *goquery.Document, base *url.URL, rootHost string) ([]string, int, int) {
	seen := make(map[string]bool)
	var links []string
	internal, external := 0, 0

	doc.Find(`link[rel="alternate"][href], link[hreflang][href], a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		resolved, ok := urlnorm.ResolveHref(base, href)
		if !ok || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
		if urlnorm.IsSameHost(resolved, rootHost) {
			internal++
		} else {
			external++
		}
	})

	return links, internal, external
}

func hasNoindex(doc *goquery.Document, headers http.Header) bool {
	if headers != nil && strings.Contains(strings.ToLower(headers.Get("X-Robots-Tag")), "noindex") {
		return true
	}
	return hasNoindexMeta(doc)
}

func hasNoindexMeta(doc *goquery.Document) bool {
	found := false
	doc.Find(`meta[name="robots"], meta[name="googlebot"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ := s.Attr("content")
		if strings.Contains(strings.ToLower(content), "noindex") {
			found = true
			return false
		}
		return true
	})
	return found
}

func looksLikeHTML(headers http.Header, body string) bool {
	if headers != nil {
		ct := strings.ToLower(headers.Get("Content-Type"))
		if ct != "" {
			return strings.Contains(ct, "text/html")
		}
	}
	lower := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(lower, "<html") || strings.HasPrefix(lower, "<!doctype html") || strings.Contains(lower[:min(len(lower), 512)], "<body")
}

func mimeFromHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	ct := headers.Get("Content-Type")
	if ct == "" {
		return ""
	}
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(ct)
}

// inferMime mirrors original_source's infer_mime_from_page: extension-based
// first, then body-prologue sniff, else "unknown".
func inferMime(pageURL, body string) string {
	lower := strings.ToLower(pageURL)
	byExt := map[string]string{
		".xml":  "application/xml",
		".json": "application/json",
		".pdf":  "application/pdf",
		".css":  "text/css",
		".js":   "application/javascript",
		".svg":  "image/svg+xml",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".webp": "image/webp",
	}
	for ext, mimeType := range byExt {
		if strings.HasSuffix(lower, ext) {
			return mimeType
		}
	}
	bodyLower := strings.ToLower(strings.TrimSpace(body))
	prefixLen := min(len(bodyLower), 512)
	if strings.HasPrefix(bodyLower, "<html") || strings.HasPrefix(bodyLower, "<!doctype html") || strings.Contains(bodyLower[:prefixLen], "<body") {
		return "text/html"
	}
	return "unknown"
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupPreserveOrder(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
