// Package httpd implements the HTTP discovery backend (spec §4.2): a colly
// crawl of the seed origin, grounded on the teacher's
// internal/fetcher.HTTPFetcher, feeding a subscription-style page stream
// that a consumer turns into CrawlEvents.
package httpd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/ramkansal/seosum/internal/analyzer"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/redirect"
	"github.com/ramkansal/seosum/internal/urlnorm"
	"github.com/temoto/robotstxt"
)

const (
	maxSitemapSources    = 8
	maxURLsPerSitemap    = 5000
	defaultChannelCap    = 256
)

// Config parameterizes one HTTP discovery run (spec §4.2).
type Config struct {
	StartURL        string
	RootHost        string
	HostScope       urlnorm.HostScope
	MaxDepth        int // 0 = unlimited
	SeedFromSitemap bool
	ChannelCapacity int
	UserAgent       string
	Concurrency     int
}

// page is one delivered colly response, queued on the internal subscription
// before the consumer turns it into CrawlEvents.
type page struct {
	requestedURL string
	finalURL     string
	status       int
	headers      http.Header
	body         string
	elapsedMs    int64
	fetcherLinks []string
}

// bus is a bounded subscription standing in for the Rust tokio broadcast
// channel: the producer never blocks — once the buffer is full, the oldest
// undelivered page is dropped and lagged is incremented, matching the
// Lagged(n) semantics spec §4.2 describes.
type bus struct {
	mu      sync.Mutex
	buf     []page
	cap     int
	lagged  int
	closed  bool
	notify  chan struct{}
}

func newBus(capacity int) *bus {
	if capacity < 1 {
		capacity = 1
	}
	return &bus{cap: capacity, notify: make(chan struct{}, 1)}
}

func (b *bus) publish(p page) {
	b.mu.Lock()
	if len(b.buf) >= b.cap {
		b.buf = b.buf[1:]
		b.lagged++
	}
	b.buf = append(b.buf, p)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *bus) closeBus() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take pops every currently buffered page (FIFO) and the lag count observed
// since the last call, or reports closed+empty.
func (b *bus) take() (pages []page, lagged int, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pages = b.buf
	b.buf = nil
	lagged = b.lagged
	b.lagged = 0
	closed = b.closed
	return
}

// Run drives the HTTP discovery backend to completion, emitting events onto
// out. It returns when discovery finishes, the context is cancelled, or
// shutdown is observed.
func Run(ctx context.Context, cfg Config, out chan<- model.CrawlEvent, isShutdown func() bool) {
	capacity := cfg.ChannelCapacity
	if capacity < 1 {
		capacity = defaultChannelCap
	}
	b := newBus(capacity)

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		runProducer(ctx, cfg, b, isShutdown)
	}()

	runConsumer(ctx, cfg, b, out, isShutdown)
	<-producerDone
}

func runProducer(ctx context.Context, cfg Config, b *bus, isShutdown func() bool) {
	defer b.closeBus()

	var seeds []string
	if cfg.SeedFromSitemap {
		seeds = collectSitemapSeeds(ctx, cfg.StartURL, cfg.RootHost)
	}

	opts := []colly.CollectorOption{
		colly.MaxDepth(cfg.MaxDepth),
		colly.Async(true),
	}
	if cfg.HostScope == urlnorm.ScopeExactHost {
		// Broader scopes are enforced by the OnHTML same-host gate below;
		// colly's own AllowedDomains only knows exact hostnames.
		opts = append(opts, colly.AllowedDomains(cfg.RootHost, "www."+cfg.RootHost))
	}
	c := colly.NewCollector(opts...)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	parallelism := cfg.Concurrency
	if parallelism < 1 {
		parallelism = 8
	}
	_ = c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: parallelism})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if isShutdown != nil && isShutdown() {
			return
		}
		href := e.Attr("href")
		resolved, ok := urlnorm.ResolveHref(e.Request.URL, href)
		if !ok {
			return
		}
		normalized, ok := urlnorm.Normalize(resolved)
		if !ok || !urlnorm.IsSameHostScoped(normalized, cfg.RootHost, cfg.HostScope) {
			return
		}
		_ = e.Request.Visit(normalized)
	})

	c.OnResponse(func(r *colly.Response) {
		if isShutdown != nil && isShutdown() {
			return
		}
		requested := r.Request.URL.String()
		b.publish(page{
			requestedURL: requested,
			finalURL:     requested,
			status:       r.StatusCode,
			headers:      *r.Headers,
			body:         string(r.Body),
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		if isShutdown != nil && isShutdown() {
			return
		}
		status := 0
		var hdr http.Header
		requested := cfg.StartURL
		if r != nil {
			status = r.StatusCode
			hdr = *r.Headers
			requested = r.Request.URL.String()
		}
		b.publish(page{requestedURL: requested, finalURL: requested, status: status, headers: hdr})
	})

	if err := c.Visit(cfg.StartURL); err != nil && !strings.Contains(err.Error(), "already visited") {
		b.publish(page{requestedURL: cfg.StartURL, finalURL: cfg.StartURL, status: 0})
	}
	for _, seed := range seeds {
		if isShutdown != nil && isShutdown() {
			break
		}
		_ = c.Visit(seed)
	}

	c.Wait()
}

func runConsumer(ctx context.Context, cfg Config, b *bus, out chan<- model.CrawlEvent, isShutdown func() bool) {
	probeClient := redirect.NewProbeClient()

	for {
		if isShutdown != nil && isShutdown() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		case <-time.After(200 * time.Millisecond):
		}

		pages, lagged, closed := b.take()
		if lagged > 0 {
			emit(ctx, out, model.ErrorEvent(fmt.Sprintf("discovery subscription lagged by %d pages; increase channel capacity", lagged)))
		}
		for _, p := range pages {
			if isShutdown != nil && isShutdown() {
				return
			}
			handlePage(ctx, cfg, probeClient, p, out)
		}
		if closed && len(pages) == 0 {
			return
		}
	}
}

func handlePage(ctx context.Context, cfg Config, probeClient *http.Client, p page, out chan<- model.CrawlEvent) {
	finalURL := p.finalURL
	if p.requestedURL != p.finalURL {
		hops, resolved, err := redirect.Probe(ctx, probeClient, p.requestedURL, 8)
		for _, hop := range hops {
			emit(ctx, out, model.PageEvent(hop.Record, nil))
		}
		if err == nil {
			finalURL = resolved
		}
	}

	record, links := analyzer.Analyze(analyzer.FetchedPage{
		RequestedURL: p.requestedURL,
		FinalURL:     finalURL,
		Status:       p.status,
		Headers:      p.headers,
		Body:         p.body,
		Size:         int64(len(p.body)),
		RootHost:     cfg.RootHost,
	})
	filtered := urlnorm.FilterCrawlableLinksScoped(links, cfg.RootHost, cfg.HostScope)
	emit(ctx, out, model.PageEvent(record, filtered))
}

func emit(ctx context.Context, out chan<- model.CrawlEvent, ev model.CrawlEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// collectSitemapSeeds reads /sitemap.xml plus every Sitemap: line of
// /robots.txt (up to maxSitemapSources in all), and collects same-host URLs
// (up to maxURLsPerSitemap per source), per spec §4.2. If robots.txt cannot
// be read, /sitemap.xml is still used.
func collectSitemapSeeds(ctx context.Context, startURL, rootHost string) []string {
	origin := strings.TrimRight(rootOrigin(startURL), "/")
	sitemapXML := origin + "/sitemap.xml"
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return fetchSitemapURLs(ctx, sitemapXML, rootHost)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fetchSitemapURLs(ctx, sitemapXML, rootHost)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetchSitemapURLs(ctx, sitemapXML, rootHost)
	}

	robotsData, err := robotstxt.FromBytes(body)
	if err != nil || robotsData == nil {
		return fetchSitemapURLs(ctx, sitemapXML, rootHost)
	}

	var seeds []string
	sources := append([]string{sitemapXML}, extractSitemapLines(string(body))...)
	if len(sources) > maxSitemapSources {
		sources = sources[:maxSitemapSources]
	}
	for _, sitemapURL := range sources {
		seeds = append(seeds, fetchSitemapURLs(ctx, sitemapURL, rootHost)...)
	}
	return seeds
}

func extractSitemapLines(robotsBody string) []string {
	var out []string
	for _, line := range strings.Split(robotsBody, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "sitemap:") {
			out = append(out, strings.TrimSpace(line[len("sitemap:"):]))
		}
	}
	return out
}

func fetchSitemapURLs(ctx context.Context, sitemapURL, rootHost string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var urls []string
	for _, loc := range extractLocTags(string(body)) {
		normalized, ok := urlnorm.Normalize(loc)
		if !ok || !urlnorm.IsSameHost(normalized, rootHost) {
			continue
		}
		urls = append(urls, normalized)
		if len(urls) >= maxURLsPerSitemap {
			break
		}
	}
	return urls
}

func extractLocTags(xmlBody string) []string {
	var out []string
	remaining := xmlBody
	for {
		start := strings.Index(remaining, "<loc>")
		if start == -1 {
			break
		}
		remaining = remaining[start+len("<loc>"):]
		end := strings.Index(remaining, "</loc>")
		if end == -1 {
			break
		}
		out = append(out, strings.TrimSpace(remaining[:end]))
		remaining = remaining[end+len("</loc>"):]
	}
	return out
}

func rootOrigin(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx == -1 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	end := strings.IndexAny(rest, "/?#")
	if end == -1 {
		return rawURL
	}
	return rawURL[:idx+3+end]
}
