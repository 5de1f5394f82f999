// Package fetchpool implements the fetch pool (spec §4.4): bounded
// concurrent HTTP retrieval with a per-URL retry budget and requeue rounds,
// grounded on original_source's fetch_missing_urls / process_single_url.
package fetchpool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/ramkansal/seosum/internal/analyzer"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/redirect"
	"github.com/ramkansal/seosum/internal/taskset"
	"github.com/ramkansal/seosum/internal/urlnorm"
)

// MaxConcurrency is the hard ceiling from spec §4.4/§6.4/§9.
const MaxConcurrency = 256

// Concurrency is the atomic, sanitized fetch_concurrency cell shared by the
// controller's control task and every fetch pool spawn point (spec §5).
type Concurrency struct {
	cell atomic.Int64
}

// NewConcurrency seeds the cell with an already-sanitized initial value.
func NewConcurrency(initial int) *Concurrency {
	c := &Concurrency{}
	c.Set(initial)
	return c
}

// Set clamps n to 1..=256 before storing it (spec §6.4).
func (c *Concurrency) Set(n int) {
	c.cell.Store(int64(Sanitize(n)))
}

// Load returns the current, already-clamped value.
func (c *Concurrency) Load() int {
	return int(c.cell.Load())
}

// Sanitize clamps a requested concurrency to the spec's 1..=256 band.
func Sanitize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// NewFetchClient builds the pool's primary fetch client: 30s total timeout,
// wrapped in a rehttp retry transport for transient connection-level
// failures (DNS flake, connection refused) — distinct from the explicit
// status-driven retry/requeue loop in ProcessSingleURL, which alone governs
// the 150ms/350ms*(q+1) timing contract spec §4.4 mandates.
func NewFetchClient() *http.Client {
	base := &http.Transport{MaxIdleConnsPerHost: 32}
	transport := rehttp.NewTransport(
		base,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(1),
			rehttp.RetryTemporaryErr(),
		),
		rehttp.ExpJitterDelay(100*time.Millisecond, time.Second),
	)
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

// Result carries the events of one processSingleURL task: a Page event per
// redirect hop, then the final Page or Unretrieved event (spec §4.4 step 3),
// which is absent when shutdown or cancellation cut the task short.
type Result struct {
	Events []model.CrawlEvent
}

// Pool runs process_single_url for a deduplicated URL set with bounded
// concurrency, forwarding every task's events as it completes.
type Pool struct {
	FetchClient    *http.Client
	RedirectClient *http.Client
	Concurrency    *Concurrency
	Retries        int // R >= 1, per-URL inner retry attempts
	RequeueRounds  int // Q >= 0, outer requeue rounds on 5xx
	RootHost       string
	HostScope      urlnorm.HostScope
	Shutdown       *atomic.Bool
}

// Run drains urls, emitting events onto out as each URL resolves. It
// returns when the queue and every in-flight task have drained, or
// immediately once shutdown is observed (after aborting and draining
// in-flight tasks), per spec §4.4/§5.
func (p *Pool) Run(ctx context.Context, urls []string, out chan<- model.CrawlEvent) {
	queue := dedup(urls)
	set := taskset.New[Result](ctx)
	defer set.Close()

	// pending counts spawned tasks whose Result has not been received yet;
	// set.Len() drops as soon as a task returns, before its Result is read.
	i := 0
	pending := 0
	for {
		if p.Shutdown != nil && p.Shutdown.Load() {
			set.AbortAll()
			set.Drain()
			return
		}

		for i < len(queue) && pending < p.Concurrency.Load() {
			url := queue[i]
			i++
			pending++
			set.Spawn(func(taskCtx context.Context) Result {
				return Result{Events: p.processSingleURL(taskCtx, url)}
			})
		}

		if i >= len(queue) && pending == 0 {
			return
		}

		select {
		case res := <-set.Results():
			pending--
			for _, ev := range res.Events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			set.AbortAll()
			set.Drain()
			return
		}
	}
}

func dedup(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// processSingleURL implements spec §4.4's process_single_url contract
// exactly: probe the redirect chain, emit hops, then retry/requeue the
// final fetch target per the R/Q timing contract.
func (p *Pool) processSingleURL(ctx context.Context, rawURL string) []model.CrawlEvent {
	var events []model.CrawlEvent

	hops, fetchURL, err := redirect.Probe(ctx, p.RedirectClient, rawURL, 8)
	for _, hop := range hops {
		events = append(events, model.PageEvent(hop.Record, nil))
	}
	if err != nil {
		fetchURL = rawURL
	}

	retries := p.Retries
	if retries < 1 {
		retries = 1
	}
	requeueRounds := p.RequeueRounds
	if requeueRounds < 0 {
		requeueRounds = 0
	}

	var page *fetchResult
	for q := 0; q <= requeueRounds; q++ {
		for attempt := 0; attempt < retries; attempt++ {
			if p.Shutdown != nil && p.Shutdown.Load() {
				return events
			}
			result := p.doFetch(ctx, fetchURL)
			page = &result
			if result.status < 500 {
				break
			}
			if attempt < retries-1 {
				select {
				case <-ctx.Done():
					return events
				case <-time.After(150 * time.Millisecond):
				}
			}
		}
		if page.status < 500 || q == requeueRounds {
			break
		}
		select {
		case <-ctx.Done():
			return events
		case <-time.After(time.Duration(350*(q+1)) * time.Millisecond):
		}
	}

	if page == nil {
		events = append(events, model.UnretrievedEvent(rawURL, "fallback fetch could not start"))
		return events
	}

	if page.status >= 500 && page.size == 0 {
		reason := fmt.Sprintf("http %d after %d retries and %d requeues", page.status, retries, requeueRounds)
		events = append(events, model.UnretrievedEvent(fetchURL, reason))
		return events
	}

	record, links := analyzer.Analyze(analyzer.FetchedPage{
		RequestedURL:   rawURL,
		FinalURL:       fetchURL,
		Status:         page.status,
		Headers:        page.headers,
		Body:           page.body,
		Size:           page.size,
		ResponseTimeMs: page.elapsedMs,
		RootHost:       p.RootHost,
	})
	filtered := urlnorm.FilterCrawlableLinksScoped(links, p.RootHost, p.HostScope)
	events = append(events, model.PageEvent(record, filtered))
	return events
}

// HTTPFetchClient adapts a plain *http.Client to the minimal Fetch(ctx, url)
// contract the browser discovery backend uses for its per-URL HTTP fallback
// fetches (header/timing capture for a rendered or skipped page, spec §4.3
// step 3).
type HTTPFetchClient struct {
	Client *http.Client
}

// Fetch performs a single GET and reports it as an analyzer.FetchedPage, with
// FinalURL following Go's http.Client redirect handling (the caller is
// expected to have already resolved any redirect chain via internal/redirect
// when chain-level detail matters).
func (h HTTPFetchClient) Fetch(ctx context.Context, targetURL string) (analyzer.FetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return analyzer.FetchedPage{}, err
	}
	start := time.Now()
	resp, err := h.Client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return analyzer.FetchedPage{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return analyzer.FetchedPage{}, err
	}

	return analyzer.FetchedPage{
		RequestedURL:   targetURL,
		FinalURL:       resp.Request.URL.String(),
		Status:         resp.StatusCode,
		Headers:        resp.Header,
		Body:           string(body),
		Size:           int64(len(body)),
		ResponseTimeMs: elapsed.Milliseconds(),
	}, nil
}

type fetchResult struct {
	status    int
	headers   http.Header
	body      string
	size      int64
	elapsedMs int64
}

func (p *Pool) doFetch(ctx context.Context, targetURL string) fetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return fetchResult{status: 0}
	}

	start := time.Now()
	resp, err := p.FetchClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return fetchResult{status: 0, elapsedMs: elapsed.Milliseconds()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return fetchResult{
		status:    resp.StatusCode,
		headers:   resp.Header,
		body:      string(body),
		size:      int64(len(body)),
		elapsedMs: elapsed.Milliseconds(),
	}
}
