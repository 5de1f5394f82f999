// Package browserd implements the browser discovery backend (spec §4.3): a
// rendered BFS driven over a single WebDriver session. go-rod/launcher is
// used only for the local-process concern — discovering an installed browser
// binary and spawning its companion WebDriver server when the operator has
// not pointed the crawl at an already-running remote endpoint (see
// DESIGN.md). Every session/navigate/script/delete call itself goes through
// internal/webdriver's literal W3C JSON adapter, grounded on
// original_source/src/app/crawl.rs's browser_discovery_loop.
package browserd

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/ramkansal/seosum/internal/analyzer"
	"github.com/ramkansal/seosum/internal/fetchpool"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/procguard"
	"github.com/ramkansal/seosum/internal/redirect"
	"github.com/ramkansal/seosum/internal/urlnorm"
	"github.com/ramkansal/seosum/internal/webdriver"
)

// LocalLaunch looks up a local browser binary via go-rod/launcher and starts
// the requested browser's companion WebDriver server on an ephemeral local
// port with that binary, returning the endpoint and a guard that must be
// released on shutdown. launcher.LookPath finds Chrome/Chromium-family
// binaries only, whichever browser is requested; no Firefox, Edge, or Safari
// binary is looked up.
func LocalLaunch(browser webdriver.Browser, headless bool) (baseURL string, guard *procguard.Guard, err error) {
	path, ok := launcher.LookPath()
	if !ok {
		return "", nil, fmt.Errorf("browserd: no local %s binary found", browser)
	}

	port, err := freeLocalPort()
	if err != nil {
		return "", nil, err
	}

	driverBinary := driverCompanionName(browser)
	cmd := exec.Command(driverBinary,
		fmt.Sprintf("--port=%d", port),
		"--binary="+path,
	)
	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("browserd: starting %s: %w", driverBinary, err)
	}

	guard = procguard.New(cmd)
	baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	return baseURL, guard, nil
}

func driverCompanionName(browser webdriver.Browser) string {
	switch browser {
	case webdriver.Firefox:
		return "geckodriver"
	case webdriver.Edge:
		return "msedgedriver"
	default:
		return "chromedriver"
	}
}

func freeLocalPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Config parameterizes one browser discovery run (spec §4.3).
type Config struct {
	BaseURL     string
	Browser     webdriver.Browser
	Headless    bool
	SeedURL     string
	RootHost    string
	HostScope   urlnorm.HostScope
	MaxDepth    int // 0 = unlimited
	SeedURLs    []string
	Concurrency *fetchpool.Concurrency
	HTTPClient  interface {
		Fetch(ctx context.Context, url string) (analyzer.FetchedPage, error)
	}
}

type queueItem struct {
	url   string
	depth int
}

// Run drives the rendered BFS to completion, emitting events onto out. It
// returns "crawl canceled by user" as its error if shutdown is observed.
func Run(ctx context.Context, cfg Config, out chan<- model.CrawlEvent, isShutdown func() bool) error {
	client := webdriver.NewClient(cfg.BaseURL)
	sessionID, err := client.CreateSession(ctx, cfg.Browser, cfg.Headless)
	if err != nil {
		return fmt.Errorf("browserd: create session: %w", err)
	}
	defer client.DeleteSession(ctx, sessionID)

	probeClient := redirect.NewProbeClient()

	seed, ok := urlnorm.Normalize(cfg.SeedURL)
	if !ok {
		seed = cfg.SeedURL
	}
	queue := []queueItem{{url: seed, depth: 0}}
	discovered := map[string]bool{seed: true}
	for _, s := range cfg.SeedURLs {
		if normalized, ok := urlnorm.Normalize(s); ok && !discovered[normalized] {
			discovered[normalized] = true
			queue = append(queue, queueItem{url: normalized, depth: 0})
		}
	}

	visited := map[string]bool{}
	visitCount := 0

	pending := newInFlightTracker()

	for len(queue) > 0 {
		if isShutdown != nil && isShutdown() {
			pending.abortAll()
			pending.drain()
			return fmt.Errorf("crawl canceled by user")
		}
		select {
		case <-ctx.Done():
			pending.abortAll()
			pending.drain()
			return ctx.Err()
		default:
		}

		item := queue[0]
		queue = queue[1:]
		if visited[item.url] {
			continue
		}
		visited[item.url] = true

		// Only the redirect chain itself is recorded here; the browser still
		// navigates to the originally queued URL (spec §4.3), not the
		// probe-resolved target.
		hops, _, _ := redirect.Probe(ctx, probeClient, item.url, 8)
		for _, hop := range hops {
			emit(ctx, out, model.PageEvent(hop.Record, nil))
		}

		if err := client.Navigate(ctx, sessionID, item.url); err != nil {
			spawnFetch(ctx, cfg, pending, item.url, out)
			continue
		}

		links, err := client.ExtractLinks(ctx, sessionID)
		if err != nil {
			emit(ctx, out, model.ErrorEvent(fmt.Sprintf("browserd: extract links %s: %v", item.url, err)))
			spawnFetch(ctx, cfg, pending, item.url, out)
			continue
		}

		snapshot, err := client.RenderedSnapshot(ctx, sessionID)
		if err != nil || snapshot.URL == "" || snapshot.HTML == "" {
			emit(ctx, out, model.ErrorEvent(fmt.Sprintf("browserd: rendered snapshot %s: %v", item.url, err)))
			spawnFetch(ctx, cfg, pending, item.url, out)
		} else {
			emitRenderedPage(ctx, cfg, snapshot, links, out)
		}

		visitCount++
		if visitCount%10 == 0 {
			emit(ctx, out, model.StatsEvent(len(discovered)))
		}

		filtered := urlnorm.FilterCrawlableLinksScoped(links, cfg.RootHost, cfg.HostScope)
		for _, link := range filtered {
			if discovered[link] {
				continue
			}
			discovered[link] = true
			nextDepth := item.depth + 1
			if cfg.MaxDepth == 0 || nextDepth < cfg.MaxDepth {
				queue = append(queue, queueItem{url: link, depth: nextDepth})
			} else {
				spawnFetch(ctx, cfg, pending, link, out)
			}
		}
	}

	pending.drain()
	return nil
}

func emitRenderedPage(ctx context.Context, cfg Config, snapshot webdriver.Snapshot, links []string, out chan<- model.CrawlEvent) {
	if cfg.HTTPClient == nil {
		return
	}
	fetched, err := cfg.HTTPClient.Fetch(ctx, snapshot.URL)
	if err != nil {
		emit(ctx, out, model.UnretrievedEvent(snapshot.URL, err.Error()))
		return
	}
	fetched.FetcherLinks = links
	fetched.RootHost = cfg.RootHost
	record, discoveredLinks := analyzer.Analyze(fetched)
	record = analyzer.OverlayRenderedHTML(record, snapshot.HTML, cfg.RootHost)
	emit(ctx, out, model.PageEvent(record, urlnorm.FilterCrawlableLinksScoped(discoveredLinks, cfg.RootHost, cfg.HostScope)))
}

func spawnFetch(ctx context.Context, cfg Config, pending *inFlightTracker, url string, out chan<- model.CrawlEvent) {
	if cfg.Concurrency != nil {
		pending.waitBelow(ctx, cfg.Concurrency.Load())
	}
	pending.spawn(func() {
		if cfg.HTTPClient == nil {
			return
		}
		fetched, err := cfg.HTTPClient.Fetch(ctx, url)
		if err != nil {
			emit(ctx, out, model.UnretrievedEvent(url, err.Error()))
			return
		}
		fetched.RootHost = cfg.RootHost
		record, discoveredLinks := analyzer.Analyze(fetched)
		emit(ctx, out, model.PageEvent(record, urlnorm.FilterCrawlableLinksScoped(discoveredLinks, cfg.RootHost, cfg.HostScope)))
	})
}

func emit(ctx context.Context, out chan<- model.CrawlEvent, ev model.CrawlEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// inFlightTracker is a minimal wait-group-based concurrency gate for the
// per-URL fetches spawned while the main BFS loop continues (spec §4.3
// step 3's "spawn a per-URL fetch").
type inFlightTracker struct {
	count chan struct{}
	done  chan struct{}
}

func newInFlightTracker() *inFlightTracker {
	return &inFlightTracker{count: make(chan struct{}, 4096), done: make(chan struct{}, 4096)}
}

func (t *inFlightTracker) waitBelow(ctx context.Context, limit int) {
	for len(t.count) >= limit {
		select {
		case <-t.done:
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (t *inFlightTracker) spawn(fn func()) {
	t.count <- struct{}{}
	go func() {
		defer func() {
			<-t.count
			select {
			case t.done <- struct{}{}:
			default:
			}
		}()
		fn()
	}()
}

func (t *inFlightTracker) abortAll() {
	// Best-effort: in-flight fetches observe ctx.Done() in their own HTTP
	// client call and return promptly.
}

func (t *inFlightTracker) drain() {
	for len(t.count) > 0 {
		time.Sleep(5 * time.Millisecond)
	}
}
