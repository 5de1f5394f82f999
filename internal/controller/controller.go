// Package controller implements the crawl controller (spec §4.1): backend
// selection, gap reconciliation, and the post-finish retry loop. It
// generalizes the teacher's internal/crawler.Crawler worker-pool/queue shape
// into the spec's state machine.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ramkansal/seosum/internal/discovery/browserd"
	"github.com/ramkansal/seosum/internal/discovery/httpd"
	"github.com/ramkansal/seosum/internal/fetchpool"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/urlnorm"
	"github.com/ramkansal/seosum/internal/webdriver"
)

// controlTick is the polling interval for the post-finish retry loop
// (spec §4.1 step 4).
const controlTick = 120 * time.Millisecond

// Config gathers every tunable the controller's startup sequence needs.
type Config struct {
	SeedURL         string
	RootHost        string
	HostScope       urlnorm.HostScope
	UseWebDriver    bool
	WebDriverRequired bool
	PreferredBrowser webdriver.Browser
	EnableFallbacks  bool
	WebDriverBaseURL string // empty => launch locally
	Headless         bool
	MaxDepth         int
	SeedFromSitemap  bool
	ChannelCapacity  int
	UserAgent        string
	Retries          int
	RequeueRounds    int
	InitialConcurrency int
}

// Controller owns the process-wide shutdown flag and the fetch-pool
// concurrency cell shared across every backend and the retry loop.
type Controller struct {
	cfg         Config
	shutdown    atomic.Bool
	concurrency *fetchpool.Concurrency
	state       *model.AppState

	// gapSeen/gapFailed/gapDiscovered are the controller's own record of
	// what runDiscovery has emitted so far. They are populated exclusively
	// by the forwarder goroutine started in runDiscovery and only read
	// after that goroutine's done channel closes, so no lock is needed:
	// the close-of-channel establishes the happens-before edge. This
	// tracking is independent of c.state, which an external consumer (the
	// CLI's event loop) applies on its own schedule — reconcile must never
	// depend on that external application having already happened.
	gapSeen       map[string]bool
	gapFailed     map[string]bool
	gapDiscovered map[string]bool
}

// New builds a Controller ready to Run.
func New(cfg Config, state *model.AppState) *Controller {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.RequeueRounds < 0 {
		cfg.RequeueRounds = 0
	}
	return &Controller{
		cfg:           cfg,
		concurrency:   fetchpool.NewConcurrency(cfg.InitialConcurrency),
		state:         state,
		gapSeen:       make(map[string]bool),
		gapFailed:     make(map[string]bool),
		gapDiscovered: make(map[string]bool),
	}
}

// isShutdown is passed down into every backend as a cooperative poll point.
func (c *Controller) isShutdown() bool {
	return c.shutdown.Load()
}

// Run executes the full controller lifecycle: backend selection, discovery,
// reconciliation, and the retry loop, until Shutdown is observed on control
// or ctx is cancelled.
func (c *Controller) Run(ctx context.Context, out chan<- model.CrawlEvent, control <-chan model.CrawlControl) error {
	defer close(out)

	backend, guard, browserErr := c.prepareBackend(ctx)
	if guard != nil {
		g := guard
		defer g.Release()
	}

	if c.cfg.UseWebDriver && backend == nil {
		if c.cfg.WebDriverRequired {
			emit(ctx, out, model.UnretrievedEvent(c.cfg.SeedURL, fmt.Sprintf("webdriver required but unavailable: %v", browserErr)))
			emit(ctx, out, model.FinishedEvent())
			return browserErr
		}
	}

	if err := c.runDiscovery(ctx, backend, out); err != nil {
		emit(ctx, out, model.ErrorEvent(err.Error()))
	}

	if backend == nil {
		c.reconcile(ctx, out)
	}

	emit(ctx, out, model.FinishedEvent())

	return c.retryLoop(ctx, out, control)
}

type activeBackend struct {
	baseURL string
	browser webdriver.Browser
}

// prepareBackend implements spec §4.1 step 1: try preferred → fallbacks
// (when enabled), probing reachability and running a preflight for each.
func (c *Controller) prepareBackend(ctx context.Context) (*activeBackend, interface{ Release() }, error) {
	if !c.cfg.UseWebDriver {
		return nil, nil, nil
	}

	candidates := []webdriver.Browser{c.cfg.PreferredBrowser}
	if c.cfg.EnableFallbacks {
		candidates = append(candidates, webdriver.Fallbacks(c.cfg.PreferredBrowser)...)
	}

	var lastErr error
	for _, browser := range candidates {
		baseURL := c.cfg.WebDriverBaseURL
		var guard interface{ Release() }

		if baseURL == "" {
			launchedURL, g, err := browserd.LocalLaunch(browser, c.cfg.Headless)
			if err != nil {
				lastErr = err
				continue
			}
			baseURL = launchedURL
			guard = g
			// A locally launched driver needs a moment to start listening.
			time.Sleep(300 * time.Millisecond)
		}

		if !webdriver.Reachable(ctx, baseURL) {
			lastErr = fmt.Errorf("webdriver endpoint unreachable: %s", baseURL)
			if guard != nil {
				guard.Release()
			}
			continue
		}

		if err := webdriver.Preflight(ctx, baseURL, browser, c.cfg.Headless, c.cfg.SeedURL); err != nil {
			lastErr = err
			if guard != nil {
				guard.Release()
			}
			continue
		}

		return &activeBackend{baseURL: baseURL, browser: browser}, guard, nil
	}

	return nil, nil, lastErr
}

// runDiscovery runs the chosen backend over an internal channel that the
// controller itself drains first, recording every emitted event into its own
// gap-tracking sets before relaying it on to out. Draining this internal
// channel to completion (and waiting on forwarderDone) before returning
// guarantees reconcile never computes the gap set against stale bookkeeping,
// regardless of how quickly (or slowly) out's external consumer applies
// events to c.state.
func (c *Controller) runDiscovery(ctx context.Context, backend *activeBackend, out chan<- model.CrawlEvent) error {
	capacity := c.cfg.ChannelCapacity
	if capacity <= 0 {
		capacity = 256
	}
	internal := make(chan model.CrawlEvent, capacity)
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for ev := range internal {
			c.trackEvent(ev)
			emit(ctx, out, ev)
		}
	}()

	var err error
	if backend != nil {
		cfg := browserd.Config{
			BaseURL:     backend.baseURL,
			Browser:     backend.browser,
			Headless:    c.cfg.Headless,
			SeedURL:     c.cfg.SeedURL,
			RootHost:    c.cfg.RootHost,
			HostScope:   c.cfg.HostScope,
			MaxDepth:    c.cfg.MaxDepth,
			Concurrency: c.concurrency,
			HTTPClient:  fetchpool.HTTPFetchClient{Client: &http.Client{Timeout: 30 * time.Second}},
		}
		err = browserd.Run(ctx, cfg, internal, c.isShutdown)
	} else {
		cfg := httpd.Config{
			StartURL:        c.cfg.SeedURL,
			RootHost:        c.cfg.RootHost,
			HostScope:       c.cfg.HostScope,
			MaxDepth:        c.cfg.MaxDepth,
			SeedFromSitemap: c.cfg.SeedFromSitemap,
			ChannelCapacity: c.cfg.ChannelCapacity,
			UserAgent:       c.cfg.UserAgent,
			Concurrency:     c.concurrency.Load(),
		}
		httpd.Run(ctx, cfg, internal, c.isShutdown)
	}

	close(internal)
	<-forwarderDone
	return err
}

// trackEvent folds one discovery event into the controller's own gap-tracking
// sets. It runs only inside runDiscovery's forwarder goroutine.
func (c *Controller) trackEvent(ev model.CrawlEvent) {
	switch ev.Type {
	case model.EventPage:
		if ev.Record == nil {
			return
		}
		c.gapSeen[ev.Record.URL] = true
		if ev.Record.Status >= 500 && ev.Record.Status <= 599 {
			c.gapFailed[ev.Record.URL] = true
		} else {
			delete(c.gapFailed, ev.Record.URL)
		}
		for _, link := range ev.DiscoveredLinks {
			if !c.gapSeen[link] {
				c.gapDiscovered[link] = true
			}
		}

	case model.EventUnretrieved:
		c.gapSeen[ev.URL] = true
		c.gapFailed[ev.URL] = true
	}
}

// reconcile implements spec §4.1 step 3: the gap set is every discovered URL
// that still has no record, unioned with every URL whose latest record was a
// 5xx or never-retrieved — URLs with a current non-5xx record are never
// re-queued (spec §9).
func (c *Controller) reconcile(ctx context.Context, out chan<- model.CrawlEvent) {
	set := make(map[string]bool, len(c.gapDiscovered)+len(c.gapFailed))
	for url := range c.gapDiscovered {
		if c.gapSeen[url] {
			continue
		}
		if !urlnorm.IsSameHostScoped(url, c.cfg.RootHost, c.cfg.HostScope) {
			continue
		}
		set[url] = true
	}
	for url := range c.gapFailed {
		set[url] = true
	}
	if len(set) == 0 {
		return
	}
	gap := make([]string, 0, len(set))
	for url := range set {
		gap = append(gap, url)
	}
	sort.Strings(gap)
	c.dispatch(ctx, gap, out)
}

func (c *Controller) dispatch(ctx context.Context, urls []string, out chan<- model.CrawlEvent) {
	pool := &fetchpool.Pool{
		FetchClient:    fetchpool.NewFetchClient(),
		RedirectClient: newRedirectClient(),
		Concurrency:    c.concurrency,
		Retries:        c.cfg.Retries,
		RequeueRounds:  c.cfg.RequeueRounds,
		RootHost:       c.cfg.RootHost,
		HostScope:      c.cfg.HostScope,
		Shutdown:       &c.shutdown,
	}
	pool.Run(ctx, urls, out)
}

// retryLoop implements spec §4.1 step 4: block on control with a 120ms tick,
// handling RetryUrls and Shutdown, applying concurrency changes immediately.
func (c *Controller) retryLoop(ctx context.Context, out chan<- model.CrawlEvent, control <-chan model.CrawlControl) error {
	ticker := time.NewTicker(controlTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-control:
			if !ok {
				return nil
			}
			switch cmd.Type {
			case model.ControlSetFetchConcurrency:
				c.concurrency.Set(cmd.Concurrency)

			case model.ControlRetryUrls:
				urls := c.selectRetryTargets(cmd)
				if len(urls) > 0 {
					c.dispatch(ctx, urls, out)
				}
				emit(ctx, out, model.FinishedEvent())

			case model.ControlShutdown:
				c.shutdown.Store(true)
				return nil
			}

		case <-ticker.C:
			if c.isShutdown() {
				return nil
			}
		}
	}
}

func (c *Controller) selectRetryTargets(cmd model.CrawlControl) []string {
	switch cmd.Scope {
	case model.RetrySingleEntry:
		return cmd.URLs
	case model.RetryComplete:
		return c.state.RetryAllURLs()
	default: // FailedOnly
		return c.state.RetryFailedURLs()
	}
}

func newRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 25 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func emit(ctx context.Context, out chan<- model.CrawlEvent, ev model.CrawlEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
