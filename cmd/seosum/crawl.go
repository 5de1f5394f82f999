package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ramkansal/seosum/internal/controller"
	"github.com/ramkansal/seosum/internal/fetchpool"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/sink"
	"github.com/ramkansal/seosum/internal/urlnorm"
	"github.com/ramkansal/seosum/internal/webdriver"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type crawlFlags struct {
	output             string
	format             string
	subdomains         bool
	tld                bool
	respectRobots      bool
	fullResources      bool
	seedSitemap        bool
	channelCapacity    int
	retryMissing       int
	retry5xx           int
	fetchConcurrency   int
	useWebDriver       bool
	webdriverURL       string
	webdriverRequired  bool
	webdriverFallback  bool
	webdriverBrowser   string
	webdriverHeadless  bool
	depth              int
	delay              time.Duration
	userAgent          string
	noTUI              bool
	autoClose          bool
}

func crawlCmd() *cobra.Command {
	f := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a seed URL and write an SEO audit dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), args[0], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.output, "output", "", "output file path (default derived from the seed URL and format)")
	flags.StringVar(&f.format, "format", "csv", "output format: csv or json")
	flags.BoolVar(&f.subdomains, "subdomains", false, "treat subdomains of the seed host as same-host")
	flags.BoolVar(&f.tld, "tld", false, "treat the seed's whole registrable domain (across subdomains) as same-host")
	flags.BoolVar(&f.respectRobots, "respect-robots", false, "accepted for config-file compatibility; robots.txt disallow rules are not applied")
	flags.BoolVar(&f.fullResources, "full-resources", false, "accepted for config-file compatibility; has no effect on what is analyzed")
	flags.BoolVar(&f.seedSitemap, "seed-sitemap", true, "seed discovery from sitemap.xml / robots.txt Sitemap: lines")
	flags.IntVar(&f.channelCapacity, "channel-capacity", 4096, "HTTP discovery subscription channel capacity")
	flags.IntVar(&f.retryMissing, "retry-missing", 3, "per-URL fetch retry budget (R)")
	flags.IntVar(&f.retry5xx, "retry-5xx", 2, "requeue rounds for persistent 5xx responses (Q)")
	flags.IntVar(&f.fetchConcurrency, "fetch-concurrency", 12, "initial fetch pool concurrency (1..256)")
	flags.BoolVar(&f.useWebDriver, "webdriver", false, "discover and render pages through a WebDriver session")
	flags.StringVar(&f.webdriverURL, "webdriver-url", "http://localhost:4444", "remote WebDriver endpoint; an empty value launches a local driver instead")
	flags.BoolVar(&f.webdriverRequired, "webdriver-required", false, "fail the crawl if no WebDriver backend can be prepared")
	flags.BoolVar(&f.webdriverFallback, "webdriver-fallback", true, "try fallback browsers if the preferred one fails preflight")
	flags.StringVar(&f.webdriverBrowser, "webdriver-browser", "firefox", "preferred browser: chrome, firefox, edge, safari")
	flags.BoolVar(&f.webdriverHeadless, "webdriver-headless", true, "run the browser headless")
	flags.IntVar(&f.depth, "depth", 0, "maximum discovery depth (0 = unlimited)")
	flags.DurationVar(&f.delay, "delay", 0, "accepted for config-file compatibility; no delay is applied between requests")
	flags.StringVar(&f.userAgent, "user-agent", "seosum/"+version, "User-Agent header sent by the HTTP discovery crawler")
	flags.BoolVar(&f.noTUI, "no-tui", false, "accepted for config-file compatibility; the TUI is out of scope here")
	flags.BoolVar(&f.autoClose, "auto-close", false, "accepted for config-file compatibility; the TUI is out of scope here")

	return cmd
}

func runCrawl(ctx context.Context, seedURL string, f *crawlFlags) error {
	if !strings.HasPrefix(seedURL, "http://") && !strings.HasPrefix(seedURL, "https://") {
		seedURL = "https://" + seedURL
	}
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return fmt.Errorf("invalid seed URL %q: %w", seedURL, err)
	}
	rootHost := parsed.Hostname()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	log.Logger = logger

	printBanner()
	fmt.Printf("\n  %s %s\n", clr("cyan", "Target:"), seedURL)
	fmt.Printf("  %s %s  %s %d  %s %d\n\n",
		clr("dim", "Format:"), viperOr(f.format, "format"),
		clr("dim", "Concurrency:"), f.fetchConcurrency,
		clr("dim", "Depth:"), f.depth,
	)

	format := sink.DetectFormat(f.output, sink.Format(strings.ToLower(f.format)))
	outputPath := f.output
	if outputPath == "" {
		outputPath = sink.DefaultOutputPath(seedURL, format, time.Now())
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer file.Close()

	outputSink, err := sink.New(format, file)
	if err != nil {
		return fmt.Errorf("building output sink: %w", err)
	}

	state := model.NewAppState()

	cfg := controller.Config{
		SeedURL:            seedURL,
		RootHost:           rootHost,
		HostScope:          hostScope(f),
		UseWebDriver:       f.useWebDriver,
		WebDriverRequired:  f.webdriverRequired,
		PreferredBrowser:   webdriver.Browser(strings.ToLower(f.webdriverBrowser)),
		EnableFallbacks:    f.webdriverFallback,
		WebDriverBaseURL:   f.webdriverURL,
		Headless:           f.webdriverHeadless,
		MaxDepth:           f.depth,
		SeedFromSitemap:    f.seedSitemap,
		ChannelCapacity:    f.channelCapacity,
		UserAgent:          f.userAgent,
		Retries:            f.retryMissing,
		RequeueRounds:      f.retry5xx,
		InitialConcurrency: fetchpool.Sanitize(f.fetchConcurrency),
	}

	ctrl := controller.New(cfg, state)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Fprintf(os.Stderr, "\n\n%s Interrupt received, stopping...\n", clr("yellow", "!"))
		cancel()
	}()

	events := make(chan model.CrawlEvent, 256)
	control := make(chan model.CrawlControl, 1)
	control <- model.Shutdown() // non-interactive: one pass, no retry loop wait

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Run(runCtx, events, control); err != nil {
			log.Error().Err(err).Msg("controller run failed")
		}
	}()

	pageCount := 0
	for ev := range events {
		handleEvent(ev, state, outputSink, &pageCount)
	}
	<-done

	if err := outputSink.Finalize(); err != nil {
		return fmt.Errorf("finalizing output: %w", err)
	}

	fmt.Println()
	fmt.Printf("  %s\n", strings.Repeat("─", 50))
	fmt.Printf("  %s Crawl complete\n", clr("green", "✓"))
	fmt.Printf("    Pages:  %s   %s %s\n",
		clr("cyan", fmt.Sprintf("%d", pageCount)),
		clr("dim", "Avg SEO score:"),
		clr("yellow", fmt.Sprintf("%.1f", state.AverageSeoScore())),
	)
	fmt.Printf("    Output: %s\n", clr("green", outputPath))

	if recent := state.DisplayRows(5); len(recent) > 0 {
		fmt.Printf("    %s\n", clr("dim", "Last crawled:"))
		for _, row := range recent {
			fmt.Printf("      [%d] %s\n", row.Status, row.URL)
		}
	}
	fmt.Println()

	return nil
}

func handleEvent(ev model.CrawlEvent, state *model.AppState, out sink.Sink, pageCount *int) {
	switch ev.Type {
	case model.EventPage:
		if ev.Record == nil {
			return
		}
		state.PushRow(*ev.Record, ev.DiscoveredLinks)
		*pageCount++
		status := fmt.Sprintf("%d", ev.Record.Status)
		switch {
		case ev.Record.Status >= 200 && ev.Record.Status < 300:
			status = clr("green", status)
		case ev.Record.Status >= 300 && ev.Record.Status < 400:
			status = clr("yellow", status)
		default:
			status = clr("red", status)
		}
		fmt.Printf("  %s [%s] %s %s\n", clr("green", "●"), status, ev.Record.URL, clr("dim", fmt.Sprintf("score:%d", ev.Record.SeoScore)))
		if err := out.Write(*ev.Record); err != nil {
			log.Error().Err(err).Msg("writing output row")
		}

	case model.EventUnretrieved:
		row := model.UnretrievedRecord(ev.URL, ev.Reason, time.Now())
		state.PushRow(row, nil)
		fmt.Printf("  %s %s %s\n", clr("red", "✗"), ev.URL, clr("dim", ev.Reason))
		if err := out.Write(row); err != nil {
			log.Error().Err(err).Msg("writing output row")
		}

	case model.EventStats:
		fmt.Printf("  %s discovered so far: %d\n", clr("dim", "i"), ev.DiscoveredCount)

	case model.EventStatus:
		state.PushStatus(ev.Message)
		fmt.Printf("  %s %s\n", clr("dim", "·"), ev.Message)

	case model.EventError:
		state.PushError(ev.Message)
		fmt.Printf("  %s %s\n", clr("yellow", "!"), ev.Message)

	case model.EventFinished:
		state.SetDone()
	}
}

// hostScope maps --subdomains/--tld onto the discovery/fetch host gate.
// --tld (the broader registrable-domain match) wins if both are set.
func hostScope(f *crawlFlags) urlnorm.HostScope {
	switch {
	case f.tld:
		return urlnorm.ScopeRegistrableDomain
	case f.subdomains:
		return urlnorm.ScopeSubdomains
	default:
		return urlnorm.ScopeExactHost
	}
}

func viperOr(flagValue, key string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return flagValue
}
