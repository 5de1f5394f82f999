// Package redirect implements the redirect probe (spec §4.5): it walks a 3xx
// chain hop by hop with a redirect-disabled client, independent of the main
// fetch client, grounded on original_source's raw_redirect_rows /
// send_redirect_probe_request.
package redirect

import (
	"context"
	"errors"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/urlnorm"
)

// NewProbeClient builds the redirect-disabled client spec §4.4/§5 mandates:
// 10s connect timeout on the dialer, a 25s overall request timeout,
// pool_max_idle_per_host=32, redirects never followed.
func NewProbeClient() *http.Client {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 32,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   25 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Hop is one record in the reconstructed redirect chain. It carries no
// discovered links (redirect hops never contribute new links).
type Hop struct {
	Record model.PageRecord
}

// Probe walks the redirect chain starting at rawURL, up to maxHops hops.
// It stops when the status is not in 300..=399, the Location header is
// missing, the chain revisits a URL, or maxHops is reached. It returns the
// hop records (each its own PageRecord, per spec §4.5) and the final target
// URL to continue fetching from (the last hop's target, or rawURL if there
// was no redirect at all).
func Probe(ctx context.Context, client *http.Client, rawURL string, maxHops int) ([]Hop, string, error) {
	if maxHops < 1 {
		maxHops = 1
	}
	visited := make(map[string]bool)
	current := rawURL
	var hops []Hop

	for i := 0; i < maxHops; i++ {
		if visited[current] {
			break
		}
		visited[current] = true

		status, headers, elapsed, err := sendProbeRequest(ctx, client, current, 3)
		if err != nil {
			return hops, current, err
		}

		if status < 300 || status > 399 {
			break
		}
		location := headers.Get("Location")
		if location == "" {
			break
		}

		target, ok := resolveRedirectTarget(current, location)
		if !ok {
			break
		}

		hops = append(hops, Hop{Record: buildHopRecord(current, status, headers, elapsed, target)})

		current = target
	}

	final := rawURL
	if len(hops) > 0 {
		final = hops[len(hops)-1].Record.RedirectURL
	}
	return hops, final, nil
}

func resolveRedirectTarget(current, location string) (string, bool) {
	base, err := url.Parse(current)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	return urlnorm.Normalize(resolved.String())
}

func buildHopRecord(current string, status int, headers http.Header, elapsed time.Duration, target string) model.PageRecord {
	mimeType := "unknown"
	if ct := headers.Get("Content-Type"); ct != "" {
		if parsedType, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = parsedType
		}
	}
	normalizedCurrent, ok := urlnorm.Normalize(current)
	if !ok {
		normalizedCurrent = current
	}
	return model.PageRecord{
		URL:               normalizedCurrent,
		Status:            status,
		MIME:              mimeType,
		RetrievalStatus:   model.Retrieved,
		Indexability:      model.NonIndexable,
		RedirectURL:       target,
		RedirectType:      model.ClassifyRedirect(status),
		LinkCount:         1,
		InternalLinkCount: 1,
		ExternalLinkCount: 0,
		SeoScore:          100,
		ResponseTimeMs:    elapsed.Milliseconds(),
		CrawlTimestamp:    time.Now(),
	}
}

// sendProbeRequest issues a GET with redirects disabled, retrying up to
// attempts times (minimum 1) on timeout/connect/request errors only, with a
// 120ms*attempt backoff between tries, per spec §4.5.
func sendProbeRequest(ctx context.Context, client *http.Client, rawURL string, attempts int) (int, http.Header, time.Duration, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return 0, nil, 0, err
		}

		start := time.Now()
		resp, err := client.Do(req)
		elapsed := time.Since(start)
		if err == nil {
			defer resp.Body.Close()
			return resp.StatusCode, resp.Header, elapsed, nil
		}

		lastErr = err
		if !isRetryableProbeError(err) {
			break
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, nil, 0, ctx.Err()
		case <-time.After(time.Duration(120*attempt) * time.Millisecond):
		}
	}
	return 0, nil, 0, lastErr
}

func isRetryableProbeError(err error) bool {
	// Client errors arrive as *url.Error, which satisfies net.Error, so
	// connect (dial) failures are recognised before the timeout check.
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}
