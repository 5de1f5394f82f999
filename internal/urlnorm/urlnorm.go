// Package urlnorm implements the URL normalizer and same-host gate (spec
// §4.7), grounded on the teacher's internal/crawler.normalizeURL (parse →
// strip fragment → rebuild shape) generalized to original_source's exact
// tracking-query-parameter list and re-serialization order
// (normalize_crawl_url in original_source/src/app/crawl.rs).
package urlnorm

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/publicsuffix"
)

// trackingExactNames is the closed set of exact tracking-parameter names
// dropped during normalization, per spec §4.7 / §6.2 original_source parity.
var trackingExactNames = map[string]bool{
	"gclid":      true,
	"fbclid":     true,
	"gbraid":     true,
	"wbraid":     true,
	"_gl":        true,
	"mc_cid":     true,
	"mc_eid":     true,
	"pk_campaign": true,
	"pk_kwd":     true,
	"pk_source":  true,
	"pk_medium":  true,
	"pk_content": true,
}

// trackingGlobs are the wildcard tracking-parameter name shapes (utm_*,
// gad_*); compiled once with gobwas/glob rather than a hand-rolled
// strings.HasPrefix loop.
var trackingGlobs = []glob.Glob{
	glob.MustCompile("utm_*"),
	glob.MustCompile("gad_*"),
}

// isTrackingQueryParam reports whether a query parameter name should be
// stripped during normalization.
func isTrackingQueryParam(name string) bool {
	lower := strings.ToLower(name)
	if trackingExactNames[lower] {
		return true
	}
	for _, g := range trackingGlobs {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

// Normalize parses raw, lowercases the scheme (accepting only http/https),
// strips the fragment, drops tracking query parameters, and re-serializes
// the remaining query in its original iteration order. It returns ("",
// false) on parse failure or a non-http(s) scheme.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	parsed.Scheme = scheme

	// RawQuery is walked directly (rather than through url.Values, which
	// loses original key order) so iteration order is preserved per spec's
	// "re-serialize remaining query in iteration order".
	var kept []string
	if parsed.RawQuery != "" {
		for _, pair := range strings.Split(parsed.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key := pair
			if idx := strings.IndexByte(pair, '='); idx >= 0 {
				key = pair[:idx]
			}
			decodedKey, err := url.QueryUnescape(key)
			if err != nil {
				decodedKey = key
			}
			if isTrackingQueryParam(decodedKey) {
				continue
			}
			kept = append(kept, pair)
		}
	}
	parsed.RawQuery = strings.Join(kept, "&")
	parsed.Fragment = ""

	return parsed.String(), true
}

// HostScope controls how broadly IsSameHostScoped treats a candidate URL as
// belonging to the crawl's root host, matching the CLI's --subdomains/--tld
// flags (spec §6.7).
type HostScope int

const (
	// ScopeExactHost requires an exact (case-insensitive) hostname match.
	ScopeExactHost HostScope = iota
	// ScopeSubdomains additionally allows any subdomain of rootHost.
	ScopeSubdomains
	// ScopeRegistrableDomain allows any host sharing rootHost's registrable
	// domain (eTLD+1), across subdomains, via publicsuffix.
	ScopeRegistrableDomain
)

// IsSameHost reports whether candidate is same-host as rootHost under an
// exact hostname match. A missing rootHost is treated as "no host gate"
// (always true).
func IsSameHost(candidate, rootHost string) bool {
	return IsSameHostScoped(candidate, rootHost, ScopeExactHost)
}

// IsSameHostScoped reports whether candidate belongs to rootHost under the
// given HostScope.
func IsSameHostScoped(candidate, rootHost string, scope HostScope) bool {
	if rootHost == "" {
		return true
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	rootLower := strings.ToLower(rootHost)
	hostLower := strings.ToLower(host)

	switch scope {
	case ScopeSubdomains:
		return hostLower == rootLower || strings.HasSuffix(hostLower, "."+rootLower)
	case ScopeRegistrableDomain:
		candidateDomain, err := publicsuffix.EffectiveTLDPlusOne(hostLower)
		if err != nil {
			return hostLower == rootLower
		}
		rootDomain, err := publicsuffix.EffectiveTLDPlusOne(rootLower)
		if err != nil {
			return hostLower == rootLower
		}
		return candidateDomain == rootDomain
	default:
		return hostLower == rootLower
	}
}

// ResolveHref resolves href against base, rejecting empty/fragment/
// mailto:/javascript:/tel: links, then normalizes the result.
func ResolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "tel:") {
		return "", false
	}

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return Normalize(href)
	}

	if base == nil {
		return Normalize(href)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	return Normalize(resolved.String())
}

// FilterCrawlableLinks normalizes every link, keeps only same-host ones under
// an exact hostname match, and deduplicates while preserving insertion order
// (spec §4.3 step 3, §8 property 4 / scenario 5).
func FilterCrawlableLinks(links []string, rootHost string) []string {
	return FilterCrawlableLinksScoped(links, rootHost, ScopeExactHost)
}

// FilterCrawlableLinksScoped is FilterCrawlableLinks with an explicit
// HostScope, for crawls started with --subdomains or --tld.
func FilterCrawlableLinksScoped(links []string, rootHost string, scope HostScope) []string {
	seen := make(map[string]bool, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		normalized, ok := Normalize(link)
		if !ok {
			continue
		}
		if !IsSameHostScoped(normalized, rootHost, scope) {
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}
