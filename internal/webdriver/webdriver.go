// Package webdriver implements a thin JSON-over-HTTP client speaking the
// W3C WebDriver protocol (spec §4.8), grounded literally on
// original_source/src/app/crawl.rs's webdriver_create_session /
// webdriver_navigate / webdriver_extract_links / webdriver_rendered_snapshot
// / webdriver_delete_session. go-rod is deliberately NOT used here: rod
// speaks Chrome DevTools Protocol, not the raw W3C WebDriver JSON endpoints
// the spec is explicit about (see DESIGN.md).
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Browser names the four supported browser targets (spec §6.3).
type Browser string

const (
	Chrome  Browser = "chrome"
	Firefox Browser = "firefox"
	Edge    Browser = "edge"
	Safari  Browser = "safari"
)

// Fallbacks returns the fallback browser order for a preferred browser, per
// spec §4.1 "fallbacks used only when enabled; Safari is never preferred
// when alternatives exist" and original_source's browser_candidates table.
func Fallbacks(preferred Browser) []Browser {
	switch preferred {
	case Firefox:
		return []Browser{Chrome, Edge}
	case Chrome:
		return []Browser{Firefox, Edge}
	case Edge:
		return []Browser{Chrome, Firefox}
	case Safari:
		return []Browser{Chrome, Firefox}
	default:
		return nil
	}
}

// maxErrorBodyLen bounds logged/error-wrapped response bodies (spec §4.8).
const maxErrorBodyLen = 260

// Error is returned for any non-2xx HTTP response, any value.error field, or
// a response parse failure.
type Error struct {
	Op   string
	Body string
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return fmt.Sprintf("webdriver: %s: %s", e.Op, body)
}

// Client is a session-scoped WebDriver client.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client with the control-plane timeout the browser
// discovery backend uses for session/navigate/script calls (spec §5: HTTP
// clients are reference-counted and cloned per task).
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 40 * time.Second},
	}
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	Value     struct {
		SessionID string `json:"sessionId"`
		Error     string `json:"error"`
		Message   string `json:"message"`
	} `json:"value"`
}

// CreateSession POSTs /session with the capabilities computed for browser,
// returning the new session ID.
func (c *Client) CreateSession(ctx context.Context, browser Browser, headless bool) (string, error) {
	caps := Capabilities(browser, headless)
	body, err := json.Marshal(caps)
	if err != nil {
		return "", err
	}

	raw, err := c.do(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return "", err
	}

	var resp sessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &Error{Op: "create_session: parse response", Body: string(raw)}
	}
	if resp.Value.Error != "" {
		return "", &Error{Op: "create_session: " + resp.Value.Error, Body: resp.Value.Message}
	}
	if resp.Value.SessionID != "" {
		return resp.Value.SessionID, nil
	}
	if resp.SessionID != "" {
		return resp.SessionID, nil
	}
	return "", &Error{Op: "create_session: missing sessionId", Body: string(raw)}
}

type valueErrorResponse struct {
	Value struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"value"`
}

// Navigate POSTs /session/{id}/url.
func (c *Client) Navigate(ctx context.Context, sessionID, targetURL string) error {
	body, _ := json.Marshal(map[string]string{"url": targetURL})
	raw, err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/url", body)
	if err != nil {
		return err
	}

	var resp valueErrorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &Error{Op: "navigate: parse response", Body: string(raw)}
	}
	if resp.Value.Error != "" {
		return &Error{Op: "navigate: " + resp.Value.Error, Body: resp.Value.Message}
	}
	return nil
}

const extractLinksScript = `return Array.from(document.querySelectorAll('a[href],link[rel="alternate"][href],link[hreflang][href],link[rel="canonical"][href]')).map(el => el.href).filter(Boolean);`

// ExtractLinks executes an in-page script that returns every candidate
// outgoing href on the current document.
func (c *Client) ExtractLinks(ctx context.Context, sessionID string) ([]string, error) {
	raw, err := c.executeSync(ctx, sessionID, extractLinksScript)
	if err != nil {
		return nil, err
	}
	var links []string
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, &Error{Op: "extract_links: parse value", Body: string(raw)}
	}
	return links, nil
}

const renderedSnapshotScript = `return { url: window.location.href || "", html: document.documentElement ? document.documentElement.outerHTML : "" };`

// Snapshot is the (url, html) pair captured from a live browser.
type Snapshot struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// RenderedSnapshot returns the current document's URL and outer HTML,
// failing if either is empty.
func (c *Client) RenderedSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	raw, err := c.executeSync(ctx, sessionID, renderedSnapshotScript)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, &Error{Op: "rendered_snapshot: parse value", Body: string(raw)}
	}
	if snap.URL == "" || snap.HTML == "" {
		return Snapshot{}, &Error{Op: "rendered_snapshot: empty url or html", Body: string(raw)}
	}
	return snap, nil
}

type executeResponse struct {
	Value json.RawMessage `json:"value"`
}

func (c *Client) executeSync(ctx context.Context, sessionID, script string) (json.RawMessage, error) {
	body, _ := json.Marshal(map[string]any{"script": script, "args": []any{}})
	raw, err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/execute/sync", body)
	if err != nil {
		return nil, err
	}
	var resp executeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Op: "execute_sync: parse response", Body: string(raw)}
	}
	return resp.Value, nil
}

// DeleteSession is a best-effort DELETE /session/{id}.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) {
	_, _ = c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: fmt.Sprintf("%s %s: http %d", method, path, resp.StatusCode), Body: string(raw)}
	}
	return raw, nil
}

// Preflight trials a session: create, navigate to seedURL, delete. It is
// used to reject a misconfigured browser before the real crawl begins.
func Preflight(ctx context.Context, baseURL string, browser Browser, headless bool, seedURL string) error {
	client := NewClient(baseURL)
	sessionID, err := client.CreateSession(ctx, browser, headless)
	if err != nil {
		return err
	}
	defer client.DeleteSession(ctx, sessionID)
	return client.Navigate(ctx, sessionID, seedURL)
}

// Reachable sends a GET to the endpoint's /status with a 2s timeout and
// reports true when any HTTP response comes back, whatever its status.
func Reachable(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/status", nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}
