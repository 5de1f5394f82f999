package browserd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ramkansal/seosum/internal/analyzer"
	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/webdriver"
	"github.com/stretchr/testify/require"
)

func TestDriverCompanionNamePerBrowser(t *testing.T) {
	require.Equal(t, "geckodriver", driverCompanionName(webdriver.Firefox))
	require.Equal(t, "msedgedriver", driverCompanionName(webdriver.Edge))
	require.Equal(t, "chromedriver", driverCompanionName(webdriver.Chrome))
	require.Equal(t, "chromedriver", driverCompanionName(webdriver.Safari))
}

func TestFreeLocalPortReturnsUsablePort(t *testing.T) {
	port, err := freeLocalPort()
	require.NoError(t, err)
	require.Greater(t, port, 0)
}

func TestInFlightTrackerDrainsAfterSpawn(t *testing.T) {
	tr := newInFlightTracker()
	done := make(chan struct{})
	tr.spawn(func() {
		close(done)
	})
	<-done
	tr.drain()
}

type fakeHTTPClient struct {
	calls []string
}

func (f *fakeHTTPClient) Fetch(ctx context.Context, url string) (analyzer.FetchedPage, error) {
	f.calls = append(f.calls, url)
	return analyzer.FetchedPage{
		RequestedURL: url,
		FinalURL:     url,
		Status:       200,
		Headers:      http.Header{"Content-Type": []string{"text/html"}},
		Body:         "<html><head><title>A real page title here</title></head><body>hi</body></html>",
	}, nil
}

// newScriptedWebDriverServer serves session create/navigate/delete with
// empty success values, and execute/sync responses chosen by whether the
// in-page script looks like the link-extraction query or the
// rendered-snapshot query.
func newScriptedWebDriverServer(t *testing.T, extractValue, snapshotValue any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			_ = json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{"sessionId": "sess1"}})
		case strings.HasSuffix(r.URL.Path, "/url"):
			_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})
		case strings.HasSuffix(r.URL.Path, "/execute/sync"):
			body, _ := io.ReadAll(r.Body)
			var req struct {
				Script string `json:"script"`
			}
			_ = json.Unmarshal(body, &req)
			if strings.Contains(req.Script, "querySelectorAll") {
				_ = json.NewEncoder(w).Encode(map[string]any{"value": extractValue})
			} else {
				_ = json.NewEncoder(w).Encode(map[string]any{"value": snapshotValue})
			}
		case r.Method == http.MethodDelete:
			_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRunFallsBackToHTTPFetchOnExtractLinksFailure(t *testing.T) {
	srv := newScriptedWebDriverServer(t,
		map[string]any{"error": "javascript error", "message": "boom"},
		map[string]any{"url": "http://127.0.0.1:1/seed", "html": "<html></html>"},
	)
	defer srv.Close()

	client := &fakeHTTPClient{}
	cfg := Config{
		BaseURL:    srv.URL,
		Browser:    webdriver.Chrome,
		SeedURL:    "http://127.0.0.1:1/seed",
		RootHost:   "127.0.0.1",
		MaxDepth:   1,
		HTTPClient: client,
	}

	out := make(chan model.CrawlEvent, 16)
	err := Run(context.Background(), cfg, out, nil)
	require.NoError(t, err)
	close(out)

	var sawError, sawPage bool
	for ev := range out {
		if ev.Type == model.EventError {
			sawError = true
		}
		if ev.Type == model.EventPage {
			sawPage = true
		}
	}
	require.True(t, sawError, "extract links failure must emit an Error event")
	require.True(t, sawPage, "the affected URL must still be dispatched to the HTTP fetch pool")
	require.Equal(t, []string{"http://127.0.0.1:1/seed"}, client.calls)
}

func TestRunFallsBackToHTTPFetchOnEmptyRenderedSnapshot(t *testing.T) {
	srv := newScriptedWebDriverServer(t,
		[]string{},
		map[string]any{"url": "", "html": ""},
	)
	defer srv.Close()

	client := &fakeHTTPClient{}
	cfg := Config{
		BaseURL:    srv.URL,
		Browser:    webdriver.Chrome,
		SeedURL:    "http://127.0.0.1:1/seed",
		RootHost:   "127.0.0.1",
		MaxDepth:   1,
		HTTPClient: client,
	}

	out := make(chan model.CrawlEvent, 16)
	err := Run(context.Background(), cfg, out, nil)
	require.NoError(t, err)
	close(out)

	var sawError, sawPage bool
	for ev := range out {
		if ev.Type == model.EventError {
			sawError = true
		}
		if ev.Type == model.EventPage {
			sawPage = true
		}
	}
	require.True(t, sawError, "empty rendered snapshot must emit an Error event")
	require.True(t, sawPage, "the affected URL must still be dispatched to the HTTP fetch pool")
	require.Equal(t, []string{"http://127.0.0.1:1/seed"}, client.calls)
}

func TestRunNavigatesToQueuedURLNotRedirectResolvedTarget(t *testing.T) {
	var navigatedTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			_ = json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{"sessionId": "sess1"}})
		case strings.HasSuffix(r.URL.Path, "/url"):
			body, _ := io.ReadAll(r.Body)
			var req struct {
				URL string `json:"url"`
			}
			_ = json.Unmarshal(body, &req)
			navigatedTo = req.URL
			_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})
		case strings.HasSuffix(r.URL.Path, "/execute/sync"):
			body, _ := io.ReadAll(r.Body)
			var req struct {
				Script string `json:"script"`
			}
			_ = json.Unmarshal(body, &req)
			if strings.Contains(req.Script, "querySelectorAll") {
				_ = json.NewEncoder(w).Encode(map[string]any{"value": []string{}})
			} else {
				_ = json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{"url": "http://127.0.0.1:1/seed", "html": "<html><body>x</body></html>"}})
			}
		case r.Method == http.MethodDelete:
			_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := &fakeHTTPClient{}
	cfg := Config{
		BaseURL:    srv.URL,
		Browser:    webdriver.Chrome,
		SeedURL:    "http://127.0.0.1:1/seed",
		RootHost:   "127.0.0.1",
		MaxDepth:   1,
		HTTPClient: client,
	}

	out := make(chan model.CrawlEvent, 16)
	err := Run(context.Background(), cfg, out, nil)
	require.NoError(t, err)
	close(out)
	for range out {
	}

	require.Equal(t, "http://127.0.0.1:1/seed", navigatedTo, "navigate must target the originally queued URL, not a redirect-resolved one")
}
