package webdriver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSessionParsesValueSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"sessionId": "abc123"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	id, err := client.CreateSession(context.Background(), Chrome, true)
	require.NoError(t, err)
	require.Equal(t, "abc123", id)
}

func TestCreateSessionSurfacesValueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"error": "session not created", "message": "boom"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.CreateSession(context.Background(), Firefox, true)
	require.Error(t, err)
}

func TestNavigateSurfacesValueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/sess1/url", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"error": "unknown error", "message": "no such window"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Navigate(context.Background(), "sess1", "https://example.test/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown error")
}

func TestNavigateAcceptsEmptyValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": nil})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.Navigate(context.Background(), "sess1", "https://example.test/")
	require.NoError(t, err)
}

func TestExtractLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []string{"https://example.test/a", "https://example.test/b"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	links, err := client.ExtractLinks(context.Background(), "sess1")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.test/a", "https://example.test/b"}, links)
}

func TestRenderedSnapshotRejectsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": map[string]any{"url": "", "html": "<html></html>"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.RenderedSnapshot(context.Background(), "sess1")
	require.Error(t, err)
}

func TestFallbacksNeverPreferSafari(t *testing.T) {
	for _, browser := range []Browser{Chrome, Firefox, Edge} {
		for _, fb := range Fallbacks(browser) {
			require.NotEqual(t, Safari, fb)
		}
	}
}

func TestCapabilitiesAlwaysAcceptInsecureCerts(t *testing.T) {
	for _, browser := range []Browser{Chrome, Firefox, Edge, Safari} {
		caps := Capabilities(browser, true)
		always := caps["capabilities"].(map[string]any)["alwaysMatch"].(map[string]any)
		require.Equal(t, true, always["acceptInsecureCerts"])
	}
}
