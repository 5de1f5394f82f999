package redirect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProbeSimpleChain covers testable property 3 and end-to-end scenario 2:
// the hop records form a simple chain and the final hop's RedirectURL equals
// the final fetch target.
func TestProbeSimpleChain(t *testing.T) {
	var finalURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, finalURL, http.StatusMovedPermanently)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	finalURL = srv.URL + "/home"

	client := NewProbeClient()
	hops, final, err := Probe(context.Background(), client, srv.URL+"/", 8)
	require.NoError(t, err)
	require.Len(t, hops, 1)
	require.Equal(t, 301, hops[0].Record.Status)
	require.Equal(t, finalURL, hops[0].Record.RedirectURL)
	require.Equal(t, finalURL, final)

	seen := make(map[string]bool)
	for i, hop := range hops {
		require.False(t, seen[hop.Record.URL], "hop URLs must be pairwise distinct")
		seen[hop.Record.URL] = true
		if i < len(hops)-1 {
			require.Equal(t, hops[i+1].Record.URL, hop.Record.RedirectURL)
		} else {
			require.Equal(t, final, hop.Record.RedirectURL)
		}
	}
}

func TestProbeNoRedirectReturnsNoHops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewProbeClient()
	hops, final, err := Probe(context.Background(), client, srv.URL+"/", 8)
	require.NoError(t, err)
	require.Empty(t, hops)
	require.Equal(t, srv.URL+"/", final)
}
