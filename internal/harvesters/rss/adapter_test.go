package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Agency Press Releases</title>
    <item>
      <title>Recall notice 2024-17</title>
      <link>%s/releases/2024-17</link>
      <guid>urn:agency:2024-17</guid>
      <pubDate>Mon, 03 Jun 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Guidance update</title>
      <link>%s/releases/guidance</link>
    </item>
  </channel>
</rss>`

func testSource(endpoint string) domain.Source {
	return domain.Source{
		ID:       "agency-rss",
		Kind:     domain.KindRSS,
		Endpoint: endpoint,
	}
}

func TestNew_EmptyEndpoint(t *testing.T) {
	_, err := New(domain.Source{ID: "bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAdapter_List(t *testing.T) {
	var gotUserAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testFeed, "https://agency.example", "https://agency.example")
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	items, err := adapter.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "urn:agency:2024-17", items[0].NativeID)
	assert.Equal(t, "https://agency.example/releases/2024-17", items[0].URL)
	assert.Equal(t, "Recall notice 2024-17", items[0].Title)
	assert.Equal(t, "2024-06-03T10:00:00Z", items[0].CursorToken)
	assert.Equal(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), items[0].DeclaredModified.UTC())

	// No GUID falls back to the link; no date falls back to a digest.
	assert.Equal(t, "https://agency.example/releases/guidance", items[1].NativeID)
	assert.NotEmpty(t, items[1].CursorToken)
	assert.True(t, items[1].DeclaredModified.IsZero())

	// Browser-like identity, not the Go default.
	assert.Contains(t, gotUserAgent.Load().(string), "Mozilla/5.0")
}

func TestAdapter_List_UnparseableFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>This is not a feed any more</body></html>")
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	_, err = adapter.List(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceFormatChanged)
}

func TestAdapter_List_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	_, err = adapter.List(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
}

func TestAdapter_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/releases/2024-17", r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Full recall text.</body></html>")
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	artifact, err := adapter.Fetch(context.Background(), domain.ListingItem{
		NativeID: "urn:agency:2024-17",
		URL:      server.URL + "/releases/2024-17",
	})
	require.NoError(t, err)
	assert.Equal(t, "agency-rss", artifact.SourceID)
	assert.Equal(t, "text/html; charset=utf-8", artifact.ContentType)
	assert.Contains(t, string(artifact.Body), "Full recall text.")
	assert.False(t, artifact.RetrievedAt.IsZero())
}

func TestAdapter_Fetch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	artifact, err := adapter.Fetch(context.Background(), domain.ListingItem{NativeID: "x", URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(artifact.Body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAdapter_Fetch_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	_, err = adapter.Fetch(context.Background(), domain.ListingItem{NativeID: "x", URL: server.URL})
	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}
