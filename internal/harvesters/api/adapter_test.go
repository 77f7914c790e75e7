package api

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

const testListing = `{
	"meta": {"total": 2},
	"data": {
		"notices": [
			{"notice_id": "N-100", "link": "%s/notices/100", "headline": "Enforcement action", "updated": "2024-06-03T10:00:00Z"},
			{"notice_id": 101, "link": "%s/notices/101", "headline": "Consultation open"}
		]
	}
}`

func testSource(endpoint string) domain.Source {
	return domain.Source{
		ID:       "registry-api",
		Kind:     domain.KindAPI,
		Endpoint: endpoint,
		Config: map[string]string{
			"items_path":     "data.notices",
			"id_field":       "notice_id",
			"url_field":      "link",
			"title_field":    "headline",
			"modified_field": "updated",
			"auth_token":     "secret-token",
		},
	}
}

func TestAdapter_List(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, testListing, "https://registry.example", "https://registry.example")
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	items, err := adapter.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "N-100", items[0].NativeID)
	assert.Equal(t, "https://registry.example/notices/100", items[0].URL)
	assert.Equal(t, "Enforcement action", items[0].Title)
	assert.Equal(t, "2024-06-03T10:00:00Z", items[0].CursorToken)
	assert.Equal(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), items[0].DeclaredModified)

	// Numeric ids are accepted; a missing modified field falls back to a
	// digest of the entry.
	assert.Equal(t, "101", items[1].NativeID)
	assert.NotEmpty(t, items[1].CursorToken)
	assert.NotEqual(t, items[0].CursorToken, items[1].CursorToken)

	assert.Equal(t, "Bearer secret-token", gotAuth.Load().(string))
}

func TestAdapter_List_DefaultFieldNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id": "a-1", "url": "https://x.example/a-1", "title": "A"}]`)
	}))
	defer server.Close()

	adapter, err := New(domain.Source{ID: "plain", Kind: domain.KindAPI, Endpoint: server.URL})
	require.NoError(t, err)
	defer adapter.Close()

	items, err := adapter.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a-1", items[0].NativeID)
	assert.Equal(t, "A", items[0].Title)
}

func TestAdapter_List_ShapeChanged(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>maintenance page</html>"},
		{"path missing", `{"data": {}}`},
		{"path not array", `{"data": {"notices": {"oops": true}}}`},
		{"entry not object", `{"data": {"notices": ["just-a-string"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			adapter, err := New(testSource(server.URL))
			require.NoError(t, err)
			defer adapter.Close()

			_, err = adapter.List(context.Background())
			assert.ErrorIs(t, err, domain.ErrSourceFormatChanged)
		})
	}
}

func TestAdapter_Fetch_ConditionalRevalidation(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"body": "notice text"}`)
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	item := domain.ListingItem{NativeID: "N-100", URL: server.URL + "/notices/100"}

	first, err := adapter.Fetch(context.Background(), item)
	require.NoError(t, err)

	// The second fetch revalidates and is served from cache, but the
	// caller still sees the real bytes so fingerprinting works.
	second, err := adapter.Fetch(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.Equal(t, int32(2), calls.Load())
}

func TestAdapter_Fetch_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter, err := New(testSource(server.URL))
	require.NoError(t, err)
	defer adapter.Close()

	_, err = adapter.Fetch(context.Background(), domain.ListingItem{NativeID: "x", URL: server.URL})
	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
}
