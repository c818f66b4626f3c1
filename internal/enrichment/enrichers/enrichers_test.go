package enrichers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
	apperrors "github.com/lepinkainen/catalogd/internal/errors"
	"github.com/lepinkainen/catalogd/internal/testutil"
)

func setupCache(t *testing.T) {
	t.Helper()
	testutil.ResetConfig(t)
	env := testutil.NewTestEnv(t)
	testutil.SetupTestCache(t, env)
	require.NoError(t, cache.ResetGlobalCache())
	t.Cleanup(func() { _ = cache.ResetGlobalCache() })
}

func TestOpenLibraryEnrich(t *testing.T) {
	setupCache(t)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/books":
			assert.Equal(t, "ISBN:9780140447934", r.URL.Query().Get("bibkeys"))
			_, _ = w.Write([]byte(`{"ISBN:9780140447934": {
				"title": "The Odyssey",
				"description": {"value": "An epic."},
				"publishers": [{"name": "Penguin"}],
				"authors": [{"name": "Homer"}],
				"cover": {"large": "https://covers.example/L.jpg"},
				"subjects": ["Epic poetry", {"name": "Odysseus"}]
			}}`))
		case "/isbn/9780140447934.json":
			_, _ = w.Write([]byte(`{"number_of_pages": 541, "languages": [{"key": "/languages/eng"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	e := NewOpenLibraryEnricher(WithBaseURL(server.URL), WithRateLimit(0))
	assert.Equal(t, "OpenLibrary", e.Name())

	data, err := e.Enrich(context.Background(), "978-0-14-044793-4")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "The Odyssey", *data.Title)
	assert.Equal(t, "An epic.", *data.Description)
	assert.Equal(t, "Penguin", *data.Publisher)
	assert.Equal(t, 541, *data.NumberOfPages)
	assert.Equal(t, "eng", *data.Language)
	assert.Equal(t, []string{"Homer"}, data.Authors)
	assert.Equal(t, []string{"Epic poetry", "Odysseus"}, data.Subjects)

	before := hits.Load()
	_, err = e.Enrich(context.Background(), "9780140447934")
	require.NoError(t, err)
	assert.Equal(t, before, hits.Load(), "second lookup served from cache")
}

func TestOpenLibraryNotFound(t *testing.T) {
	setupCache(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	e := NewOpenLibraryEnricher(WithBaseURL(server.URL), WithRateLimit(0))
	data, err := e.Enrich(context.Background(), "123")
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = e.Enrich(context.Background(), "  ")
	assert.ErrorIs(t, err, book.ErrInvalidISBN)
}

func TestGoogleBooksEnrich(t *testing.T) {
	setupCache(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "isbn:9780140447934", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"totalItems": 1, "items": [{"volumeInfo": {
			"title": "The Odyssey", "authors": ["Homer"], "pageCount": 560,
			"categories": ["Poetry"], "imageLinks": {"thumbnail": "http://img?id=1&zoom=1"}
		}}]}`))
	}))
	defer server.Close()

	e := NewGoogleBooksEnricher(WithBaseURL(server.URL), WithRateLimit(0))
	data, err := e.Enrich(context.Background(), "9780140447934")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "The Odyssey", *data.Title)
	assert.Equal(t, 560, *data.NumberOfPages)
	assert.Equal(t, "http://img?id=1&zoom=0", *data.CoverURL)
	assert.Nil(t, data.Subtitle)
}

func TestGoogleBooksStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		rateLimit bool
		permanent bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, rateLimit: true},
		{name: "server error", status: http.StatusBadGateway},
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCache(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "30")
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			e := NewGoogleBooksEnricher(WithBaseURL(server.URL), WithRateLimit(0))
			_, err := e.Enrich(context.Background(), "9780140447934")
			require.Error(t, err)
			assert.Equal(t, tt.rateLimit, apperrors.IsRateLimitError(err))
			assert.Equal(t, tt.permanent, apperrors.IsPermanentStatus(err))
		})
	}
}

func TestISBNdbEnrich(t *testing.T) {
	setupCache(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		if r.URL.Path == "/book/0000000000" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"book": {"title": "The Odyssey", "isbn13": "9780140447934",
			"pages": 541, "overview": "short", "synopsis": "", "subjects": ["Subjects", "Epic"]}}`))
	}))
	defer server.Close()

	e := NewISBNdbEnricher(WithBaseURL(server.URL), WithRateLimit(0))

	_, err := e.Enrich(context.Background(), "9780140447934")
	require.ErrorIs(t, err, ErrMissingAPIKey)
	assert.False(t, e.HasAPIKey())

	viper.Set("isbndb.api_key", "secret")
	assert.True(t, e.HasAPIKey())

	data, err := e.Enrich(context.Background(), "9780140447934")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "short", *data.Description)
	assert.Equal(t, []string{"Epic"}, data.Subjects)

	missing, err := e.Enrich(context.Background(), "0000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, e.Ping(context.Background()))
}
