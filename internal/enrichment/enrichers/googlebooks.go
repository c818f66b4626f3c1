package enrichers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
)

const (
	googleBooksBaseURL  = "https://www.googleapis.com/books/v1"
	googleBooksPriority = 3
)

// GoogleBooksEnricher implements the book.Enricher interface for Google Books API.
type GoogleBooksEnricher struct {
	src *source
}

// Compile-time check that GoogleBooksEnricher implements book.Enricher.
var _ book.Enricher = (*GoogleBooksEnricher)(nil)

// NewGoogleBooksEnricher creates a new Google Books enricher.
func NewGoogleBooksEnricher(opts ...Option) *GoogleBooksEnricher {
	return &GoogleBooksEnricher{src: newSource("Google Books", googleBooksBaseURL, 1, opts)}
}

// Name returns the human-readable name of this enricher.
func (e *GoogleBooksEnricher) Name() string {
	return e.src.name
}

// Priority returns the priority for merging data (lower = higher precedence).
func (e *GoogleBooksEnricher) Priority() int {
	return googleBooksPriority
}

// Ping runs a one-result search that should always succeed.
func (e *GoogleBooksEnricher) Ping(ctx context.Context) error {
	return e.src.ping(ctx, e.volumesURL("0140447938")+"&maxResults=1", nil, http.StatusOK)
}

// Enrich fetches book data from Google Books API by ISBN.
func (e *GoogleBooksEnricher) Enrich(ctx context.Context, isbn string) (*book.EnrichmentData, error) {
	isbn = catalog.NormalizeISBN(isbn)
	if isbn == "" {
		return nil, book.ErrInvalidISBN
	}

	cached, _, err := cache.GetOrFetchWithTTL("googlebooks_cache", isbn, func() (*cachedResult, error) {
		return e.fetchFromAPI(ctx, isbn)
	}, cache.SelectNegativeCacheTTL(func(r *cachedResult) bool {
		return r.NotFound
	}))
	if err != nil {
		return nil, err
	}

	if cached.NotFound {
		return nil, nil
	}
	return cached.Data, nil
}

// googleBooksResponse matches the Google Books API response structure.
type googleBooksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Subtitle      string   `json:"subtitle"`
			Authors       []string `json:"authors"`
			Publisher     string   `json:"publisher"`
			PublishedDate string   `json:"publishedDate"`
			Description   string   `json:"description"`
			PageCount     int      `json:"pageCount"`
			Categories    []string `json:"categories"`
			Language      string   `json:"language"`
			ImageLinks    struct {
				Thumbnail      string `json:"thumbnail"`
				SmallThumbnail string `json:"smallThumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (e *GoogleBooksEnricher) volumesURL(isbn string) string {
	u := fmt.Sprintf("%s/volumes?q=isbn:%s", e.src.baseURL, isbn)
	if apiKey := viper.GetString("googlebooks.api_key"); apiKey != "" {
		u += "&key=" + url.QueryEscape(apiKey)
	}
	return u
}

func (e *GoogleBooksEnricher) fetchFromAPI(ctx context.Context, isbn string) (*cachedResult, error) {
	var result googleBooksResponse
	found, err := e.src.getJSON(ctx, e.volumesURL(isbn), nil, &result)
	if err != nil {
		return nil, err
	}
	if !found || result.TotalItems == 0 || len(result.Items) == 0 {
		return &cachedResult{NotFound: true}, nil
	}

	// first item is the best match
	vol := result.Items[0].VolumeInfo

	data := &book.EnrichmentData{
		Title:       strPtr(vol.Title),
		Subtitle:    strPtr(vol.Subtitle),
		Description: strPtr(vol.Description),
		Publisher:   strPtr(vol.Publisher),
		PublishDate: strPtr(vol.PublishedDate),
		Language:    strPtr(vol.Language),
		Authors:     vol.Authors,
		Subjects:    vol.Categories,
	}
	if vol.PageCount > 0 {
		data.NumberOfPages = &vol.PageCount
	}

	coverURL := vol.ImageLinks.Thumbnail
	if coverURL == "" {
		coverURL = vol.ImageLinks.SmallThumbnail
	}
	if coverURL != "" {
		// zoom=0 serves the largest available image
		data.CoverURL = strPtr(strings.Replace(coverURL, "zoom=1", "zoom=0", 1))
	}

	return &cachedResult{Data: data}, nil
}
