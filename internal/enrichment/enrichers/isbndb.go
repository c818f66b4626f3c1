package enrichers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/viper"

	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
)

const (
	isbndbBaseURL  = "https://api2.isbndb.com"
	isbndbPriority = 1 // most comprehensive data
)

// ErrMissingAPIKey is returned when ISBNdb is used without an API key.
var ErrMissingAPIKey = errors.New("ISBNdb API key not configured")

// ISBNdbEnricher implements the book.Enricher interface for ISBNdb API.
type ISBNdbEnricher struct {
	src *source
}

// Compile-time check that ISBNdbEnricher implements book.Enricher.
var _ book.Enricher = (*ISBNdbEnricher)(nil)

// NewISBNdbEnricher creates a new ISBNdb enricher. The free tier allows one
// request per second.
func NewISBNdbEnricher(opts ...Option) *ISBNdbEnricher {
	return &ISBNdbEnricher{src: newSource("ISBNdb", isbndbBaseURL, 1, opts)}
}

// Name returns the human-readable name of this enricher.
func (e *ISBNdbEnricher) Name() string {
	return e.src.name
}

// Priority returns the priority for merging data (lower = higher precedence).
func (e *ISBNdbEnricher) Priority() int {
	return isbndbPriority
}

// HasAPIKey reports whether an API key is configured.
func (e *ISBNdbEnricher) HasAPIKey() bool {
	return apiKey() != ""
}

// Ping looks up a well-known ISBN.
func (e *ISBNdbEnricher) Ping(ctx context.Context) error {
	key := apiKey()
	if key == "" {
		return ErrMissingAPIKey
	}
	return e.src.ping(ctx, e.src.baseURL+"/book/9780140447934", authHeader(key), http.StatusOK, http.StatusNotFound)
}

// Enrich fetches book data from ISBNdb API by ISBN.
func (e *ISBNdbEnricher) Enrich(ctx context.Context, isbn string) (*book.EnrichmentData, error) {
	isbn = catalog.NormalizeISBN(isbn)
	if isbn == "" {
		return nil, book.ErrInvalidISBN
	}

	key := apiKey()
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	cached, _, err := cache.GetOrFetchWithTTL("isbndb_cache", isbn, func() (*cachedResult, error) {
		return e.fetchFromAPI(ctx, isbn, key)
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

// isbndbBookResponse matches the ISBNdb API response structure.
type isbndbBookResponse struct {
	Book struct {
		Title         string   `json:"title"`
		ISBN          string   `json:"isbn"`
		ISBN13        string   `json:"isbn13"`
		Publisher     string   `json:"publisher"`
		Language      string   `json:"language"`
		DatePublished string   `json:"date_published"`
		Pages         *int     `json:"pages"`
		Overview      string   `json:"overview"`
		Synopsis      string   `json:"synopsis"`
		ImageOriginal string   `json:"image_original"`
		Authors       []string `json:"authors"`
		Subjects      []string `json:"subjects"`
	} `json:"book"`
}

func (e *ISBNdbEnricher) fetchFromAPI(ctx context.Context, isbn, key string) (*cachedResult, error) {
	var result isbndbBookResponse
	found, err := e.src.getJSON(ctx, fmt.Sprintf("%s/book/%s", e.src.baseURL, isbn), authHeader(key), &result)
	if err != nil {
		return nil, err
	}

	b := result.Book
	if !found || (b.Title == "" && b.ISBN == "" && b.ISBN13 == "") {
		return &cachedResult{NotFound: true}, nil
	}

	data := &book.EnrichmentData{
		Title:       strPtr(b.Title),
		Publisher:   strPtr(b.Publisher),
		Language:    strPtr(b.Language),
		PublishDate: strPtr(b.DatePublished),
		CoverURL:    strPtr(b.ImageOriginal),
		Authors:     b.Authors,
	}
	if b.Pages != nil && *b.Pages > 0 {
		data.NumberOfPages = b.Pages
	}

	// synopsis is usually the longer text
	if b.Synopsis != "" {
		data.Description = strPtr(b.Synopsis)
	} else {
		data.Description = strPtr(b.Overview)
	}

	for _, s := range b.Subjects {
		// ISBNdb pads subject lists with a literal "Subjects" entry
		if s != "" && s != "Subjects" {
			data.Subjects = append(data.Subjects, s)
		}
	}

	return &cachedResult{Data: data}, nil
}

func apiKey() string {
	return viper.GetString("isbndb.api_key")
}

func authHeader(key string) http.Header {
	return http.Header{"Authorization": []string{key}}
}
