package enrichers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lepinkainen/catalogd/internal/cache"
	"github.com/lepinkainen/catalogd/internal/catalog"
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
)

const (
	openLibraryBaseURL  = "https://openlibrary.org"
	openLibraryPriority = 2
)

// OpenLibraryEnricher implements the book.Enricher interface for OpenLibrary.
type OpenLibraryEnricher struct {
	src *source
}

// Compile-time check that OpenLibraryEnricher implements book.Enricher.
var _ book.Enricher = (*OpenLibraryEnricher)(nil)

// NewOpenLibraryEnricher creates a new OpenLibrary enricher.
func NewOpenLibraryEnricher(opts ...Option) *OpenLibraryEnricher {
	return &OpenLibraryEnricher{src: newSource("OpenLibrary", openLibraryBaseURL, 1, opts)}
}

// Name returns the human-readable name of this enricher.
func (e *OpenLibraryEnricher) Name() string {
	return e.src.name
}

// Priority returns the priority for merging data (lower = higher precedence).
func (e *OpenLibraryEnricher) Priority() int {
	return openLibraryPriority
}

// Ping tests the connection to OpenLibrary.
func (e *OpenLibraryEnricher) Ping(ctx context.Context) error {
	return e.src.ping(ctx, e.src.baseURL, nil, http.StatusOK)
}

// Enrich fetches book data from OpenLibrary by ISBN.
func (e *OpenLibraryEnricher) Enrich(ctx context.Context, isbn string) (*book.EnrichmentData, error) {
	isbn = catalog.NormalizeISBN(isbn)
	if isbn == "" {
		return nil, book.ErrInvalidISBN
	}

	cached, _, err := cache.GetOrFetchWithTTL("openlibrary_cache", isbn, func() (*cachedResult, error) {
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

// cachedResult wraps EnrichmentData with metadata for caching.
type cachedResult struct {
	Data     *book.EnrichmentData `json:"data"`
	NotFound bool                 `json:"not_found"`
}

// openLibraryBookResponse matches the books API "data" view.
type openLibraryBookResponse struct {
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Description any    `json:"description"`
	Publishers  []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Cover struct {
		Large string `json:"large"`
	} `json:"cover"`
	Subjects      []any  `json:"subjects"`
	SubjectPeople []any  `json:"subject_people"`
	NumberOfPages int    `json:"number_of_pages"`
	PublishDate   string `json:"publish_date"`
}

// openLibraryEditionResponse matches the edition API response.
type openLibraryEditionResponse struct {
	NumberOfPages int      `json:"number_of_pages"`
	Publishers    []string `json:"publishers"`
	Languages     []struct {
		Key string `json:"key"`
	} `json:"languages"`
	Subjects []string `json:"subjects"`
}

func (e *OpenLibraryEnricher) fetchFromAPI(ctx context.Context, isbn string) (*cachedResult, error) {
	url := fmt.Sprintf("%s/api/books?bibkeys=ISBN:%s&format=json&jscmd=data", e.src.baseURL, isbn)

	var result map[string]openLibraryBookResponse
	found, err := e.src.getJSON(ctx, url, nil, &result)
	if err != nil {
		return nil, err
	}

	olBook, ok := result["ISBN:"+isbn]
	if !found || !ok {
		return &cachedResult{NotFound: true}, nil
	}

	data := &book.EnrichmentData{
		Title:       strPtr(olBook.Title),
		Subtitle:    strPtr(olBook.Subtitle),
		Description: strPtr(extractDescription(olBook.Description)),
		CoverURL:    strPtr(olBook.Cover.Large),
		PublishDate: strPtr(olBook.PublishDate),
	}
	if len(olBook.Publishers) > 0 {
		data.Publisher = strPtr(olBook.Publishers[0].Name)
	}
	if olBook.NumberOfPages > 0 {
		data.NumberOfPages = &olBook.NumberOfPages
	}
	for _, author := range olBook.Authors {
		if author.Name != "" {
			data.Authors = append(data.Authors, author.Name)
		}
	}
	data.Subjects = extractStringSlice(olBook.Subjects)
	data.SubjectPeople = extractStringSlice(olBook.SubjectPeople)

	// The edition record fills gaps; failing to get it is not fatal.
	edition, err := e.fetchEditionData(ctx, isbn)
	if err == nil && edition != nil {
		if data.NumberOfPages == nil && edition.NumberOfPages > 0 {
			data.NumberOfPages = &edition.NumberOfPages
		}
		if data.Publisher == nil && len(edition.Publishers) > 0 {
			data.Publisher = strPtr(edition.Publishers[0])
		}
		if len(edition.Languages) > 0 {
			// "/languages/eng" -> "eng"
			key := edition.Languages[0].Key
			data.Language = strPtr(key[strings.LastIndex(key, "/")+1:])
		}
		if len(data.Subjects) == 0 && len(edition.Subjects) > 0 {
			data.Subjects = edition.Subjects
		}
	}

	return &cachedResult{Data: data}, nil
}

func (e *OpenLibraryEnricher) fetchEditionData(ctx context.Context, isbn string) (*openLibraryEditionResponse, error) {
	var edition openLibraryEditionResponse
	found, err := e.src.getJSON(ctx, fmt.Sprintf("%s/isbn/%s.json", e.src.baseURL, isbn), nil, &edition)
	if err != nil || !found {
		return nil, err
	}
	return &edition, nil
}

// extractDescription handles the string and {"value": ...} forms.
func extractDescription(desc any) string {
	switch v := desc.(type) {
	case string:
		return v
	case map[string]any:
		if val, ok := v["value"].(string); ok {
			return val
		}
	}
	return ""
}

// extractStringSlice flattens strings and {"name": ...} objects.
func extractStringSlice(items []any) []string {
	if len(items) == 0 {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			result = append(result, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				result = append(result, name)
			}
		}
	}
	return result
}
