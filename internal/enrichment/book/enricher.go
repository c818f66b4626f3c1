// Package book defines the metadata sources that editions are built from and
// how their answers are merged.
package book

import (
	"context"
)

// Enricher fetches bibliographic data for an ISBN from one external source.
type Enricher interface {
	// Name is the data source name editions from this enricher are stored under.
	Name() string

	// Priority orders sources when merging. Lower values win.
	Priority() int

	// Ping checks that the source is reachable.
	Ping(ctx context.Context) error

	// Enrich returns nil, nil when the source does not know the ISBN.
	// Rate limiting is reported as an *errors.RateLimitError.
	Enrich(ctx context.Context, isbn string) (*EnrichmentData, error)
}

// EnrichmentData is one source's answer. Nil pointers mean the source did not
// supply the field.
type EnrichmentData struct {
	Title         *string `json:"title,omitempty" yaml:"title,omitempty"`
	Subtitle      *string `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Description   *string `json:"description,omitempty" yaml:"description,omitempty"`
	Publisher     *string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	NumberOfPages *int    `json:"number_of_pages,omitempty" yaml:"number_of_pages,omitempty"`
	CoverURL      *string `json:"cover_url,omitempty" yaml:"cover_url,omitempty"`
	// PublishDate format varies by source.
	PublishDate   *string  `json:"publish_date,omitempty" yaml:"publish_date,omitempty"`
	Language      *string  `json:"language,omitempty" yaml:"language,omitempty"`
	Subjects      []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	SubjectPeople []string `json:"subject_people,omitempty" yaml:"subject_people,omitempty"`
	Authors       []string `json:"authors,omitempty" yaml:"authors,omitempty"`
}

// EnricherResult is the data fetched from a single source.
type EnricherResult struct {
	// Data may be nil if the source did not know the book.
	Data     *EnrichmentData
	Source   string
	Priority int
}
