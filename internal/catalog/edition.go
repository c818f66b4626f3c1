package catalog

import (
	"github.com/lepinkainen/catalogd/internal/enrichment/book"
)

// Edition is one data source's view of the bibliographic record for an
// identifier. Each (identifier, source) pair has at most one edition.
type Edition struct {
	ID            int64
	IdentifierID  int64
	DataSource    string
	Title         string
	Subtitle      string
	Publisher     string
	Language      string
	Published     string
	PageCount     int
	CoverURL      string
	Description   string
	Authors       []string
	Subjects      []string
	MirroredCover string
}

// Apply replaces the edition's fields with every value the source supplied.
// Fields the source left unset keep their previous value.
func (e *Edition) Apply(data *book.EnrichmentData) {
	if data == nil {
		return
	}

	if data.Title != nil {
		e.Title = *data.Title
	}
	if data.Subtitle != nil {
		e.Subtitle = *data.Subtitle
	}
	if data.Description != nil {
		e.Description = *data.Description
	}
	if data.Publisher != nil {
		e.Publisher = *data.Publisher
	}
	if data.NumberOfPages != nil {
		e.PageCount = *data.NumberOfPages
	}
	if data.CoverURL != nil {
		e.CoverURL = *data.CoverURL
	}
	if data.PublishDate != nil {
		e.Published = *data.PublishDate
	}
	if data.Language != nil {
		e.Language = *data.Language
	}
	if len(data.Subjects) > 0 {
		e.Subjects = data.Subjects
	}
	if len(data.Authors) > 0 {
		e.Authors = data.Authors
	}
}

// EnrichmentData converts the edition back into the merge format so several
// editions can be combined by priority.
func (e *Edition) EnrichmentData() *book.EnrichmentData {
	data := &book.EnrichmentData{
		Authors:  e.Authors,
		Subjects: e.Subjects,
	}
	setString := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	setString(&data.Title, e.Title)
	setString(&data.Subtitle, e.Subtitle)
	setString(&data.Description, e.Description)
	setString(&data.Publisher, e.Publisher)
	setString(&data.CoverURL, e.CoverURL)
	setString(&data.PublishDate, e.Published)
	setString(&data.Language, e.Language)
	if e.PageCount > 0 {
		pages := e.PageCount
		data.NumberOfPages = &pages
	}
	return data
}
