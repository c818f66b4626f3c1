package book

import (
	"cmp"
	"slices"
)

// Merger combines several sources' answers into one.
type Merger interface {
	Merge(results []EnricherResult) *EnrichmentData
}

// PriorityMerger takes each scalar field from the highest-priority source that
// has it and unions the subject lists.
type PriorityMerger struct{}

// NewPriorityMerger creates a new PriorityMerger.
func NewPriorityMerger() *PriorityMerger {
	return &PriorityMerger{}
}

// Merge returns nil when there are no results. Ties in priority keep their
// input order.
func (m *PriorityMerger) Merge(results []EnricherResult) *EnrichmentData {
	if len(results) == 0 {
		return nil
	}

	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b EnricherResult) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	merged := &EnrichmentData{}
	for _, r := range sorted {
		d := r.Data
		if d == nil {
			continue
		}

		firstString(&merged.Title, d.Title)
		firstString(&merged.Subtitle, d.Subtitle)
		firstString(&merged.Description, d.Description)
		firstString(&merged.Publisher, d.Publisher)
		firstString(&merged.CoverURL, d.CoverURL)
		firstString(&merged.PublishDate, d.PublishDate)
		firstString(&merged.Language, d.Language)

		if merged.NumberOfPages == nil && d.NumberOfPages != nil && *d.NumberOfPages > 0 {
			merged.NumberOfPages = d.NumberOfPages
		}
		if len(merged.Authors) == 0 && len(d.Authors) > 0 {
			merged.Authors = d.Authors
		}

		merged.Subjects = union(merged.Subjects, d.Subjects)
		merged.SubjectPeople = union(merged.SubjectPeople, d.SubjectPeople)
	}

	return merged
}

func firstString(dst **string, v *string) {
	if *dst == nil && v != nil && *v != "" {
		*dst = v
	}
}

// union appends the values of b missing from a, keeping first-seen order.
func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
