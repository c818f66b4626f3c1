package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestPriorityMergerMerge(t *testing.T) {
	m := NewPriorityMerger()

	assert.Nil(t, m.Merge(nil))

	results := []EnricherResult{
		{
			Source:   "Low",
			Priority: 5,
			Data: &EnrichmentData{
				Title:         ptr("Low Title"),
				Publisher:     ptr("Low Publisher"),
				NumberOfPages: ptr(300),
				Subjects:      []string{"History", "War"},
				Authors:       []string{"Someone Else"},
			},
		},
		{Source: "Missing", Priority: 0},
		{
			Source:   "High",
			Priority: 1,
			Data: &EnrichmentData{
				Title:         ptr("High Title"),
				Publisher:     ptr(""),
				NumberOfPages: ptr(0),
				Subjects:      []string{"War", "Poetry"},
				Authors:       []string{"Homer"},
			},
		},
	}

	merged := m.Merge(results)
	require.NotNil(t, merged)
	assert.Equal(t, "High Title", *merged.Title)
	assert.Equal(t, "Low Publisher", *merged.Publisher, "empty strings do not win")
	assert.Equal(t, 300, *merged.NumberOfPages, "zero page counts do not win")
	assert.Equal(t, []string{"Homer"}, merged.Authors)
	assert.Equal(t, []string{"War", "Poetry", "History"}, merged.Subjects)
	assert.Nil(t, merged.Description)

	assert.Equal(t, "Low", results[0].Source, "input order untouched")
}

func TestPriorityMergerTiesKeepInputOrder(t *testing.T) {
	merged := NewPriorityMerger().Merge([]EnricherResult{
		{Priority: 2, Data: &EnrichmentData{Title: ptr("first")}},
		{Priority: 2, Data: &EnrichmentData{Title: ptr("second")}},
	})
	assert.Equal(t, "first", *merged.Title)
}
