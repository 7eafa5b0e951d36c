package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/story-ingress/pkg/model"
)

func writeMapping(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPlan_Defaults(t *testing.T) {
	plan, err := LoadPlan("", nil)
	require.NoError(t, err)
	assert.Len(t, plan.Stages, 6)
	assert.Len(t, plan.Links, 2)
}

func TestLoadPlan_Override(t *testing.T) {
	path := writeMapping(t, `
stages:
  - entity: theme
    source_table: Topics
    primary_view: All topics
    expected_count: 40
    partition_field: Created
    partitions:
      - from: "2023-01-01"
        to: "2024-01-01"
      - from: "2024-01-01"
    known_ids: [recA, recB]
    columns:
      - column: name
        field: Topic
        kind: text
        required: true
links:
  - name: story_themes
    owner: story
    field: Topics
    target: theme
    join_table: story_themes
    owner_column: story_id
    target_column: theme_id
`)

	plan, err := LoadPlan(path, []string{"storyteller"})
	require.NoError(t, err)

	theme, ok := plan.Stage(model.EntityTheme)
	require.True(t, ok)
	assert.Equal(t, "Topics", theme.SourceTable)
	assert.Equal(t, 40, theme.ExpectedCount)
	assert.Equal(t, []model.PartitionRange{{From: "2023-01-01", To: "2024-01-01"}, {From: "2024-01-01"}}, theme.Partitions)
	assert.Equal(t, []string{"recA", "recB"}, theme.KnownIDs)
	require.Len(t, theme.Columns, 1)
	assert.Equal(t, "Topic", theme.Columns[0].Field)

	require.Len(t, plan.Links, 2)
	assert.Equal(t, "Topics", plan.Links[0].Field)

	storyteller, _ := plan.Stage(model.EntityStoryteller)
	assert.True(t, storyteller.LegacyLink)
}

func TestLoadPlan_Errors(t *testing.T) {
	tests := []struct {
		name       string
		mapping    string
		legacyLink []string
	}{
		{"unknown stage", "stages:\n  - entity: poem\n    source_table: Poems\n", nil},
		{"unsafe column", "stages:\n  - entity: theme\n    source_table: Themes\n    columns:\n      - column: \"name; DROP\"\n        field: Name\n", nil},
		{"malformed yaml", "stages: [", nil},
		{"unknown legacy entity", "", []string{"poem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.mapping != "" {
				path = writeMapping(t, tt.mapping)
			}
			_, err := LoadPlan(path, tt.legacyLink)
			assert.Error(t, err)
		})
	}

	_, err := LoadPlan(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
