// pkg/model/metadata.go
package model

import (
	"fmt"
	"regexp"
)

// ColumnKind is the destination type a source field is converted to
type ColumnKind string

const (
	KindText      ColumnKind = "text"
	KindInteger   ColumnKind = "integer"
	KindFloat     ColumnKind = "float"
	KindBoolean   ColumnKind = "boolean"
	KindTimestamp ColumnKind = "timestamp"
	KindJSON      ColumnKind = "json"
)

// ColumnMapping maps one source field onto one destination column
type ColumnMapping struct {
	Column   string     `yaml:"column"`
	Field    string     `yaml:"field"`
	Kind     ColumnKind `yaml:"kind"`
	Required bool       `yaml:"required"`
}

// RelationMapping resolves a linked-record field into destination foreign keys.
// Single-valued relations set Column; many-valued relations are written into
// JoinTable(JoinColumn = owner id, TargetColumn = target id).
type RelationMapping struct {
	Field        string     `yaml:"field"`
	Target       EntityType `yaml:"target"`
	Column       string     `yaml:"column"`
	JoinTable    string     `yaml:"join_table"`
	JoinColumn   string     `yaml:"join_column"`
	TargetColumn string     `yaml:"target_column"`
	Required     bool       `yaml:"required"`
}

// IsMany reports whether the relation is written through a join table
func (r RelationMapping) IsMany() bool {
	return r.JoinTable != ""
}

// PartitionRange is one creation-date window used by the partition fallback
type PartitionRange struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// StageMapping is the per-entity-type configuration of one migration stage
type StageMapping struct {
	Entity           EntityType        `yaml:"entity"`
	SourceTable      string            `yaml:"source_table"`
	PrimaryView      string            `yaml:"primary_view"`
	ExpectedCount    int               `yaml:"expected_count"`
	PartitionField   string            `yaml:"partition_field"`
	Partitions       []PartitionRange  `yaml:"partitions"`
	KnownIDs         []string          `yaml:"known_ids"`
	DisplayNameField string            `yaml:"display_name_field"`
	DisplayColumn    string            `yaml:"display_column"`
	Columns          []ColumnMapping   `yaml:"columns"`
	Relations        []RelationMapping `yaml:"relations"`
	AttachmentField  string            `yaml:"attachment_field"`
	AttachmentColumn string            `yaml:"attachment_column"`
	LegacyLink       bool              `yaml:"legacy_link"`
}

// LinkMapping describes a cross-entity relation written in the final stage
type LinkMapping struct {
	Name         string     `yaml:"name"`
	Owner        EntityType `yaml:"owner"`
	Field        string     `yaml:"field"`
	Target       EntityType `yaml:"target"`
	JoinTable    string     `yaml:"join_table"`
	OwnerColumn  string     `yaml:"owner_column"`
	TargetColumn string     `yaml:"target_column"`
}

// Plan is the full set of stage mappings for a run
type Plan struct {
	Stages []StageMapping `yaml:"stages"`
	Links  []LinkMapping  `yaml:"links"`
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Stage returns the mapping for an entity type
func (p *Plan) Stage(entity EntityType) (*StageMapping, bool) {
	for i := range p.Stages {
		if p.Stages[i].Entity == entity {
			return &p.Stages[i], true
		}
	}
	return nil, false
}

// Validate checks that every identifier in the plan is safe to interpolate into SQL
func (p *Plan) Validate() error {
	for _, stage := range p.Stages {
		if stage.Entity.Table() == "" {
			return fmt.Errorf("stage has unknown entity type %q", stage.Entity)
		}
		if stage.SourceTable == "" {
			return fmt.Errorf("stage %s has no source table", stage.Entity)
		}
		if stage.LegacyLink && (stage.DisplayNameField == "" || stage.DisplayColumn == "") {
			return fmt.Errorf("stage %s uses legacy linking but has no display name mapping", stage.Entity)
		}
		idents := []string{}
		if stage.DisplayColumn != "" {
			idents = append(idents, stage.DisplayColumn)
		}
		if stage.AttachmentColumn != "" {
			idents = append(idents, stage.AttachmentColumn)
		}
		for _, col := range stage.Columns {
			idents = append(idents, col.Column)
		}
		for _, rel := range stage.Relations {
			if rel.Target.Table() == "" {
				return fmt.Errorf("stage %s relation %s has unknown target %q", stage.Entity, rel.Field, rel.Target)
			}
			if rel.IsMany() {
				idents = append(idents, rel.JoinTable, rel.JoinColumn, rel.TargetColumn)
			} else {
				idents = append(idents, rel.Column)
			}
		}
		for _, ident := range idents {
			if !identifierPattern.MatchString(ident) {
				return fmt.Errorf("stage %s has invalid identifier %q", stage.Entity, ident)
			}
		}
	}

	for _, link := range p.Links {
		for _, ident := range []string{link.JoinTable, link.OwnerColumn, link.TargetColumn} {
			if !identifierPattern.MatchString(ident) {
				return fmt.Errorf("link %s has invalid identifier %q", link.Name, ident)
			}
		}
		if link.Owner.Table() == "" || link.Target.Table() == "" {
			return fmt.Errorf("link %s references an unknown entity type", link.Name)
		}
	}
	return nil
}

// DefaultPlan returns the stage mappings for the storytelling source base
func DefaultPlan() Plan {
	return Plan{
		Stages: []StageMapping{
			{
				Entity:           EntityStoryteller,
				SourceTable:      "Storytellers",
				PrimaryView:      "Grid view",
				PartitionField:   "Created",
				DisplayNameField: "Name",
				DisplayColumn:    "display_name",
				Columns: []ColumnMapping{
					{Column: "display_name", Field: "Name", Kind: KindText, Required: true},
					{Column: "bio", Field: "Bio", Kind: KindText},
					{Column: "location", Field: "Location", Kind: KindText},
					{Column: "consent_status", Field: "Consent Status", Kind: KindText},
				},
				AttachmentField:  "Profile Image",
				AttachmentColumn: "profile_image_url",
			},
			{
				Entity:      EntityTranscript,
				SourceTable: "Transcripts",
				PrimaryView: "Grid view",
				Columns: []ColumnMapping{
					{Column: "title", Field: "Title", Kind: KindText},
					{Column: "body", Field: "Transcript", Kind: KindText},
					{Column: "recorded_at", Field: "Recorded At", Kind: KindTimestamp},
				},
				Relations: []RelationMapping{
					{Field: "Storyteller", Target: EntityStoryteller, Column: "storyteller_id", Required: true},
				},
			},
			{
				Entity:          EntityMedia,
				SourceTable:     "Media",
				PrimaryView:     "Grid view",
				AttachmentField: "File",
				Relations: []RelationMapping{
					{Field: "Storyteller", Target: EntityStoryteller, Column: "storyteller_id"},
				},
			},
			{
				Entity:      EntityStory,
				SourceTable: "Stories",
				PrimaryView: "Grid view",
				Columns: []ColumnMapping{
					{Column: "title", Field: "Title", Kind: KindText, Required: true},
					{Column: "summary", Field: "Summary", Kind: KindText},
					{Column: "body", Field: "Story", Kind: KindText},
					{Column: "published", Field: "Published", Kind: KindBoolean},
				},
				Relations: []RelationMapping{
					{
						Field:        "Storytellers",
						Target:       EntityStoryteller,
						JoinTable:    "story_storytellers",
						JoinColumn:   "story_id",
						TargetColumn: "storyteller_id",
						Required:     true,
					},
				},
			},
			{
				Entity:      EntityQuote,
				SourceTable: "Quotes",
				PrimaryView: "Grid view",
				Columns: []ColumnMapping{
					{Column: "text", Field: "Quote", Kind: KindText, Required: true},
				},
				Relations: []RelationMapping{
					{Field: "Story", Target: EntityStory, Column: "story_id", Required: true},
					{Field: "Storyteller", Target: EntityStoryteller, Column: "storyteller_id"},
				},
			},
			{
				Entity:      EntityTheme,
				SourceTable: "Themes",
				PrimaryView: "Grid view",
				Columns: []ColumnMapping{
					{Column: "name", Field: "Name", Kind: KindText, Required: true},
					{Column: "description", Field: "Description", Kind: KindText},
				},
			},
		},
		Links: []LinkMapping{
			{
				Name:         "story_themes",
				Owner:        EntityStory,
				Field:        "Themes",
				Target:       EntityTheme,
				JoinTable:    "story_themes",
				OwnerColumn:  "story_id",
				TargetColumn: "theme_id",
			},
			{
				Name:         "quote_themes",
				Owner:        EntityQuote,
				Field:        "Themes",
				Target:       EntityTheme,
				JoinTable:    "quote_themes",
				OwnerColumn:  "quote_id",
				TargetColumn: "theme_id",
			},
		},
	}
}
