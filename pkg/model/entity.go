// pkg/model/entity.go
package model

// EntityType identifies a destination entity kind
type EntityType string

const (
	EntityStoryteller EntityType = "storyteller"
	EntityTranscript  EntityType = "transcript"
	EntityMedia       EntityType = "media"
	EntityStory       EntityType = "story"
	EntityQuote       EntityType = "quote"
	EntityTheme       EntityType = "theme"
	EntityLink        EntityType = "link"
)

// DependencyOrder is the hard ordering contract between migration stages
var DependencyOrder = []EntityType{
	EntityStoryteller,
	EntityTranscript,
	EntityMedia,
	EntityStory,
	EntityQuote,
	EntityTheme,
	EntityLink,
}

// Table returns the destination table for the entity type
func (e EntityType) Table() string {
	switch e {
	case EntityStoryteller:
		return "storytellers"
	case EntityTranscript:
		return "transcripts"
	case EntityMedia:
		return "media"
	case EntityStory:
		return "stories"
	case EntityQuote:
		return "quotes"
	case EntityTheme:
		return "themes"
	default:
		return ""
	}
}

// MatchCandidate is a read-only projection of a destination row used for
// identity matching
type MatchCandidate struct {
	DestinationID string `db:"id"`
	DisplayName   string `db:"display_name"`
}
