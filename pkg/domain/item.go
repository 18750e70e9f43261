package domain

import "time"

// DiscoveryItem is one story yielded by discovery. It is never mutated after creation.
type DiscoveryItem struct {
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonical_url"`
	Title        string     `json:"title,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Language     string     `json:"language,omitempty"`
	Authors      []string   `json:"authors"`
	Extra        Provenance `json:"extra"`
}

// Provenance records where a discovered item came from.
type Provenance struct {
	StoryID        string `json:"story_id,omitempty" bson:"story_id,omitempty"`
	Collection     string `json:"collection,omitempty" bson:"collection,omitempty"`
	CollectionID   string `json:"collection_id,omitempty" bson:"collection_id,omitempty"`
	SourceLanguage string `json:"source_language,omitempty" bson:"source_language,omitempty"`
	MediaID        string `json:"media_id,omitempty" bson:"media_id,omitempty"`
	MediaName      string `json:"media_name,omitempty" bson:"media_name,omitempty"`
	MediaURL       string `json:"media_url,omitempty" bson:"media_url,omitempty"`
	Source         string `json:"source,omitempty" bson:"source,omitempty"`
}

// FrontierEntry is a discovered item not yet in the corpus, with its Stable ID.
type FrontierEntry struct {
	URL  string
	ID   string
	Item DiscoveryItem
}
