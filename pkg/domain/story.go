package domain

import (
	"strings"
	"time"
)

// Story is one raw result returned by a discovery service.
// Collection fields are stamped on by discovery, not by the service.
type Story struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	GUID         string `json:"guid,omitempty"`
	Title        string `json:"title"`
	PublishDate  string `json:"publish_date,omitempty"`
	Language     string `json:"language,omitempty"`
	Author       string `json:"author,omitempty"`
	MediaID      string `json:"media_id,omitempty"`
	MediaName    string `json:"media_name,omitempty"`
	MediaURL     string `json:"media_url,omitempty"`
	Collection   string `json:"collection,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}

var publishLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	DateLayout,
	time.RFC1123Z,
	time.RFC1123,
}

// PublishedAt parses PublishDate. It returns nil when the date is missing or unreadable.
func (s Story) PublishedAt() *time.Time {
	return ParseTimestamp(s.PublishDate)
}

// Link returns the story URL, falling back to the GUID.
func (s Story) Link() string {
	if u := strings.TrimSpace(s.URL); u != "" {
		return u
	}
	return strings.TrimSpace(s.GUID)
}

// ParseTimestamp accepts the timestamp formats used by discovery services and page metadata.
func ParseTimestamp(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range publishLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
