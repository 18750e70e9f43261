package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/httpclient"

	"github.com/mmcdole/gofeed"
)

// FeedLister discovers stories from an RSS or Atom feed. The collection id is the feed URL.
// Query terms are matched against item title, description and content; the date range
// filters dated items. A feed is a single page.
type FeedLister struct {
	feedParser *gofeed.Parser
}

// NewFeedLister creates a new feed lister
func NewFeedLister() *FeedLister {
	p := gofeed.NewParser()
	p.UserAgent = httpclient.UserAgent
	return &FeedLister{feedParser: p}
}

// ListStories fetches and parses the feed named by req.CollectionID.
func (l *FeedLister) ListStories(ctx context.Context, req PageRequest) (Page, error) {
	feed, err := l.feedParser.ParseURLWithContext(req.CollectionID, ctx)
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse feed: %w", err)
	}
	if feed == nil {
		return Page{}, nil
	}

	terms := queryTerms(req.Query)
	stories := make([]domain.Story, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || (item.Link == "" && item.GUID == "") {
			continue
		}
		if !matchesAny(item.Title+" "+item.Description+" "+item.Content, terms) {
			continue
		}

		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if !inRange(published, req.Start, req.End) {
			continue
		}

		story := domain.Story{
			ID:        item.GUID,
			URL:       item.Link,
			GUID:      item.GUID,
			Title:     item.Title,
			Language:  feed.Language,
			Author:    feedAuthor(item),
			MediaName: feed.Title,
			MediaURL:  feed.Link,
		}
		if published != nil {
			story.PublishDate = published.UTC().Format(time.RFC3339)
		}
		stories = append(stories, story)
	}

	return Page{Stories: stories}, nil
}

func feedAuthor(item *gofeed.Item) string {
	names := make([]string, 0, len(item.Authors))
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			names = append(names, strings.TrimSpace(a.Name))
		}
	}
	if len(names) == 0 && item.Author != nil {
		return strings.TrimSpace(item.Author.Name)
	}
	return strings.Join(names, ", ")
}

// inRange reports whether t falls within [start, end] by calendar date.
// Undated entries and open bounds always match.
func inRange(t *time.Time, start, end domain.Date) bool {
	if t == nil {
		return true
	}
	if !start.IsZero() && t.Before(start.Time) {
		return false
	}
	if !end.IsZero() && !t.Before(end.AddDate(0, 0, 1)) {
		return false
	}
	return true
}
