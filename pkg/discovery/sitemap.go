package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/httpclient"
)

// SitemapEntry represents a single URL entry from a sitemap
type SitemapEntry struct {
	Location   string // URL of the article
	LastMod    string // Last modification date (optional)
	Priority   string // Priority value (optional)
	ChangeFreq string // Change frequency (optional)
}

// urlSet represents a regular sitemap structure
type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Location   string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	Priority   string `xml:"priority,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
}

// sitemapIndex represents a sitemap index structure
type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapRef struct {
	Location string `xml:"loc"`
	LastMod  string `xml:"lastmod,omitempty"`
}

// SitemapLister discovers stories from an XML sitemap or sitemap index.
// The collection id is the sitemap URL, lastmod becomes the publish date,
// query terms are matched against the URL and the date range filters dated entries.
type SitemapLister struct {
	client *httpclient.HTTPClient
}

// NewSitemapLister creates a new sitemap lister
func NewSitemapLister(client *httpclient.HTTPClient) *SitemapLister {
	if client == nil {
		client = httpclient.NewClient(httpclient.CloudflareClient)
	}
	return &SitemapLister{client: client}
}

// ListStories fetches the sitemap named by req.CollectionID and returns matching entries.
func (l *SitemapLister) ListStories(ctx context.Context, req PageRequest) (Page, error) {
	entries, err := l.ParseFromURL(ctx, req.CollectionID)
	if err != nil {
		return Page{}, err
	}

	terms := make([]string, 0)
	for _, t := range queryTerms(req.Query) {
		terms = append(terms, strings.ReplaceAll(t, " ", "-"))
	}

	stories := make([]domain.Story, 0, len(entries))
	for _, e := range entries {
		if !matchesAny(e.Location, terms) {
			continue
		}
		if !inRange(domain.ParseTimestamp(e.LastMod), req.Start, req.End) {
			continue
		}
		stories = append(stories, domain.Story{
			ID:          e.Location,
			URL:         e.Location,
			PublishDate: e.LastMod,
			MediaURL:    req.CollectionID,
		})
	}
	return Page{Stories: stories}, nil
}

// ParseFromURL fetches and parses a sitemap from the given URL, following sitemap indexes
func (l *SitemapLister) ParseFromURL(ctx context.Context, sitemapURL string) ([]SitemapEntry, error) {
	resp, err := l.client.GetContext(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s: unexpected status code: %d", sitemapURL, resp.StatusCode)
	}

	// Read first few bytes to detect sitemap type
	peekBuffer := make([]byte, 512)
	n, err := io.ReadFull(resp.Body, peekBuffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read sitemap: %w", err)
	}

	content := string(peekBuffer[:n])
	reader := io.MultiReader(strings.NewReader(content), resp.Body)

	if !strings.Contains(content, "sitemapindex") {
		return parseSitemap(reader)
	}

	sitemapURLs, err := parseSitemapIndex(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sitemap index: %w", err)
	}
	if len(sitemapURLs) == 0 {
		return nil, fmt.Errorf("sitemap index contained no sitemap URLs")
	}

	var allEntries []SitemapEntry
	for _, child := range sitemapURLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := l.ParseFromURL(ctx, child)
		if err != nil {
			log.Printf("Sitemap: skipping %s: %v", child, err)
			continue
		}
		allEntries = append(allEntries, entries...)
	}

	if len(allEntries) == 0 {
		return nil, fmt.Errorf("no entries found in any sitemap from index")
	}
	return allEntries, nil
}

// parseSitemapIndex parses a sitemap index file
func parseSitemapIndex(reader io.Reader) ([]string, error) {
	var index sitemapIndex
	if err := xml.NewDecoder(reader).Decode(&index); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap index XML: %w", err)
	}

	urls := make([]string, 0, len(index.Sitemaps))
	for _, ref := range index.Sitemaps {
		if loc := strings.TrimSpace(ref.Location); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

// parseSitemap parses a regular sitemap XML
func parseSitemap(reader io.Reader) ([]SitemapEntry, error) {
	var set urlSet
	if err := xml.NewDecoder(reader).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap XML: %w", err)
	}

	entries := make([]SitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Location)
		if loc == "" {
			continue
		}
		entries = append(entries, SitemapEntry{
			Location:   loc,
			LastMod:    strings.TrimSpace(u.LastMod),
			Priority:   u.Priority,
			ChangeFreq: u.ChangeFreq,
		})
	}
	return entries, nil
}
