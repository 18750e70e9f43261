package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/httpclient"
)

// DefaultMediaCloudURL is the base URL of the MediaCloud search API.
const DefaultMediaCloudURL = "https://search.mediacloud.org/api/"

// DefaultMediaCloudPlatform is the online news platform searched by default.
const DefaultMediaCloudPlatform = "onlinenews-mediacloud"

// MediaCloudConfig holds configuration for the MediaCloud story-list client.
type MediaCloudConfig struct {
	BaseURL  string
	APIKey   string
	Platform string
	Timeout  time.Duration
}

// MediaCloudClient lists stories from the MediaCloud search API.
type MediaCloudClient struct {
	client   *httpclient.HTTPClient
	baseURL  string
	apiKey   string
	platform string
}

// APIKeyFromEnv reads the MediaCloud credential from MEDIACLOUD_API_KEY, then MEDIACLOUD_KEY.
func APIKeyFromEnv() string {
	if key := strings.TrimSpace(os.Getenv("MEDIACLOUD_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("MEDIACLOUD_KEY"))
}

// NewMediaCloudClient creates a MediaCloud client. A missing API key is a configuration error.
func NewMediaCloudClient(cfg MediaCloudConfig) (*MediaCloudClient, error) {
	if cfg.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMediaCloudURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Platform == "" {
		cfg.Platform = DefaultMediaCloudPlatform
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = httpclient.DefaultTimeout
	}

	return &MediaCloudClient{
		client:   httpclient.NewClientWithTimeout(httpclient.APIClient, cfg.Timeout),
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		platform: cfg.Platform,
	}, nil
}

type storyListResponse struct {
	Stories         []mcStory `json:"stories"`
	PaginationToken string    `json:"pagination_token"`
}

type mcStory struct {
	ID          flexString `json:"id"`
	StoriesID   flexString `json:"stories_id"`
	URL         string     `json:"url"`
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	PublishDate string     `json:"publish_date"`
	Language    string     `json:"language"`
	Author      string     `json:"author"`
	MediaID     flexString `json:"media_id"`
	MediaName   string     `json:"media_name"`
	MediaURL    string     `json:"media_url"`
}

// flexString decodes JSON strings and numbers alike.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// ListStories fetches one page of the story list for a query.
func (c *MediaCloudClient) ListStories(ctx context.Context, req PageRequest) (Page, error) {
	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("cs", req.CollectionID)
	params.Set("platform", c.platform)
	if !req.Start.IsZero() {
		params.Set("start", req.Start.String())
	}
	if !req.End.IsZero() {
		params.Set("end", req.End.String())
	}
	if req.Token != "" {
		params.Set("pagination_token", req.Token)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"search/story-list?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create story-list request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Page{}, fmt.Errorf("story-list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, fmt.Errorf("story-list: unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded storyListResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Page{}, fmt.Errorf("failed to decode story-list response: %w", err)
	}

	page := Page{
		Stories:   make([]domain.Story, 0, len(decoded.Stories)),
		NextToken: decoded.PaginationToken,
	}
	for _, s := range decoded.Stories {
		id := string(s.ID)
		if id == "" {
			id = string(s.StoriesID)
		}
		page.Stories = append(page.Stories, domain.Story{
			ID:          id,
			URL:         s.URL,
			GUID:        s.GUID,
			Title:       s.Title,
			PublishDate: s.PublishDate,
			Language:    s.Language,
			Author:      s.Author,
			MediaID:     string(s.MediaID),
			MediaName:   s.MediaName,
			MediaURL:    s.MediaURL,
		})
	}
	return page, nil
}
