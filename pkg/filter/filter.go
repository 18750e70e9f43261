package filter

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"corpus-builder/pkg/domain"
)

// Filter defines the interface for URL filtering
type Filter interface {
	ShouldKeep(ctx context.Context, url string) (bool, error)
}

// FilterItems applies all filters to the URL of each discovered item, preserving order.
// It returns the kept items and how many were dropped.
func FilterItems(ctx context.Context, items []domain.DiscoveryItem, filters ...Filter) ([]domain.DiscoveryItem, int, error) {
	if len(filters) == 0 {
		return items, 0, nil
	}

	kept := make([]domain.DiscoveryItem, 0, len(items))
	for _, item := range items {
		keep, err := keepURL(ctx, item.URL, filters)
		if err != nil {
			return nil, 0, err
		}
		if keep {
			kept = append(kept, item)
		}
	}

	dropped := len(items) - len(kept)
	if dropped > 0 {
		log.Printf("Filter: dropped %d of %d discovered items", dropped, len(items))
	}
	return kept, dropped, nil
}

func keepURL(ctx context.Context, urlStr string, filters []Filter) (bool, error) {
	for _, f := range filters {
		shouldKeep, err := f.ShouldKeep(ctx, urlStr)
		if err != nil {
			return false, fmt.Errorf("filter error for URL %s: %w", urlStr, err)
		}
		if !shouldKeep {
			return false, nil
		}
	}
	return true, nil
}

// FromExtra builds the filters configured in the params extra.
func FromExtra(extra domain.Extra) []Filter {
	var filters []Filter
	if extra.SkipRootURLs {
		filters = append(filters, NewBaseURLFilter())
	}
	if len(extra.DomainBlacklist) > 0 {
		filters = append(filters, NewDomainBlacklistFilter(extra.DomainBlacklist))
	}
	if len(extra.URLBlacklist) > 0 {
		filters = append(filters, NewURLPatternFilter(extra.URLBlacklist))
	}
	return filters
}

// BaseURLFilter filters out base/root URLs
type BaseURLFilter struct{}

// NewBaseURLFilter creates a new base URL filter
func NewBaseURLFilter() *BaseURLFilter {
	return &BaseURLFilter{}
}

// ShouldKeep returns false if URL is a base/root URL
func (f *BaseURLFilter) ShouldKeep(ctx context.Context, urlStr string) (bool, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		// If we can't parse it, don't filter it out (let it fail later if needed)
		return true, nil
	}

	path := strings.Trim(parsed.Path, "/")
	return path != "", nil
}

// DomainBlacklistFilter drops URLs whose host contains any blacklisted domain.
type DomainBlacklistFilter struct {
	domains []string
}

// NewDomainBlacklistFilter creates a domain blacklist filter. Matching is case-insensitive.
func NewDomainBlacklistFilter(domains []string) *DomainBlacklistFilter {
	return &DomainBlacklistFilter{domains: lowerNonEmpty(domains)}
}

// ShouldKeep returns false if the URL's host matches a blacklisted domain
func (f *DomainBlacklistFilter) ShouldKeep(ctx context.Context, urlStr string) (bool, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return true, nil
	}

	host := strings.ToLower(parsed.Hostname())
	for _, d := range f.domains {
		if strings.Contains(host, d) {
			return false, nil
		}
	}
	return true, nil
}

// URLPatternFilter drops URLs containing any blacklisted pattern.
type URLPatternFilter struct {
	patterns []string
}

// NewURLPatternFilter creates a URL pattern filter. Matching is case-insensitive.
func NewURLPatternFilter(patterns []string) *URLPatternFilter {
	return &URLPatternFilter{patterns: lowerNonEmpty(patterns)}
}

// ShouldKeep returns false if the URL contains a blacklisted pattern
func (f *URLPatternFilter) ShouldKeep(ctx context.Context, urlStr string) (bool, error) {
	lower := strings.ToLower(urlStr)
	for _, p := range f.patterns {
		if strings.Contains(lower, p) {
			return false, nil
		}
	}
	return true, nil
}

func lowerNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
