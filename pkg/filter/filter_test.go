package filter

import (
	"context"
	"errors"
	"testing"

	"corpus-builder/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errFilter struct{}

func (errFilter) ShouldKeep(ctx context.Context, url string) (bool, error) {
	return false, errors.New("boom")
}

func items(urls ...string) []domain.DiscoveryItem {
	out := make([]domain.DiscoveryItem, 0, len(urls))
	for _, u := range urls {
		out = append(out, domain.DiscoveryItem{URL: u})
	}
	return out
}

func TestDomainBlacklistFilter(t *testing.T) {
	f := NewDomainBlacklistFilter([]string{"Spam.com", " "})
	ctx := context.Background()

	tests := []struct {
		url  string
		keep bool
	}{
		{"https://spam.com/a", false},
		{"https://news.SPAM.com/a", false},
		{"https://example.com/spam.com", true},
		{"https://example.org/a", true},
	}
	for _, tt := range tests {
		keep, err := f.ShouldKeep(ctx, tt.url)
		require.NoError(t, err)
		assert.Equal(t, tt.keep, keep, tt.url)
	}
}

func TestURLPatternFilter(t *testing.T) {
	f := NewURLPatternFilter([]string{"/Video/", "liveblog"})
	ctx := context.Background()

	keep, err := f.ShouldKeep(ctx, "https://example.com/video/123")
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = f.ShouldKeep(ctx, "https://example.com/2024/LiveBlog-election")
	require.NoError(t, err)
	assert.False(t, keep)

	keep, err = f.ShouldKeep(ctx, "https://example.com/news/story")
	require.NoError(t, err)
	assert.True(t, keep)
}

func TestBaseURLFilter(t *testing.T) {
	f := NewBaseURLFilter()
	ctx := context.Background()

	keep, _ := f.ShouldKeep(ctx, "https://example.com/")
	assert.False(t, keep)
	keep, _ = f.ShouldKeep(ctx, "https://example.com/post")
	assert.True(t, keep)
}

func TestFilterItems(t *testing.T) {
	in := items(
		"https://good.com/1",
		"https://spam.com/2",
		"https://good.com/video/3",
		"https://good.com/4",
	)
	extra := domain.Extra{
		DomainBlacklist: []string{"spam.com"},
		URLBlacklist:    []string{"/video/"},
	}

	kept, dropped, err := FilterItems(context.Background(), in, FromExtra(extra)...)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "https://good.com/1", kept[0].URL)
	assert.Equal(t, "https://good.com/4", kept[1].URL)
}

func TestFilterItems_SkipRootURLs(t *testing.T) {
	in := items("https://good.com/", "https://good.com", "https://good.com/story")

	kept, dropped, err := FilterItems(context.Background(), in, FromExtra(domain.Extra{SkipRootURLs: true})...)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "https://good.com/story", kept[0].URL)
}

func TestFilterItems_NoFilters(t *testing.T) {
	in := items("https://a.com/1", "https://b.com/2")

	kept, dropped, err := FilterItems(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, in, kept)
}

func TestFilterItems_Error(t *testing.T) {
	_, _, err := FilterItems(context.Background(), items("https://a.com/1"), errFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://a.com/1")
}

