package discovery

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/ratelimit"
	"corpus-builder/pkg/searchcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves pages keyed by pagination token and can fail selected calls.
type fakeLister struct {
	mu       sync.Mutex
	pages    map[string]Page
	failures map[int]error // call number (1-based) -> error
	requests []PageRequest
}

func (f *fakeLister) ListStories(ctx context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err, ok := f.failures[len(f.requests)]; ok {
		return Page{}, err
	}
	return f.pages[req.Token], nil
}

func (f *fakeLister) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testLimiter(rec *sleepRecorder) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{MinInterval: -1, Sleep: rec.sleep})
}

func openCache(t *testing.T) *searchcache.Cache {
	t.Helper()
	c, err := searchcache.Open(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func baseParams() domain.BuilderParams {
	return domain.BuilderParams{
		DateFrom: domain.NewDate(2024, time.January, 1),
		DateTo:   domain.NewDate(2024, time.January, 31),
		Keywords: []string{"vaccine", "mandate"},
		Extra:    domain.Extra{CollectionID: "34412234", CollectionName: "US National"},
	}
}

func story(id, url, published string) domain.Story {
	return domain.Story{ID: id, URL: url, Title: " Title " + id + " ", PublishDate: published, Language: "en", MediaName: "Example"}
}

func TestDiscover_TestURLs(t *testing.T) {
	lister := &fakeLister{}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{})

	params := domain.BuilderParams{
		DateFrom: domain.NewDate(2024, time.March, 1),
		Extra:    domain.Extra{TestURLs: []string{"https://a.com/1?utm_source=x", "https://b.com/2"}},
	}
	items, err := a.Discover(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, 0, lister.calls())
	assert.Equal(t, "Test Article 1", items[0].Title)
	assert.Equal(t, "Test Article 2", items[1].Title)
	assert.Equal(t, "https://a.com/1", items[0].CanonicalURL)
	assert.Equal(t, "test", items[0].Extra.Source)
	require.NotNil(t, items[0].PublishedAt)
	assert.True(t, items[0].PublishedAt.Equal(params.DateFrom.Time))
}

func TestDiscover_MissingCollection(t *testing.T) {
	lister := &fakeLister{}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{})

	params := baseParams()
	params.Extra.CollectionID = ""
	_, err := a.Discover(context.Background(), params)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingCollection))
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Equal(t, 0, lister.calls())
}

func TestDiscover_PaginatesAndSorts(t *testing.T) {
	lister := &fakeLister{pages: map[string]Page{
		"": {
			Stories: []domain.Story{
				story("1", "https://a.com/old", "2024-01-02 10:00:00"),
				story("2", "", ""),
				story("3", "https://a.com/undated", ""),
			},
			NextToken: "p2",
		},
		"p2": {
			Stories: []domain.Story{
				story("4", "https://a.com/new", "2024-01-20T08:00:00Z"),
				{ID: "5", GUID: "https://a.com/guid-only", PublishDate: "2024-01-10"},
			},
		},
	}}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{Source: "mediacloud"})

	items, err := a.Discover(context.Background(), baseParams())
	require.NoError(t, err)

	require.Equal(t, 2, lister.calls())
	assert.Equal(t, `("vaccine" OR "mandate")`, lister.requests[0].Query)
	assert.Equal(t, "34412234", lister.requests[0].CollectionID)
	assert.Equal(t, "p2", lister.requests[1].Token)

	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	assert.Equal(t, []string{
		"https://a.com/new",
		"https://a.com/guid-only",
		"https://a.com/old",
		"https://a.com/undated",
	}, urls)

	first := items[0]
	assert.Equal(t, "Title 4", first.Title)
	assert.Equal(t, "en", first.Language)
	assert.Equal(t, domain.Provenance{
		StoryID:        "4",
		Collection:     "US National",
		CollectionID:   "34412234",
		SourceLanguage: "en",
		MediaName:      "Example",
		Source:         "mediacloud",
	}, first.Extra)
}

func TestDiscover_RetriesResumeFromToken(t *testing.T) {
	lister := &fakeLister{
		pages: map[string]Page{
			"":   {Stories: []domain.Story{story("1", "https://a.com/1", "2024-01-02")}, NextToken: "p2"},
			"p2": {Stories: []domain.Story{story("2", "https://a.com/2", "2024-01-03")}},
		},
		failures: map[int]error{2: errors.New("story-list: unexpected status code 403: Forbidden")},
	}
	rec := &sleepRecorder{}
	a := NewAdapter(lister, nil, testLimiter(rec), Config{})

	items, err := a.Discover(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.Equal(t, 3, lister.calls())
	assert.Equal(t, "p2", lister.requests[1].Token)
	assert.Equal(t, "p2", lister.requests[2].Token)
	assert.Equal(t, []time.Duration{60 * time.Second}, rec.waits)
}

func TestDiscover_RetryBudgetExhausted(t *testing.T) {
	failAll := map[int]error{}
	for i := 1; i <= 5; i++ {
		failAll[i] = errors.New("dial tcp: connection refused")
	}
	lister := &fakeLister{failures: failAll}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{})

	_, err := a.Discover(context.Background(), baseParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratelimit.ErrRetriesExhausted))
	assert.Equal(t, 5, lister.calls())
}

func TestDiscover_CacheHitBypassesService(t *testing.T) {
	cache := openCache(t)
	lister := &fakeLister{pages: map[string]Page{
		"": {Stories: []domain.Story{story("1", "https://a.com/1", "2024-01-02")}},
	}}
	a := NewAdapter(lister, cache, testLimiter(&sleepRecorder{}), Config{})
	params := baseParams()

	first, err := a.Discover(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, lister.calls())

	second, err := a.Discover(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls(), "second run must be served from the search cache")
	assert.Equal(t, first, second)

	params.Extra.ForceRefreshCache = true
	_, err = a.Discover(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls())
}

func TestDiscover_MaxStoriesNotCached(t *testing.T) {
	cache := openCache(t)
	lister := &fakeLister{pages: map[string]Page{
		"": {
			Stories: []domain.Story{
				story("1", "https://a.com/1", "2024-01-02"),
				story("2", "https://a.com/2", "2024-01-03"),
				story("3", "https://a.com/3", "2024-01-04"),
			},
			NextToken: "p2",
		},
	}}
	a := NewAdapter(lister, cache, testLimiter(&sleepRecorder{}), Config{})
	params := baseParams()
	params.Extra.MaxStories = 2

	items, err := a.Discover(context.Background(), params)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 1, lister.calls())

	entries, err := cache.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries, "a query cut short by max_stories must not be cached")
}

func TestDiscover_MaxStoriesAcrossQueries(t *testing.T) {
	lister := &fakeLister{pages: map[string]Page{
		"": {Stories: []domain.Story{
			story("1", "https://a.com/1", "2024-01-02"),
			story("2", "https://a.com/2", "2024-01-03"),
		}},
	}}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{})
	params := baseParams()
	params.Extra.Queries = []string{"q1", "q2", "q3"}
	params.Extra.MaxStories = 3

	items, err := a.Discover(context.Background(), params)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, 2, lister.calls())
}

func TestDiscover_EmptyResultNotCached(t *testing.T) {
	cache := openCache(t)
	lister := &fakeLister{pages: map[string]Page{}}
	a := NewAdapter(lister, cache, testLimiter(&sleepRecorder{}), Config{})

	items, err := a.Discover(context.Background(), baseParams())
	require.NoError(t, err)
	assert.Empty(t, items)

	stats, err := cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

func TestDiscover_NoQueries(t *testing.T) {
	lister := &fakeLister{}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{})
	params := baseParams()
	params.Keywords = nil

	items, err := a.Discover(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, lister.calls())
}

func TestDiscover_ConfigCollectionWins(t *testing.T) {
	lister := &fakeLister{pages: map[string]Page{}}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{CollectionID: "999"})

	_, err := a.Discover(context.Background(), baseParams())
	require.NoError(t, err)
	require.Equal(t, 1, lister.calls())
	assert.Equal(t, "999", lister.requests[0].CollectionID)
}

func TestDiscover_Cancelled(t *testing.T) {
	lister := &fakeLister{pages: map[string]Page{}}
	a := NewAdapter(lister, nil, testLimiter(&sleepRecorder{}), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Discover(ctx, baseParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
