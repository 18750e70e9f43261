package discovery

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/ratelimit"
	"corpus-builder/pkg/urls"
)

// PageRequest asks a discovery service for one page of stories.
type PageRequest struct {
	Query        string
	CollectionID string
	Start        domain.Date
	End          domain.Date
	Token        string
}

// Page is one page of stories. An empty NextToken means there are no more pages.
type Page struct {
	Stories   []domain.Story
	NextToken string
}

// StoryLister is a paginated discovery service.
type StoryLister interface {
	ListStories(ctx context.Context, req PageRequest) (Page, error)
}

// StoryCache stores the complete story set of finished queries.
type StoryCache interface {
	Get(ctx context.Context, query, collectionID string, start, end domain.Date, maxAge time.Duration) ([]domain.Story, bool, error)
	Put(ctx context.Context, query, collectionID string, start, end domain.Date, stories []domain.Story) error
}

// Config identifies the collection an Adapter searches.
// Params extra collection settings apply when these are empty.
type Config struct {
	CollectionID   string
	CollectionName string
	// Source is recorded in item provenance, e.g. "mediacloud".
	Source string
}

// Adapter turns builder params into discovery items by querying a StoryLister.
type Adapter struct {
	lister  StoryLister
	cache   StoryCache
	limiter *ratelimit.Limiter
	cfg     Config
}

// NewAdapter creates a discovery adapter. cache may be nil to disable search caching.
func NewAdapter(lister StoryLister, cache StoryCache, limiter *ratelimit.Limiter, cfg Config) *Adapter {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	return &Adapter{
		lister:  lister,
		cache:   cache,
		limiter: limiter,
		cfg:     cfg,
	}
}

// Discover runs every compiled query and returns the discovered items, most recent first.
func (a *Adapter) Discover(ctx context.Context, params domain.BuilderParams) ([]domain.DiscoveryItem, error) {
	extra := params.Extra

	if len(extra.TestURLs) > 0 {
		return testItems(params), nil
	}

	collectionID := a.cfg.CollectionID
	if collectionID == "" {
		collectionID = string(extra.CollectionID)
	}
	if collectionID == "" {
		return nil, domain.ErrMissingCollection
	}
	collectionName := a.cfg.CollectionName
	if collectionName == "" {
		collectionName = extra.CollectionName
	}
	if collectionName == "" {
		collectionName = collectionID
	}

	queries := CompileQueries(params)
	if len(queries) == 0 {
		log.Printf("Discovery: %s: no queries compiled from params, nothing to discover", collectionName)
		return []domain.DiscoveryItem{}, nil
	}

	log.Printf("Discovery: querying collection %s (%s), date range %s to %s",
		collectionName, collectionID, params.DateFrom, params.DateTo)

	useCache := a.cache != nil && !extra.ForceRefreshCache
	maxStories := extra.MaxStories

	var all []domain.Story
	for _, q := range queries {
		if maxStories > 0 && len(all) >= maxStories {
			log.Printf("Discovery: %s: max stories limit (%d) reached, skipping remaining queries", collectionName, maxStories)
			break
		}
		log.Printf("Discovery: %s: running query: %s", collectionName, q)

		if useCache {
			cached, hit, err := a.cache.Get(ctx, q, collectionID, params.DateFrom, params.DateTo, extra.CacheMaxAge())
			if err != nil {
				log.Printf("Discovery: %s: search cache read failed: %v", collectionName, err)
			} else if hit {
				log.Printf("Discovery: %s: using cached results (%d stories)", collectionName, len(cached))
				if maxStories > 0 && len(all)+len(cached) > maxStories {
					cached = cached[:maxStories-len(all)]
				}
				all = append(all, cached...)
				continue
			}
		}

		stories, complete, err := a.runQuery(ctx, q, collectionID, collectionName, params, maxStories-len(all))
		if err != nil {
			return nil, err
		}

		if useCache && complete && len(stories) > 0 {
			if err := a.cache.Put(ctx, q, collectionID, params.DateFrom, params.DateTo, stories); err != nil {
				log.Printf("Discovery: %s: search cache write failed: %v", collectionName, err)
			}
		}
		all = append(all, stories...)
	}

	log.Printf("Discovery: total stories discovered: %d", len(all))
	sortMostRecentFirst(all)
	return a.toItems(all), nil
}

// runQuery pages through one query. remaining is how many stories max_stories still
// allows and is ignored when no cap is set. complete is false when the cap cut the query short.
func (a *Adapter) runQuery(ctx context.Context, q, collectionID, collectionName string, params domain.BuilderParams, remaining int) ([]domain.Story, bool, error) {
	capped := params.Extra.MaxStories > 0

	var (
		stories []domain.Story
		token   string
		calls   int
	)
	for {
		if capped && len(stories) >= remaining {
			log.Printf("Discovery: %s: reached max stories limit (%d), stopping pagination", collectionName, params.Extra.MaxStories)
			return stories, false, nil
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, false, fmt.Errorf("discovery query %q: %w", q, err)
		}

		calls++
		log.Printf("Discovery: %s: %d stories retrieved so far (API call #%d)", collectionName, len(stories), calls)

		req := PageRequest{
			Query:        q,
			CollectionID: collectionID,
			Start:        params.DateFrom,
			End:          params.DateTo,
			Token:        token,
		}
		var page Page
		err := a.limiter.Do(ctx, "story list", func(ctx context.Context) error {
			p, err := a.lister.ListStories(ctx, req)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, false, fmt.Errorf("discovery query %q: %w", q, err)
		}

		if len(page.Stories) == 0 {
			log.Printf("Discovery: %s: no more stories returned, ending pagination", collectionName)
			return stories, true, nil
		}

		for _, s := range page.Stories {
			s.Collection = collectionName
			s.CollectionID = collectionID
			stories = append(stories, s)
			if capped && len(stories) >= remaining {
				log.Printf("Discovery: %s: reached max stories limit (%d) after adding story", collectionName, params.Extra.MaxStories)
				return stories, false, nil
			}
		}

		if page.NextToken == "" {
			log.Printf("Discovery: %s: reached the end of pagination", collectionName)
			return stories, true, nil
		}
		token = page.NextToken
	}
}

func (a *Adapter) toItems(stories []domain.Story) []domain.DiscoveryItem {
	items := make([]domain.DiscoveryItem, 0, len(stories))
	for _, s := range stories {
		link := s.Link()
		if link == "" {
			continue
		}

		var authors []string
		if author := strings.TrimSpace(s.Author); author != "" {
			authors = []string{author}
		}

		items = append(items, domain.DiscoveryItem{
			URL:          link,
			CanonicalURL: urls.Canonicalize(link),
			Title:        strings.TrimSpace(s.Title),
			PublishedAt:  s.PublishedAt(),
			Language:     s.Language,
			Authors:      authors,
			Extra: domain.Provenance{
				StoryID:        s.ID,
				Collection:     s.Collection,
				CollectionID:   s.CollectionID,
				SourceLanguage: s.Language,
				MediaID:        s.MediaID,
				MediaName:      s.MediaName,
				MediaURL:       s.MediaURL,
				Source:         a.cfg.Source,
			},
		})
	}
	return items
}

// sortMostRecentFirst orders stories by descending publish time; undated stories go last.
func sortMostRecentFirst(stories []domain.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		ti, tj := stories[i].PublishedAt(), stories[j].PublishedAt()
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
}

// testItems synthesizes items from extra.test_urls without any network activity.
func testItems(params domain.BuilderParams) []domain.DiscoveryItem {
	log.Printf("Discovery: using %d test URLs instead of the discovery service", len(params.Extra.TestURLs))

	var published *time.Time
	if !params.DateFrom.IsZero() {
		t := params.DateFrom.Time
		published = &t
	}

	items := make([]domain.DiscoveryItem, 0, len(params.Extra.TestURLs))
	for i, u := range params.Extra.TestURLs {
		items = append(items, domain.DiscoveryItem{
			URL:          u,
			CanonicalURL: urls.Canonicalize(u),
			Title:        fmt.Sprintf("Test Article %d", i+1),
			PublishedAt:  published,
			Extra:        domain.Provenance{Source: "test"},
		})
	}
	return items
}
