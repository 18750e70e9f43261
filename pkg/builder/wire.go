package builder

import (
	"context"
	"errors"
	"fmt"

	"corpus-builder/pkg/config"
	"corpus-builder/pkg/content"
	"corpus-builder/pkg/corpus"
	"corpus-builder/pkg/db"
	"corpus-builder/pkg/discovery"
	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/fetcher"
	"corpus-builder/pkg/httpclient"
	"corpus-builder/pkg/ratelimit"
	"corpus-builder/pkg/searchcache"
)

// Resources holds what FromConfig opened. Close releases it in reverse order.
type Resources struct {
	closers []func() error
}

func (r *Resources) add(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases every resource and returns the joined errors.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// FromConfig wires a Builder from configuration. Nothing is fetched; database backends
// are connected to verify their settings.
func FromConfig(ctx context.Context, cfg config.Config) (*Builder, *Resources, error) {
	res := &Resources{}

	store, closeStore, err := OpenStore(ctx, cfg.Corpus)
	if err != nil {
		return nil, nil, err
	}
	res.add(closeStore)

	cache, err := searchcache.Open(cfg.Cache.SearchCachePath)
	if err != nil {
		_ = res.Close()
		return nil, nil, fmt.Errorf("open search cache: %w", err)
	}
	res.add(cache.Close)

	f, err := fetcher.New(fetcher.Config{
		CacheDir:   cfg.Cache.FetchCacheDir,
		Timeout:    cfg.Cache.FetchTimeout(),
		MaxBytes:   cfg.Cache.MaxFetchBytes,
		ClientType: httpclient.ClientType(cfg.Cache.FetchClient),
	})
	if err != nil {
		_ = res.Close()
		return nil, nil, fmt.Errorf("create fetcher: %w", err)
	}
	res.add(f.Close)

	// A missing credential only fails runs that query the service.
	var discoveryErr error
	lister, err := NewLister(cfg.Discovery)
	if errors.Is(err, domain.ErrMissingAPIKey) {
		discoveryErr = err
	} else if err != nil {
		_ = res.Close()
		return nil, nil, err
	}

	adapter := discovery.NewAdapter(lister, cache, ratelimit.New(cfg.RateLimit.Limiter()), discovery.Config{
		CollectionID:   cfg.Discovery.CollectionID,
		CollectionName: cfg.Discovery.CollectionName,
		Source:         cfg.Corpus.Source,
	})

	b, err := New(Options{
		Name:         cfg.Corpus.Name,
		Source:       cfg.Corpus.Source,
		Store:        store,
		Discoverer:   adapter,
		Fetcher:      f,
		Extractor:    content.NewExtractor(),
		SearchCache:  cache,
		DiscoveryErr: discoveryErr,
	})
	if err != nil {
		_ = res.Close()
		return nil, nil, err
	}
	return b, res, nil
}

// NewLister creates the configured discovery service.
func NewLister(cfg config.DiscoveryConfig) (discovery.StoryLister, error) {
	switch cfg.Service {
	case config.ServiceMediaCloud:
		client, err := discovery.NewMediaCloudClient(discovery.MediaCloudConfig{
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Platform: cfg.Platform,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ServiceFeed:
		return discovery.NewFeedLister(), nil
	case config.ServiceSitemap:
		return discovery.NewSitemapLister(nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown discovery service %q", domain.ErrConfig, cfg.Service)
	}
}

// OpenStore opens the configured corpus backend.
func OpenStore(ctx context.Context, cfg config.CorpusConfig) (corpus.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile:
		fs, err := corpus.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open corpus directory: %w", err)
		}
		return fs, fs.Close, nil

	case config.BackendMongo:
		client, err := OpenMongo(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return client.Close(context.Background()) }, nil

	case config.BackendPostgres, config.BackendSupabase:
		store, closeDB, err := OpenSQLCorpus(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, closeDB, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown corpus backend %q", domain.ErrConfig, cfg.Backend)
	}
}

// OpenMongo connects to the Mongo corpus named in cfg.
func OpenMongo(ctx context.Context, cfg config.CorpusConfig) (*db.Client, error) {
	client := db.NewClient(cfg.MongoURI, cfg.MongoDatabase, cfg.Name)
	if err := client.Connect(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return client, nil
}

// OpenSQLCorpus connects to the Postgres or Supabase corpus named in cfg and ensures its schema.
func OpenSQLCorpus(ctx context.Context, cfg config.CorpusConfig) (*db.SQLCorpus, func() error, error) {
	provider, closeDB, err := openSQL(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store := db.NewSQLCorpus(provider, cfg.Name)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}

func openSQL(ctx context.Context, cfg config.CorpusConfig) (db.DBProvider, func() error, error) {
	if cfg.Backend == config.BackendSupabase {
		client := db.NewSupabaseClient(cfg.Supabase.SupabaseClientConfig())
		if err := client.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connect to supabase: %w", err)
		}
		if !client.HasDirectDB() {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%w: the supabase corpus needs a direct database connection (connection_string or password)", domain.ErrConfig)
		}
		return client, client.Close, nil
	}

	client := db.NewPostgresClient(db.PostgresConfig{DSN: cfg.PostgresDSN})
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return client, client.Close, nil
}
