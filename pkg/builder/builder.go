package builder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"corpus-builder/pkg/content"
	"corpus-builder/pkg/corpus"
	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/filter"
	"corpus-builder/pkg/frontier"
	"corpus-builder/pkg/pipeline"
	"corpus-builder/pkg/searchcache"
	"corpus-builder/pkg/worker"

	"github.com/google/uuid"
)

// Discoverer turns builder params into discovery items.
type Discoverer interface {
	Discover(ctx context.Context, params domain.BuilderParams) ([]domain.DiscoveryItem, error)
}

// Options holds the collaborators of a Builder.
type Options struct {
	Name       string
	Source     string
	Store      corpus.Store
	Discoverer Discoverer
	Fetcher    pipeline.Fetcher
	Extractor  content.TextExtractor

	// SearchCache backs the cache management calls. It may be nil.
	SearchCache *searchcache.Cache

	// DiscoveryErr is returned by runs that need the discovery service, for example
	// when its credential is missing. Runs driven by test URLs ignore it.
	DiscoveryErr error

	MinTextLength int

	// Sleep overrides the pause between batches.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Builder incrementally builds one corpus: every run discovers items, skips those already
// stored, and fetches, gates and stores the rest, then appends the run to the manifest.
type Builder struct {
	opts  Options
	now   func() time.Time
	runID func() string
}

// New creates a new builder
func New(opts Options) (*Builder, error) {
	if opts.Store == nil {
		return nil, errors.New("corpus store is required")
	}
	if opts.Discoverer == nil {
		return nil, errors.New("discoverer is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Extractor == nil {
		opts.Extractor = content.NewExtractor()
	}
	return &Builder{
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		runID: func() string { return uuid.NewString() },
	}, nil
}

// Name is the corpus name.
func (b *Builder) Name() string {
	return b.opts.Name
}

// LoadManifest returns the stored manifest, or nil before the first run.
func (b *Builder) LoadManifest(ctx context.Context) (*domain.Manifest, error) {
	return b.opts.Store.LoadManifest(ctx)
}

// Run performs one incremental build. params may be nil once a manifest exists; the
// persisted params are then reused. override replaces selected fields for this run and
// is persisted with it.
//
// Per-item failures are reported in the result, never as an error. On cancellation the
// run is recorded as interrupted and the partial result is returned with the context error.
func (b *Builder) Run(ctx context.Context, params *domain.BuilderParams, override *domain.Override) (*domain.RunResult, error) {
	store := b.opts.Store
	persistCtx := context.WithoutCancel(ctx)

	manifest, err := store.LoadManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if manifest == nil {
		if params == nil {
			return nil, domain.ErrNoParams
		}
		manifest = &domain.Manifest{}
	}

	base := manifest.Params
	if params != nil {
		base = *params
	}
	effective := base.Apply(override)
	if err := effective.Validate(); err != nil {
		return nil, err
	}
	if effective.Keywords == nil {
		effective.Keywords = []string{}
	}
	extra := effective.Extra

	if b.opts.DiscoveryErr != nil && len(extra.TestURLs) == 0 {
		return nil, b.opts.DiscoveryErr
	}

	manifest.Name = b.opts.Name
	manifest.Source = b.opts.Source
	manifest.Params = effective

	log.Printf("Builder: %s: run started (%s to %s, %d keywords)", b.opts.Name, effective.DateFrom, effective.DateTo, len(effective.Keywords))

	result := &domain.RunResult{FailedDetails: []domain.FailedItem{}, Outcome: domain.OutcomeCompleted}
	concurrent := extra.ConcurrentEnabled()
	wcfg := worker.ConfigFromExtra(extra)
	wcfg.Sleep = b.opts.Sleep
	manager := worker.NewManager(pipeline.NewProcessor(b.opts.Fetcher, b.opts.Extractor, store, pipeline.Config{
		Source:        b.opts.Source,
		Params:        effective,
		ForceRefresh:  extra.ForceRefreshCache,
		MinTextLength: b.opts.MinTextLength,
	}), wcfg)

	finish := func(runErr error) (*domain.RunResult, error) {
		interrupted := runErr != nil && ctx.Err() != nil
		if total, err := store.DocumentCount(persistCtx); err == nil {
			result.TotalDocs = total
		} else {
			log.Printf("Builder: %s: failed to count documents: %v", b.opts.Name, err)
		}

		manifest.AppendRun(b.runRecord(effective, result, concurrent, manager.Config(), interrupted))
		if err := store.SaveManifest(persistCtx, manifest); err != nil {
			return result, fmt.Errorf("save manifest: %w", err)
		}

		log.Printf("Builder: %s: run finished: %d discovered, %d added, %d duplicates, %d skipped, %d failed (%d total docs)",
			b.opts.Name, result.Discovered, result.Added, result.SkippedDuplicate,
			result.SkippedQuality+result.SkippedTextExtraction, result.Failed, result.TotalDocs)
		if interrupted {
			return result, ctx.Err()
		}
		return result, runErr
	}

	items, err := b.opts.Discoverer.Discover(ctx, effective)
	if err != nil {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		return nil, fmt.Errorf("discovery: %w", err)
	}

	items, _, err = filter.FilterItems(ctx, items, filter.FromExtra(extra)...)
	if err != nil {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		return nil, fmt.Errorf("filter: %w", err)
	}
	result.Discovered = len(items)

	front, err := frontier.Diff(ctx, items, store)
	if err != nil {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		return nil, fmt.Errorf("frontier: %w", err)
	}
	result.SkippedDuplicate = front.Skipped

	tally, runErr := manager.Run(ctx, front.Entries, concurrent)
	if tally != nil {
		result.Added = tally.Added
		result.SkippedQuality = tally.SkippedQuality
		result.SkippedTextExtraction = tally.SkippedTextExtraction
		result.SkippedDuplicate += tally.SkippedDuplicate
		result.Failed = tally.Failed
		result.FailedDetails = append(result.FailedDetails, tally.FailedDetails...)
		result.Outcome = tally.Outcome
	}
	return finish(runErr)
}

func (b *Builder) runRecord(params domain.BuilderParams, res *domain.RunResult, concurrent bool, wcfg worker.Config, interrupted bool) domain.RunRecord {
	rec := domain.RunRecord{
		RunID:                 b.runID(),
		RunAt:                 b.now(),
		Discovered:            res.Discovered,
		Added:                 res.Added,
		SkippedQuality:        res.SkippedQuality,
		SkippedTextExtraction: res.SkippedTextExtraction,
		SkippedDuplicate:      res.SkippedDuplicate,
		Failed:                res.Failed,
		DateFrom:              params.DateFrom,
		DateTo:                params.DateTo,
		Keywords:              params.Keywords,
		ProcessingMode:        domain.ProcessingSequential,
		Outcome:               res.Outcome,
		Interrupted:           interrupted,
	}
	if concurrent {
		rec.ProcessingMode = domain.ProcessingConcurrent
		rec.ConcurrentRequests = wcfg.ConcurrentRequests
		rec.BatchSize = wcfg.BatchSize
		if wcfg.DownloadDelay > 0 {
			rec.DownloadDelay = wcfg.DownloadDelay.Seconds()
		}
	}
	return rec
}

// ClearSearchCache removes cached searches older than olderThan, or all of them when it is zero.
func (b *Builder) ClearSearchCache(ctx context.Context, olderThan time.Duration) (int64, error) {
	if b.opts.SearchCache == nil {
		return 0, nil
	}
	n, err := b.opts.SearchCache.Clear(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	log.Printf("Builder: cleared %d cached searches", n)
	return n, nil
}

// CacheStats describes the search cache.
func (b *Builder) CacheStats(ctx context.Context) (searchcache.Stats, error) {
	if b.opts.SearchCache == nil {
		return searchcache.Stats{}, nil
	}
	return b.opts.SearchCache.Stats(ctx)
}

// ListCachedSearches lists cached searches, newest first.
func (b *Builder) ListCachedSearches(ctx context.Context) ([]searchcache.Entry, error) {
	if b.opts.SearchCache == nil {
		return nil, nil
	}
	return b.opts.SearchCache.List(ctx)
}
