package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/pipeline"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize          = 3
	DefaultConcurrentRequests = 16
	DefaultDownloadDelay      = 5 * time.Second
	DefaultURLTimeout         = 30 * time.Second
)

// Processor processes frontier entries and commits the accepted ones.
type Processor interface {
	Process(ctx context.Context, entry domain.FrontierEntry) pipeline.ItemResult
	Commit(ctx context.Context, res *pipeline.ItemResult) error
}

// Config holds the concurrency knobs. Zero values take the defaults; a negative
// DownloadDelay disables the pause between batches.
type Config struct {
	BatchSize          int
	ConcurrentRequests int
	DownloadDelay      time.Duration
	URLTimeout         time.Duration
	Sleep              func(ctx context.Context, d time.Duration) error
}

// ConfigFromExtra reads the concurrency knobs of a run.
func ConfigFromExtra(extra domain.Extra) Config {
	return Config{
		BatchSize:          extra.BatchSize,
		ConcurrentRequests: extra.ConcurrentRequests,
		DownloadDelay:      extra.DownloadDelayDuration(),
		URLTimeout:         extra.URLTimeoutDuration(),
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ConcurrentRequests <= 0 {
		c.ConcurrentRequests = DefaultConcurrentRequests
	}
	if c.DownloadDelay == 0 {
		c.DownloadDelay = DefaultDownloadDelay
	}
	if c.URLTimeout <= 0 {
		c.URLTimeout = DefaultURLTimeout
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Manager runs the frontier through the processor, either one item at a time or in
// concurrent batches. Documents are only committed from the calling goroutine.
type Manager struct {
	processor Processor
	cfg       Config
	runBatch  func(ctx context.Context, batch []domain.FrontierEntry) ([]pipeline.ItemResult, error)
}

// NewManager creates a new manager
func NewManager(p Processor, cfg Config) *Manager {
	m := &Manager{
		processor: p,
		cfg:       cfg.withDefaults(),
	}
	m.runBatch = m.processBatch
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Run processes every entry and returns the tally. If the concurrent path fails as a whole,
// the entire frontier is rerun sequentially; Commit skips documents that were already written,
// and documents written by the abandoned attempt still count as added.
// On cancellation the partial tally is returned with the context error.
func (m *Manager) Run(ctx context.Context, entries []domain.FrontierEntry, concurrent bool) (*domain.RunResult, error) {
	committed := make(map[string]bool)

	if !concurrent || len(entries) == 0 {
		res, err := m.runSequential(ctx, entries, committed)
		res.Outcome = domain.OutcomeCompleted
		return res, err
	}

	res, err := m.runConcurrent(ctx, entries, committed)
	if err == nil {
		res.Outcome = domain.OutcomeCompleted
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Outcome = domain.OutcomeCompleted
		return res, ctxErr
	}

	log.Printf("Manager: concurrent processing failed: %v; rerunning all %d URLs sequentially", err, len(entries))

	res, err = m.runSequential(ctx, entries, committed)
	res.Outcome = domain.OutcomeFellBackToSequential
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, fmt.Errorf("sequential fallback failed: %w", err)
	}
	return res, nil
}

func (m *Manager) runSequential(ctx context.Context, entries []domain.FrontierEntry, committed map[string]bool) (res *domain.RunResult, err error) {
	res = &domain.RunResult{}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sequential processing: %v", r)
		}
	}()

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := m.processor.Process(ctx, entry)
		m.record(ctx, res, &item, committed)

		if (i+1)%100 == 0 {
			log.Printf("Progress: %d/%d processed, %d added, %d failed", i+1, len(entries), res.Added, res.Failed)
		}
	}

	log.Printf("Completed: %d added, %d failed (total: %d)", res.Added, res.Failed, len(entries))
	return res, nil
}

func (m *Manager) runConcurrent(ctx context.Context, entries []domain.FrontierEntry, committed map[string]bool) (res *domain.RunResult, err error) {
	res = &domain.RunResult{}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during batch orchestration: %v", r)
		}
	}()

	size := m.cfg.BatchSize
	total := (len(entries) + size - 1) / size
	log.Printf("Manager: processing %d URLs in %d batches of %d (%d concurrent requests)", len(entries), total, size, m.cfg.ConcurrentRequests)

	for start, n := 0, 1; start < len(entries); start, n = start+size, n+1 {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := min(start+size, len(entries))
		batch := entries[start:end]

		log.Printf("Batch %d/%d: processing %d URLs", n, total, len(batch))
		results, err := m.runBatch(ctx, batch)
		if err != nil {
			return res, fmt.Errorf("batch %d/%d: %w", n, total, err)
		}

		before := *res
		for i := range results {
			m.record(ctx, res, &results[i], committed)
		}
		log.Printf("Batch %d/%d: %d added, %d skipped, %d failed", n, total,
			res.Added-before.Added,
			(res.SkippedQuality+res.SkippedTextExtraction+res.SkippedDuplicate)-(before.SkippedQuality+before.SkippedTextExtraction+before.SkippedDuplicate),
			res.Failed-before.Failed)

		if end < len(entries) && m.cfg.DownloadDelay > 0 {
			if err := m.cfg.Sleep(ctx, m.cfg.DownloadDelay); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// processBatch processes one batch with at most ConcurrentRequests items in flight.
func (m *Manager) processBatch(ctx context.Context, batch []domain.FrontierEntry) ([]pipeline.ItemResult, error) {
	results := make([]pipeline.ItemResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ConcurrentRequests)

	for i, entry := range batch {
		i, entry := i, entry
		g.Go(func() error {
			res, err := m.processWithTimeout(gctx, entry)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type processOutcome struct {
	res      pipeline.ItemResult
	panicked any
}

// processWithTimeout turns a URL that exceeds the per-URL timeout into a failed result.
// A panic escaping the processor is returned as an error.
func (m *Manager) processWithTimeout(ctx context.Context, entry domain.FrontierEntry) (pipeline.ItemResult, error) {
	itemCtx, cancel := context.WithTimeout(ctx, m.cfg.URLTimeout)
	defer cancel()

	done := make(chan processOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- processOutcome{panicked: r}
			}
		}()
		done <- processOutcome{res: m.processor.Process(itemCtx, entry)}
	}()

	select {
	case out := <-done:
		if out.panicked != nil {
			return pipeline.ItemResult{}, fmt.Errorf("worker panic on %s: %v", entry.URL, out.panicked)
		}
		return out.res, nil
	case <-itemCtx.Done():
		return pipeline.ItemResult{
			URL:    entry.URL,
			DocID:  entry.ID,
			Status: pipeline.StatusFailed,
			Err:    fmt.Errorf("timed out after %s: %w", m.cfg.URLTimeout, itemCtx.Err()),
		}, nil
	}
}

// record commits an added item and counts it.
func (m *Manager) record(ctx context.Context, res *domain.RunResult, item *pipeline.ItemResult, committed map[string]bool) {
	// Items cut short by run cancellation are neither failures nor skips.
	if item.Status == pipeline.StatusFailed && ctx.Err() != nil && errors.Is(item.Err, ctx.Err()) {
		return
	}

	if item.Status == pipeline.StatusAdded {
		if err := m.processor.Commit(context.WithoutCancel(ctx), item); err != nil {
			item.Status = pipeline.StatusFailed
			item.Err = err
			log.Printf("Manager: failed to store %s: %v", item.URL, err)
		}
	}

	switch item.Status {
	case pipeline.StatusAdded:
		committed[item.DocID] = true
		res.Added++
	case pipeline.StatusDuplicate:
		if committed[item.DocID] {
			res.Added++
		} else {
			res.SkippedDuplicate++
		}
	case pipeline.StatusSkippedQuality:
		res.SkippedQuality++
	case pipeline.StatusSkippedTextExtraction:
		res.SkippedTextExtraction++
	case pipeline.StatusFailed:
		err := item.Err
		if err == nil {
			err = errors.New("unknown error")
		}
		res.RecordFailure(item.URL, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
