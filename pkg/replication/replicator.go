package replication

import (
	"context"
	"fmt"
	"log"
	"sync"

	"corpus-builder/pkg/db"
	"corpus-builder/pkg/domain"
)

// Replication defaults.
const (
	DefaultBatchSize = 100
	DefaultWorkers   = 5
)

// Source is a corpus that can be read in full.
type Source interface {
	GetAllDocuments(ctx context.Context) ([]db.StoredDocument, error)
	LoadManifest(ctx context.Context) (*domain.Manifest, error)
}

// Target is a corpus that accepts batched inserts.
type Target interface {
	EnsureSchema(ctx context.Context) error
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertDocuments(ctx context.Context, docs []db.StoredDocument, withIndex bool) (int, error)
	LoadManifest(ctx context.Context) (*domain.Manifest, error)
	SaveManifest(ctx context.Context, m *domain.Manifest) error
}

// Config wires the replication dependencies.
type Config struct {
	Source    Source
	Target    Target
	BatchSize int
	Workers   int
}

// Stats summarizes one replication.
type Stats struct {
	Processed      int
	Inserted       int
	ManifestCopied bool
}

// Replicator copies a corpus (typically Mongo-backed) into a SQL corpus. Documents that are
// already in the target are skipped, so replication can be repeated.
type Replicator struct {
	source    Source
	target    Target
	batchSize int
	workers   int
}

func NewReplicator(cfg Config) (*Replicator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source corpus is required")
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("target corpus is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Replicator{
		source:    cfg.Source,
		target:    cfg.Target,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
	}, nil
}

// Replicate copies every document, with its index record, and the manifest when the
// target has none yet.
func (r *Replicator) Replicate(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := r.target.EnsureSchema(ctx); err != nil {
		return stats, err
	}

	docs, err := r.source.GetAllDocuments(ctx)
	if err != nil {
		return stats, fmt.Errorf("read source documents: %w", err)
	}

	log.Printf("Loaded %d documents from source, processing in batches...", len(docs))

	stats.Processed, stats.Inserted, err = r.processBatches(ctx, docs)
	if err != nil {
		return stats, err
	}

	copied, err := r.copyManifest(ctx)
	if err != nil {
		return stats, err
	}
	stats.ManifestCopied = copied

	log.Printf("Replication complete: processed %d documents, inserted %d new documents", stats.Processed, stats.Inserted)
	return stats, nil
}

// processBatches processes all documents in batches in parallel and returns total processed and inserted counts.
func (r *Replicator) processBatches(ctx context.Context, docs []db.StoredDocument) (int, int, error) {
	type batchJob struct {
		batch []db.StoredDocument
		start int
		end   int
	}

	type batchResult struct {
		processed int
		inserted  int
		err       error
	}

	numBatches := (len(docs) + r.batchSize - 1) / r.batchSize
	jobs := make(chan batchJob, numBatches)
	results := make(chan batchResult, numBatches)

	for start := 0; start < len(docs); start += r.batchSize {
		end := min(start+r.batchSize, len(docs))
		jobs <- batchJob{batch: docs[start:end], start: start, end: end}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					results <- batchResult{err: ctx.Err()}
					continue
				}
				inserted, err := r.processBatch(ctx, job.batch, job.start, job.end)
				results <- batchResult{
					processed: len(job.batch),
					inserted:  inserted,
					err:       err,
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single reader, so the totals need no lock. Fail fast on the first error.
	totalProcessed := 0
	totalInserted := 0
	for result := range results {
		if result.err != nil {
			return totalProcessed, totalInserted, result.err
		}
		totalProcessed += result.processed
		totalInserted += result.inserted
		if totalProcessed%1000 == 0 {
			log.Printf("Progress: processed %d/%d documents, inserted %d new documents", totalProcessed, len(docs), totalInserted)
		}
	}

	log.Printf("Progress: processed %d/%d documents, inserted %d new documents", totalProcessed, len(docs), totalInserted)
	return totalProcessed, totalInserted, nil
}

// processBatch checks which ids the target already has and inserts the rest.
func (r *Replicator) processBatch(ctx context.Context, batch []db.StoredDocument, start, end int) (int, error) {
	log.Printf("Processing batch [%d:%d] (%d documents)...", start, end, len(batch))

	ids := make([]string, 0, len(batch))
	for _, d := range batch {
		if d.DocID != "" {
			ids = append(ids, d.DocID)
		}
	}

	existing, err := r.target.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("check existing ids for batch [%d:%d]: %w", start, end, err)
	}

	toInsert := filterNewDocuments(batch, existing)
	if len(toInsert) == 0 {
		log.Printf("  No new documents to insert")
		return 0, nil
	}

	inserted, err := r.target.InsertDocuments(ctx, toInsert, true)
	if err != nil {
		return 0, fmt.Errorf("insert batch [%d:%d]: %w", start, end, err)
	}
	log.Printf("  Inserted %d documents", inserted)
	return inserted, nil
}

func filterNewDocuments(all []db.StoredDocument, existing map[string]bool) []db.StoredDocument {
	out := make([]db.StoredDocument, 0, len(all))
	for _, d := range all {
		if d.DocID == "" || existing[d.DocID] {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Replicator) copyManifest(ctx context.Context) (bool, error) {
	current, err := r.target.LoadManifest(ctx)
	if err != nil {
		return false, fmt.Errorf("load target manifest: %w", err)
	}
	if current != nil {
		return false, nil
	}
	m, err := r.source.LoadManifest(ctx)
	if err != nil {
		return false, fmt.Errorf("load source manifest: %w", err)
	}
	if m == nil {
		return false, nil
	}
	if err := r.target.SaveManifest(ctx, m); err != nil {
		return false, fmt.Errorf("save target manifest: %w", err)
	}
	return true, nil
}
