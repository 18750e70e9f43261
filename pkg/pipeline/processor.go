package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"corpus-builder/pkg/content"
	"corpus-builder/pkg/corpus"
	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/fetcher"
)

// DefaultMinTextLength is the quality gate: shorter texts (in characters) are skipped.
const DefaultMinTextLength = 400

// Status is the outcome of processing one frontier entry.
type Status string

const (
	StatusAdded                 Status = "added"
	StatusSkippedQuality        Status = "skipped_quality"
	StatusSkippedTextExtraction Status = "skipped_text_extraction"
	StatusDuplicate             Status = "duplicate"
	StatusFailed                Status = "failed"
)

// ItemResult is what processing one entry produced. Document is set only for StatusAdded.
type ItemResult struct {
	URL        string
	DocID      string
	Status     Status
	Err        error
	TextLength int
	Document   *domain.CorpusDocument
}

// Fetcher returns a cached blob of a URL.
type Fetcher interface {
	Get(ctx context.Context, url, key string, forceRefresh bool) (blobID, blobPath string, info domain.FetchInfo, err error)
}

// Config holds the run-level settings applied to every item.
type Config struct {
	Source        string
	Params        domain.BuilderParams
	ForceRefresh  bool
	MinTextLength int
}

// Processor fetches, extracts and quality-gates frontier entries, and commits accepted documents.
// Process is safe for concurrent use; Commit must be called from a single goroutine.
type Processor struct {
	fetcher   Fetcher
	extractor content.TextExtractor
	store     corpus.Store
	cfg       Config
	readBlob  func(path string) ([]byte, error)
}

// NewProcessor creates a new processor
func NewProcessor(f Fetcher, extractor content.TextExtractor, store corpus.Store, cfg Config) *Processor {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	return &Processor{
		fetcher:   f,
		extractor: extractor,
		store:     store,
		cfg:       cfg,
		readBlob:  fetcher.ReadBlob,
	}
}

// Process fetches and extracts one entry without touching the corpus.
// Errors and panics become a StatusFailed result.
func (p *Processor) Process(ctx context.Context, entry domain.FrontierEntry) (res ItemResult) {
	res = ItemResult{URL: entry.URL, DocID: entry.ID}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Processor: panic while processing %s: %v\n%s", entry.URL, r, debug.Stack())
			res = ItemResult{URL: entry.URL, DocID: entry.ID, Status: StatusFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}

	_, blobPath, info, err := p.fetcher.Get(ctx, entry.URL, entry.URL, p.cfg.ForceRefresh)
	if err != nil {
		return failed(res, fmt.Errorf("fetch: %w", err))
	}

	raw, err := p.readBlob(blobPath)
	if err != nil {
		return failed(res, err)
	}

	ext := content.ExtFromMIME(info.MIME)
	extraction, err := p.extractor.Extract(raw, ext, entry.URL)
	if err != nil {
		return failed(res, fmt.Errorf("extract: %w", err))
	}
	if extraction == nil {
		extraction = &content.Extraction{}
	}

	text := extraction.Text
	res.TextLength = utf8.RuneCountInString(text)

	if text == "" {
		log.Printf("Processor: skipped %s: no text extracted", entry.URL)
		res.Status = StatusSkippedTextExtraction
		return res
	}
	if res.TextLength < p.cfg.MinTextLength {
		log.Printf("Processor: skipped %s: text too short (%d chars)", entry.URL, res.TextLength)
		res.Status = StatusSkippedQuality
		return res
	}

	res.Status = StatusAdded
	res.Document = p.buildDocument(entry, text, raw, ext, info, extraction)
	return res
}

// buildDocument merges discovery metadata with extracted metadata. Extracted values win
// when present; discovery values fill the gaps.
func (p *Processor) buildDocument(entry domain.FrontierEntry, text string, raw []byte, ext string, info domain.FetchInfo, ex *content.Extraction) *domain.CorpusDocument {
	item := entry.Item

	title := firstNonEmpty(ex.Title, item.Title)
	language := firstNonEmpty(ex.Language, item.Language)
	authors := ex.Authors
	if len(authors) == 0 {
		authors = item.Authors
	}
	if authors == nil {
		authors = []string{}
	}
	published := ex.PublishedAt
	if published == nil {
		published = item.PublishedAt
	}

	provenance := item.Extra
	runExtra := p.cfg.Params.Extra
	if provenance.CollectionID == "" {
		provenance.CollectionID = string(runExtra.CollectionID)
	}
	if provenance.Collection == "" {
		provenance.Collection = runExtra.CollectionName
	}

	keywords := p.cfg.Params.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	return &domain.CorpusDocument{
		DocID: entry.ID,
		URI:   entry.URL,
		Meta: domain.DocumentMeta{
			DocID:       entry.ID,
			URI:         entry.URL,
			Title:       title,
			PublishedAt: published,
			Language:    language,
			Authors:     authors,
			Source:      p.cfg.Source,
			Keywords:    keywords,
			Extra:       provenance,
		},
		Text:      text,
		RawBytes:  raw,
		RawExt:    ext,
		FetchInfo: info,
	}
}

// Commit writes an added result's index record and document. A document that is already
// in the corpus is not written again and the result becomes StatusDuplicate.
// Results with any other status are left untouched.
func (p *Processor) Commit(ctx context.Context, res *ItemResult) error {
	if res.Status != StatusAdded || res.Document == nil {
		return nil
	}

	exists, err := p.store.HasDoc(ctx, res.DocID)
	if err != nil {
		return fmt.Errorf("check existing document: %w", err)
	}
	if exists {
		res.Status = StatusDuplicate
		res.Document = nil
		return nil
	}

	doc := res.Document
	rec := domain.IndexRecord{
		ID:           doc.DocID,
		URL:          doc.URI,
		PublishedAt:  doc.Meta.PublishedAt,
		Title:        doc.Meta.Title,
		Language:     doc.Meta.Language,
		Keywords:     doc.Meta.Keywords,
		CollectionID: doc.Meta.Extra.CollectionID,
		Collection:   doc.Meta.Extra.Collection,
	}
	// The index record goes first: the stored document is the commit marker, so a
	// failure before it leaves the item to be retried by the next run.
	if err := p.store.AppendIndex(ctx, rec); err != nil {
		return fmt.Errorf("append index: %w", err)
	}
	if err := p.store.WriteDocument(ctx, doc); err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	res.Document = nil
	return nil
}

func failed(res ItemResult, err error) ItemResult {
	log.Printf("Processor: failed to process %s: %v", res.URL, err)
	res.Status = StatusFailed
	res.Err = err
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
