package corpus

import (
	"context"

	"corpus-builder/pkg/domain"
)

// Store persists corpus documents, the corpus index and the builder manifest.
// Document writes are idempotent per DocID.
type Store interface {
	// HasDoc reports whether a document with docID exists.
	HasDoc(ctx context.Context, docID string) (bool, error)
	// WriteDocument stores a document. Writing an existing DocID is a no-op.
	WriteDocument(ctx context.Context, doc *domain.CorpusDocument) error
	// AppendIndex adds one record to the corpus index. A record for a doc id already
	// indexed is ignored.
	AppendIndex(ctx context.Context, rec domain.IndexRecord) error
	// LoadManifest returns the manifest, or nil when none has been saved yet.
	LoadManifest(ctx context.Context) (*domain.Manifest, error)
	// SaveManifest replaces the manifest.
	SaveManifest(ctx context.Context, m *domain.Manifest) error
	// DocumentCount returns the number of stored documents.
	DocumentCount(ctx context.Context) (int, error)
}
