package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"corpus-builder/pkg/domain"
)

var sqlCorpusSchema = []string{`
CREATE TABLE IF NOT EXISTS corpus_document (
  corpus TEXT NOT NULL,
  doc_id TEXT NOT NULL,
  uri TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  published_at TIMESTAMPTZ,
  language TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  meta JSONB NOT NULL,
  text TEXT NOT NULL DEFAULT '',
  raw_ext TEXT NOT NULL DEFAULT '',
  raw_zstd BYTEA,
  fetch_info JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (corpus, doc_id)
)`, `
CREATE TABLE IF NOT EXISTS corpus_index (
  position BIGSERIAL PRIMARY KEY,
  corpus TEXT NOT NULL,
  doc_id TEXT NOT NULL,
  record JSONB NOT NULL,
  UNIQUE (corpus, doc_id)
)`, `
CREATE TABLE IF NOT EXISTS corpus_manifest (
  corpus TEXT PRIMARY KEY,
  body JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

// SQLCorpus is a Postgres-backed corpus store. It works over any DBProvider,
// so both PostgresClient and SupabaseClient can back it.
type SQLCorpus struct {
	provider DBProvider
	corpus   string
}

// NewSQLCorpus creates a corpus store named corpusName.
func NewSQLCorpus(provider DBProvider, corpusName string) *SQLCorpus {
	return &SQLCorpus{provider: provider, corpus: corpusName}
}

// Name is the corpus name.
func (s *SQLCorpus) Name() string {
	return s.corpus
}

func (s *SQLCorpus) db() (*sql.DB, error) {
	if s.provider == nil || s.provider.DB() == nil {
		return nil, fmt.Errorf("postgres DB not connected")
	}
	return s.provider.DB(), nil
}

// EnsureSchema creates the corpus tables if they do not exist.
func (s *SQLCorpus) EnsureSchema(ctx context.Context) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	for _, ddl := range sqlCorpusSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create corpus tables: %w", err)
		}
	}
	return nil
}

// HasDoc reports whether a document id is stored.
func (s *SQLCorpus) HasDoc(ctx context.Context, docID string) (bool, error) {
	db, err := s.db()
	if err != nil {
		return false, err
	}
	var exists bool
	err = db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM corpus_document WHERE corpus = $1 AND doc_id = $2)`,
		s.corpus, docID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", docID, err)
	}
	return exists, nil
}

// WriteDocument inserts the document; an existing id is left unchanged.
func (s *SQLCorpus) WriteDocument(ctx context.Context, doc *domain.CorpusDocument) error {
	_, err := s.InsertDocuments(ctx, []StoredDocument{NewStoredDocument(s.corpus, doc)}, false)
	return err
}

// InsertDocuments inserts documents in one transaction and returns how many were new.
// With withIndex set, an index record is appended for every new document.
func (s *SQLCorpus) InsertDocuments(ctx context.Context, docs []StoredDocument, withIndex bool) (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertQuery = `
INSERT INTO corpus_document (corpus, doc_id, uri, title, published_at, language, source, meta, text, raw_ext, raw_zstd, fetch_info, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (corpus, doc_id) DO NOTHING`

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, d := range docs {
		if d.DocID == "" {
			continue
		}
		meta, err := json.Marshal(d.Meta)
		if err != nil {
			return 0, fmt.Errorf("encode meta %s: %w", d.DocID, err)
		}
		fetchInfo, err := json.Marshal(d.FetchInfo)
		if err != nil {
			return 0, fmt.Errorf("encode fetch info %s: %w", d.DocID, err)
		}
		created := d.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}

		result, err := stmt.ExecContext(ctx, s.corpus, d.DocID, d.URI, d.Meta.Title, d.Meta.PublishedAt,
			d.Meta.Language, d.Meta.Source, string(meta), d.Text, d.RawExt, d.RawZstd, string(fetchInfo), created)
		if err != nil {
			return 0, fmt.Errorf("insert document doc_id=%q: %w", d.DocID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		inserted++

		if withIndex {
			if err := appendIndexTx(ctx, tx, s.corpus, d.IndexRecord()); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// AppendIndex appends one index record. A record for a doc id already indexed is ignored.
func (s *SQLCorpus) AppendIndex(ctx context.Context, rec domain.IndexRecord) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendIndexTx(ctx, tx, s.corpus, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appendIndexTx(ctx context.Context, tx *sql.Tx, corpus string, rec domain.IndexRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode index record %s: %w", rec.ID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO corpus_index (corpus, doc_id, record) VALUES ($1, $2, $3) ON CONFLICT (corpus, doc_id) DO NOTHING`,
		corpus, rec.ID, string(body))
	if err != nil {
		return fmt.Errorf("append index %s: %w", rec.ID, err)
	}
	return nil
}

// ReadIndex returns the index records in append order.
func (s *SQLCorpus) ReadIndex(ctx context.Context) ([]domain.IndexRecord, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT record FROM corpus_index WHERE corpus = $1 ORDER BY position`, s.corpus)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var records []domain.IndexRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan index record: %w", err)
		}
		var rec domain.IndexRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			log.Printf("SQLCorpus: skipping unreadable index record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// ExistingIDs returns which of ids are already stored.
func (s *SQLCorpus) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	set := make(map[string]bool)
	if len(ids) == 0 {
		return set, nil
	}
	db, err := s.db()
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.corpus)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := `SELECT doc_id FROM corpus_document WHERE corpus = $1 AND doc_id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doc_id: %w", err)
		}
		set[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return set, nil
}

// LoadManifest returns nil when the corpus has no manifest yet.
func (s *SQLCorpus) LoadManifest(ctx context.Context) (*domain.Manifest, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	var body string
	err = db.QueryRowContext(ctx, `SELECT body FROM corpus_manifest WHERE corpus = $1`, s.corpus).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	var m domain.Manifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest replaces the stored manifest.
func (s *SQLCorpus) SaveManifest(ctx context.Context, m *domain.Manifest) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO corpus_manifest (corpus, body, updated_at) VALUES ($1, $2, now())
ON CONFLICT (corpus) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		s.corpus, string(body))
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// DocumentCount counts stored documents.
func (s *SQLCorpus) DocumentCount(ctx context.Context) (int, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corpus_document WHERE corpus = $1`, s.corpus).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Drop deletes every row of the corpus.
func (s *SQLCorpus) Drop(ctx context.Context) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	for _, table := range []string{"corpus_index", "corpus_document", "corpus_manifest"} {
		if _, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE corpus = $1`, s.corpus); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
