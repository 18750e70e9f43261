package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"corpus-builder/pkg/domain"

	"github.com/klauspost/compress/zstd"
)

const (
	manifestFile = "manifest.json"
	indexFile    = "index.jsonl"
	docsDir      = "docs"
)

// FileStore keeps a corpus in a directory:
//
//	manifest.json
//	index.jsonl
//	docs/<doc_id>/meta.json, text.txt, raw.<ext>.zst, fetch.json
type FileStore struct {
	root    string
	mu      sync.Mutex
	encoder *zstd.Encoder
	indexed map[string]bool
}

// NewFileStore opens (creating if needed) a corpus directory.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("corpus dir is required")
	}
	if err := os.MkdirAll(filepath.Join(root, docsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create corpus dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &FileStore{root: root, encoder: enc}, nil
}

// Root returns the corpus directory.
func (s *FileStore) Root() string {
	return s.root
}

// Name is the corpus directory name.
func (s *FileStore) Name() string {
	return filepath.Base(filepath.Clean(s.root))
}

// Close releases the encoder.
func (s *FileStore) Close() error {
	return s.encoder.Close()
}

func (s *FileStore) docDir(docID string) string {
	return filepath.Join(s.root, docsDir, docID)
}

// HasDoc reports whether the document's metadata file exists.
func (s *FileStore) HasDoc(ctx context.Context, docID string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.docDir(docID), "meta.json"))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat document %s: %w", docID, err)
}

// WriteDocument writes the document files. meta.json is written last so a
// partially written document is not reported by HasDoc.
func (s *FileStore) WriteDocument(ctx context.Context, doc *domain.CorpusDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.HasDoc(ctx, doc.DocID)
	if err != nil || exists {
		return err
	}

	dir := s.docDir(doc.DocID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}

	ext := doc.RawExt
	if ext == "" {
		ext = "bin"
	}
	if err := writeFileAtomic(filepath.Join(dir, "raw."+ext+".zst"), s.encoder.EncodeAll(doc.RawBytes, nil)); err != nil {
		return fmt.Errorf("write raw bytes: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "text.txt"), []byte(doc.Text)); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "fetch.json"), doc.FetchInfo); err != nil {
		return fmt.Errorf("write fetch info: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "meta.json"), doc.Meta); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// AppendIndex appends one JSON line to index.jsonl. A record for a doc id already
// indexed is ignored.
func (s *FileStore) AppendIndex(ctx context.Context, rec domain.IndexRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode index record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexed == nil {
		records, err := s.ReadIndex(ctx)
		if err != nil {
			return err
		}
		s.indexed = make(map[string]bool, len(records))
		for _, r := range records {
			s.indexed[r.ID] = true
		}
	}
	if s.indexed[rec.ID] {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(s.root, indexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append index: %w", err)
	}
	s.indexed[rec.ID] = true
	return nil
}

// ReadIndex returns every index record in append order.
func (s *FileStore) ReadIndex(ctx context.Context) ([]domain.IndexRecord, error) {
	f, err := os.Open(filepath.Join(s.root, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var records []domain.IndexRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec domain.IndexRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode index record: %w", err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// LoadManifest reads manifest.json, returning nil when it does not exist.
func (s *FileStore) LoadManifest(ctx context.Context) (*domain.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.root, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest atomically replaces manifest.json.
func (s *FileStore) SaveManifest(ctx context.Context, m *domain.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(filepath.Join(s.root, manifestFile), m); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// DocumentCount counts document directories.
func (s *FileStore) DocumentCount(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, docsDir))
	if err != nil {
		return 0, fmt.Errorf("read documents dir: %w", err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, docsDir, e.Name(), "meta.json")); err == nil {
			count++
		}
	}
	return count, nil
}

// ReadText returns the stored text of a document.
func (s *FileStore) ReadText(docID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.docDir(docID), "text.txt"))
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return string(data), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
