package domain

import "time"

// FetchInfo describes how the raw bytes of a document were obtained.
type FetchInfo struct {
	URL        string    `json:"url" bson:"url"`
	FinalURL   string    `json:"final_url,omitempty" bson:"final_url,omitempty"`
	StatusCode int       `json:"status_code" bson:"status_code"`
	MIME       string    `json:"mime" bson:"mime"`
	BlobID     string    `json:"blob_id" bson:"blob_id"`
	Size       int64     `json:"size" bson:"size"`
	FetchedAt  time.Time `json:"fetched_at" bson:"fetched_at"`
	FromCache  bool      `json:"from_cache" bson:"from_cache"`
}

// DocumentMeta is the structured metadata stored with every corpus document.
type DocumentMeta struct {
	DocID       string     `json:"doc_id" bson:"doc_id"`
	URI         string     `json:"uri" bson:"uri"`
	Title       string     `json:"title,omitempty" bson:"title,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty" bson:"published_at,omitempty"`
	Language    string     `json:"language,omitempty" bson:"language,omitempty"`
	Authors     []string   `json:"authors" bson:"authors"`
	Source      string     `json:"source" bson:"source"`
	Keywords    []string   `json:"keywords" bson:"keywords"`
	Extra       Provenance `json:"extra" bson:"extra"`
}

// CorpusDocument is created exactly once per DocID.
type CorpusDocument struct {
	DocID     string
	URI       string
	Meta      DocumentMeta
	Text      string
	RawBytes  []byte
	RawExt    string
	FetchInfo FetchInfo
}

// IndexRecord is one line of the corpus index.
type IndexRecord struct {
	ID           string     `json:"id" bson:"_id"`
	URL          string     `json:"url" bson:"url"`
	PublishedAt  *time.Time `json:"published_at,omitempty" bson:"published_at,omitempty"`
	Title        string     `json:"title,omitempty" bson:"title,omitempty"`
	Language     string     `json:"language,omitempty" bson:"language,omitempty"`
	Keywords     []string   `json:"keywords" bson:"keywords"`
	CollectionID string     `json:"collection_id,omitempty" bson:"collection_id,omitempty"`
	Collection   string     `json:"collection,omitempty" bson:"collection,omitempty"`
}
