package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"corpus-builder/pkg/domain"

	"github.com/klauspost/compress/zstd"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	rawEncoder, _ = zstd.NewWriter(nil)
	rawDecoder, _ = zstd.NewReader(nil)
)

// StoredDocument is a corpus document as kept in a database. Raw bytes are zstd-compressed.
type StoredDocument struct {
	DocID     string              `bson:"_id"`
	Corpus    string              `bson:"corpus"`
	URI       string              `bson:"uri"`
	Meta      domain.DocumentMeta `bson:"meta"`
	Text      string              `bson:"text"`
	RawExt    string              `bson:"raw_ext"`
	RawZstd   []byte              `bson:"raw_zstd"`
	FetchInfo domain.FetchInfo    `bson:"fetch_info"`
	CreatedAt time.Time           `bson:"created_at"`
}

// NewStoredDocument compresses the raw bytes of doc.
func NewStoredDocument(corpusName string, doc *domain.CorpusDocument) StoredDocument {
	return StoredDocument{
		DocID:     doc.DocID,
		Corpus:    corpusName,
		URI:       doc.URI,
		Meta:      doc.Meta,
		Text:      doc.Text,
		RawExt:    doc.RawExt,
		RawZstd:   rawEncoder.EncodeAll(doc.RawBytes, nil),
		FetchInfo: doc.FetchInfo,
		CreatedAt: time.Now().UTC(),
	}
}

// Raw returns the decompressed raw bytes.
func (d StoredDocument) Raw() ([]byte, error) {
	if len(d.RawZstd) == 0 {
		return nil, nil
	}
	return rawDecoder.DecodeAll(d.RawZstd, nil)
}

// IndexRecord rebuilds the index record of the document.
func (d StoredDocument) IndexRecord() domain.IndexRecord {
	return domain.IndexRecord{
		ID:           d.DocID,
		URL:          d.URI,
		PublishedAt:  d.Meta.PublishedAt,
		Title:        d.Meta.Title,
		Language:     d.Meta.Language,
		Keywords:     d.Meta.Keywords,
		CollectionID: d.Meta.Extra.CollectionID,
		Collection:   d.Meta.Extra.Collection,
	}
}

type manifestDoc struct {
	Name      string    `bson:"_id"`
	Body      string    `bson:"body"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type indexDoc struct {
	Corpus     string             `bson:"corpus"`
	Record     domain.IndexRecord `bson:"record"`
	AppendedAt time.Time          `bson:"appended_at"`
}

// Client is a MongoDB-backed corpus store. Each corpus gets its own document and index
// collections; manifests of all corpora share one collection.
type Client struct {
	mongoClient *mongo.Client
	database    *mongo.Database
	corpus      string
	documents   *mongo.Collection
	index       *mongo.Collection
	manifests   *mongo.Collection
	connectErr  error
}

// NewClient creates a new database client
func NewClient(connectionString, databaseName, corpusName string) *Client {
	clientOptions := options.Client().ApplyURI(connectionString)
	mongoClient, err := mongo.Connect(context.Background(), clientOptions)
	if err != nil {
		// Reported by Connect.
		return &Client{corpus: corpusName, connectErr: fmt.Errorf("mongo connect: %w", err)}
	}

	database := mongoClient.Database(databaseName)

	return &Client{
		mongoClient: mongoClient,
		database:    database,
		corpus:      corpusName,
		documents:   database.Collection(corpusName + "_documents"),
		index:       database.Collection(corpusName + "_index"),
		manifests:   database.Collection("manifests"),
	}
}

// Connect establishes connection to MongoDB
func (c *Client) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.mongoClient == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return c.mongoClient.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (c *Client) Close(ctx context.Context) error {
	if c.mongoClient == nil {
		return nil
	}
	return c.mongoClient.Disconnect(ctx)
}

// Name is the corpus name.
func (c *Client) Name() string {
	return c.corpus
}

// HasDoc reports whether a document id is stored.
func (c *Client) HasDoc(ctx context.Context, docID string) (bool, error) {
	if c.documents == nil {
		return false, fmt.Errorf("collection not initialized")
	}
	n, err := c.documents.CountDocuments(ctx, bson.M{"_id": docID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", docID, err)
	}
	return n > 0, nil
}

// WriteDocument inserts the document; an existing id is left unchanged.
func (c *Client) WriteDocument(ctx context.Context, doc *domain.CorpusDocument) error {
	if c.documents == nil {
		return fmt.Errorf("collection not initialized")
	}
	_, err := c.documents.InsertOne(ctx, NewStoredDocument(c.corpus, doc))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert document %s: %w", doc.DocID, err)
	}
	return nil
}

// AppendIndex appends one index record. A record for a doc id already indexed is ignored.
func (c *Client) AppendIndex(ctx context.Context, rec domain.IndexRecord) error {
	if c.index == nil {
		return fmt.Errorf("collection not initialized")
	}
	_, err := c.index.UpdateOne(ctx,
		bson.M{"record._id": rec.ID},
		bson.M{"$setOnInsert": indexDoc{Corpus: c.corpus, Record: rec, AppendedAt: time.Now().UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append index %s: %w", rec.ID, err)
	}
	return nil
}

// ReadIndex returns the index records in append order.
func (c *Client) ReadIndex(ctx context.Context) ([]domain.IndexRecord, error) {
	if c.index == nil {
		return nil, fmt.Errorf("collection not initialized")
	}
	cursor, err := c.index.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "appended_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer cursor.Close(ctx)

	var records []domain.IndexRecord
	for cursor.Next(ctx) {
		var d indexDoc
		if err := cursor.Decode(&d); err != nil {
			continue // Skip invalid documents
		}
		records = append(records, d.Record)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return records, nil
}

// LoadManifest returns nil when the corpus has no manifest yet.
func (c *Client) LoadManifest(ctx context.Context) (*domain.Manifest, error) {
	if c.manifests == nil {
		return nil, fmt.Errorf("collection not initialized")
	}
	var d manifestDoc
	err := c.manifests.FindOne(ctx, bson.M{"_id": c.corpus}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	var m domain.Manifest
	if err := json.Unmarshal([]byte(d.Body), &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// SaveManifest replaces the stored manifest.
func (c *Client) SaveManifest(ctx context.Context, m *domain.Manifest) error {
	if c.manifests == nil {
		return fmt.Errorf("collection not initialized")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	d := manifestDoc{Name: c.corpus, Body: string(body), UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err := c.manifests.ReplaceOne(ctx, bson.M{"_id": c.corpus}, d, opts); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// DocumentCount counts stored documents.
func (c *Client) DocumentCount(ctx context.Context) (int, error) {
	if c.documents == nil {
		return 0, fmt.Errorf("collection not initialized")
	}
	n, err := c.documents.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(n), nil
}

// GetAllDocuments fetches every stored document of the corpus.
func (c *Client) GetAllDocuments(ctx context.Context) ([]StoredDocument, error) {
	if c.documents == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	cursor, err := c.documents.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []StoredDocument
	for cursor.Next(ctx) {
		var d StoredDocument
		if err := cursor.Decode(&d); err != nil {
			continue // Skip invalid documents
		}
		docs = append(docs, d)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return docs, nil
}

// Drop removes the corpus collections and its manifest.
func (c *Client) Drop(ctx context.Context) error {
	if c.documents == nil {
		return fmt.Errorf("collection not initialized")
	}
	if err := c.documents.Drop(ctx); err != nil {
		return fmt.Errorf("drop documents: %w", err)
	}
	if err := c.index.Drop(ctx); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}
	if _, err := c.manifests.DeleteOne(ctx, bson.M{"_id": c.corpus}); err != nil {
		return fmt.Errorf("delete manifest: %w", err)
	}
	return nil
}
