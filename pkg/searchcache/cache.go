package searchcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"corpus-builder/pkg/domain"

	_ "modernc.org/sqlite"
)

// DefaultMaxAge is the freshness window used when the caller passes no max age.
const DefaultMaxAge = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS search_cache (
	cache_key     TEXT PRIMARY KEY,
	query         TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT NOT NULL,
	story_count   INTEGER NOT NULL,
	stories       TEXT NOT NULL,
	cached_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_cache_cached_at ON search_cache(cached_at);
`

// Cache persists completed discovery queries in SQLite.
// It is opened once at startup and closed at shutdown.
type Cache struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Entry describes one cached query.
type Entry struct {
	Key          string    `json:"key"`
	Query        string    `json:"query"`
	CollectionID string    `json:"collection_id"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	StoryCount   int       `json:"story_count"`
	CachedAt     time.Time `json:"cached_at"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Path    string     `json:"path"`
	Entries int        `json:"entries"`
	Stories int        `json:"stories"`
	Oldest  *time.Time `json:"oldest,omitempty"`
	Newest  *time.Time `json:"newest,omitempty"`
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init search cache schema: %w", err)
	}

	return &Cache{db: db, path: path, now: time.Now}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives the cache key of a query over a collection and date range.
func Key(query, collectionID string, start, end domain.Date) string {
	h := sha256.New()
	for _, part := range []string{query, collectionID, start.String(), end.String()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached stories of a query when an entry younger than maxAge exists.
func (c *Cache) Get(ctx context.Context, query, collectionID string, start, end domain.Date, maxAge time.Duration) ([]domain.Story, bool, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	var (
		payload  string
		cachedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT stories, cached_at FROM search_cache WHERE cache_key = ?`,
		Key(query, collectionID, start, end),
	).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read search cache: %w", err)
	}

	if c.now().Sub(time.UnixMilli(cachedAt)) >= maxAge {
		return nil, false, nil
	}

	var stories []domain.Story
	if err := json.Unmarshal([]byte(payload), &stories); err != nil {
		log.Printf("SearchCache: dropping unreadable entry for %q: %v", query, err)
		return nil, false, nil
	}
	return stories, true, nil
}

// Put stores the complete story set of a query, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, query, collectionID string, start, end domain.Date, stories []domain.Story) error {
	payload, err := json.Marshal(stories)
	if err != nil {
		return fmt.Errorf("encode stories: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO search_cache
			(cache_key, query, collection_id, start_date, end_date, story_count, stories, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		Key(query, collectionID, start, end), query, collectionID,
		start.String(), end.String(), len(stories), string(payload), c.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write search cache: %w", err)
	}
	return nil
}

// Clear deletes entries older than olderThan, or every entry when olderThan is zero.
// It returns the number of entries removed.
func (c *Cache) Clear(ctx context.Context, olderThan time.Duration) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if olderThan <= 0 {
		res, err = c.db.ExecContext(ctx, `DELETE FROM search_cache`)
	} else {
		cutoff := c.now().Add(-olderThan).UnixMilli()
		res, err = c.db.ExecContext(ctx, `DELETE FROM search_cache WHERE cached_at < ?`, cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("clear search cache: %w", err)
	}
	return res.RowsAffected()
}

// Stats reports entry and story counts and the age range of the cache.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var (
		entries, stories int
		oldest, newest   sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(story_count), 0), MIN(cached_at), MAX(cached_at)
		FROM search_cache`,
	).Scan(&entries, &stories, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("read search cache stats: %w", err)
	}

	stats := Stats{Path: c.path, Entries: entries, Stories: stories}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64)
		stats.Oldest = &t
	}
	if newest.Valid {
		t := time.UnixMilli(newest.Int64)
		stats.Newest = &t
	}
	return stats, nil
}

// List returns every cached query, newest first.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT cache_key, query, collection_id, start_date, end_date, story_count, cached_at
		FROM search_cache
		ORDER BY cached_at DESC, cache_key`)
	if err != nil {
		return nil, fmt.Errorf("list search cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			cachedAt int64
		)
		if err := rows.Scan(&e.Key, &e.Query, &e.CollectionID, &e.StartDate, &e.EndDate, &e.StoryCount, &cachedAt); err != nil {
			return nil, fmt.Errorf("scan search cache entry: %w", err)
		}
		e.CachedAt = time.UnixMilli(cachedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// String renders an entry for CLI listings.
func (e Entry) String() string {
	return fmt.Sprintf("%s  %-40s collection=%s %s..%s stories=%d",
		e.CachedAt.Format(time.RFC3339), truncate(e.Query, 40), e.CollectionID, e.StartDate, e.EndDate, e.StoryCount)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
