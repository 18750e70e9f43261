package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/httpclient"

	"github.com/klauspost/compress/zstd"
)

// Config configures the fetcher.
type Config struct {
	CacheDir   string                // Blob cache root. Required.
	Timeout    time.Duration         // HTTP timeout. Default: 60s.
	MaxBytes   int64                 // Max response body size. Default: 20MB.
	ClientType httpclient.ClientType // Header profile. Default: browser.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = httpclient.DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 * 1024 * 1024
	}
	if c.ClientType == "" {
		c.ClientType = httpclient.BrowserClient
	}
}

// ErrBodyTooLarge is returned when a response body exceeds Config.MaxBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// Fetcher downloads URLs into a content-addressed, zstd-compressed blob cache.
// Blobs are keyed by the SHA-256 of a caller-supplied key, so repeated fetches of the
// same key are served from disk. It is safe for concurrent use.
type Fetcher struct {
	client  *httpclient.HTTPClient
	config  Config
	encoder *zstd.Encoder
}

// New creates a Fetcher and its cache directory.
func New(cfg Config) (*Fetcher, error) {
	if cfg.CacheDir == "" {
		return nil, errors.New("fetcher: cache dir is required")
	}
	cfg.defaults()

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create fetch cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &Fetcher{
		client:  httpclient.NewClientWithTimeout(cfg.ClientType, cfg.Timeout),
		config:  cfg,
		encoder: enc,
	}, nil
}

// Close releases the encoder.
func (f *Fetcher) Close() error {
	return f.encoder.Close()
}

// BlobID derives the content address of a cache key.
func BlobID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (f *Fetcher) paths(blobID string) (blob, sidecar string) {
	dir := filepath.Join(f.config.CacheDir, blobID[:2])
	return filepath.Join(dir, blobID+".zst"), filepath.Join(dir, blobID+".json")
}

// Get returns the cached blob for key, downloading url first on a miss or when forceRefresh is set.
// The blob at blobPath holds zstd-compressed bytes.
func (f *Fetcher) Get(ctx context.Context, url, key string, forceRefresh bool) (blobID, blobPath string, info domain.FetchInfo, err error) {
	blobID = BlobID(key)
	blobPath, sidecarPath := f.paths(blobID)

	if !forceRefresh {
		if cached, ok := f.readSidecar(blobPath, sidecarPath); ok {
			cached.FromCache = true
			return blobID, blobPath, cached, nil
		}
	}

	body, info, err := f.download(ctx, url)
	if err != nil {
		return "", "", domain.FetchInfo{}, err
	}
	info.BlobID = blobID

	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return "", "", domain.FetchInfo{}, fmt.Errorf("create blob dir: %w", err)
	}
	if err := writeFileAtomic(blobPath, f.encoder.EncodeAll(body, nil)); err != nil {
		return "", "", domain.FetchInfo{}, fmt.Errorf("write blob: %w", err)
	}
	sidecar, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", "", domain.FetchInfo{}, fmt.Errorf("encode fetch meta: %w", err)
	}
	if err := writeFileAtomic(sidecarPath, sidecar); err != nil {
		return "", "", domain.FetchInfo{}, fmt.Errorf("write fetch meta: %w", err)
	}

	return blobID, blobPath, info, nil
}

func (f *Fetcher) readSidecar(blobPath, sidecarPath string) (domain.FetchInfo, bool) {
	if _, err := os.Stat(blobPath); err != nil {
		return domain.FetchInfo{}, false
	}
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return domain.FetchInfo{}, false
	}
	var info domain.FetchInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.FetchInfo{}, false
	}
	return info, true
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, domain.FetchInfo, error) {
	resp, err := f.client.GetContext(ctx, url)
	if err != nil {
		return nil, domain.FetchInfo{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.FetchInfo{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, domain.FetchInfo{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, domain.FetchInfo{}, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, f.config.MaxBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(body)
	}

	return body, domain.FetchInfo{
		URL:        url,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		MIME:       mime,
		Size:       int64(len(body)),
		FetchedAt:  time.Now().UTC(),
	}, nil
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
