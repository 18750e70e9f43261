package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"corpus-builder/pkg/discovery"
	"corpus-builder/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CORPUS_BUILDER_CONFIG", "MEDIACLOUD_API_KEY", "MEDIACLOUD_KEY", "CORPUS_MONGO_URI",
		"CORPUS_POSTGRES_DSN", "SUPABASE_URL", "SUPABASE_KEY", "SUPABASE_DB_PASSWORD", "SUPABASE_DB_URL",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "corpus", cfg.Corpus.Name)
	assert.Equal(t, "mediacloud", cfg.Corpus.Source)
	assert.Equal(t, BackendFile, cfg.Corpus.Backend)
	assert.Equal(t, filepath.Join("corpora", "corpus"), filepath.Clean(cfg.Corpus.Dir))
	assert.Equal(t, ServiceMediaCloud, cfg.Discovery.Service)
	assert.Equal(t, discovery.DefaultMediaCloudURL, cfg.Discovery.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Cache.FetchTimeout())
	assert.Equal(t, "browser", cfg.Cache.FetchClient)
	assert.Nil(t, cfg.Params)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
corpus:
  name: vaccines
  backend: file
  dir: /tmp/corpora/vaccines
cache:
  search_cache_path: /tmp/cache/search.db
discovery:
  collection_id: "34412234"
  collection_name: US National
rate_limit:
  min_interval_ms: 250
  max_attempts: 3
  forbidden_wait_secs: 5
params:
  date_from: 2024-01-01
  date_to: 2024-01-31
  keywords: [vaccine, "mRNA"]
  extra:
    collection_id: 34412234
    max_stories: 200
    concurrent_requests: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "vaccines", cfg.Corpus.Name)
	assert.Equal(t, "/tmp/corpora/vaccines", cfg.Corpus.Dir)
	assert.Equal(t, "/tmp/cache/search.db", cfg.Cache.SearchCachePath)
	assert.Equal(t, defaultFetchCacheDir, cfg.Cache.FetchCacheDir)
	assert.Equal(t, "34412234", cfg.Discovery.CollectionID)

	limiter := cfg.RateLimit.Limiter()
	assert.Equal(t, 250*time.Millisecond, limiter.MinInterval)
	assert.Equal(t, 3, limiter.MaxAttempts)
	assert.Equal(t, 5*time.Second, limiter.ForbiddenWait)
	assert.Zero(t, limiter.TimeoutWait)

	require.NotNil(t, cfg.Params)
	assert.Equal(t, "2024-01-01", cfg.Params.DateFrom.String())
	assert.Equal(t, "2024-01-31", cfg.Params.DateTo.String())
	assert.Equal(t, []string{"vaccine", "mRNA"}, cfg.Params.Keywords)
	assert.Equal(t, domain.CollectionID("34412234"), cfg.Params.Extra.CollectionID)
	assert.Equal(t, 200, cfg.Params.Extra.MaxStories)
	assert.Equal(t, 4, cfg.Params.Extra.ConcurrentRequests)
}

func TestLoad_FromEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "corpus:\n  name: fromenv\n")
	t.Setenv("CORPUS_BUILDER_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Corpus.Name)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestParse_Empty(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Corpus, cfg.Corpus)
}

func TestParse_UnknownField(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("corpus:\n  nmae: typo\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestParse_UnknownExtraKey(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("params:\n  extra:\n    collection: 1\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownExtraKey)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestParse_InvalidDateRange(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("params:\n  date_from: 2024-02-01\n  date_to: 2024-01-01\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestParse_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEDIACLOUD_KEY", "secret")
	t.Setenv("CORPUS_MONGO_URI", "mongodb://localhost:27017")

	cfg, err := Parse([]byte("corpus:\n  backend: mongo\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Discovery.APIKey)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Corpus.MongoURI)
	assert.Equal(t, defaultMongoDatabase, cfg.Corpus.MongoDatabase)
}

func TestParse_SupabaseFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPABASE_URL", "https://abcdef.supabase.co")
	t.Setenv("SUPABASE_DB_PASSWORD", "pw")

	cfg, err := Parse([]byte("corpus:\n  backend: supabase\n"))
	require.NoError(t, err)
	sb := cfg.Corpus.Supabase.SupabaseClientConfig()
	assert.Equal(t, "https://abcdef.supabase.co", sb.SupabaseURL)
	assert.Equal(t, "pw", sb.Password)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "corpus:\n  backend: s3\n"},
		{"mongo without uri", "corpus:\n  backend: mongo\n"},
		{"postgres without dsn", "corpus:\n  backend: postgres\n"},
		{"supabase without credentials", "corpus:\n  backend: supabase\n"},
		{"unknown service", "discovery:\n  service: twitter\n"},
		{"name with separator", "corpus:\n  name: a/b\n"},
		{"negative attempts", "rate_limit:\n  max_attempts: -1\n"},
		{"unknown fetch client", "cache:\n  fetch_client: lynx\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestParse_FeedServiceHasNoMediaCloudDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("discovery:\n  service: feed\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Discovery.BaseURL)
}
