package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"corpus-builder/pkg/db"
	"corpus-builder/pkg/discovery"
	"corpus-builder/pkg/domain"
	"corpus-builder/pkg/httpclient"
	"corpus-builder/pkg/ratelimit"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath      = "./corpusbuilder.yaml"
	defaultCorpusName      = "corpus"
	defaultSource          = "mediacloud"
	defaultBackend         = BackendFile
	defaultCorporaDir      = "./corpora"
	defaultSearchCachePath = "./cache/search_cache.db"
	defaultFetchCacheDir   = "./cache/fetch"
	defaultMongoDatabase   = "corpusbuilder"
	defaultFetchTimeout    = 60
)

// Corpus storage backends.
const (
	BackendFile     = "file"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

// Discovery services.
const (
	ServiceMediaCloud = "mediacloud"
	ServiceFeed       = "feed"
	ServiceSitemap    = "sitemap"
)

// Config defines all runtime configuration.
type Config struct {
	Corpus    CorpusConfig          `yaml:"corpus"`
	Cache     CacheConfig           `yaml:"cache"`
	Discovery DiscoveryConfig       `yaml:"discovery"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Params    *domain.BuilderParams `yaml:"params"`
}

// CorpusConfig selects where documents, the index and the manifest are stored.
type CorpusConfig struct {
	Name          string         `yaml:"name"`
	Source        string         `yaml:"source"`
	Backend       string         `yaml:"backend"`
	Dir           string         `yaml:"dir"`
	MongoURI      string         `yaml:"mongo_uri"`
	MongoDatabase string         `yaml:"mongo_database"`
	PostgresDSN   string         `yaml:"postgres_dsn"`
	Supabase      SupabaseConfig `yaml:"supabase"`
}

// SupabaseConfig is the Supabase section of the corpus config.
type SupabaseConfig struct {
	URL              string `yaml:"url"`
	Key              string `yaml:"key"`
	Password         string `yaml:"password"`
	ConnectionString string `yaml:"connection_string"`
}

// CacheConfig locates the search result cache and the fetch cache.
type CacheConfig struct {
	SearchCachePath  string `yaml:"search_cache_path"`
	FetchCacheDir    string `yaml:"fetch_cache_dir"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs"`
	MaxFetchBytes    int64  `yaml:"max_fetch_bytes"`
	// FetchClient is the header profile for article downloads: browser or cloudflare.
	FetchClient string `yaml:"fetch_client"`
}

// DiscoveryConfig selects the story listing service.
type DiscoveryConfig struct {
	Service        string `yaml:"service"`
	BaseURL        string `yaml:"base_url"`
	Platform       string `yaml:"platform"`
	APIKey         string `yaml:"api_key"`
	CollectionID   string `yaml:"collection_id"`
	CollectionName string `yaml:"collection_name"`
}

// RateLimitConfig is the retry policy of discovery calls. Zero values take the defaults.
type RateLimitConfig struct {
	MinIntervalMS      int     `yaml:"min_interval_ms"`
	MaxAttempts        int     `yaml:"max_attempts"`
	ForbiddenWaitSecs  float64 `yaml:"forbidden_wait_secs"`
	TimeoutWaitSecs    float64 `yaml:"timeout_wait_secs"`
	ConnectionWaitSecs float64 `yaml:"connection_wait_secs"`
	OtherWaitSecs      float64 `yaml:"other_wait_secs"`
}

// Limiter converts the section into a limiter policy.
func (c RateLimitConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{
		MinInterval:    time.Duration(c.MinIntervalMS) * time.Millisecond,
		MaxAttempts:    c.MaxAttempts,
		ForbiddenWait:  seconds(c.ForbiddenWaitSecs),
		TimeoutWait:    seconds(c.TimeoutWaitSecs),
		ConnectionWait: seconds(c.ConnectionWaitSecs),
		OtherWait:      seconds(c.OtherWaitSecs),
	}
}

// FetchTimeout is the HTTP timeout of document downloads.
func (c CacheConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// SupabaseClientConfig converts the section for db.NewSupabaseClient.
func (c SupabaseConfig) SupabaseClientConfig() db.SupabaseConfig {
	return db.SupabaseConfig{
		ConnectionString: c.ConnectionString,
		SupabaseURL:      c.URL,
		SupabaseKey:      c.Key,
		Password:         c.Password,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Default returns a Config populated with default values.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from path, or from CORPUS_BUILDER_CONFIG, or from
// ./corpusbuilder.yaml. A missing default file is not an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CORPUS_BUILDER_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		data = nil
	default:
		return Config{}, fmt.Errorf("%w: read config: %v", domain.ErrConfig, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults and environment overrides, and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if errors.Is(err, domain.ErrConfig) {
				return Config{}, err
			}
			return Config{}, fmt.Errorf("%w: parse config yaml: %v", domain.ErrConfig, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Corpus.Name == "" {
		c.Corpus.Name = defaultCorpusName
	}
	if c.Corpus.Source == "" {
		c.Corpus.Source = defaultSource
	}
	if c.Corpus.Backend == "" {
		c.Corpus.Backend = defaultBackend
	}
	if c.Corpus.Dir == "" {
		c.Corpus.Dir = filepath.Join(defaultCorporaDir, c.Corpus.Name)
	}
	if c.Corpus.MongoDatabase == "" {
		c.Corpus.MongoDatabase = defaultMongoDatabase
	}
	if c.Cache.SearchCachePath == "" {
		c.Cache.SearchCachePath = defaultSearchCachePath
	}
	if c.Cache.FetchCacheDir == "" {
		c.Cache.FetchCacheDir = defaultFetchCacheDir
	}
	if c.Cache.FetchTimeoutSecs == 0 {
		c.Cache.FetchTimeoutSecs = defaultFetchTimeout
	}
	if c.Cache.FetchClient == "" {
		c.Cache.FetchClient = string(httpclient.BrowserClient)
	}
	if c.Discovery.Service == "" {
		c.Discovery.Service = ServiceMediaCloud
	}
	if c.Discovery.Service == ServiceMediaCloud {
		if c.Discovery.BaseURL == "" {
			c.Discovery.BaseURL = discovery.DefaultMediaCloudURL
		}
		if c.Discovery.Platform == "" {
			c.Discovery.Platform = discovery.DefaultMediaCloudPlatform
		}
	}
}

func (c *Config) applyEnvironmentOverrides() {
	if key := discovery.APIKeyFromEnv(); key != "" {
		c.Discovery.APIKey = key
	}
	if v := strings.TrimSpace(os.Getenv("CORPUS_MONGO_URI")); v != "" {
		c.Corpus.MongoURI = v
	}
	if v := strings.TrimSpace(os.Getenv("CORPUS_POSTGRES_DSN")); v != "" {
		c.Corpus.PostgresDSN = v
	}

	env := db.SupabaseConfigFromEnv()
	if env.SupabaseURL != "" {
		c.Corpus.Supabase.URL = env.SupabaseURL
	}
	if env.SupabaseKey != "" {
		c.Corpus.Supabase.Key = env.SupabaseKey
	}
	if env.Password != "" {
		c.Corpus.Supabase.Password = env.Password
	}
	if env.ConnectionString != "" {
		c.Corpus.Supabase.ConnectionString = env.ConnectionString
	}
}

// Validate ensures configuration is complete and valid.
func (c Config) Validate() error {
	if strings.ContainsAny(c.Corpus.Name, `/\`) {
		return configErr("corpus.name must not contain path separators: %q", c.Corpus.Name)
	}

	switch c.Corpus.Backend {
	case BackendFile:
		if c.Corpus.Dir == "" {
			return configErr("corpus.dir must not be empty")
		}
	case BackendMongo:
		if c.Corpus.MongoURI == "" {
			return configErr("corpus.mongo_uri (or CORPUS_MONGO_URI) is required for the mongo backend")
		}
	case BackendPostgres:
		if c.Corpus.PostgresDSN == "" {
			return configErr("corpus.postgres_dsn (or CORPUS_POSTGRES_DSN) is required for the postgres backend")
		}
	case BackendSupabase:
		sb := c.Corpus.Supabase
		if sb.ConnectionString == "" && (sb.URL == "" || sb.Password == "") {
			return configErr("corpus.supabase needs connection_string, or url and password, for the supabase backend")
		}
	default:
		return configErr("corpus.backend must be one of file, mongo, postgres, supabase: %q", c.Corpus.Backend)
	}

	switch c.Discovery.Service {
	case ServiceMediaCloud, ServiceFeed, ServiceSitemap:
	default:
		return configErr("discovery.service must be one of mediacloud, feed, sitemap: %q", c.Discovery.Service)
	}

	if c.Cache.SearchCachePath == "" {
		return configErr("cache.search_cache_path must not be empty")
	}
	if c.Cache.FetchCacheDir == "" {
		return configErr("cache.fetch_cache_dir must not be empty")
	}
	switch httpclient.ClientType(c.Cache.FetchClient) {
	case httpclient.BrowserClient, httpclient.CloudflareClient:
	default:
		return configErr("cache.fetch_client must be browser or cloudflare: %q", c.Cache.FetchClient)
	}
	if c.Cache.FetchTimeoutSecs < 0 {
		return configErr("cache.fetch_timeout_secs must be positive")
	}
	if c.RateLimit.MaxAttempts < 0 {
		return configErr("rate_limit.max_attempts must not be negative")
	}

	if c.Params != nil {
		if err := c.Params.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfig, fmt.Sprintf(format, args...))
}
