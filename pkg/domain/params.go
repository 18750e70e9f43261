package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BuilderParams are the parameters of one corpus build run.
// They are persisted in the manifest and reused by later runs.
type BuilderParams struct {
	DateFrom Date     `json:"date_from" yaml:"date_from"`
	DateTo   Date     `json:"date_to" yaml:"date_to"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Extra    Extra    `json:"extra" yaml:"extra"`
}

// Validate checks the date range.
func (p BuilderParams) Validate() error {
	if !p.DateFrom.IsZero() && !p.DateTo.IsZero() && p.DateTo.Before(p.DateFrom.Time) {
		return fmt.Errorf("%w: date_to %s is before date_from %s", ErrInvalidParams, p.DateTo, p.DateFrom)
	}
	return nil
}

// Override replaces selected fields of BuilderParams. Nil fields are left untouched.
// Extra is replaced wholesale, not merged key by key.
type Override struct {
	DateFrom *Date
	DateTo   *Date
	Keywords *[]string
	Extra    *Extra
}

// Apply returns a copy of p with the override fields laid over it.
func (p BuilderParams) Apply(o *Override) BuilderParams {
	if o == nil {
		return p
	}
	if o.DateFrom != nil {
		p.DateFrom = *o.DateFrom
	}
	if o.DateTo != nil {
		p.DateTo = *o.DateTo
	}
	if o.Keywords != nil {
		p.Keywords = append([]string(nil), (*o.Keywords)...)
	}
	if o.Extra != nil {
		p.Extra = *o.Extra
	}
	return p
}

// CollectionID accepts both numeric and string identifiers on decode.
type CollectionID string

// UnmarshalJSON implements json.Unmarshaler.
func (c *CollectionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CollectionID(strings.TrimSpace(s))
		return nil
	}
	*c = CollectionID(string(b))
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *CollectionID) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("collection_id must be a scalar")
	}
	*c = CollectionID(strings.TrimSpace(n.Value))
	return nil
}

// Extra holds the recognized extension keys of BuilderParams.
// Decoding rejects any key not listed here.
type Extra struct {
	// discovery overrides
	Queries            []string            `json:"queries,omitempty" yaml:"queries,omitempty"`
	KeywordsByLanguage map[string][]string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	CollectionID       CollectionID        `json:"collection_id,omitempty" yaml:"collection_id,omitempty"`
	CollectionName     string              `json:"collection_name,omitempty" yaml:"collection_name,omitempty"`
	MaxStories         int                 `json:"max_stories,omitempty" yaml:"max_stories,omitempty"`
	ForceRefreshCache  bool                `json:"force_refresh_cache,omitempty" yaml:"force_refresh_cache,omitempty"`
	CacheMaxAgeHours   float64             `json:"cache_max_age_hours,omitempty" yaml:"cache_max_age_hours,omitempty"`
	TestURLs           []string            `json:"test_urls,omitempty" yaml:"test_urls,omitempty"`

	// filters
	DomainBlacklist []string `json:"domain_blacklist,omitempty" yaml:"domain_blacklist,omitempty"`
	URLBlacklist    []string `json:"url_blacklist,omitempty" yaml:"url_blacklist,omitempty"`
	SkipRootURLs    bool     `json:"skip_root_urls,omitempty" yaml:"skip_root_urls,omitempty"`

	// concurrency knobs
	UseConcurrentProcessing *bool   `json:"use_concurrent_processing,omitempty" yaml:"use_concurrent_processing,omitempty"`
	ConcurrentRequests      int     `json:"concurrent_requests,omitempty" yaml:"concurrent_requests,omitempty"`
	DownloadDelay           float64 `json:"download_delay,omitempty" yaml:"download_delay,omitempty"`
	BatchSize               int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	URLTimeout              float64 `json:"url_timeout,omitempty" yaml:"url_timeout,omitempty"`
}

const defaultCacheMaxAge = 24 * time.Hour

var extraKeys = map[string]bool{
	"queries":                   true,
	"keywords":                  true,
	"collection_id":             true,
	"collection_name":           true,
	"max_stories":               true,
	"force_refresh_cache":       true,
	"cache_max_age_hours":       true,
	"test_urls":                 true,
	"domain_blacklist":          true,
	"url_blacklist":             true,
	"skip_root_urls":            true,
	"use_concurrent_processing": true,
	"concurrent_requests":       true,
	"download_delay":            true,
	"batch_size":                true,
	"url_timeout":               true,
}

// ExtraKeys lists the recognized extra keys in sorted order.
func ExtraKeys() []string {
	keys := make([]string, 0, len(extraKeys))
	for k := range extraKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkExtraKeys(keys []string) error {
	for _, k := range keys {
		if !extraKeys[k] {
			return fmt.Errorf("%w: %q (recognized: %s)", ErrUnknownExtraKey, k, strings.Join(ExtraKeys(), ", "))
		}
	}
	return nil
}

// extraFields avoids recursion into the custom unmarshalers.
type extraFields Extra

// UnmarshalJSON implements json.Unmarshaler and rejects unknown keys.
func (e *Extra) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode extra: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	if err := checkExtraKeys(keys); err != nil {
		return err
	}
	var f extraFields
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("decode extra: %w", err)
	}
	*e = Extra(f)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler and rejects unknown keys.
func (e *Extra) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("extra must be a mapping")
	}
	keys := make([]string, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		keys = append(keys, n.Content[i].Value)
	}
	if err := checkExtraKeys(keys); err != nil {
		return err
	}
	var f extraFields
	if err := n.Decode(&f); err != nil {
		return fmt.Errorf("decode extra: %w", err)
	}
	*e = Extra(f)
	return nil
}

// ConcurrentEnabled reports whether batched concurrent processing is requested (default true).
func (e Extra) ConcurrentEnabled() bool {
	if e.UseConcurrentProcessing == nil {
		return true
	}
	return *e.UseConcurrentProcessing
}

// CacheMaxAge is the search cache freshness window (default 24h).
func (e Extra) CacheMaxAge() time.Duration {
	if e.CacheMaxAgeHours <= 0 {
		return defaultCacheMaxAge
	}
	return time.Duration(e.CacheMaxAgeHours * float64(time.Hour))
}

// DownloadDelayDuration converts download_delay seconds; zero means unset.
func (e Extra) DownloadDelayDuration() time.Duration {
	return time.Duration(e.DownloadDelay * float64(time.Second))
}

// URLTimeoutDuration converts url_timeout seconds; zero means unset.
func (e Extra) URLTimeoutDuration() time.Duration {
	return time.Duration(e.URLTimeout * float64(time.Second))
}
