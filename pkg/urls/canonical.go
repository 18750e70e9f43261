package urls

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped from every canonical URL.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
}

var defaultPorts = map[string]string{
	"http":  ":80",
	"https": ":443",
}

type queryPair struct {
	key   string
	value string
}

// Canonicalize normalizes a URL so that equivalent URLs compare equal:
// lowercases scheme and host, drops user info, fragment and the scheme's default port, strips tracking
// parameters, sorts the remaining query by key then value (blank values kept)
// and defaults an empty path to "/".
// Canonicalize is idempotent. Unparseable input is returned trimmed.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Opaque != "" {
		return raw
	}

	scheme := strings.ToLower(parsed.Scheme)
	out := url.URL{
		Scheme:   scheme,
		Host:     strings.TrimSuffix(strings.ToLower(parsed.Host), defaultPorts[scheme]),
		Path:     parsed.Path,
		RawPath:  parsed.RawPath,
		RawQuery: canonicalQuery(parsed.RawQuery),
	}
	if out.Path == "" {
		out.Path = "/"
		out.RawPath = ""
	}
	return out.String()
}

// StableID is the hex SHA-1 digest of the canonical form of raw.
// Two URLs with the same canonical form always share a StableID.
func StableID(raw string) string {
	sum := sha1.Sum([]byte(Canonicalize(raw)))
	return hex.EncodeToString(sum[:])
}

func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := make([]queryPair, 0, 8)
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key := unescape(k)
		if trackingParams[key] {
			continue
		}
		pairs = append(pairs, queryPair{key: key, value: unescape(v)})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var buf strings.Builder
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(p.key))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(p.value))
	}
	return buf.String()
}

// unescape decodes a query component, keeping malformed escapes verbatim.
func unescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
