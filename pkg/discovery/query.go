package discovery

import (
	"regexp"
	"sort"
	"strings"

	"corpus-builder/pkg/domain"
)

// CompileQueries turns builder params into discovery query strings.
//
// Precedence:
//   - extra.queries, used verbatim (trimmed)
//   - extra.keywords, a language -> terms map compiled into one query
//     (terms ORed within a language group, groups ORed, languages in sorted order)
//   - params.keywords, compiled into ("a" OR "b")
//   - otherwise no queries
func CompileQueries(params domain.BuilderParams) []string {
	extra := params.Extra

	if len(extra.Queries) > 0 {
		queries := make([]string, 0, len(extra.Queries))
		for _, q := range extra.Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
		return queries
	}

	if len(extra.KeywordsByLanguage) > 0 {
		if q := compileKeywordsByLanguage(extra.KeywordsByLanguage); q != "" {
			return []string{q}
		}
		return nil
	}

	if group := orGroup(params.Keywords); group != "" {
		return []string{group}
	}
	return nil
}

func compileKeywordsByLanguage(byLang map[string][]string) string {
	langs := make([]string, 0, len(byLang))
	for lang := range byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	groups := make([]string, 0, len(langs))
	for _, lang := range langs {
		if group := orGroup(byLang[lang]); group != "" {
			groups = append(groups, group)
		}
	}
	if len(groups) == 0 {
		return ""
	}
	return "(" + strings.Join(groups, " OR ") + ")"
}

func orGroup(words []string) string {
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w) == "" {
			continue
		}
		terms = append(terms, QuoteTerm(w))
	}
	if len(terms) == 0 {
		return ""
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// QuoteTerm quotes a single search term. Terms that already look like a structured
// query or are already quoted pass through unchanged; embedded double quotes are escaped.
func QuoteTerm(term string) string {
	t := strings.TrimSpace(term)

	upper := strings.ToUpper(t)
	for _, op := range []string{" OR ", " AND ", "(", ")"} {
		if strings.Contains(upper, op) {
			return t
		}
	}

	if len(t) >= 2 {
		if (t[0] == '"' && t[len(t)-1] == '"') || (t[0] == '\'' && t[len(t)-1] == '\'') {
			return t
		}
	}

	return `"` + strings.ReplaceAll(t, `"`, `\"`) + `"`
}

var quotedTerm = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

// queryTerms extracts the plain search terms of a compiled query, for services
// that match locally instead of running the query language.
func queryTerms(query string) []string {
	var terms []string
	for _, m := range quotedTerm.FindAllStringSubmatch(query, -1) {
		if t := strings.TrimSpace(strings.ReplaceAll(m[1], `\"`, `"`)); t != "" {
			terms = append(terms, strings.ToLower(t))
		}
	}
	if len(terms) > 0 {
		return terms
	}

	rest := strings.NewReplacer("(", " ", ")", " ", "'", " ").Replace(query)
	for _, w := range strings.Fields(rest) {
		switch strings.ToUpper(w) {
		case "OR", "AND", "NOT":
			continue
		}
		terms = append(terms, strings.ToLower(w))
	}
	return terms
}

// matchesAny reports whether text contains any of the (lowercased) terms.
// No terms matches everything.
func matchesAny(text string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	text = strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
