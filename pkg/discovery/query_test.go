package discovery

import (
	"testing"

	"corpus-builder/pkg/domain"

	"github.com/stretchr/testify/assert"
)

func TestQuoteTerm(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"vaccine", `"vaccine"`},
		{"  public health ", `"public health"`},
		{`say "hi"`, `"say \"hi\""`},
		{`"already quoted"`, `"already quoted"`},
		{`'single quoted'`, `'single quoted'`},
		{"a OR b", "a OR b"},
		{"a or b", "a or b"},
		{"x AND y", "x AND y"},
		{"(grouped)", "(grouped)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuoteTerm(tt.in), tt.in)
	}
}

func TestCompileQueries(t *testing.T) {
	tests := []struct {
		name   string
		params domain.BuilderParams
		want   []string
	}{
		{
			name: "explicit queries win",
			params: domain.BuilderParams{
				Keywords: []string{"ignored"},
				Extra: domain.Extra{
					Queries:            []string{" climate ", "", "energy"},
					KeywordsByLanguage: map[string][]string{"en": {"ignored"}},
				},
			},
			want: []string{"climate", "energy"},
		},
		{
			name: "keywords by language",
			params: domain.BuilderParams{
				Keywords: []string{"ignored"},
				Extra: domain.Extra{KeywordsByLanguage: map[string][]string{
					"fr": {"vaccin"},
					"en": {"vaccine", " ", "mandate"},
				}},
			},
			want: []string{`(("vaccine" OR "mandate") OR ("vaccin"))`},
		},
		{
			name:   "plain keywords",
			params: domain.BuilderParams{Keywords: []string{"vaccine", "mandate"}},
			want:   []string{`("vaccine" OR "mandate")`},
		},
		{
			name:   "blank keywords",
			params: domain.BuilderParams{Keywords: []string{" ", ""}},
			want:   nil,
		},
		{
			name:   "nothing",
			params: domain.BuilderParams{},
			want:   nil,
		},
		{
			name: "empty language groups",
			params: domain.BuilderParams{
				Extra: domain.Extra{KeywordsByLanguage: map[string][]string{"en": {" "}}},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompileQueries(tt.params))
		})
	}
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"vaccine", "public health"}, queryTerms(`("Vaccine" OR "public health")`))
	assert.Equal(t, []string{"climate", "energy"}, queryTerms("(climate OR Energy)"))
	assert.Nil(t, queryTerms("  "))
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("anything", nil))
	assert.True(t, matchesAny("New Vaccine Rules", []string{"vaccine"}))
	assert.False(t, matchesAny("Weather", []string{"vaccine", "mandate"}))
}
