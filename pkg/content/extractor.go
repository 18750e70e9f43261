package content

import (
	"bytes"
	"log"
	"net/url"
	"strings"
	"time"

	"corpus-builder/pkg/domain"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Raw content kinds understood by the extractor.
const (
	ExtHTML = "html"
	ExtPDF  = "pdf"
	ExtBin  = "bin"
)

// Extraction is the text and metadata pulled out of one raw document.
// Empty fields mean the extractor found nothing.
type Extraction struct {
	Text        string
	Title       string
	Language    string
	PublishedAt *time.Time
	Authors     []string
}

// TextExtractor turns raw bytes into text and metadata.
type TextExtractor interface {
	Extract(raw []byte, ext, pageURL string) (*Extraction, error)
}

// Extractor extracts HTML with readability (goquery for metadata) and PDF with ledongthuc/pdf.
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtFromMIME maps a content type to the raw extension stored with a document.
func ExtFromMIME(mime string) string {
	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "html"):
		return ExtHTML
	case strings.Contains(mime, "pdf"):
		return ExtPDF
	default:
		return ExtBin
	}
}

// Extract dispatches on ext. Content that cannot be parsed yields an empty Extraction,
// so the caller treats it as a text extraction miss rather than a failure.
func (e *Extractor) Extract(raw []byte, ext, pageURL string) (*Extraction, error) {
	switch ext {
	case ExtHTML:
		return extractHTML(raw, pageURL), nil
	case ExtPDF:
		text, title, err := ExtractFromPDFBytes(raw)
		if err != nil {
			log.Printf("Extractor: PDF extraction failed for %s: %v", pageURL, err)
			return &Extraction{}, nil
		}
		return &Extraction{Text: strings.TrimSpace(text), Title: title}, nil
	default:
		return &Extraction{}, nil
	}
}

func extractHTML(raw []byte, pageURL string) *Extraction {
	out := &Extraction{}

	var base *url.URL
	if parsed, err := url.Parse(pageURL); err == nil && parsed.Scheme != "" {
		base = parsed
	}

	article, err := readability.FromReader(bytes.NewReader(raw), base)
	if err == nil {
		out.Text = strings.TrimSpace(article.TextContent)
		out.Title = strings.TrimSpace(article.Title)
		if byline := strings.TrimSpace(article.Byline); byline != "" {
			out.Authors = []string{byline}
		}
	} else {
		log.Printf("Extractor: readability failed for %s: %v", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return out
	}

	if out.Text == "" {
		out.Text = collapseWhitespace(doc.Find("body").Text())
	}
	if out.Title == "" {
		out.Title = titleFromDocument(doc)
	}
	out.Language = languageFromDocument(doc)
	out.PublishedAt = publishedFromDocument(doc)
	if len(out.Authors) == 0 {
		out.Authors = authorsFromDocument(doc)
	}
	return out
}

func titleFromDocument(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}

	// <h1> is often the main heading
	if title := strings.TrimSpace(doc.Find("h1").First().Text()); title != "" {
		return title
	}

	for _, sel := range []string{"meta[property='og:title']", "meta[name='title']"} {
		if title, ok := doc.Find(sel).Attr("content"); ok && strings.TrimSpace(title) != "" {
			return strings.TrimSpace(title)
		}
	}
	return ""
}

func languageFromDocument(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").Attr("lang"); ok && strings.TrimSpace(lang) != "" {
		return normalizeLanguage(lang)
	}
	for _, sel := range []string{"meta[http-equiv='content-language']", "meta[property='og:locale']"} {
		if lang, ok := doc.Find(sel).Attr("content"); ok && strings.TrimSpace(lang) != "" {
			return normalizeLanguage(lang)
		}
	}
	return ""
}

// normalizeLanguage reduces "en-US" or "en_US" to "en".
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func publishedFromDocument(doc *goquery.Document) *time.Time {
	selectors := []struct {
		sel, attr string
	}{
		{"meta[property='article:published_time']", "content"},
		{"meta[property='og:published_time']", "content"},
		{"meta[name='pubdate']", "content"},
		{"meta[name='date']", "content"},
		{"meta[itemprop='datePublished']", "content"},
		{"time[datetime]", "datetime"},
	}
	for _, s := range selectors {
		if v, ok := doc.Find(s.sel).First().Attr(s.attr); ok {
			if t := domain.ParseTimestamp(v); t != nil {
				return t
			}
		}
	}
	return nil
}

func authorsFromDocument(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var authors []string
	doc.Find("meta[name='author'], meta[property='article:author']").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("content")
		name = strings.TrimSpace(name)
		if name == "" || seen[name] || strings.HasPrefix(name, "http") {
			return
		}
		seen[name] = true
		authors = append(authors, name)
	})
	return authors
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
