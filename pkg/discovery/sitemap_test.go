package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"corpus-builder/pkg/domain"
)

func TestParseSitemap(t *testing.T) {
	xmlData := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url>
		<loc>https://news.example.com/post1</loc>
		<lastmod>2024-01-15</lastmod>
		<priority>0.8</priority>
		<changefreq>monthly</changefreq>
	</url>
	<url>
		<loc>https://news.example.com/post2</loc>
		<lastmod>2024-01-20</lastmod>
	</url>
	<url>
		<loc>https://news.example.com/post3</loc>
	</url>
</urlset>`

	entries, err := parseSitemap(strings.NewReader(xmlData))
	if err != nil {
		t.Fatalf("Failed to parse sitemap: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	entry1 := entries[0]
	if entry1.Location != "https://news.example.com/post1" {
		t.Errorf("Expected location 'https://news.example.com/post1', got '%s'", entry1.Location)
	}
	if entry1.LastMod != "2024-01-15" {
		t.Errorf("Expected LastMod '2024-01-15', got '%s'", entry1.LastMod)
	}
	if entry1.Priority != "0.8" {
		t.Errorf("Expected Priority '0.8', got '%s'", entry1.Priority)
	}
	if entry1.ChangeFreq != "monthly" {
		t.Errorf("Expected ChangeFreq 'monthly', got '%s'", entry1.ChangeFreq)
	}

	if entries[2].LastMod != "" {
		t.Errorf("Expected empty LastMod, got '%s'", entries[2].LastMod)
	}
}

func TestParseSitemapIndex(t *testing.T) {
	xmlData := `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<sitemap>
		<loc>https://news.example.com/sitemap1.xml</loc>
		<lastmod>2024-01-15</lastmod>
	</sitemap>
	<sitemap>
		<loc>https://news.example.com/sitemap2.xml</loc>
	</sitemap>
</sitemapindex>`

	urls, err := parseSitemapIndex(strings.NewReader(xmlData))
	if err != nil {
		t.Fatalf("Failed to parse sitemap index: %v", err)
	}

	if len(urls) != 2 {
		t.Fatalf("Expected 2 sitemap URLs, got %d", len(urls))
	}
	if urls[1] != "https://news.example.com/sitemap2.xml" {
		t.Errorf("Expected second URL 'https://news.example.com/sitemap2.xml', got '%s'", urls[1])
	}
}

func TestParseSitemapInvalidXML(t *testing.T) {
	if _, err := parseSitemap(strings.NewReader(`<?xml version="1.0"?><invalid>`)); err == nil {
		t.Error("Expected error for invalid XML, got nil")
	}
}

func newSitemapServer(t *testing.T) *httptest.Server {
	t.Helper()
	var serverURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/sitemap-index.xml":
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<sitemap><loc>` + serverURL + `/sitemap1.xml</loc></sitemap>
	<sitemap><loc>` + serverURL + `/missing.xml</loc></sitemap>
	<sitemap><loc>` + serverURL + `/sitemap2.xml</loc></sitemap>
</sitemapindex>`))
		case "/sitemap1.xml":
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://news.example.com/2024/vaccine-rollout</loc><lastmod>2024-01-10</lastmod></url>
	<url><loc>https://news.example.com/2023/vaccine-trial</loc><lastmod>2023-06-01</lastmod></url>
</urlset>`))
		case "/sitemap2.xml":
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://news.example.com/2024/public-health-plan</loc><lastmod>2024-01-12T09:00:00Z</lastmod></url>
	<url><loc>https://news.example.com/2024/sports</loc><lastmod>2024-01-12</lastmod></url>
	<url><loc>https://news.example.com/vaccine-explainer</loc></url>
</urlset>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	serverURL = server.URL
	t.Cleanup(server.Close)
	return server
}

func TestSitemapLister_ParseFromURL_Index(t *testing.T) {
	server := newSitemapServer(t)

	entries, err := NewSitemapLister(nil).ParseFromURL(context.Background(), server.URL+"/sitemap-index.xml")
	if err != nil {
		t.Fatalf("Failed to parse sitemap index from URL: %v", err)
	}

	// The missing child sitemap is skipped.
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(entries))
	}
}

func TestSitemapLister_ListStories(t *testing.T) {
	server := newSitemapServer(t)

	page, err := NewSitemapLister(nil).ListStories(context.Background(), PageRequest{
		Query:        `("vaccine" OR "public health")`,
		CollectionID: server.URL + "/sitemap-index.xml",
		Start:        domain.NewDate(2024, time.January, 1),
		End:          domain.NewDate(2024, time.January, 31),
	})
	if err != nil {
		t.Fatalf("ListStories failed: %v", err)
	}

	want := []string{
		"https://news.example.com/2024/vaccine-rollout",
		"https://news.example.com/2024/public-health-plan",
		"https://news.example.com/vaccine-explainer",
	}
	if len(page.Stories) != len(want) {
		t.Fatalf("Expected %d stories, got %d", len(want), len(page.Stories))
	}
	for i, u := range want {
		if page.Stories[i].URL != u {
			t.Errorf("story %d: expected %s, got %s", i, u, page.Stories[i].URL)
		}
	}
	if page.Stories[0].PublishDate != "2024-01-10" {
		t.Errorf("Expected lastmod as publish date, got %q", page.Stories[0].PublishDate)
	}
}

func TestSitemapLister_NotFound(t *testing.T) {
	server := newSitemapServer(t)

	if _, err := NewSitemapLister(nil).ParseFromURL(context.Background(), server.URL+"/nope.xml"); err == nil {
		t.Error("Expected error for missing sitemap, got nil")
	}
}
