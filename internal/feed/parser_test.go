package feed

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

func TestParser_Parse(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name          string
		feedContent   string
		expectError   bool
		expectedCount int
		validateFunc  func(t *testing.T, records []storage.RawRecord)
	}{
		{
			name: "valid RSS feed",
			feedContent: `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
	<channel>
		<title>Test RSS Feed</title>
		<link>http://example.com</link>
		<description>Test Description</description>
		<item>
			<title>First Article</title>
			<link>http://example.com/article1</link>
			<description>This is the first article</description>
			<pubDate>Wed, 01 Jan 2025 12:00:00 GMT</pubDate>
			<media:thumbnail url="http://example.com/thumb1.jpg"/>
		</item>
		<item>
			<title>Second Article</title>
			<link>http://example.com/article2</link>
			<description><![CDATA[<p>Second &amp; last</p>]]></description>
			<pubDate>Thu, 02 Jan 2025 14:00:00 +0200</pubDate>
		</item>
	</channel>
</rss>`,
			expectedCount: 2,
			validateFunc: func(t *testing.T, records []storage.RawRecord) {
				if records[0].Title != "First Article" {
					t.Errorf("expected title 'First Article', got %s", records[0].Title)
				}
				if records[0].Link != "http://example.com/article1" {
					t.Errorf("expected link 'http://example.com/article1', got %s", records[0].Link)
				}
				if records[0].Media != "http://example.com/thumb1.jpg" {
					t.Errorf("expected thumbnail media, got %q", records[0].Media)
				}
				if records[0].PublishDate != "2025-01-01 12:00:00" {
					t.Errorf("expected canonical date, got %s", records[0].PublishDate)
				}
				if records[1].PublishDate != "2025-01-02 12:00:00" {
					t.Errorf("expected date converted to UTC, got %s", records[1].PublishDate)
				}
				if records[1].Media != "" {
					t.Errorf("expected no embedded media, got %q", records[1].Media)
				}
				if !strings.Contains(records[1].Description, "<p>Second") {
					t.Errorf("expected markup kept in description, got %q", records[1].Description)
				}
			},
		},
		{
			name: "valid Atom feed",
			feedContent: `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Test Atom Feed</title>
	<entry>
		<title>Atom Entry</title>
		<link href="http://example.com/atom1"/>
		<id>atom-1</id>
		<published>2025-01-01T12:00:00Z</published>
		<summary>Atom summary</summary>
	</entry>
</feed>`,
			expectedCount: 1,
			validateFunc: func(t *testing.T, records []storage.RawRecord) {
				if records[0].Link != "http://example.com/atom1" {
					t.Errorf("expected atom link, got %s", records[0].Link)
				}
				if records[0].PublishDate != "2025-01-01 12:00:00" {
					t.Errorf("expected canonical date, got %s", records[0].PublishDate)
				}
			},
		},
		{
			name: "image enclosure counts as media",
			feedContent: `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
	<item>
		<title>Enclosed</title>
		<link>http://example.com/e</link>
		<enclosure url="http://example.com/audio.mp3" type="audio/mpeg"/>
		<enclosure url="http://example.com/pic.png" type="image/png"/>
	</item>
</channel></rss>`,
			expectedCount: 1,
			validateFunc: func(t *testing.T, records []storage.RawRecord) {
				if records[0].Media != "http://example.com/pic.png" {
					t.Errorf("expected image enclosure, got %q", records[0].Media)
				}
				if records[0].PublishDate != "" {
					t.Errorf("expected empty date, got %q", records[0].PublishDate)
				}
			},
		},
		{
			name:        "invalid feed",
			feedContent: `not xml at all`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := parser.Parse([]byte(tt.feedContent))

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(records) != tt.expectedCount {
				t.Fatalf("expected %d records, got %d", tt.expectedCount, len(records))
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, records)
			}
		})
	}
}

func TestCanonicalDate(t *testing.T) {
	parsed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("EST", -5*3600))

	tests := []struct {
		name     string
		item     *gofeed.Item
		expected string
	}{
		{"already canonical", &gofeed.Item{Published: "2024-01-01 00:00:00"}, "2024-01-01 00:00:00"},
		{"parsed with zone", &gofeed.Item{Published: "Tue, 04 Mar 2025 05:06:07 EST", PublishedParsed: &parsed}, "2025-03-04 10:06:07"},
		{"unparseable kept raw", &gofeed.Item{Published: "sometime yesterday"}, "sometime yesterday"},
		{"empty", &gofeed.Item{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canonicalDate(tt.item); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEmbeddedMedia(t *testing.T) {
	tests := []struct {
		name     string
		item     *gofeed.Item
		expected string
	}{
		{"none", &gofeed.Item{}, ""},
		{"item image", &gofeed.Item{Image: &gofeed.Image{URL: "http://x/i.png"}}, "http://x/i.png"},
		{"non image enclosure ignored", &gofeed.Item{Enclosures: []*gofeed.Enclosure{{URL: "http://x/a.mp3", Type: "audio/mpeg"}}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := embeddedMedia(tt.item); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParser_ConcurrentParse(t *testing.T) {
	parser := NewParser()
	rss := []byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>` +
		`<item><title>One</title><link>http://example.com/1</link></item></channel></rss>`)
	atom := []byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>t</title>` +
		`<entry><title>Two</title><link href="http://example.com/2"/></entry></feed>`)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		body := rss
		if i%2 == 1 {
			body = atom
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := parser.Parse(body)
			if err != nil {
				t.Errorf("parse failed: %v", err)
				return
			}
			if len(records) != 1 {
				t.Errorf("expected 1 record, got %d", len(records))
			}
		}()
	}
	wg.Wait()
}
