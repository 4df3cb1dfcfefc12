package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

// DateLayout is the canonical publish date form, always in UTC.
const DateLayout = "2006-01-02 15:04:05"

type Parser struct {
	parser *gofeed.Parser
}

// NewParser returns a Parser safe for concurrent use. gofeed fills its
// translators lazily on first Parse, so they are set here.
func NewParser() *Parser {
	fp := gofeed.NewParser()
	fp.RSSTranslator = &gofeed.DefaultRSSTranslator{}
	fp.AtomTranslator = &gofeed.DefaultAtomTranslator{}
	fp.JSONTranslator = &gofeed.DefaultJSONTranslator{}
	return &Parser{parser: fp}
}

// Parse turns feed bytes into raw records, one per item, in feed order.
func (p *Parser) Parse(body []byte) ([]storage.RawRecord, error) {
	feed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	records := make([]storage.RawRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		records = append(records, storage.RawRecord{
			Title:       item.Title,
			Link:        item.Link,
			PublishDate: canonicalDate(item),
			Description: item.Description,
			Media:       embeddedMedia(item),
		})
	}

	return records, nil
}

// canonicalDate renders the item's publish date as UTC DateLayout. A value
// already in that form is kept, and one gofeed could not parse is returned
// raw.
func canonicalDate(item *gofeed.Item) string {
	raw := strings.TrimSpace(item.Published)
	if _, err := time.Parse(DateLayout, raw); err == nil {
		return raw
	}
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(DateLayout)
	}
	return raw
}

// embeddedMedia returns the first image the feed itself carries for the item:
// media:thumbnail, then an image media:content, then an image enclosure,
// then the item image.
func embeddedMedia(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			if u := thumb.Attrs["url"]; u != "" {
				return u
			}
		}
		for _, content := range media["content"] {
			u := content.Attrs["url"]
			if u != "" && (content.Attrs["medium"] == "image" || strings.HasPrefix(content.Attrs["type"], "image/")) {
				return u
			}
		}
	}

	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" && strings.HasPrefix(enclosure.Type, "image/") {
			return enclosure.URL
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	return ""
}
