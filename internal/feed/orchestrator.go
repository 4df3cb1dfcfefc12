package feed

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/identity"
	"github.com/youssefhk-sw/scrape-news/internal/metrics"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

// ArticleSource returns the HTML of an article page, recovering from
// anti-bot responses where it can. ok is false when no content was obtained.
type ArticleSource interface {
	Content(ctx context.Context, url string) (body []byte, ok bool)
}

// Orchestrator fetches channel feeds concurrently and completes each entry
// with a media URL.
type Orchestrator struct {
	fetcher          *Fetcher
	parser           *Parser
	pool             *identity.Pool
	articles         ArticleSource
	mediaConcurrency int
	now              func() time.Time
}

func NewOrchestrator(fetcher *Fetcher, parser *Parser, pool *identity.Pool, articles ArticleSource, mediaConcurrency int) *Orchestrator {
	if mediaConcurrency <= 0 {
		mediaConcurrency = 1
	}
	return &Orchestrator{
		fetcher:          fetcher,
		parser:           parser,
		pool:             pool,
		articles:         articles,
		mediaConcurrency: mediaConcurrency,
		now:              time.Now,
	}
}

// FetchAll fetches every channel in parallel. Results are in channel order
// and one channel's failure never affects another.
func (o *Orchestrator) FetchAll(ctx context.Context, channels []storage.Channel) []FetchResult {
	results := make([]FetchResult, len(channels))

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.FetchChannel(ctx, ch)
		}()
	}
	wg.Wait()

	return results
}

// FetchChannel GETs the channel feed with a fresh identity. It never returns
// an error: problems come back as a Failure.
func (o *Orchestrator) FetchChannel(ctx context.Context, ch storage.Channel) FetchResult {
	log := debuglog.WithFields(map[string]interface{}{"channel": ch.Name, "url": ch.FeedURL})
	id := o.pool.Next(nil)

	start := time.Now()
	resp, err := o.fetcher.Get(ctx, ch.FeedURL, id, "")
	metrics.FetchLatency.WithLabelValues(ch.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warnf("feed fetch failed: %v", err)
		return o.failed(ch, TransportError, id, 0, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		log.Infof("feed fetch returned status %d", resp.StatusCode)
		return o.failed(ch, resp.StatusCode, id, resp.RetryAfter, http.StatusText(resp.StatusCode))
	}

	success, err := o.Extract(ctx, ch.FeedURL, ch.BaseURL, resp.Body)
	if err != nil {
		log.Warnf("feed unreadable: %v", err)
		return o.failed(ch, resp.StatusCode, id, 0, err.Error())
	}

	log.Infof("fetched %d entries", len(success.Entries))
	metrics.FetchResults.WithLabelValues(KindSuccess.String(), strconv.Itoa(resp.StatusCode)).Inc()
	return Succeeded(*success)
}

// Extract parses feed bytes and resolves media for entries that lack it.
// It returns once every media lookup for the feed has finished.
func (o *Orchestrator) Extract(ctx context.Context, workOn, baseURL string, body []byte) (*Success, error) {
	entries, err := o.parser.Parse(body)
	if err != nil {
		return nil, err
	}

	o.ResolveMedia(ctx, baseURL, entries)

	return &Success{
		WorkOn:     workOn,
		ChannelURL: baseURL,
		FetchedAt:  o.now(),
		Entries:    entries,
	}, nil
}

// ResolveMedia fills in Media for entries without one by reading the first
// image of the article page, bounded by the media concurrency limit.
func (o *Orchestrator) ResolveMedia(ctx context.Context, baseURL string, entries []storage.RawRecord) {
	sem := make(chan struct{}, o.mediaConcurrency)

	var wg sync.WaitGroup
	for i := range entries {
		if entries[i].Media != "" || entries[i].Link == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			entries[i].Media = o.mediaFromArticle(ctx, entries[i].Link, baseURL)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) mediaFromArticle(ctx context.Context, articleURL, baseURL string) string {
	if o.articles == nil {
		return ""
	}

	body, ok := o.articles.Content(ctx, articleURL)
	if !ok {
		debuglog.Debugf("media: no content for %s", articleURL)
		return ""
	}

	src := FirstImage(body)
	if src == "" {
		debuglog.Debugf("media: no image on %s", articleURL)
		return ""
	}
	return JoinURL(baseURL, src)
}

// FirstImage returns the src of the first <img> in an HTML document.
func FirstImage(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// JoinURL resolves ref against base. ref is returned unchanged when either
// side does not parse.
func JoinURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func (o *Orchestrator) failed(ch storage.Channel, status int, id identity.Identity, retryAfter time.Duration, reason string) FetchResult {
	metrics.FetchResults.WithLabelValues(KindFailure.String(), strconv.Itoa(status)).Inc()
	return Failed(Failure{
		WorkOn:     ch.FeedURL,
		ChannelURL: ch.BaseURL,
		FetchedAt:  o.now(),
		StatusCode: status,
		Identity:   id,
		RetryAfter: retryAfter,
		Reason:     reason,
	})
}
