package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/identity"
	"github.com/youssefhk-sw/scrape-news/internal/metrics"
	"github.com/youssefhk-sw/scrape-news/internal/render"
)

// ErrNoSession means every render attempt failed or the
// browser came back without cookies.
var ErrNoSession = errors.New("no session")

// Entry is the persisted cookie set for one origin.
type Entry struct {
	Origin    string            `json:"url"`
	Cookies   map[string]string `json:"cookies"`
	ExpiresAt time.Time         `json:"expires"`
}

// Header renders the cookies as a Cookie request header value.
func (e Entry) Header() string {
	var b strings.Builder
	for _, name := range slices.Sorted(maps.Keys(e.Cookies)) {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name + "=" + e.Cookies[name])
	}
	return b.String()
}

type Options struct {
	// AcquireRetries is the number of extra render attempts after the first.
	AcquireRetries int
	// DefaultTTL applies when no cookie in the jar carries an expiry.
	DefaultTTL time.Duration
}

// Cache maps origins to cookie sessions obtained by rendering a page of that
// origin in a headless browser.
type Cache struct {
	store    *buffer.JSONStore[Entry]
	renderer render.Renderer
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	rendered map[string]string
}

func NewCache(store *buffer.JSONStore[Entry], renderer render.Renderer, opts Options) *Cache {
	if opts.AcquireRetries < 0 {
		opts.AcquireRetries = 0
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 30 * time.Minute
	}
	return &Cache{
		store:    store,
		renderer: renderer,
		opts:     opts,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		rendered: make(map[string]string),
	}
}

// Origin reduces a URL to scheme://host/.
func Origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u.Scheme + "://" + u.Host + "/", nil
}

// Get returns a live session for the origin of rawURL, rendering rawURL to
// obtain one when the cache has none. The bool is false when no session
// could be produced.
func (c *Cache) Get(ctx context.Context, rawURL string, id identity.Identity) (*Entry, bool) {
	origin, err := Origin(rawURL)
	if err != nil {
		debuglog.Warnf("session: %v", err)
		return nil, false
	}

	lock := c.originLock(origin)
	lock.Lock()
	defer lock.Unlock()

	now := c.now()
	if e, ok := c.lookup(origin, now); ok {
		metrics.Sessions.WithLabelValues("hit").Inc()
		return e, true
	}

	e, err := c.acquire(ctx, rawURL, origin, id)
	if err != nil {
		metrics.Sessions.WithLabelValues("failed").Inc()
		debuglog.Infof("session: %s: %v", origin, err)
		return nil, false
	}

	if err := c.store.Append(*e); err != nil {
		debuglog.Warnf("session: persisting %s: %v", origin, err)
	}
	metrics.Sessions.WithLabelValues("acquired").Inc()
	return e, true
}

// TakeRendered hands out, once, the HTML captured by the latest session
// acquisition for rawURL. Callers that got what they needed from the session
// call it to discard the page.
func (c *Cache) TakeRendered(rawURL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	html, ok := c.rendered[rawURL]
	delete(c.rendered, rawURL)
	return html, ok
}

// lookup returns the stored entry for origin if still live and drops it
// otherwise.
func (c *Cache) lookup(origin string, now time.Time) (*Entry, bool) {
	e, ok := c.store.Find(func(e Entry) bool { return e.Origin == origin })
	if !ok {
		return nil, false
	}
	if e.ExpiresAt.After(now) {
		e.Cookies = maps.Clone(e.Cookies)
		return &e, true
	}

	if _, err := c.store.Remove(func(e Entry) bool { return e.Origin == origin }); err != nil {
		debuglog.Warnf("session: dropping expired %s: %v", origin, err)
	}
	return nil, false
}

func (c *Cache) acquire(ctx context.Context, rawURL, origin string, id identity.Identity) (*Entry, error) {
	attempts := 1 + c.opts.AcquireRetries

	c.mu.Lock()
	delete(c.rendered, rawURL)
	c.mu.Unlock()

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.renderer.Render(ctx, rawURL, id)
		if err != nil {
			lastErr = err
			debuglog.Debugf("session: render %s attempt %d/%d: %v", rawURL, i+1, attempts, err)
			continue
		}

		c.mu.Lock()
		c.rendered[rawURL] = page.HTML
		c.mu.Unlock()

		if len(page.Cookies) == 0 {
			lastErr = errors.New("empty cookie jar")
			debuglog.Debugf("session: render %s attempt %d/%d: empty cookie jar", rawURL, i+1, attempts)
			continue
		}

		now := c.now()
		e := &Entry{
			Origin:    origin,
			Cookies:   make(map[string]string, len(page.Cookies)),
			ExpiresAt: expiry(page.Cookies, now, c.opts.DefaultTTL),
		}
		for _, ck := range page.Cookies {
			e.Cookies[ck.Name] = ck.Value
		}
		if !e.ExpiresAt.After(now) {
			return nil, fmt.Errorf("%w: cookies already expired", ErrNoSession)
		}
		return e, nil
	}

	return nil, fmt.Errorf("%w: %d attempts: %v", ErrNoSession, attempts, lastErr)
}

// expiry is the earliest cookie expiry, ignoring session cookies, or now+ttl
// when none carries one.
func expiry(cookies []render.Cookie, now time.Time, ttl time.Duration) time.Time {
	var earliest time.Time
	for _, ck := range cookies {
		if ck.Expires.IsZero() {
			continue
		}
		if earliest.IsZero() || ck.Expires.Before(earliest) {
			earliest = ck.Expires
		}
	}
	if earliest.IsZero() {
		return now.Add(ttl)
	}
	return earliest.UTC()
}

func (c *Cache) originLock(origin string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[origin]
	if !ok {
		l = &sync.Mutex{}
		c.locks[origin] = l
	}
	return l
}
