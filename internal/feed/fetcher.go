package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/youssefhk-sw/scrape-news/internal/identity"
)

const defaultMaxBody = 10 << 20

type FetcherOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Accept            string
	MaxBodyBytes      int64
}

// Response is a fully read HTTP response. Any status code is a valid
// Response; only transport failures surface as errors.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Identity   identity.Identity
	RetryAfter time.Duration
}

// Fetcher issues GETs under a given identity, pacing requests per host.
type Fetcher struct {
	opts FetcherOptions

	mu       sync.Mutex
	clients  map[string]*http.Client
	limiters map[string]*rate.Limiter
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Fetcher{
		opts:     opts,
		clients:  make(map[string]*http.Client),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get fetches rawURL presenting id. cookie, when non-empty, is sent as the
// Cookie header.
func (f *Fetcher) Get(ctx context.Context, rawURL string, id identity.Identity, cookie string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	if lim := f.limiter(u.Host); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range id.Headers() {
		req.Header[k] = v
	}
	if f.opts.Accept != "" {
		req.Header.Set("Accept", f.opts.Accept)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := f.client(id.Proxy).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		Identity:   id,
		RetryAfter: RetryAfter(resp.Header),
	}, nil
}

// RetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// It returns zero when the header is absent or unusable.
func RetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (f *Fetcher) client(proxy *identity.Proxy) *http.Client {
	key := ""
	if proxy != nil {
		key = proxy.URL().String()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy.URL())
	}
	c := &http.Client{Timeout: f.opts.Timeout, Transport: transport}
	f.clients[key] = c
	return c
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	if f.opts.RequestsPerSecond <= 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.opts.RequestsPerSecond), 1)
		f.limiters[host] = lim
	}
	return lim
}
