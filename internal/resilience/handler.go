package resilience

import (
	"context"
	"net/http"
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/feed"
	"github.com/youssefhk-sw/scrape-news/internal/identity"
	"github.com/youssefhk-sw/scrape-news/internal/metrics"
	"github.com/youssefhk-sw/scrape-news/internal/render"
	"github.com/youssefhk-sw/scrape-news/internal/session"
)

type Options struct {
	// NRequests bounds the attempts made against a 5xx.
	NRequests int
	// Delay separates consecutive 5xx attempts.
	Delay time.Duration
	// RetryAfter is how far ahead an unrecovered URL is scheduled for resend.
	RetryAfter time.Duration
}

// Recovery is the outcome of running a strategy on one URL. Content is
// non-nil exactly when the URL was recovered.
type Recovery struct {
	URL        string
	Class      Class
	Content    []byte
	StatusCode int
	Attempts   int
	RetryAt    time.Time
}

func (r Recovery) Recovered() bool {
	return r.Content != nil
}

// Handler runs the recovery strategy that matches a failed fetch.
type Handler struct {
	fetcher  *feed.Fetcher
	pool     *identity.Pool
	sessions *session.Cache
	renderer render.Renderer
	failures *FailureLog
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewHandler(fetcher *feed.Fetcher, pool *identity.Pool, sessions *session.Cache, renderer render.Renderer, failures *FailureLog, opts Options) *Handler {
	if opts.NRequests < 1 {
		opts.NRequests = 1
	}
	return &Handler{
		fetcher:  fetcher,
		pool:     pool,
		sessions: sessions,
		renderer: renderer,
		failures: failures,
		opts:     opts,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// Recover dispatches f to its strategy. A URL left unrecovered is written to
// the failure log before returning.
func (h *Handler) Recover(ctx context.Context, f *feed.Failure) Recovery {
	class := Classify(f.StatusCode)
	log := debuglog.WithFields(map[string]interface{}{
		"url":    f.WorkOn,
		"status": f.StatusCode,
		"class":  class.String(),
	})
	log.Infof("recovering failed fetch")

	var rec Recovery
	switch class {
	case ClassTransientServer:
		rec = h.HandleServerError(ctx, f.WorkOn, f.Identity)
	case ClassAuthChallenge:
		rec = h.Handle403(ctx, f.WorkOn, f.Identity)
	default:
		rec = h.NotHandled(f.WorkOn, class, f.StatusCode)
	}

	if rec.Recovered() {
		metrics.RecoveryOutcomes.WithLabelValues(class.String(), "recovered").Inc()
		log.Infof("recovered after %d attempts", rec.Attempts)
		return rec
	}

	wait := h.opts.RetryAfter
	if f.RetryAfter > wait {
		wait = f.RetryAfter
	}
	rec.RetryAt = h.now().Add(wait)

	failedAt := f.FetchedAt
	if failedAt.IsZero() {
		failedAt = h.now()
	}
	if err := h.failures.Record(PermanentFailure{
		URL:        f.WorkOn,
		StatusCode: rec.StatusCode,
		FailedAt:   failedAt,
		RetryAt:    rec.RetryAt,
	}); err != nil {
		log.Errorf("recording permanent failure: %v", err)
	}

	metrics.RecoveryOutcomes.WithLabelValues(class.String(), "not_recovered").Inc()
	log.Warnf("not recovered, last status %d, resend after %s", rec.StatusCode, rec.RetryAt.Format(time.RFC3339))
	return rec
}

// HandleServerError repeats the same request under the same identity up to
// NRequests times, waiting Delay between attempts. Any non-5xx answer ends
// the loop.
func (h *Handler) HandleServerError(ctx context.Context, url string, id identity.Identity) Recovery {
	rec := Recovery{URL: url, Class: ClassTransientServer}

	for i := 0; i < h.opts.NRequests; i++ {
		rec.Attempts++
		metrics.RecoveryAttempts.WithLabelValues(ClassTransientServer.String()).Inc()

		resp, err := h.fetcher.Get(ctx, url, id, "")
		if err != nil {
			debuglog.Debugf("5xx retry %d for %s: %v", rec.Attempts, url, err)
			rec.StatusCode = feed.TransportError
			return rec
		}
		rec.StatusCode = resp.StatusCode

		if resp.StatusCode == http.StatusOK {
			rec.Content = resp.Body
			return rec
		}
		if Classify(resp.StatusCode) != ClassTransientServer {
			return rec
		}

		if i < h.opts.NRequests-1 {
			if err := h.sleep(ctx, h.opts.Delay); err != nil {
				return rec
			}
		}
	}

	return rec
}

// Handle403 retries with a new identity and the origin's session cookies,
// falling back to the page captured while acquiring the session and then to
// a fresh headless render.
func (h *Handler) Handle403(ctx context.Context, url string, previous identity.Identity) Recovery {
	rec := Recovery{URL: url, Class: ClassAuthChallenge, StatusCode: http.StatusForbidden}
	id := h.pool.Next(&previous)

	if entry, ok := h.sessions.Get(ctx, url, id); ok {
		rec.Attempts++
		metrics.RecoveryAttempts.WithLabelValues(ClassAuthChallenge.String()).Inc()

		resp, err := h.fetcher.Get(ctx, url, id, entry.Header())
		switch {
		case err != nil:
			debuglog.Debugf("403 reissue for %s: %v", url, err)
		case resp.StatusCode == http.StatusOK:
			h.sessions.TakeRendered(url)
			rec.StatusCode = http.StatusOK
			rec.Content = resp.Body
			return rec
		default:
			rec.StatusCode = resp.StatusCode
		}
	}

	if html, ok := h.sessions.TakeRendered(url); ok && html != "" {
		rec.Content = []byte(html)
		return rec
	}

	rec.Attempts++
	metrics.RecoveryAttempts.WithLabelValues(ClassAuthChallenge.String()).Inc()
	page, err := h.renderer.Render(ctx, url, id)
	if err != nil {
		debuglog.Infof("403 render fallback for %s: %v", url, err)
		return rec
	}
	rec.Content = []byte(page.HTML)
	return rec
}

// NotHandled is the strategy for classes without one.
func (h *Handler) NotHandled(url string, class Class, status int) Recovery {
	return Recovery{URL: url, Class: class, StatusCode: status}
}

// Content fetches an article page, going through the 403 strategy when
// the plain request is refused.
func (h *Handler) Content(ctx context.Context, url string) ([]byte, bool) {
	id := h.pool.Next(nil)

	resp, err := h.fetcher.Get(ctx, url, id, "")
	if err != nil {
		debuglog.Debugf("article %s: %v", url, err)
		return nil, false
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, true
	case http.StatusForbidden:
		rec := h.Handle403(ctx, url, id)
		return rec.Content, rec.Recovered()
	default:
		debuglog.Debugf("article %s: status %d", url, resp.StatusCode)
		return nil, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
