package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
	"github.com/youssefhk-sw/scrape-news/internal/cleaner"
	"github.com/youssefhk-sw/scrape-news/internal/config"
	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/feed"
	"github.com/youssefhk-sw/scrape-news/internal/identity"
	"github.com/youssefhk-sw/scrape-news/internal/metrics"
	"github.com/youssefhk-sw/scrape-news/internal/render"
	"github.com/youssefhk-sw/scrape-news/internal/resilience"
	"github.com/youssefhk-sw/scrape-news/internal/session"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

var (
	// ErrUnknownURL is returned by RecoverURL for a URL no channel owns.
	ErrUnknownURL = errors.New("url does not belong to a registered channel")
	// ErrNotRecovered marks a channel whose failed fetch no strategy could fix.
	ErrNotRecovered = errors.New("fetch not recovered")
)

// Pipeline owns the buffers and collaborators of one process and runs fetch
// cycles over them.
type Pipeline struct {
	cfg   *config.Config
	store *storage.Store

	buffers      buffer.Set
	failures     *resilience.FailureLog
	quarantine   *cleaner.Quarantine
	handler      *resilience.Handler
	orchestrator *feed.Orchestrator
	cleaner      *cleaner.Cleaner
	images       *storage.ImageStore

	now func() time.Time
}

// New opens the buffer files named in cfg and builds the fetch, recovery and
// cleaning stages around them. store stays owned by the caller; Close only
// flushes the buffers.
func New(cfg *config.Config, store *storage.Store, renderer render.Renderer) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, store: store, now: time.Now}

	if err := p.open(renderer); err != nil {
		if cerr := p.buffers.CloseAll(); cerr != nil {
			debuglog.Errorf("closing buffers after failed start: %v", cerr)
		}
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) open(renderer render.Renderer) error {
	cfg := p.cfg

	cookies, err := buffer.OpenJSON[session.Entry](cfg.BufferPath(cfg.Buffers.Cookies))
	if err != nil {
		return err
	}
	p.buffers.Track(cookies)

	notCleaned, err := buffer.OpenJSON[cleaner.QuarantineEntry](cfg.BufferPath(cfg.Buffers.NotCleaned))
	if err != nil {
		return err
	}
	p.buffers.Track(notCleaned)

	userAgents, err := buffer.OpenJSON[string](cfg.BufferPath(cfg.Buffers.UserAgents))
	if err != nil {
		return err
	}
	p.buffers.Track(userAgents)

	notHandled, err := buffer.OpenCSV(cfg.BufferPath(cfg.Buffers.NotHandled), resilience.FailureColumns)
	if err != nil {
		return err
	}
	p.buffers.Track(notHandled)

	p.failures, err = resilience.NewFailureLog(notHandled)
	if err != nil {
		return err
	}

	uas, err := identity.SeedUserAgents(userAgents, cfg.Identity.UserAgents)
	if err != nil {
		return err
	}
	var proxies []identity.Proxy
	if cfg.Identity.UseProxy {
		proxies, err = identity.LoadProxies(cfg.Buffers.EnvFile, cfg.Identity.Proxies)
		if err != nil {
			return err
		}
	}
	pool, err := identity.NewPool(uas, proxies, cfg.Identity.UseProxy)
	if err != nil {
		return fmt.Errorf("building identity pool: %w", err)
	}

	sessions := session.NewCache(cookies, renderer, session.Options{
		AcquireRetries: cfg.Session.AcquireRetries,
		DefaultTTL:     cfg.Session.DefaultTTL,
	})
	fetcher := feed.NewFetcher(feed.FetcherOptions{
		Timeout:           cfg.Feed.HTTPTimeout,
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
		Accept:            cfg.Feed.Accept,
		MaxBodyBytes:      cfg.Feed.MaxBodyBytes,
	})
	p.handler = resilience.NewHandler(fetcher, pool, sessions, renderer, p.failures, resilience.Options{
		NRequests:  cfg.Retry.Requests,
		Delay:      cfg.Retry.Delay,
		RetryAfter: cfg.Retry.RetryAfter,
	})
	p.orchestrator = feed.NewOrchestrator(fetcher, feed.NewParser(), pool, p.handler, cfg.Feed.MediaConcurrency)

	p.quarantine = cleaner.NewQuarantine(notCleaned)
	p.cleaner = cleaner.New(p.quarantine)

	if cfg.Images.Save {
		p.images = storage.NewImageStore(cfg.Images.Dir, cfg.Feed.HTTPTimeout)
	}
	return nil
}

// Close flushes every buffer to disk.
func (p *Pipeline) Close() error {
	return p.buffers.CloseAll()
}

// RegisterChannels adds channels to storage. Channels already present by
// name are left as they are.
func (p *Pipeline) RegisterChannels(channels []storage.Channel) error {
	for _, ch := range channels {
		added, err := p.store.AddChannel(ch)
		if err != nil {
			return fmt.Errorf("registering channel %q: %w", ch.Name, err)
		}
		if added {
			debuglog.Infof("registered channel %s (%s)", ch.Name, ch.FeedURL)
		}
	}
	return nil
}

// Run fetches every channel, recovers failed fetches and stores the clean
// entries. Per-channel problems end up in the report and the buffer files;
// the returned error is reserved for failures that stop the whole run.
func (p *Pipeline) Run(ctx context.Context, channels []storage.Channel) (*Report, error) {
	if err := p.RegisterChannels(channels); err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.New().String(), StartedAt: p.now()}
	log := debuglog.WithFields(map[string]interface{}{"run_id": report.RunID})

	if p.cfg.Feed.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Feed.RunTimeout)
		defer cancel()
	}

	log.Infof("run started for %d channels", len(channels))
	results := p.orchestrator.FetchAll(ctx, channels)

	report.Channels = make([]ChannelReport, len(results))
	var wg sync.WaitGroup
	for i, res := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Channels[i] = p.handle(ctx, channels[i], res)
		}()
	}
	wg.Wait()

	report.FinishedAt = p.now()
	metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	log.Infof("run finished: %d saved, %d quarantined, %d channels failed",
		report.Saved(), report.Quarantined(), len(report.Failed()))

	return report, nil
}

// RecoverURL fetches one previously failed feed URL again and runs the
// matching recovery strategy. A recovered URL leaves the failure log.
func (p *Pipeline) RecoverURL(ctx context.Context, url string) (ChannelReport, error) {
	ch, err := p.channelFor(url)
	if err != nil {
		return ChannelReport{WorkOn: url}, err
	}
	ch.FeedURL = url

	rep := p.handle(ctx, *ch, p.orchestrator.FetchChannel(ctx, *ch))
	if rep.OK() {
		if _, err := p.failures.Remove(url); err != nil {
			return rep, fmt.Errorf("clearing %s from failure log: %w", url, err)
		}
	}
	return rep, nil
}

// RetryDue runs RecoverURL for every failure log row whose resend time has
// passed.
func (p *Pipeline) RetryDue(ctx context.Context) ([]ChannelReport, error) {
	due := p.failures.Due(p.now())
	debuglog.Infof("%d failed urls due for retry", len(due))

	reports := make([]ChannelReport, 0, len(due))
	var errs []error
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := p.RecoverURL(ctx, f.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.URL, err))
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

// Failures returns the rows currently in the failure log.
func (p *Pipeline) Failures() []resilience.PermanentFailure {
	return p.failures.Entries()
}

// Quarantined returns the records currently held in quarantine.
func (p *Pipeline) Quarantined() []cleaner.QuarantineEntry {
	return p.quarantine.Entries()
}

func (p *Pipeline) handle(ctx context.Context, ch storage.Channel, res feed.FetchResult) ChannelReport {
	rep := ChannelReport{Channel: ch.Name, WorkOn: res.WorkOn()}

	success := res.Success
	if res.OK() {
		rep.StatusCode = http.StatusOK
	} else {
		rep.StatusCode = res.Failure.StatusCode

		rec := p.handler.Recover(ctx, res.Failure)
		if !rec.Recovered() {
			rep.Err = fmt.Errorf("%w: last status %d", ErrNotRecovered, rec.StatusCode)
			return rep
		}

		s, err := p.orchestrator.Extract(ctx, res.Failure.WorkOn, res.Failure.ChannelURL, rec.Content)
		if err != nil {
			p.recordUnreadable(res.Failure.WorkOn, rec.StatusCode)
			rep.Err = fmt.Errorf("recovered content unreadable: %w", err)
			return rep
		}
		rep.Recovered = true
		success = s
	}

	p.process(ctx, ch, success, &rep)
	return rep
}

// recordUnreadable schedules a resend for a URL whose recovered content was
// not a feed.
func (p *Pipeline) recordUnreadable(url string, status int) {
	now := p.now()
	err := p.failures.Record(resilience.PermanentFailure{
		URL:        url,
		StatusCode: status,
		FailedAt:   now,
		RetryAt:    now.Add(p.cfg.Retry.RetryAfter),
	})
	if err != nil {
		debuglog.Errorf("recording unreadable %s: %v", url, err)
	}
}

func (p *Pipeline) process(ctx context.Context, ch storage.Channel, s *feed.Success, rep *ChannelReport) {
	log := debuglog.WithFields(map[string]interface{}{"channel": ch.Name})
	rep.Entries = len(s.Entries)

	var errs []error
	accepted, quarantined, err := p.cleaner.Partition(ch.Name, s.Entries)
	rep.Quarantined = quarantined
	if err != nil {
		errs = append(errs, err)
	}

	items := make([]*storage.News, 0, len(accepted))
	for _, rec := range accepted {
		items = append(items, p.toNews(ctx, ch.Name, rec, log))
	}

	saved, dups, err := p.store.SaveNews(ch.Name, items)
	if err != nil {
		errs = append(errs, fmt.Errorf("saving news: %w", err))
	} else {
		rep.Saved = saved
		rep.Duplicates = len(dups)
		if saved > 0 {
			if err := p.store.IncrementNewsCount(ch.Name, saved); err != nil {
				errs = append(errs, fmt.Errorf("updating news count: %w", err))
			}
		}
		log.Infof("%d saved, %d already stored, %d quarantined", saved, len(dups), quarantined)
	}

	rep.Err = errors.Join(errs...)
}

// toNews converts an accepted record. The image is only downloaded for links
// not stored yet.
func (p *Pipeline) toNews(ctx context.Context, channel string, rec storage.RawRecord, log *debuglog.FieldLogger) *storage.News {
	published, err := time.Parse(feed.DateLayout, rec.PublishDate)
	if err != nil {
		log.Warnf("publish date %q of %s: %v", rec.PublishDate, rec.Link, err)
	}

	item := &storage.News{
		Link:        rec.Link,
		Title:       rec.Title,
		Description: rec.Description,
		PublishDate: published,
		SavedAt:     p.now().UTC(),
	}
	if rec.Media == cleaner.Missing {
		return item
	}
	item.MediaURL = rec.Media

	if p.images == nil {
		return item
	}
	if known, err := p.store.HasNews(rec.Link); err != nil || known {
		return item
	}
	path, err := p.images.Save(ctx, channel, rec.Media)
	if err != nil {
		log.Warnf("saving image %s: %v", rec.Media, err)
		return item
	}
	item.MediaPath = path
	return item
}

// channelFor finds the channel owning url, first by feed URL and then by
// the base URL of its origin.
func (p *Pipeline) channelFor(url string) (*storage.Channel, error) {
	channels, err := p.store.GetAllChannels()
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if ch.FeedURL == url {
			return ch, nil
		}
	}

	origin, err := session.Origin(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownURL, err)
	}
	ch, err := p.store.GetChannelByBaseURL(origin)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownURL, url)
	}
	return ch, err
}
