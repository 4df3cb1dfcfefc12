package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
	"github.com/youssefhk-sw/scrape-news/internal/config"
	"github.com/youssefhk-sw/scrape-news/internal/identity"
	"github.com/youssefhk-sw/scrape-news/internal/render"
	"github.com/youssefhk-sw/scrape-news/internal/session"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

const pubDate = "Wed, 01 Jan 2025 12:00:00 GMT"

// site serves every feed, article and image the tests need.
type site struct {
	*httptest.Server
	goneFixed  atomic.Bool
	flakyCalls atomic.Int32
	imageHits  atomic.Int32
}

func item(title, link, media string) string {
	out := fmt.Sprintf(`<item><title>%s</title><link>%s</link><pubDate>%s</pubDate><description>About %s</description>`, title, link, pubDate, title)
	if media != "" {
		out += fmt.Sprintf(`<media:thumbnail url="%s"/>`, media)
	}
	return out + `</item>`
}

func rss(items ...string) string {
	return `<?xml version="1.0"?><rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/"><channel><title>t</title>` +
		strings.Join(items, "") + `</channel></rss>`
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{}
	mux := http.NewServeMux()

	mux.HandleFunc("/good/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rss(
			item("Alpha", s.URL+"/good/a", s.URL+"/img/a.png"),
			item("Beta", s.URL+"/good/b", ""),
		)))
	})
	mux.HandleFunc("/good/b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Beta</p><img src="/img/b.png"></body></html>`))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		s.imageHits.Add(1)
		w.Write([]byte("\x89PNG\r\n"))
	})
	mux.HandleFunc("/gone/feed", func(w http.ResponseWriter, r *http.Request) {
		if !s.goneFixed.Load() {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(rss(item("Back", s.URL+"/gone/back", s.URL+"/img/back.png"))))
	})
	mux.HandleFunc("/walled/feed", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Cookie"), "sid=abc") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(rss(item("Inside", s.URL+"/walled/inside", s.URL+"/img/inside.png"))))
	})
	mux.HandleFunc("/flaky/feed", func(w http.ResponseWriter, r *http.Request) {
		if s.flakyCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(rss(item("Steady", s.URL+"/flaky/steady", s.URL+"/img/steady.png"))))
	})
	mux.HandleFunc("/dirty/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rss(
			item("", s.URL+"/dirty/untitled", ""),
			item("Fine", s.URL+"/dirty/fine", s.URL+"/img/fine.png"),
		)))
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *site) channel(name string) storage.Channel {
	return storage.Channel{
		Name:     name,
		BaseURL:  s.URL + "/",
		FeedURL:  s.URL + "/" + name + "/feed",
		Language: "english",
	}
}

func newTestPipeline(t *testing.T, renderer render.Renderer) (*Pipeline, *storage.Store, *config.Config) {
	t.Helper()
	cfg := config.TestConfig(t.TempDir())

	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if renderer == nil {
		renderer = &render.StubRenderer{}
	}
	p, err := New(cfg, store, renderer)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return p, store, cfg
}

func TestRun_StoresCleanEntriesAndRecordsFailures(t *testing.T) {
	s := newSite(t)
	p, store, _ := newTestPipeline(t, nil)

	report, err := p.Run(context.Background(), []storage.Channel{s.channel("good"), s.channel("gone")})
	require.NoError(t, err)
	require.Len(t, report.Channels, 2)
	assert.NotEmpty(t, report.RunID)

	good := report.Channels[0]
	require.NoError(t, good.Err)
	assert.True(t, good.OK())
	assert.Equal(t, http.StatusOK, good.StatusCode)
	assert.Equal(t, 2, good.Entries)
	assert.Equal(t, 2, good.Saved)

	gone := report.Channels[1]
	assert.ErrorIs(t, gone.Err, ErrNotRecovered)
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
	assert.False(t, gone.OK())
	assert.Len(t, report.Failed(), 1)
	assert.Equal(t, 2, report.Saved())

	news, err := store.GetNews("good", 0)
	require.NoError(t, err)
	require.Len(t, news, 2)
	for _, n := range news {
		assert.True(t, n.PublishDate.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
		assert.NotEmpty(t, n.MediaPath)
		_, err := os.Stat(n.MediaPath)
		assert.NoError(t, err, "image written for %s", n.Link)
		if n.Link == s.URL+"/good/b" {
			assert.Equal(t, s.URL+"/img/b.png", n.MediaURL, "media resolved from the article page")
		}
	}

	ch, err := store.GetChannel("good")
	require.NoError(t, err)
	assert.Equal(t, 2, ch.NumberOfNews)

	failures := p.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, s.URL+"/gone/feed", failures[0].URL)
	assert.Equal(t, http.StatusNotFound, failures[0].StatusCode)
	assert.True(t, failures[0].RetryAt.After(time.Now()))
}

func TestRun_QuarantinesDirtyRecords(t *testing.T) {
	s := newSite(t)
	p, _, _ := newTestPipeline(t, nil)

	report, err := p.Run(context.Background(), []storage.Channel{s.channel("dirty")})
	require.NoError(t, err)

	rep := report.Channels[0]
	require.NoError(t, rep.Err)
	assert.Equal(t, 1, rep.Saved)
	assert.Equal(t, 1, rep.Quarantined)

	quarantined := p.Quarantined()
	require.Len(t, quarantined, 1)
	assert.Equal(t, "", quarantined[0].Record.Title)
	assert.Equal(t, s.URL+"/dirty/untitled", quarantined[0].Record.Link)
	assert.Equal(t, "dirty", quarantined[0].Channel)
}

func TestRun_SecondRunSkipsStoredNews(t *testing.T) {
	s := newSite(t)
	p, store, _ := newTestPipeline(t, nil)
	channels := []storage.Channel{s.channel("good")}

	_, err := p.Run(context.Background(), channels)
	require.NoError(t, err)
	hits := s.imageHits.Load()

	report, err := p.Run(context.Background(), channels)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Channels[0].Saved)
	assert.Equal(t, 2, report.Channels[0].Duplicates)
	assert.Equal(t, hits, s.imageHits.Load(), "images are not downloaded again")

	ch, err := store.GetChannel("good")
	require.NoError(t, err)
	assert.Equal(t, 2, ch.NumberOfNews)
}

func TestRun_RecoversForbiddenFeedWithSession(t *testing.T) {
	s := newSite(t)
	walled := s.channel("walled")
	renderer := &render.StubRenderer{Pages: map[string]*render.Page{
		walled.FeedURL: {
			HTML:    "<html><body>checking your browser</body></html>",
			Cookies: []render.Cookie{{Name: "sid", Value: "abc"}},
		},
	}}
	p, _, cfg := newTestPipeline(t, renderer)

	report, err := p.Run(context.Background(), []storage.Channel{walled})
	require.NoError(t, err)

	rep := report.Channels[0]
	require.NoError(t, rep.Err)
	assert.Equal(t, http.StatusForbidden, rep.StatusCode)
	assert.True(t, rep.Recovered)
	assert.Equal(t, 1, rep.Saved)
	assert.Len(t, renderer.Calls(), 1)
	assert.Empty(t, p.Failures())

	require.NoError(t, p.Close())
	cookies, err := buffer.OpenJSON[session.Entry](cfg.BufferPath(cfg.Buffers.Cookies))
	require.NoError(t, err)
	entries := cookies.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].Cookies["sid"])
}

func TestRun_RetriesServerErrors(t *testing.T) {
	s := newSite(t)
	p, _, _ := newTestPipeline(t, nil)

	report, err := p.Run(context.Background(), []storage.Channel{s.channel("flaky")})
	require.NoError(t, err)

	rep := report.Channels[0]
	require.NoError(t, rep.Err)
	assert.Equal(t, http.StatusServiceUnavailable, rep.StatusCode)
	assert.True(t, rep.Recovered)
	assert.Equal(t, 1, rep.Saved)
	assert.Equal(t, int32(2), s.flakyCalls.Load())
}

func TestRecoverURL_ClearsFailureOnceFixed(t *testing.T) {
	s := newSite(t)
	p, _, _ := newTestPipeline(t, nil)
	gone := s.channel("gone")

	_, err := p.Run(context.Background(), []storage.Channel{gone})
	require.NoError(t, err)
	require.Len(t, p.Failures(), 1)

	s.goneFixed.Store(true)
	rep, err := p.RecoverURL(context.Background(), gone.FeedURL)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, "gone", rep.Channel)
	assert.Equal(t, 1, rep.Saved)
	assert.Empty(t, p.Failures())
}

func TestRecoverURL_UnknownURL(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)

	_, err := p.RecoverURL(context.Background(), "https://unregistered.test/feed")
	assert.ErrorIs(t, err, ErrUnknownURL)
}

func TestRetryDue(t *testing.T) {
	s := newSite(t)
	p, _, _ := newTestPipeline(t, nil)

	_, err := p.Run(context.Background(), []storage.Channel{s.channel("gone")})
	require.NoError(t, err)
	s.goneFixed.Store(true)

	reports, err := p.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports, "resend time not reached yet")
	assert.Len(t, p.Failures(), 1)

	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	reports, err = p.RetryDue(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].OK())
	assert.Empty(t, p.Failures())
}

func TestNew_RejectsSingleUserAgent(t *testing.T) {
	cfg := config.TestConfig(t.TempDir())
	cfg.Identity.UserAgents = []string{"only-one/1.0"}

	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	require.NoError(t, err)
	defer store.Close()

	_, err = New(cfg, store, &render.StubRenderer{})
	assert.ErrorIs(t, err, identity.ErrPoolTooSmall)
}

func TestNew_FlushesBuffersOnClose(t *testing.T) {
	p, _, cfg := newTestPipeline(t, nil)
	require.NoError(t, p.Close())

	for _, name := range []string{cfg.Buffers.Cookies, cfg.Buffers.NotCleaned, cfg.Buffers.UserAgents, cfg.Buffers.NotHandled} {
		_, err := os.Stat(filepath.Join(cfg.Buffers.Dir, name))
		assert.NoError(t, err, name)
	}

	agents, err := buffer.OpenJSON[string](cfg.BufferPath(cfg.Buffers.UserAgents))
	require.NoError(t, err)
	assert.Equal(t, cfg.Identity.UserAgents, agents.Snapshot())
}
