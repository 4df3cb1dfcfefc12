package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/identity"
)

// ErrEmptyPage is returned when navigation succeeded but no body was found.
var ErrEmptyPage = errors.New("rendered page has no body")

// Cookie is one cookie from the browser jar. A zero Expires marks a
// session cookie.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}

// Page is the outcome of one headless render.
type Page struct {
	HTML    string
	Cookies []Cookie
}

// Renderer loads a URL in a real browser and returns the final DOM and the
// cookie jar for that URL.
type Renderer interface {
	Render(ctx context.Context, url string, id identity.Identity) (*Page, error)
}

type Options struct {
	Timeout    time.Duration
	BrowserBin string
	Headless   bool
	NoSandbox  bool
	Stealth    bool
}

// RodRenderer launches a fresh Chromium per call so that every render gets
// the proxy of its identity and an empty cookie jar.
type RodRenderer struct {
	opts Options
}

func NewRodRenderer(opts Options) *RodRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &RodRenderer{opts: opts}
}

func (r *RodRenderer) Render(ctx context.Context, target string, id identity.Identity) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	l := launcher.New().
		Context(ctx).
		Headless(r.opts.Headless).
		NoSandbox(r.opts.NoSandbox)
	if r.opts.BrowserBin != "" {
		l = l.Bin(r.opts.BrowserBin)
	}
	if id.Proxy != nil {
		l = l.Proxy(id.Proxy.Address())
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	defer l.Cleanup()
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	defer browser.Close()

	if id.Proxy != nil && id.Proxy.Username != "" {
		wait := browser.HandleAuth(id.Proxy.Username, id.Proxy.Password)
		go func() {
			if err := wait(); err != nil {
				debuglog.Debugf("render: proxy auth handler for %s: %v", target, err)
			}
		}()
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	defer page.Close()

	if r.opts.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			debuglog.Warnf("render: stealth injection failed for %s: %v", target, err)
		}
	}

	if id.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: id.UserAgent}); err != nil {
			return nil, fmt.Errorf("setting user agent: %w", err)
		}
	}
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: referer(target)}.Call(page)

	p := page.Context(ctx)
	if err := p.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", target, err)
	}
	if err := p.WaitLoad(); err != nil {
		debuglog.Debugf("render: load event for %s: %v", target, err)
	}

	body, err := p.Element("body")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyPage, err)
	}
	_ = body.WaitVisible()

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("reading page html: %w", err)
	}

	jar, err := p.Cookies([]string{target})
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	return &Page{HTML: html, Cookies: fromNetwork(jar)}, nil
}

func fromNetwork(jar []*proto.NetworkCookie) []Cookie {
	cookies := make([]Cookie, 0, len(jar))
	for _, c := range jar {
		ck := Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}
		if !c.Session && c.Expires > 0 {
			ck.Expires = c.Expires.Time()
		}
		cookies = append(cookies, ck)
	}
	return cookies
}

func referer(target string) proto.NetworkHeaders {
	h := proto.NetworkHeaders{}
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		h["Referer"] = gson.New("https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()))
	}
	return h
}
