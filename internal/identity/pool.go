package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
)

// ErrPoolTooSmall is returned when rotation cannot guarantee a different
// identity on retry.
var ErrPoolTooSmall = errors.New("identity pool needs at least two candidates")

// Proxy is one outbound proxy with optional credentials.
type Proxy struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// URL returns the proxy as an http:// URL suitable for http.Transport.
func (p Proxy) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Host}
	if p.Port != "" {
		u.Host = net.JoinHostPort(p.Host, p.Port)
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Address is host:port without credentials, the form browsers expect.
func (p Proxy) Address() string {
	if p.Port == "" {
		return p.Host
	}
	return net.JoinHostPort(p.Host, p.Port)
}

// Identity is the fingerprint presented for one outbound request.
type Identity struct {
	UserAgent string `json:"user_agent"`
	Proxy     *Proxy `json:"proxy,omitempty"`
}

func (id Identity) Headers() http.Header {
	h := make(http.Header)
	if id.UserAgent != "" {
		h.Set("User-Agent", id.UserAgent)
	}
	return h
}

func (id Identity) String() string {
	if id.Proxy == nil {
		return id.UserAgent
	}
	return fmt.Sprintf("%s via %s", id.UserAgent, id.Proxy.Host)
}

// Pool hands out identities. Next never repeats the previous user agent or
// proxy host.
type Pool struct {
	mu         sync.Mutex
	userAgents []string
	proxies    []Proxy
	useProxy   bool
	rnd        *rand.Rand
}

func NewPool(userAgents []string, proxies []Proxy, useProxy bool) (*Pool, error) {
	uas := uniqueNonEmpty(userAgents)
	if len(uas) < 2 {
		return nil, fmt.Errorf("%w: %d user agents", ErrPoolTooSmall, len(uas))
	}

	var hosts []Proxy
	if useProxy {
		seen := make(map[string]bool)
		for _, p := range proxies {
			if p.Host == "" || seen[p.Host] {
				continue
			}
			seen[p.Host] = true
			hosts = append(hosts, p)
		}
		if len(hosts) < 2 {
			return nil, fmt.Errorf("%w: %d proxy hosts", ErrPoolTooSmall, len(hosts))
		}
	}

	return &Pool{
		userAgents: uas,
		proxies:    hosts,
		useProxy:   useProxy,
		rnd:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// Next draws a random identity. When previous is non-nil the result differs
// from it in user agent and, when proxying, in proxy host.
func (p *Pool) Next(previous *Identity) Identity {
	p.mu.Lock()
	defer p.mu.Unlock()

	var id Identity

	uas := p.userAgents
	if previous != nil {
		uas = slices.DeleteFunc(slices.Clone(uas), func(ua string) bool { return ua == previous.UserAgent })
	}
	id.UserAgent = uas[p.rnd.IntN(len(uas))]

	if p.useProxy {
		candidates := p.proxies
		if previous != nil && previous.Proxy != nil {
			candidates = slices.DeleteFunc(slices.Clone(candidates), func(px Proxy) bool { return px.Host == previous.Proxy.Host })
		}
		px := candidates[p.rnd.IntN(len(candidates))]
		id.Proxy = &px
	}

	return id
}

func (p *Pool) UserAgents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.userAgents)
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
