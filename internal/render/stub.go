package render

import (
	"context"
	"sync"

	"github.com/youssefhk-sw/scrape-news/internal/identity"
)

// StubRenderer serves canned pages keyed by URL. Unknown URLs return Err,
// or ErrEmptyPage when Err is nil. It records every call.
type StubRenderer struct {
	Pages map[string]*Page
	Err   error

	mu    sync.Mutex
	calls []StubCall
}

type StubCall struct {
	URL      string
	Identity identity.Identity
}

func (s *StubRenderer) Render(ctx context.Context, url string, id identity.Identity) (*Page, error) {
	s.mu.Lock()
	s.calls = append(s.calls, StubCall{URL: url, Identity: id})
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p, ok := s.Pages[url]; ok {
		cp := *p
		cp.Cookies = append([]Cookie(nil), p.Cookies...)
		return &cp, nil
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return nil, ErrEmptyPage
}

func (s *StubRenderer) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubCall(nil), s.calls...)
}
