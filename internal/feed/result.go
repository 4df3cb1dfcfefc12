package feed

import (
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/identity"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

type Kind int

const (
	KindSuccess Kind = iota + 1
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// TransportError is the status code recorded when no HTTP response arrived.
const TransportError = 0

type Success struct {
	WorkOn     string
	ChannelURL string
	FetchedAt  time.Time
	Entries    []storage.RawRecord
}

type Failure struct {
	WorkOn     string
	ChannelURL string
	FetchedAt  time.Time
	StatusCode int
	Identity   identity.Identity
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	Reason     string
}

// FetchResult holds exactly one of Success or Failure, selected by Kind.
// Build it with Succeeded or Failed.
type FetchResult struct {
	Kind    Kind
	Success *Success
	Failure *Failure
}

func Succeeded(s Success) FetchResult {
	return FetchResult{Kind: KindSuccess, Success: &s}
}

func Failed(f Failure) FetchResult {
	return FetchResult{Kind: KindFailure, Failure: &f}
}

func (r FetchResult) OK() bool {
	return r.Kind == KindSuccess
}

func (r FetchResult) WorkOn() string {
	if r.OK() {
		return r.Success.WorkOn
	}
	return r.Failure.WorkOn
}

func (r FetchResult) ChannelURL() string {
	if r.OK() {
		return r.Success.ChannelURL
	}
	return r.Failure.ChannelURL
}
