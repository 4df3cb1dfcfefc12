package pipeline

import (
	"net/http"
	"time"
)

// ChannelReport summarizes what happened to one channel during a run.
type ChannelReport struct {
	Channel string
	WorkOn  string
	// StatusCode is the status of the first fetch, 0 on transport errors.
	StatusCode int
	// Recovered is set when the first fetch failed and a strategy got content.
	Recovered   bool
	Entries     int
	Saved       int
	Duplicates  int
	Quarantined int
	Err         error
}

// OK reports whether the channel produced entries for the cleaner.
func (c ChannelReport) OK() bool {
	return c.Err == nil && (c.StatusCode == http.StatusOK || c.Recovered)
}

type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Channels   []ChannelReport
}

func (r *Report) Saved() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Saved
	}
	return n
}

func (r *Report) Quarantined() int {
	n := 0
	for _, c := range r.Channels {
		n += c.Quarantined
	}
	return n
}

// Failed lists the channels that ended without content.
func (r *Report) Failed() []ChannelReport {
	var out []ChannelReport
	for _, c := range r.Channels {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}
