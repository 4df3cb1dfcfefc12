package resilience

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
)

const (
	colURL    = "URL"
	colStatus = "Status code"
	colFailed = "Time of fail"
	colResend = "Time of resent"
)

// FailureColumns is the header of the not-handled URLs file.
var FailureColumns = []string{colURL, colStatus, colFailed, colResend}

// PermanentFailure is a URL that no strategy recovered, kept for a later
// resend.
type PermanentFailure struct {
	URL        string
	StatusCode int
	FailedAt   time.Time
	RetryAt    time.Time
}

// FailureLog persists permanent failures as CSV rows with unix timestamps.
// It holds at most one row per URL.
type FailureLog struct {
	store *buffer.CSVStore
}

func NewFailureLog(store *buffer.CSVStore) (*FailureLog, error) {
	cols := store.Columns()
	if len(cols) != len(FailureColumns) {
		return nil, fmt.Errorf("%w: failure log needs %v", buffer.ErrColumns, FailureColumns)
	}
	for i := range cols {
		if cols[i] != FailureColumns[i] {
			return nil, fmt.Errorf("%w: failure log needs %v", buffer.ErrColumns, FailureColumns)
		}
	}
	return &FailureLog{store: store}, nil
}

// Record stores f, replacing any earlier row for the same URL.
func (l *FailureLog) Record(f PermanentFailure) error {
	if _, err := l.Remove(f.URL); err != nil {
		return err
	}
	return l.store.Append(buffer.Row{
		colURL:    f.URL,
		colStatus: strconv.Itoa(f.StatusCode),
		colFailed: formatUnix(f.FailedAt),
		colResend: formatUnix(f.RetryAt),
	})
}

func (l *FailureLog) Entries() []PermanentFailure {
	rows := l.store.Snapshot()
	out := make([]PermanentFailure, 0, len(rows))
	for _, row := range rows {
		f, err := parseRow(row)
		if err != nil {
			debuglog.Warnf("failure log: skipping row for %q: %v", row[colURL], err)
			continue
		}
		out = append(out, f)
	}
	return out
}

// Due returns the failures whose resend time is not after now.
func (l *FailureLog) Due(now time.Time) []PermanentFailure {
	var due []PermanentFailure
	for _, f := range l.Entries() {
		if !f.RetryAt.After(now) {
			due = append(due, f)
		}
	}
	return due
}

func (l *FailureLog) Remove(url string) (int, error) {
	return l.store.Remove(func(r buffer.Row) bool { return r[colURL] == url })
}

func (l *FailureLog) Len() int {
	return l.store.Len()
}

func parseRow(row buffer.Row) (PermanentFailure, error) {
	status, err := strconv.Atoi(row[colStatus])
	if err != nil {
		return PermanentFailure{}, fmt.Errorf("status code: %w", err)
	}
	failed, err := parseUnix(row[colFailed])
	if err != nil {
		return PermanentFailure{}, fmt.Errorf("time of fail: %w", err)
	}
	resend, err := parseUnix(row[colResend])
	if err != nil {
		return PermanentFailure{}, fmt.Errorf("time of resent: %w", err)
	}
	return PermanentFailure{
		URL:        row[colURL],
		StatusCode: status,
		FailedAt:   failed,
		RetryAt:    resend,
	}, nil
}

func formatUnix(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func parseUnix(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), nil
}
