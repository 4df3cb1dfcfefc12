package resilience

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
)

func TestFailureLog_RecordAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_handled_urls.csv")
	base := time.Date(2026, 3, 1, 12, 0, 0, 250_000_000, time.UTC)

	store, err := buffer.OpenCSV(path, FailureColumns)
	require.NoError(t, err)
	log, err := NewFailureLog(store)
	require.NoError(t, err)

	require.NoError(t, log.Record(PermanentFailure{URL: "https://a.test/feed", StatusCode: 404, FailedAt: base, RetryAt: base.Add(time.Minute)}))
	require.NoError(t, log.Record(PermanentFailure{URL: "https://b.test/feed", StatusCode: 502, FailedAt: base, RetryAt: base.Add(time.Hour)}))
	require.NoError(t, log.Record(PermanentFailure{URL: "https://a.test/feed", StatusCode: 403, FailedAt: base, RetryAt: base.Add(2 * time.Minute)}))
	assert.Equal(t, 2, log.Len(), "one row per URL")
	require.NoError(t, store.Close())

	reopened, err := buffer.OpenCSV(path, FailureColumns)
	require.NoError(t, err)
	log, err = NewFailureLog(reopened)
	require.NoError(t, err)

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "https://b.test/feed", entries[0].URL)
	assert.Equal(t, "https://a.test/feed", entries[1].URL)
	assert.Equal(t, 403, entries[1].StatusCode)
	assert.True(t, entries[1].FailedAt.Equal(base))

	due := log.Due(base.Add(10 * time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, "https://a.test/feed", due[0].URL)

	n, err := log.Remove("https://a.test/feed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, log.Due(base.Add(10*time.Minute)))
}

func TestFailureLog_SkipsMalformedRows(t *testing.T) {
	store, err := buffer.OpenCSV(filepath.Join(t.TempDir(), "f.csv"), FailureColumns)
	require.NoError(t, err)
	require.NoError(t, store.Append(buffer.Row{colURL: "x", colStatus: "abc", colFailed: "1", colResend: "2"}))

	log, err := NewFailureLog(store)
	require.NoError(t, err)
	assert.Empty(t, log.Entries())
}

func TestNewFailureLog_WrongColumns(t *testing.T) {
	store, err := buffer.OpenCSV(filepath.Join(t.TempDir(), "f.csv"), []string{"URL", "Status code"})
	require.NoError(t, err)

	_, err = NewFailureLog(store)
	assert.ErrorIs(t, err, buffer.ErrColumns)
}
