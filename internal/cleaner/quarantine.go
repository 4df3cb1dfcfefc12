package cleaner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/buffer"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
)

// QuarantineEntry is a rejected record kept for later cleaning.
type QuarantineEntry struct {
	Record        storage.RawRecord `json:"garbage_news"`
	Hash          string            `json:"hash"`
	Channel       string            `json:"channel"`
	QuarantinedAt time.Time         `json:"cleaned_at"`
}

// ContentHash is the hex SHA-256 of the record's JSON form. Field order is
// fixed by the struct, so equal records hash equally.
func ContentHash(rec storage.RawRecord) string {
	data, _ := json.Marshal(rec)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Quarantine appends rejected records to a durable store, at most once per
// content hash.
type Quarantine struct {
	store *buffer.JSONStore[QuarantineEntry]

	mu   sync.Mutex
	seen map[string]bool
}

func NewQuarantine(store *buffer.JSONStore[QuarantineEntry]) *Quarantine {
	q := &Quarantine{
		store: store,
		seen:  make(map[string]bool),
	}
	for _, e := range store.Snapshot() {
		q.seen[e.Hash] = true
	}
	return q
}

// Submit stores rec unless an entry with the same hash exists. added is false
// for duplicates.
func (q *Quarantine) Submit(channel string, rec storage.RawRecord, at time.Time) (added bool, err error) {
	hash := ContentHash(rec)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seen[hash] {
		return false, nil
	}
	if err := q.store.Append(QuarantineEntry{
		Record:        rec,
		Hash:          hash,
		Channel:       channel,
		QuarantinedAt: at.UTC(),
	}); err != nil {
		return false, err
	}
	q.seen[hash] = true
	return true, nil
}

func (q *Quarantine) Entries() []QuarantineEntry {
	return q.store.Snapshot()
}

func (q *Quarantine) Len() int {
	return q.store.Len()
}
