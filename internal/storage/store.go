package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	channelsBucket = []byte("channels")
	newsBucket     = []byte("news")
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *bolt.DB
}

func NewStore(dbPath string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{channelsBucket, newsBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddChannel stores ch unless a channel with the same name exists.
// It reports whether the channel was added.
func (s *Store) AddChannel(ch Channel) (bool, error) {
	added := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(channelsBucket)
		if b.Get([]byte(ch.Name)) != nil {
			return nil
		}
		data, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		added = true
		return b.Put([]byte(ch.Name), data)
	})
	return added, err
}

func (s *Store) GetChannel(name string) (*Channel, error) {
	var ch Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(channelsBucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("channel %q: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &ch)
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChannelByBaseURL finds the channel whose base URL matches base,
// ignoring a trailing slash.
func (s *Store) GetChannelByBaseURL(base string) (*Channel, error) {
	want := strings.TrimSuffix(base, "/")
	var found *Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(_ []byte, v []byte) error {
			if found != nil {
				return nil
			}
			var ch Channel
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}
			if strings.TrimSuffix(ch.BaseURL, "/") == want {
				found = &ch
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("channel with base url %q: %w", base, ErrNotFound)
	}
	return found, nil
}

func (s *Store) GetAllChannels() ([]*Channel, error) {
	var channels []*Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(_ []byte, v []byte) error {
			var ch Channel
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}
			channels = append(channels, &ch)
			return nil
		})
	})
	return channels, err
}

func (s *Store) IncrementNewsCount(name string, n int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(channelsBucket)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("channel %q: %w", name, ErrNotFound)
		}

		var ch Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return err
		}
		ch.NumberOfNews += n

		data, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

// SaveNews stores every item whose link is not already present. Duplicate
// links are skipped and returned; they do not abort the batch.
func (s *Store) SaveNews(channel string, items []*News) (saved int, duplicates []string, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(channelsBucket).Get([]byte(channel)) == nil {
			return fmt.Errorf("channel %q: %w", channel, ErrNotFound)
		}

		b := tx.Bucket(newsBucket)
		for _, item := range items {
			if item.Link == "" || b.Get([]byte(item.Link)) != nil {
				duplicates = append(duplicates, item.Link)
				continue
			}
			item.Channel = channel
			if item.SavedAt.IsZero() {
				item.SavedAt = time.Now()
			}
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(item.Link), data); err != nil {
				return err
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return saved, duplicates, nil
}

// HasNews reports whether a news item with link is stored.
func (s *Store) HasNews(link string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(newsBucket).Get([]byte(link)) != nil
		return nil
	})
	return found, err
}

func (s *Store) GetNews(channel string, limit int) ([]*News, error) {
	var items []*News
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(newsBucket).ForEach(func(_ []byte, v []byte) error {
			var item News
			if err := json.Unmarshal(v, &item); err != nil {
				return nil
			}
			if channel == "" || item.Channel == channel {
				items = append(items, &item)
			}
			return nil
		})
	})
	// Newest first
	sort.Slice(items, func(i, j int) bool {
		return items[i].PublishDate.After(items[j].PublishDate)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, err
}
