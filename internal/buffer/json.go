package buffer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
)

// ErrClosed is returned when writing to a store that has already been closed.
var ErrClosed = errors.New("buffer is closed")

// JSONStore keeps an ordered list of items in memory and persists it as a
// JSON array when closed.
type JSONStore[T any] struct {
	path   string
	mu     sync.Mutex
	items  []T
	closed bool
}

// OpenJSON loads the array stored at path. A missing or empty file starts an
// empty buffer. An undecodable file is moved aside to path.corrupt first so
// Close cannot overwrite its contents.
func OpenJSON[T any](path string) (*JSONStore[T], error) {
	s := &JSONStore[T]{path: path, items: []T{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := ensureFile(path); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading buffer %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		aside := path + ".corrupt"
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("moving unreadable buffer %s aside: %w", path, rerr)
		}
		debuglog.Warnf("buffer %s is unreadable (%v), moved to %s; starting empty", path, err, aside)
		if err := ensureFile(path); err != nil {
			return nil, err
		}
		return s, nil
	}
	if items != nil {
		s.items = items
	}
	return s, nil
}

func (s *JSONStore[T]) Path() string {
	return s.path
}

func (s *JSONStore[T]) Append(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("append to %s: %w", s.path, ErrClosed)
	}
	s.items = append(s.items, item)
	return nil
}

// Snapshot returns a copy of the current items in insertion order.
func (s *JSONStore[T]) Snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Find returns the first item matching pred.
func (s *JSONStore[T]) Find(pred func(T) bool) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Remove deletes every item matching pred and reports how many were removed.
func (s *JSONStore[T]) Remove(pred func(T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("remove from %s: %w", s.path, ErrClosed)
	}

	kept := s.items[:0]
	removed := 0
	for _, item := range s.items {
		if pred(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return removed, nil
}

// Update runs fn with exclusive access to the items and stores the slice it
// returns. It lets callers check-then-write without racing other writers.
func (s *JSONStore[T]) Update(fn func(items []T) ([]T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("update %s: %w", s.path, ErrClosed)
	}
	items, err := fn(s.items)
	if err != nil {
		return err
	}
	s.items = items
	return nil
}

func (s *JSONStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *JSONStore[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close writes the buffer to disk and marks it closed. Closing an already
// closed store does nothing.
func (s *JSONStore[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding buffer %s: %w", s.path, err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.closed = true
	return nil
}
