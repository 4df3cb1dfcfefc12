package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ImageStore downloads article images into one directory per channel,
// numbering them image_1.png, image_2.png, ...
type ImageStore struct {
	dir    string
	client *http.Client
	mu     sync.Mutex
	next   map[string]int
}

func NewImageStore(dir string, timeout time.Duration) *ImageStore {
	return &ImageStore{
		dir:    dir,
		client: &http.Client{Timeout: timeout},
		next:   make(map[string]int),
	}
}

// Save fetches mediaURL and writes it under the channel directory,
// returning the absolute path of the written file.
func (s *ImageStore) Save(ctx context.Context, channel, mediaURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching image: HTTP %d", resp.StatusCode)
	}

	path, err := s.reserve(channel)
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing image: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return filepath.ToSlash(abs), nil
}

// reserve picks the next free file name for channel.
func (s *ImageStore) reserve(channel string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, channel)
	n, seen := s.next[channel]
	if !seen {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating image directory: %w", err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("reading image directory: %w", err)
		}
		n = len(entries)
	}
	n++
	s.next[channel] = n
	return filepath.Join(dir, fmt.Sprintf("image_%d.png", n)), nil
}
