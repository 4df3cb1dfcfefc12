package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/youssefhk-sw/scrape-news/internal/storage"
	"github.com/youssefhk-sw/scrape-news/internal/validation"
)

// channelsFile is the on-disk shape of the channel registry:
//
//	[[channel]]
//	name = "example"
//	base_url = "https://www.example.com/"
//	rss_url = "https://www.example.com/feed"
//	language = "english"
type channelsFile struct {
	Channels []storage.Channel `toml:"channel"`
}

// LoadChannels reads and validates the channel registry at path.
func LoadChannels(path string, v *validation.ChannelURLValidator) ([]storage.Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading channels: %w", err)
	}

	var file channelsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing channels: %w", err)
	}

	seen := make(map[string]bool, len(file.Channels))
	channels := make([]storage.Channel, 0, len(file.Channels))
	var errs []error
	for i, ch := range file.Channels {
		if err := validation.ValidateChannelName(ch.Name); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i+1, err))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Errorf("channel %q: duplicate name", ch.Name))
			continue
		}
		seen[ch.Name] = true

		base, err := v.ValidateBaseURL(ch.BaseURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %q base_url: %w", ch.Name, err))
			continue
		}
		feedURL, err := v.ValidateFeedURL(ch.FeedURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %q rss_url: %w", ch.Name, err))
			continue
		}
		ch.BaseURL = base
		ch.FeedURL = feedURL
		channels = append(channels, ch)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return channels, nil
}

func SaveChannels(path string, channels []storage.Channel) error {
	data, err := toml.Marshal(channelsFile{Channels: channels})
	if err != nil {
		return fmt.Errorf("encoding channels: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating channels directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// GenerateDefaultChannels writes a registry with one sample channel.
func GenerateDefaultChannels(path string) error {
	return SaveChannels(path, []storage.Channel{{
		Name:     "example",
		BaseURL:  "https://www.example.com/",
		FeedURL:  "http://www.example.com/feed",
		Language: "english",
	}})
}
