package storage

import (
	"time"
)

// Channel is a news source configured for the run.
type Channel struct {
	Name         string `json:"name" toml:"name"`
	BaseURL      string `json:"base_url" toml:"base_url"`
	FeedURL      string `json:"rss_url" toml:"rss_url"`
	Language     string `json:"language" toml:"language"`
	NumberOfNews int    `json:"number_of_news" toml:"-"`
}

// RawRecord is one feed entry as scraped. Every field may be empty.
type RawRecord struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	PublishDate string `json:"publish_date"`
	Description string `json:"description"`
	Media       string `json:"media"`
}

// News is an accepted record as stored.
type News struct {
	Link        string    `json:"link"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishDate time.Time `json:"publish_date"`
	SavedAt     time.Time `json:"saved_date"`
	Channel     string    `json:"channel"`
	MediaURL    string    `json:"base_image_link"`
	MediaPath   string    `json:"base_image_path"`
}
