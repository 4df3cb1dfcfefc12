package config

import (
	"path/filepath"
	"time"
)

// TestConfig returns a config suitable for testing, rooted at dir
func TestConfig(dir string) *Config {
	cfg := defaultConfig()
	cfg.Database.Path = filepath.Join(dir, "test.db")
	cfg.Feed.HTTPTimeout = 5 * time.Second
	cfg.Feed.RunTimeout = 30 * time.Second
	cfg.Feed.RequestsPerSecond = 0 // unlimited
	cfg.Retry.Delay = 1 * time.Millisecond
	cfg.Render.Timeout = 5 * time.Second
	cfg.Buffers.Dir = filepath.Join(dir, "files")
	cfg.Buffers.EnvFile = ""
	cfg.Images.Dir = filepath.Join(dir, "images")
	cfg.Log.Level = "off"
	cfg.Log.File = ""
	cfg.Identity.UserAgents = []string{"scrape-news-test/1.0", "scrape-news-test/2.0"}
	return cfg
}
