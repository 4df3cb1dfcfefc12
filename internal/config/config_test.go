package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/youssefhk-sw/scrape-news/internal/storage"
	"github.com/youssefhk-sw/scrape-news/internal/validation"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Timeout != 1*time.Second {
		t.Errorf("Database.Timeout = %v, want 1s", cfg.Database.Timeout)
	}

	if cfg.Retry.Requests != 5 {
		t.Errorf("Retry.Requests = %d, want 5", cfg.Retry.Requests)
	}
	if cfg.Retry.Delay != 3*time.Second {
		t.Errorf("Retry.Delay = %v, want 3s", cfg.Retry.Delay)
	}
	if cfg.Retry.RetryAfter != 500*time.Second {
		t.Errorf("Retry.RetryAfter = %v, want 500s", cfg.Retry.RetryAfter)
	}

	if cfg.Session.AcquireRetries != 3 {
		t.Errorf("Session.AcquireRetries = %d, want 3", cfg.Session.AcquireRetries)
	}

	if cfg.Buffers.NotHandled != "not_handled_urls.csv" {
		t.Errorf("Buffers.NotHandled = %s, want not_handled_urls.csv", cfg.Buffers.NotHandled)
	}
	if len(cfg.Identity.UserAgents) < 2 {
		t.Errorf("Identity.UserAgents has %d entries, want at least 2", len(cfg.Identity.UserAgents))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_DefaultConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Feed.HTTPTimeout != 60*time.Second {
		t.Errorf("Feed.HTTPTimeout = %v, want 60s", cfg.Feed.HTTPTimeout)
	}
	if !filepath.IsAbs(cfg.Buffers.Dir) {
		t.Errorf("Buffers.Dir = %s, want absolute path", cfg.Buffers.Dir)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "test-config.toml")
	configContent := `
[database]
path = "/tmp/test.db"
timeout = "10s"

[retry]
n_requests = 3

[buffers]
dir = "/tmp/buffers"
`

	if writeErr := os.WriteFile(configPath, []byte(configContent), 0o644); writeErr != nil {
		t.Fatal(writeErr)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %s, want '/tmp/test.db'", cfg.Database.Path)
	}
	if cfg.Database.Timeout != 10*time.Second {
		t.Errorf("Database.Timeout = %v, want 10s", cfg.Database.Timeout)
	}
	if cfg.Retry.Requests != 3 {
		t.Errorf("Retry.Requests = %d, want 3", cfg.Retry.Requests)
	}
	if cfg.Retry.Delay != 3*time.Second {
		t.Errorf("Retry.Delay = %v, want default 3s", cfg.Retry.Delay)
	}
	if cfg.Buffers.Dir != "/tmp/buffers" {
		t.Errorf("Buffers.Dir = %s, want /tmp/buffers", cfg.Buffers.Dir)
	}
	if cfg.Buffers.Cookies != "cookies.json" {
		t.Errorf("Buffers.Cookies = %s, want default cookies.json", cfg.Buffers.Cookies)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.toml")
	content := "[retry]\nn_requests = 0\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil || !strings.Contains(err.Error(), "n_requests") {
		t.Errorf("expected n_requests error, got %v", err)
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := defaultConfig()
	cfg.Database.Path = "/test/path.db"
	cfg.Retry.Delay = 7 * time.Second
	cfg.Buffers.NotCleaned = "garbage.json"
	cfg.Identity.UserAgents = []string{"ua-1", "ua-2"}

	savePath := filepath.Join(tmpDir, "saved-config.toml")
	if saveErr := Save(cfg, savePath); saveErr != nil {
		t.Fatalf("Save() error = %v", saveErr)
	}

	loaded, err := Load(savePath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Database.Path != cfg.Database.Path {
		t.Errorf("Loaded Database.Path = %s, want %s", loaded.Database.Path, cfg.Database.Path)
	}
	if loaded.Retry.Delay != cfg.Retry.Delay {
		t.Errorf("Loaded Retry.Delay = %v, want %v", loaded.Retry.Delay, cfg.Retry.Delay)
	}
	if loaded.Buffers.NotCleaned != "garbage.json" {
		t.Errorf("Loaded Buffers.NotCleaned = %s, want garbage.json", loaded.Buffers.NotCleaned)
	}
	if len(loaded.Identity.UserAgents) != 2 {
		t.Errorf("Loaded Identity.UserAgents = %v, want 2 entries", loaded.Identity.UserAgents)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "generated.toml")
	if genErr := GenerateDefaultConfig(configPath); genErr != nil {
		t.Fatalf("GenerateDefaultConfig() error = %v", genErr)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}
	if cfg.Retry.Requests != 5 {
		t.Errorf("Generated config has Retry.Requests = %d, want 5", cfg.Retry.Requests)
	}
}

func TestTestConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := TestConfig(dir)

	if !strings.HasPrefix(cfg.Buffers.Dir, dir) {
		t.Errorf("TestConfig Buffers.Dir = %s, want under %s", cfg.Buffers.Dir, dir)
	}
	if cfg.Retry.Delay >= time.Second {
		t.Errorf("TestConfig Retry.Delay = %v, want a short delay", cfg.Retry.Delay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("TestConfig should validate: %v", err)
	}
}

func TestBufferPath(t *testing.T) {
	cfg := TestConfig("/data")
	if got := cfg.BufferPath("cookies.json"); got != filepath.Join("/data", "files", "cookies.json") {
		t.Errorf("BufferPath() = %s", got)
	}
	if got := cfg.BufferPath("/abs/cookies.json"); got != "/abs/cookies.json" {
		t.Errorf("BufferPath() with absolute name = %s", got)
	}
}

func TestLoadChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.toml")
	content := `
[[channel]]
name = "daily"
base_url = "https://www.daily.news"
rss_url = "https://www.daily.news/feed"
language = "english"

[[channel]]
name = "weekly"
base_url = "weekly.news/"
rss_url = "weekly.news/rss.xml"
language = "french"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	channels, err := LoadChannels(path, validation.NewChannelURLValidator())
	if err != nil {
		t.Fatalf("LoadChannels() error = %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
	if channels[0].BaseURL != "https://www.daily.news/" {
		t.Errorf("BaseURL = %s, want trailing slash", channels[0].BaseURL)
	}
	if channels[1].FeedURL != "https://weekly.news/rss.xml" {
		t.Errorf("FeedURL = %s, want https scheme added", channels[1].FeedURL)
	}
	if channels[1].Language != "french" {
		t.Errorf("Language = %s, want french", channels[1].Language)
	}
}

func TestLoadChannels_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.toml")
	content := `
[[channel]]
name = "local"
base_url = "http://localhost/"
rss_url = "http://localhost/feed"

[[channel]]
name = ""
base_url = "https://a.news/"
rss_url = "https://a.news/feed"

[[channel]]
name = "../escape"
base_url = "https://b.news/"
rss_url = "https://b.news/feed"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadChannels(path, validation.NewChannelURLValidator())
	if err == nil {
		t.Fatal("expected error for invalid channels")
	}
	for _, want := range []string{"localhost", "name is required", "invalid character"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestSaveChannels_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "channels.toml")
	want := []storage.Channel{{
		Name:     "daily",
		BaseURL:  "https://www.daily.news/",
		FeedURL:  "https://www.daily.news/feed",
		Language: "english",
	}}

	if err := SaveChannels(path, want); err != nil {
		t.Fatalf("SaveChannels() error = %v", err)
	}
	got, err := LoadChannels(path, validation.NewChannelURLValidator())
	if err != nil {
		t.Fatalf("LoadChannels() error = %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestGenerateDefaultChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.toml")
	if err := GenerateDefaultChannels(path); err != nil {
		t.Fatalf("GenerateDefaultChannels() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[[channel]]") {
		t.Errorf("expected [[channel]] table, got:\n%s", data)
	}
}
