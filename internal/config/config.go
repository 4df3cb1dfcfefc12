package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Session  SessionConfig  `mapstructure:"session"`
	Buffers  BuffersConfig  `mapstructure:"buffers"`
	Identity IdentityConfig `mapstructure:"identity"`
	Render   RenderConfig   `mapstructure:"render"`
	Images   ImagesConfig   `mapstructure:"images"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type FeedConfig struct {
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	MediaConcurrency  int           `mapstructure:"media_concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Accept            string        `mapstructure:"accept"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// RetryConfig drives the 5xx retry loop and the resend horizon written for
// permanently failed URLs.
type RetryConfig struct {
	Requests   int           `mapstructure:"n_requests"`
	Delay      time.Duration `mapstructure:"delay"`
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

type SessionConfig struct {
	AcquireRetries int           `mapstructure:"acquire_retries"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
}

type BuffersConfig struct {
	Dir          string `mapstructure:"dir"`
	Cookies      string `mapstructure:"cookies"`
	NotCleaned   string `mapstructure:"not_cleaned"`
	UserAgents   string `mapstructure:"user_agents"`
	NotHandled   string `mapstructure:"not_handled"`
	EnvFile      string `mapstructure:"env_file"`
	ChannelsFile string `mapstructure:"channels_file"`
}

type IdentityConfig struct {
	UseProxy   bool     `mapstructure:"use_proxy"`
	Proxies    int      `mapstructure:"proxies"`
	UserAgents []string `mapstructure:"user_agents"`
}

type RenderConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	BrowserBin string        `mapstructure:"browser_bin"`
	Headless   bool          `mapstructure:"headless"`
	NoSandbox  bool          `mapstructure:"no_sandbox"`
	Stealth    bool          `mapstructure:"stealth"`
}

type ImagesConfig struct {
	Save bool   `mapstructure:"save"`
	Dir  string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:    "news.db",
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			HTTPTimeout:       60 * time.Second,
			RunTimeout:        30 * time.Minute,
			MediaConcurrency:  8,
			RequestsPerSecond: 4,
			Accept:            "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9",
			MaxBodyBytes:      10 << 20,
		},
		Retry: RetryConfig{
			Requests:   5,
			Delay:      3 * time.Second,
			RetryAfter: 500 * time.Second,
		},
		Session: SessionConfig{
			AcquireRetries: 3,
			DefaultTTL:     30 * time.Minute,
		},
		Buffers: BuffersConfig{
			Dir:          "files",
			Cookies:      "cookies.json",
			NotCleaned:   "news_not_cleaned.json",
			UserAgents:   "user_agents.json",
			NotHandled:   "not_handled_urls.csv",
			EnvFile:      ".env",
			ChannelsFile: "channels.toml",
		},
		Identity: IdentityConfig{
			UseProxy: false,
			Proxies:  2,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
				"Mozilla/5.0 (X11; Linux x86_64; rv:132.0) Gecko/20100101 Firefox/132.0",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
			},
		},
		Render: RenderConfig{
			Timeout:   60 * time.Second,
			Headless:  true,
			NoSandbox: false,
			Stealth:   true,
		},
		Images: ImagesConfig{
			Save: true,
			Dir:  "images",
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join("logs", "app.log"),
		},
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	v.SetDefault("database", cfg.Database)
	v.SetDefault("feed", cfg.Feed)
	v.SetDefault("retry", cfg.Retry)
	v.SetDefault("session", cfg.Session)
	v.SetDefault("buffers", cfg.Buffers)
	v.SetDefault("identity", cfg.Identity)
	v.SetDefault("render", cfg.Render)
	v.SetDefault("images", cfg.Images)
	v.SetDefault("log", cfg.Log)
	v.SetDefault("metrics", cfg.Metrics)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "scrape-news")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCRAPE_NEWS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Decode over the defaults so a partial section keeps its other values
	config := *cfg
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	expandPaths(&config)

	return &config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retry.Requests < 1 {
		return fmt.Errorf("retry.n_requests must be at least 1, got %d", c.Retry.Requests)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must not be negative")
	}
	if c.Feed.HTTPTimeout <= 0 {
		return fmt.Errorf("feed.http_timeout must be positive")
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("render.timeout must be positive")
	}
	if c.Session.AcquireRetries < 0 {
		return fmt.Errorf("session.acquire_retries must not be negative")
	}
	return nil
}

// BufferPath joins a buffer file name onto the buffer directory.
func (c *Config) BufferPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Buffers.Dir, name)
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Buffers.Dir = expandPath(cfg.Buffers.Dir)
	cfg.Images.Dir = expandPath(cfg.Images.Dir)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations are written as strings for TOML readability
	v.Set("database", map[string]interface{}{
		"path":    config.Database.Path,
		"timeout": config.Database.Timeout.String(),
	})
	v.Set("feed", map[string]interface{}{
		"http_timeout":        config.Feed.HTTPTimeout.String(),
		"run_timeout":         config.Feed.RunTimeout.String(),
		"media_concurrency":   config.Feed.MediaConcurrency,
		"requests_per_second": config.Feed.RequestsPerSecond,
		"accept":              config.Feed.Accept,
		"max_body_bytes":      config.Feed.MaxBodyBytes,
	})
	v.Set("retry", map[string]interface{}{
		"n_requests":  config.Retry.Requests,
		"delay":       config.Retry.Delay.String(),
		"retry_after": config.Retry.RetryAfter.String(),
	})
	v.Set("session", map[string]interface{}{
		"acquire_retries": config.Session.AcquireRetries,
		"default_ttl":     config.Session.DefaultTTL.String(),
	})
	v.Set("buffers", map[string]interface{}{
		"dir":           config.Buffers.Dir,
		"cookies":       config.Buffers.Cookies,
		"not_cleaned":   config.Buffers.NotCleaned,
		"user_agents":   config.Buffers.UserAgents,
		"not_handled":   config.Buffers.NotHandled,
		"env_file":      config.Buffers.EnvFile,
		"channels_file": config.Buffers.ChannelsFile,
	})
	v.Set("identity", map[string]interface{}{
		"use_proxy":   config.Identity.UseProxy,
		"proxies":     config.Identity.Proxies,
		"user_agents": config.Identity.UserAgents,
	})
	v.Set("render", map[string]interface{}{
		"timeout":     config.Render.Timeout.String(),
		"browser_bin": config.Render.BrowserBin,
		"headless":    config.Render.Headless,
		"no_sandbox":  config.Render.NoSandbox,
		"stealth":     config.Render.Stealth,
	})
	v.Set("images", map[string]interface{}{
		"save": config.Images.Save,
		"dir":  config.Images.Dir,
	})
	v.Set("log", map[string]interface{}{
		"level": config.Log.Level,
		"file":  config.Log.File,
	})
	v.Set("metrics", map[string]interface{}{
		"addr": config.Metrics.Addr,
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
