package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/youssefhk-sw/scrape-news/internal/config"
	"github.com/youssefhk-sw/scrape-news/internal/debuglog"
	"github.com/youssefhk-sw/scrape-news/internal/metrics"
	"github.com/youssefhk-sw/scrape-news/internal/pipeline"
	"github.com/youssefhk-sw/scrape-news/internal/render"
	"github.com/youssefhk-sw/scrape-news/internal/storage"
	"github.com/youssefhk-sw/scrape-news/internal/validation"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	cfgPath      string
	channelsPath string
	logLevel     string
	allowPrivate bool
)

var rootCmd = &cobra.Command{
	Use:           "scrape-news",
	Short:         "Resilient RSS news acquisition",
	Long:          `scrape-news fetches the feeds of configured news channels, recovers from anti-bot and server errors, and stores validated news.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&channelsPath, "channels", "", "path to channel registry (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error, off (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&allowPrivate, "allow-private-hosts", false, "accept localhost and private addresses in the channel registry")

	rootCmd.AddCommand(runCmd, recoverCmd, retryDueCmd, generateConfigCmd, versionCmd)
}

// app is everything a command needs, opened from the config.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	pipeline *pipeline.Pipeline
	metrics  *metrics.Server
}

func openApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := debuglog.Setup(debuglog.ParseLogLevel(level), cfg.Log.File); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		debuglog.Close()
		return nil, err
	}

	renderer := render.NewRodRenderer(render.Options{
		Timeout:    cfg.Render.Timeout,
		BrowserBin: cfg.Render.BrowserBin,
		Headless:   cfg.Render.Headless,
		NoSandbox:  cfg.Render.NoSandbox,
		Stealth:    cfg.Render.Stealth,
	})

	p, err := pipeline.New(cfg, store, renderer)
	if err != nil {
		store.Close()
		debuglog.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: store, pipeline: p}
	if cfg.Metrics.Addr != "" {
		a.metrics = metrics.NewServer(cfg.Metrics.Addr)
		go func() {
			if err := a.metrics.Start(); err != nil {
				debuglog.Errorf("metrics server: %v", err)
			}
		}()
		debuglog.Infof("serving metrics on %s", cfg.Metrics.Addr)
	}
	return a, nil
}

// close stops the metrics server, then flushes the buffers and the database.
func (a *app) close() error {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Stop(ctx); err != nil {
			debuglog.Warnf("stopping metrics server: %v", err)
		}
	}

	err := a.pipeline.Close()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	debuglog.Close()
	return err
}

func (a *app) channels() ([]storage.Channel, error) {
	path := channelsPath
	if path == "" {
		path = a.cfg.Buffers.ChannelsFile
	}

	v := validation.NewChannelURLValidator()
	if allowPrivate {
		v = validation.NewPermissiveChannelURLValidator()
	}
	return config.LoadChannels(path, v)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "scrape-news", "config.toml")
}
