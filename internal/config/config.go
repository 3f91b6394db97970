package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	DataDir           string
	Browser           string
	Channel           string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	Endpoint          string
	ResultTimeout     time.Duration
	ScrollPause       time.Duration
	PageSize          int
	DownloadDir       string
	DownloadTimeout   time.Duration
	ThumbnailMaxWidth int
	LogLevel          string
}

type rawConfig struct {
	DataDir           string `toml:"data_dir"`
	Browser           string `toml:"browser"`
	Channel           string `toml:"channel"`
	Headless          *bool  `toml:"headless"`
	ViewportWidth     int    `toml:"viewport_width"`
	ViewportHeight    int    `toml:"viewport_height"`
	Endpoint          string `toml:"endpoint"`
	ResultTimeout     string `toml:"result_timeout"`
	ScrollPause       string `toml:"scroll_pause"`
	PageSize          int    `toml:"page_size"`
	DownloadDir       string `toml:"download_dir"`
	DownloadTimeout   string `toml:"download_timeout"`
	ThumbnailMaxWidth int    `toml:"thumbnail_max_width"`
	LogLevel          string `toml:"log_level"`
}

// Overrides come from command line flags and win over every other layer.
type Overrides struct {
	ConfigPath string
	DataDir    string
	LogLevel   string
}

var systemPaths = []string{
	"/opt/homebrew/etc/imgscout/config.toml",
	"/usr/local/etc/imgscout/config.toml",
}

func Defaults() Config {
	return Config{
		DataDir:           defaultDataDir(),
		Browser:           "firefox",
		Headless:          true,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		Endpoint:          "https://www.bing.com/images/search",
		ResultTimeout:     10 * time.Second,
		ScrollPause:       2 * time.Second,
		PageSize:          20,
		DownloadDir:       "downloads",
		DownloadTimeout:   10 * time.Second,
		ThumbnailMaxWidth: 320,
		LogLevel:          "warn",
	}
}

func Load(overrides Overrides) (Config, error) {
	cfg := Defaults()

	if overrides.ConfigPath != "" {
		if err := loadFile(&cfg, overrides.ConfigPath); err != nil {
			return Config{}, err
		}
	} else if err := loadSystemConfig(&cfg); err != nil {
		return Config{}, err
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(overrides.DataDir) != "" {
		cfg.DataDir = overrides.DataDir
	}
	if strings.TrimSpace(overrides.LogLevel) != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	return cfg, nil
}

func (c Config) StoragePath() string {
	return filepath.Join(c.DataDir, "storage.json")
}

func (c Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

func (c Config) PresetDir() string {
	return filepath.Join(c.DataDir, "presets")
}

func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "daemon.log")
}

func loadSystemConfig(cfg *Config) error {
	for _, path := range systemPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return loadFile(cfg, path)
	}
	return nil
}

func loadFile(cfg *Config, path string) error {
	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if raw.DataDir != "" {
		cfg.DataDir = raw.DataDir
	}
	if raw.Browser != "" {
		cfg.Browser = raw.Browser
	}
	if raw.Channel != "" {
		cfg.Channel = raw.Channel
	}
	if raw.Headless != nil {
		cfg.Headless = *raw.Headless
	}
	if raw.ViewportWidth > 0 {
		cfg.ViewportWidth = raw.ViewportWidth
	}
	if raw.ViewportHeight > 0 {
		cfg.ViewportHeight = raw.ViewportHeight
	}
	if raw.Endpoint != "" {
		cfg.Endpoint = raw.Endpoint
	}
	if raw.PageSize > 0 {
		cfg.PageSize = raw.PageSize
	}
	if raw.DownloadDir != "" {
		cfg.DownloadDir = raw.DownloadDir
	}
	if raw.ThumbnailMaxWidth > 0 {
		cfg.ThumbnailMaxWidth = raw.ThumbnailMaxWidth
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"result_timeout", raw.ResultTimeout, &cfg.ResultTimeout},
		{"scroll_pause", raw.ScrollPause, &cfg.ScrollPause},
		{"download_timeout", raw.DownloadTimeout, &cfg.DownloadTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("config %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"IMGSCOUT_DATA_DIR":     &cfg.DataDir,
		"IMGSCOUT_BROWSER":      &cfg.Browser,
		"IMGSCOUT_CHANNEL":      &cfg.Channel,
		"IMGSCOUT_ENDPOINT":     &cfg.Endpoint,
		"IMGSCOUT_DOWNLOAD_DIR": &cfg.DownloadDir,
		"IMGSCOUT_LOG_LEVEL":    &cfg.LogLevel,
	}
	for key, dst := range strs {
		if v := env(key); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"IMGSCOUT_VIEWPORT_WIDTH":      &cfg.ViewportWidth,
		"IMGSCOUT_VIEWPORT_HEIGHT":     &cfg.ViewportHeight,
		"IMGSCOUT_PAGE_SIZE":           &cfg.PageSize,
		"IMGSCOUT_THUMBNAIL_MAX_WIDTH": &cfg.ThumbnailMaxWidth,
	}
	for key, dst := range ints {
		v := env(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	durations := map[string]*time.Duration{
		"IMGSCOUT_RESULT_TIMEOUT":   &cfg.ResultTimeout,
		"IMGSCOUT_SCROLL_PAUSE":     &cfg.ScrollPause,
		"IMGSCOUT_DOWNLOAD_TIMEOUT": &cfg.DownloadTimeout,
	}
	for key, dst := range durations {
		v := env(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	if v := env("IMGSCOUT_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("IMGSCOUT_HEADLESS: %w", err)
		}
		cfg.Headless = b
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "imgscout")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "imgscout")
	}
	if xdg := env("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "imgscout")
	}
	return filepath.Join(home, ".local", "share", "imgscout")
}
