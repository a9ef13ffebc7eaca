package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"icsagenda/internal/fsutil"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables (the keys of the legacy .env layout)
// override file values after loading.

// All-failed cycle policies.
const (
	// OnAllFailedRetain keeps the previous snapshot when every feed failed.
	OnAllFailedRetain = "retain"
	// OnAllFailedCommit commits the (empty) merged list anyway.
	OnAllFailedCommit = "commit"
)

// Store drivers.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultRefreshSeconds = 900
	defaultStartupDelay   = 5
	defaultMaxEvents      = 10
	defaultConcurrency    = 4
	defaultStoreDir       = "./data"
)

// FeedConfig describes a single ICS subscription source.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID becomes the calendar_id of every event from this feed.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`
	// Name is a human-friendly label used in logs and metrics.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Timezone interprets this feed's floating times (no Z, no known TZID).
	// Events are still shown in the shared Timezone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Label returns the most readable identifier for logs.
func (f FeedConfig) Label() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.ID != "":
		return f.ID
	default:
		return f.URL
	}
}

// StoreConfig selects and configures the durable snapshot backend.
type StoreConfig struct {
	// Driver is one of "file", "sqlite", "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// Dir holds events.json/last_update.txt (file) or agenda.db (sqlite).
	Dir string `yaml:"dir" json:"dir"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the agenda page and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone events are normalized into (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshSeconds is the fixed period between sync cycles.
	RefreshSeconds int `yaml:"refresh_seconds" json:"refresh_seconds"`

	// RefreshCron, if set, replaces RefreshSeconds with a cron schedule
	// (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh_cron,omitempty" json:"refresh_cron,omitempty"`

	// StartupDelaySeconds is the grace period before the first cycle so the
	// cached snapshot is served while the first fetch is still pending.
	StartupDelaySeconds int `yaml:"startup_delay_seconds" json:"startup_delay_seconds"`

	// MaxEvents caps how many upcoming events the agenda page shows.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// FetchConcurrency bounds parallel feed fetches within one cycle.
	FetchConcurrency int `yaml:"fetch_concurrency" json:"fetch_concurrency"`

	// OnAllFailed decides what a cycle in which every feed failed does:
	//   - "retain" (default): skip the commit, keep the last good snapshot
	//   - "commit": commit the empty list
	OnAllFailed string `yaml:"on_all_failed" json:"on_all_failed"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir enables conditional GET (ETag/Last-Modified) caching of
	// feed bodies when non-empty.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`

	// Feeds is the list of subscribed ICS sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	Store StoreConfig `yaml:"store" json:"store"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              defaultListen,
		Timezone:            defaultTimezone,
		RefreshSeconds:      defaultRefreshSeconds,
		StartupDelaySeconds: defaultStartupDelay,
		MaxEvents:           defaultMaxEvents,
		FetchConcurrency:    defaultConcurrency,
		OnAllFailed:         OnAllFailedRetain,
		LogLevel:            "info",
		Feeds:               []FeedConfig{},
		Store: StoreConfig{
			Driver: StoreFile,
			Dir:    defaultStoreDir,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshSeconds <= 0 {
		c.RefreshSeconds = defaultRefreshSeconds
	}
	if c.StartupDelaySeconds < 0 {
		c.StartupDelaySeconds = 0
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = defaultConcurrency
	}

	switch strings.ToLower(c.OnAllFailed) {
	case OnAllFailedCommit:
		c.OnAllFailed = OnAllFailedCommit
	default:
		// Unknown value; keeping the last good agenda is the safe choice.
		c.OnAllFailed = OnAllFailedRetain
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		c.Feeds[i].URL = strings.TrimSpace(c.Feeds[i].URL)
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "" {
		c.Store.Driver = StoreFile
	}
	if c.Store.Dir == "" {
		c.Store.Dir = defaultStoreDir
	}
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	for i, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("feeds[%d]: url is empty", i)
		}
		if f.Timezone != "" {
			if _, err := time.LoadLocation(f.Timezone); err != nil {
				return fmt.Errorf("feeds[%d] timezone %q: %w", i, f.Timezone, err)
			}
		}
	}
	switch c.Store.Driver {
	case StoreFile, StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store: postgres driver requires dsn")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	return nil
}

// RefreshPeriod returns RefreshSeconds as a duration.
func (c *Config) RefreshPeriod() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// StartupDelay returns StartupDelaySeconds as a duration.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// ApplyEnv overrides fields from the legacy environment keys
// (SERVER_ADDRESS, ICS_URLS, REFRESH_PERIOD_SECONDS, MAX_EVENTS_DISPLAY,
// TIMEZONE). ICS_URLS replaces the whole feed list.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SERVER_ADDRESS"); ok && v != "" {
		c.Listen = strings.TrimSpace(v)
	}
	if v, ok := lookup("TIMEZONE"); ok && v != "" {
		c.Timezone = strings.TrimSpace(v)
	}
	if v, ok := lookup("ICS_URLS"); ok && v != "" {
		feeds := make([]FeedConfig, 0)
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				feeds = append(feeds, FeedConfig{URL: u})
			}
		}
		c.Feeds = feeds
	}
	if v, ok := lookup("REFRESH_PERIOD_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid REFRESH_PERIOD_SECONDS %q", v)
		}
		c.RefreshSeconds = n
	}
	if v, ok := lookup("MAX_EVENTS_DISPLAY"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MAX_EVENTS_DISPLAY %q", v)
		}
		c.MaxEvents = n
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}
