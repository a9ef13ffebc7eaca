package config

import (
	"os"
	"path/filepath"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := loadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadFileNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
timezone: America/New_York
on_all_failed: COMMIT
feeds:
  - url: " https://example.com/work.ics "
    id: work
  - url: https://example.com/home.ics
    timezone: Europe/Berlin
store:
  driver: SQLite
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := loadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv(noEnv))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, defaultRefreshSeconds, cfg.RefreshSeconds)
	assert.Equal(t, OnAllFailedCommit, cfg.OnAllFailed)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, defaultStoreDir, cfg.Store.Dir)
	require.Len(t, cfg.Feeds, 2)
	assert.Equal(t, "https://example.com/work.ics", cfg.Feeds[0].URL)
	assert.Equal(t, "work", cfg.Feeds[0].Label())
	assert.Equal(t, "Europe/Berlin", cfg.Feeds[1].Timezone)
}

func TestNormalizeUnknownPolicyFallsBackToRetain(t *testing.T) {
	cfg := &Config{OnAllFailed: "wipe"}
	cfg.Normalize()
	assert.Equal(t, OnAllFailedRetain, cfg.OnAllFailed)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SERVER_ADDRESS":         "0.0.0.0:9000",
		"ICS_URLS":               "https://a.example/a.ics, ,https://b.example/b.ics",
		"REFRESH_PERIOD_SECONDS": "60",
		"MAX_EVENTS_DISPLAY":     "25",
		"TIMEZONE":               "Europe/Zurich",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.Feeds = []FeedConfig{{URL: "https://old.example/x.ics"}}
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "Europe/Zurich", cfg.Timezone)
	assert.Equal(t, 60, cfg.RefreshSeconds)
	assert.Equal(t, 25, cfg.MaxEvents)
	assert.Equal(t, []FeedConfig{
		{URL: "https://a.example/a.ics"},
		{URL: "https://b.example/b.ics"},
	}, cfg.Feeds)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "REFRESH_PERIOD_SECONDS" {
			return "soon", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "REFRESH_PERIOD_SECONDS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"empty feed url", func(c *Config) { c.Feeds = []FeedConfig{{ID: "x"}} }, "url is empty"},
		{"bad feed timezone", func(c *Config) {
			c.Feeds = []FeedConfig{{URL: "https://e.example/x.ics", Timezone: "Nowhere/Land"}}
		}, "feeds[0] timezone"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, "requires dsn"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "unknown driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
