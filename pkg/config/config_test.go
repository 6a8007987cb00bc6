package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the default config location at an empty directory
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultCookies, cfg.Cookies)
	assert.Equal(t, int64(0), cfg.UploadPID)
	assert.Equal(t, "115", cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.Stability.Interval)
	assert.Equal(t, 1000, cfg.Stability.Attempts)
	assert.Zero(t, cfg.Throttle.AfterFile)
	assert.Zero(t, cfg.Throttle.AfterRound)
	assert.Equal(t, DefaultIdleWait, cfg.Throttle.Idle)
	assert.Equal(t, DefaultP115BaseURL, cfg.P115.BaseURL)
	assert.Equal(t, "upload", filepath.Base(cfg.UploadDir))
	assert.True(t, filepath.IsAbs(cfg.UploadDir))
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv(EnvCookies, "UID=1; CID=2; SEID=3")
	t.Setenv(EnvUploadPID, "2718281828")
	t.Setenv("PTTO115_UPLOAD_DIR", dir)
	t.Setenv("PTTO115_STABILITY_INTERVAL", "250ms")
	t.Setenv("PTTO115_STABILITY_ATTEMPTS", "3")
	t.Setenv("PTTO115_THROTTLE_AFTER_FILE", "10s")
	t.Setenv("PTTO115_THROTTLE_AFTER_ROUND", "1m")
	t.Setenv("PTTO115_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "UID=1; CID=2; SEID=3", cfg.Cookies)
	assert.Equal(t, int64(2718281828), cfg.UploadPID)
	assert.Equal(t, dir, cfg.UploadDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Stability.Interval)
	assert.Equal(t, 3, cfg.Stability.Attempts)
	assert.Equal(t, 10*time.Second, cfg.Throttle.AfterFile)
	assert.Equal(t, time.Minute, cfg.Throttle.AfterRound)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadInvalidUploadPIDFallsBack(t *testing.T) {
	isolate(t)
	t.Setenv(EnvCookies, "UID=1; CID=2; SEID=3")
	t.Setenv(EnvUploadPID, "abc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(0), cfg.UploadPID)
	assert.Equal(t, DefaultCookies, cfg.Cookies)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], `"abc"`)
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "backend": "s3",
  "upload_pid": 42,
  "stability": {"interval": "2s", "attempts": 5},
  "s3": {"bucket": "media", "prefix": "dedup/", "upload_on_miss": true},
  "history": {"path": "/tmp/history.db"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Run("file values apply", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "s3", cfg.Backend)
		assert.Equal(t, int64(42), cfg.UploadPID)
		assert.Equal(t, 2*time.Second, cfg.Stability.Interval)
		assert.Equal(t, 5, cfg.Stability.Attempts)
		assert.Equal(t, "media", cfg.S3.Bucket)
		assert.Equal(t, "dedup/", cfg.S3.Prefix)
		assert.True(t, cfg.S3.UploadOnMiss)
		assert.Equal(t, "/tmp/history.db", cfg.History.Path)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv(EnvUploadPID, "7")
		t.Setenv("PTTO115_S3_BUCKET", "other")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, int64(7), cfg.UploadPID)
		assert.Equal(t, "other", cfg.S3.Bucket)
	})
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "115", cfg.Backend)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Backend:   "115",
			Stability: StabilityConfig{Interval: time.Second, Attempts: 1},
			P115:      P115Config{BaseURL: DefaultP115BaseURL},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "ftp" }, wantErr: "unsupported backend"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Backend = "s3" }, wantErr: "s3.bucket"},
		{name: "zero attempts", mutate: func(c *Config) { c.Stability.Attempts = 0 }, wantErr: "stability.attempts"},
		{name: "negative throttle", mutate: func(c *Config) { c.Throttle.AfterRound = -time.Second }, wantErr: "throttle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEntriesRedactSecrets(t *testing.T) {
	cfg := &Config{Cookies: "UID=123; CID=abc; SEID=def", S3: S3Config{SecretAccessKey: "supersecret"}}

	entries := map[string]string{}
	for _, kv := range cfg.Entries() {
		entries[kv[0]] = kv[1]
	}

	assert.Equal(t, "UID=****", entries["cookies"])
	assert.Equal(t, "supe****", entries["s3.secret_access_key"])
	assert.Equal(t, "UID=123; CID=abc; SEID=def", cfg.Cookies, "original must be untouched")
}
