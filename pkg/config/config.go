package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables inherited from the original deployment. Everything
// else uses the PTTO115_ prefix.
const (
	EnvCookies   = "ENV_115_COOKIES"
	EnvUploadPID = "ENV_115_UPLOAD_PID"
	EnvPrefix    = "PTTO115"
)

// Defaults
const (
	DefaultCookies           = "ck1111"
	DefaultUploadPID         = 0
	DefaultBackend           = "115"
	DefaultStabilityInterval = 30 * time.Second
	DefaultStabilityAttempts = 1000
	DefaultIdleWait          = 5 * time.Second
	DefaultP115BaseURL       = "https://uplb.115.com"
)

// Config holds the application configuration
type Config struct {
	Cookies   string          `mapstructure:"cookies"`
	UploadPID int64           `mapstructure:"-"`
	UploadDir string          `mapstructure:"upload_dir"`
	Backend   string          `mapstructure:"backend"`
	Stability StabilityConfig `mapstructure:"stability"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	P115      P115Config      `mapstructure:"p115"`
	S3        S3Config        `mapstructure:"s3"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`

	// Warnings collects recoverable problems found while loading, to be
	// logged once the logger is configured.
	Warnings []string `mapstructure:"-"`
}

// StabilityConfig controls the file size stability check
type StabilityConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Attempts int           `mapstructure:"attempts"`
}

// ThrottleConfig holds the optional pauses of the polling loop.
// Zero disables a pause.
type ThrottleConfig struct {
	AfterFile  time.Duration `mapstructure:"after_file"`
	AfterRound time.Duration `mapstructure:"after_round"`
	Idle       time.Duration `mapstructure:"idle"`
}

// P115Config holds 115-specific configuration
type P115Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// S3Config holds settings for the S3 instant upload backend
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	UploadOnMiss    bool   `mapstructure:"upload_on_miss"`
}

// HistoryConfig enables the SQLite ledger of completed uploads when Path is set
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence. An empty path means the
// default location; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	setupViper(v, path)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	pid, err := parseUploadPID(v.GetString("upload_pid"))
	if err != nil {
		// Same recovery as a malformed environment: both credentials go back
		// to their defaults.
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("invalid upload target id %q (%v), using default configuration", v.GetString("upload_pid"), err))
		cfg.Cookies = DefaultCookies
		pid = DefaultUploadPID
	}
	cfg.UploadPID = pid

	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir()
	}
	if abs, err := filepath.Abs(cfg.UploadDir); err == nil {
		cfg.UploadDir = abs
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values that would make the loop misbehave
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case "115":
		if c.P115.BaseURL == "" {
			errs = append(errs, errors.New("p115.base_url must be set"))
		}
	case "s3":
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket must be set for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported backend: %s", c.Backend))
	}

	if c.Stability.Attempts < 1 {
		errs = append(errs, errors.New("stability.attempts must be at least 1"))
	}
	if c.Stability.Interval < 0 {
		errs = append(errs, errors.New("stability.interval must not be negative"))
	}
	if c.Throttle.AfterFile < 0 || c.Throttle.AfterRound < 0 || c.Throttle.Idle < 0 {
		errs = append(errs, errors.New("throttle durations must not be negative"))
	}
	if c.P115.Timeout < 0 {
		errs = append(errs, errors.New("p115.timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() Config {
	out := *c
	out.Cookies = redact(c.Cookies)
	out.S3.SecretAccessKey = redact(c.S3.SecretAccessKey)
	return out
}

// Entries returns the configuration as ordered key/value pairs for display
func (c *Config) Entries() [][2]string {
	r := c.Redacted()
	return [][2]string{
		{"cookies", r.Cookies},
		{"upload_pid", strconv.FormatInt(r.UploadPID, 10)},
		{"upload_dir", r.UploadDir},
		{"backend", r.Backend},
		{"stability.interval", r.Stability.Interval.String()},
		{"stability.attempts", strconv.Itoa(r.Stability.Attempts)},
		{"throttle.after_file", r.Throttle.AfterFile.String()},
		{"throttle.after_round", r.Throttle.AfterRound.String()},
		{"throttle.idle", r.Throttle.Idle.String()},
		{"p115.base_url", r.P115.BaseURL},
		{"p115.timeout", r.P115.Timeout.String()},
		{"s3.bucket", r.S3.Bucket},
		{"s3.region", r.S3.Region},
		{"s3.endpoint", r.S3.Endpoint},
		{"s3.prefix", r.S3.Prefix},
		{"s3.secret_access_key", r.S3.SecretAccessKey},
		{"s3.upload_on_miss", strconv.FormatBool(r.S3.UploadOnMiss)},
		{"history.path", r.History.Path},
		{"metrics.addr", r.Metrics.Addr},
		{"log.level", r.Log.Level},
		{"log.format", r.Log.Format},
	}
}

// DefaultUploadDir returns the "upload" directory next to the executable
func DefaultUploadDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "upload"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "upload")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cookies", DefaultCookies)
	v.SetDefault("upload_pid", strconv.Itoa(DefaultUploadPID))
	v.SetDefault("upload_dir", "")
	v.SetDefault("backend", DefaultBackend)
	v.SetDefault("stability.interval", DefaultStabilityInterval)
	v.SetDefault("stability.attempts", DefaultStabilityAttempts)
	v.SetDefault("throttle.after_file", time.Duration(0))
	v.SetDefault("throttle.after_round", time.Duration(0))
	v.SetDefault("throttle.idle", DefaultIdleWait)
	v.SetDefault("p115.base_url", DefaultP115BaseURL)
	v.SetDefault("p115.timeout", time.Duration(0))
	v.SetDefault("p115.user_agent", "ptto115")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.upload_on_miss", false)
	v.SetDefault("history.path", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// setupViper wires environment variables and the config file location
func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The two original variables keep their historical names
	_ = v.BindEnv("cookies", EnvCookies)
	_ = v.BindEnv("upload_pid", EnvUploadPID)

	if path != "" {
		v.SetConfigFile(path)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("json")
}

// readConfigFile reports whether a config file was read
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config: %w", err)
	}
	return true, nil
}

func parseUploadPID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultUploadPID, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ptto115")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ptto115")
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
