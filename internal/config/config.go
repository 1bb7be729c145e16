package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"kpitrack/internal/formula"
	"kpitrack/internal/logger"
	"kpitrack/internal/rollup"
	"kpitrack/internal/workspace"
)

// EnvPrefix prefixes every environment override, e.g. KPITRACK_LOGGING_LEVEL.
const EnvPrefix = "KPITRACK"

// Config holds all kpitrack settings.
type Config struct {
	Workspace string        `mapstructure:"workspace"`
	Store     StoreConfig   `mapstructure:"store"`
	Logging   LoggingConfig `mapstructure:"logging"`
	API       APIConfig     `mapstructure:"api"`
	Formula   FormulaConfig `mapstructure:"formula"`
	Trend     TrendConfig   `mapstructure:"trend"`
	Notify    NotifyConfig  `mapstructure:"notify"`
	Daemon    DaemonConfig  `mapstructure:"daemon"`
}

// StoreConfig locates the SQLite database. Relative paths resolve from the workspace.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds structured logging settings. An empty File disables
// the rotating file sink.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// FormulaConfig sizes the compiled formula cache.
type FormulaConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// TrendConfig holds trend view defaults.
type TrendConfig struct {
	WindowMonths int `mapstructure:"window_months"`
}

// NotifyConfig toggles desktop notifications.
type NotifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DaemonConfig schedules background jobs.
type DaemonConfig struct {
	TimeZone      string        `mapstructure:"timezone"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Lease         time.Duration `mapstructure:"lease"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	// ReportHour is the local hour of the daily score report; the monthly
	// comparison runs at the same hour on the first of each month.
	ReportHour int `mapstructure:"report_hour"`
}

// Options selects where Load looks.
type Options struct {
	// Workspace overrides the workspace key when non-empty.
	Workspace string
	// ConfigFile is an explicit config path; it must exist when set.
	ConfigFile string
}

// Load reads defaults, then the config file, then KPITRACK_* environment
// variables, then opts.
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault("workspace", ".")
	v.SetDefault("store.path", filepath.Join("data", "kpitrack.sqlite"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", filepath.Join("logs", "kpitrack.log"))
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
	v.SetDefault("formula.cache_size", formula.DefaultCacheSize)
	v.SetDefault("trend.window_months", rollup.DefaultWindowMonths)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("daemon.timezone", "UTC")
	v.SetDefault("daemon.poll_interval", time.Second)
	v.SetDefault("daemon.lease", 30*time.Second)
	v.SetDefault("daemon.watch_interval", 30*time.Second)
	v.SetDefault("daemon.report_hour", 2)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv("workspace", "KPITRACK_WORKSPACE")
	_ = v.BindEnv("store.path", "KPITRACK_STORE_PATH")
	_ = v.BindEnv("logging.level", "KPITRACK_LOGGING_LEVEL")
	_ = v.BindEnv("logging.file", "KPITRACK_LOGGING_FILE")
	_ = v.BindEnv("api.listen_addr", "KPITRACK_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "KPITRACK_API_AUTH_TOKEN")
	_ = v.BindEnv("formula.cache_size", "KPITRACK_FORMULA_CACHE_SIZE")
	_ = v.BindEnv("trend.window_months", "KPITRACK_TREND_WINDOW_MONTHS")
	_ = v.BindEnv("notify.enabled", "KPITRACK_NOTIFY_ENABLED")
	_ = v.BindEnv("daemon.timezone", "KPITRACK_DAEMON_TIMEZONE")
	_ = v.BindEnv("daemon.poll_interval", "KPITRACK_DAEMON_POLL_INTERVAL")
	_ = v.BindEnv("daemon.lease", "KPITRACK_DAEMON_LEASE")
	_ = v.BindEnv("daemon.watch_interval", "KPITRACK_DAEMON_WATCH_INTERVAL")
	_ = v.BindEnv("daemon.report_hour", "KPITRACK_DAEMON_REPORT_HOUR")

	if opts.Workspace != "" {
		v.Set("workspace", opts.Workspace)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", opts.ConfigFile, err)
		}
	} else {
		root, err := workspace.ResolveRoot(v.GetString("workspace"))
		if err != nil {
			return nil, err
		}
		v.SetConfigName("kpitrack")
		v.SetConfigType("yaml")
		v.AddConfigPath(root)
		v.AddConfigPath(filepath.Join(homeDir(), ".kpitrack"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}
	// A workspace flag beats the workspace key in a config file.
	if opts.Workspace != "" {
		v.Set("workspace", opts.Workspace)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that settings are usable.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Formula.CacheSize <= 0 {
		return fmt.Errorf("formula.cache_size must be greater than 0")
	}
	if c.Trend.WindowMonths <= 0 {
		return fmt.Errorf("trend.window_months must be greater than 0")
	}
	if _, err := time.LoadLocation(c.Daemon.TimeZone); err != nil {
		return fmt.Errorf("daemon.timezone: %w", err)
	}
	if c.Daemon.PollInterval <= 0 || c.Daemon.Lease <= 0 || c.Daemon.WatchInterval <= 0 {
		return fmt.Errorf("daemon intervals must be greater than 0")
	}
	if c.Daemon.ReportHour < 0 || c.Daemon.ReportHour > 23 {
		return fmt.Errorf("daemon.report_hour must be between 0 and 23")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
