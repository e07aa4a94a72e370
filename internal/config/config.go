package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"codeberg.org/mutker/sysmonitor/internal/monitor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultCPUThreshold      = 90.0
	DefaultMemoryThreshold   = 90.0
	DefaultLoadMultiplier    = 1.5
	DefaultDiskIOThreshold   = 100 * 1024 * 1024
	DefaultNetErrorThreshold = 10
	DefaultTempThreshold     = 80.0
	DefaultInterval          = 10.0
	DefaultLogFile           = "sysmonitor.log"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = string(logger.FormatConsole)
	DefaultLogMaxSize        = 5
	DefaultLogMaxBackups     = 5
	DefaultHistoryDB         = "/var/lib/sysmonitor/history.db"
	DefaultHistoryRetention  = 7

	defaultEnvPrefix  = "SYSMONITOR"
	defaultConfigName = "sysmonitor"
	defaultConfigDir  = "/etc"
	configFlag        = "config"
)

type Config struct {
	CPUThreshold      float64 `mapstructure:"cpu_threshold"`
	MemoryThreshold   float64 `mapstructure:"memory_threshold"`
	LoadMultiplier    float64 `mapstructure:"load_multiplier"`
	DiskIOThreshold   int64   `mapstructure:"disk_io_threshold"`
	NetErrorThreshold int64   `mapstructure:"net_error_threshold"`
	TempThreshold     float64 `mapstructure:"temp_threshold"`
	Interval          float64 `mapstructure:"interval"`

	LogFile       string `mapstructure:"log_file"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogMaxSize    int    `mapstructure:"log_max_size"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	Console       bool   `mapstructure:"console"`

	GPU              bool   `mapstructure:"gpu"`
	History          bool   `mapstructure:"history"`
	HistoryDB        string `mapstructure:"history_db"`
	HistoryRetention int    `mapstructure:"history_retention"`
	PIDFile          string `mapstructure:"pid_file"`
}

// RegisterFlags defines every configuration flag on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(configFlag, "", "Path to a TOML config file (default /etc/sysmonitor.toml if present)")

	fs.Float64("cpu_threshold", DefaultCPUThreshold, "CPU usage percentage threshold")
	fs.Float64("memory_threshold", DefaultMemoryThreshold, "Memory usage percentage threshold")
	fs.Float64("load_multiplier", DefaultLoadMultiplier, "Load average multiplier relative to CPU cores")
	fs.Int64("disk_io_threshold", DefaultDiskIOThreshold, "Disk I/O threshold in bytes per interval")
	fs.Int64("net_error_threshold", DefaultNetErrorThreshold, "Network error threshold in one interval")
	fs.Float64("temp_threshold", DefaultTempThreshold, "Temperature threshold in Celsius")
	fs.Float64("interval", DefaultInterval, "Interval in seconds between metric checks")

	fs.String("log_file", DefaultLogFile, "Log file path")
	fs.String("log_level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.String("log_format", DefaultLogFormat, "Log line format: console or json")
	fs.Int("log_max_size", DefaultLogMaxSize, "Rotate the log file after this many megabytes")
	fs.Int("log_max_backups", DefaultLogMaxBackups, "Number of rotated log files to keep")
	fs.Bool("console", false, "Also write log lines to stdout")

	fs.Bool("gpu", false, "Include NVIDIA GPU temperatures via NVML")
	fs.Bool("history", false, "Record every sample to a SQLite database")
	fs.String("history_db", DefaultHistoryDB, "Path to the history database")
	fs.Int("history_retention", DefaultHistoryRetention, "Days of history to keep (0 keeps everything)")
	fs.String("pid_file", filepath.Join(os.TempDir(), "sysmonitor.pid"), "PID file path (empty disables)")
}

// Load resolves the configuration from flags, environment, config file and
// defaults, in that order of precedence, and validates it.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		if f := fs.Lookup(configFlag); f != nil {
			path = f.Value.String()
		}
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath(defaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate rejects configurations the monitor cannot run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	nonNegative := []struct {
		name  string
		value float64
	}{
		{"cpu_threshold", c.CPUThreshold},
		{"memory_threshold", c.MemoryThreshold},
		{"disk_io_threshold", float64(c.DiskIOThreshold)},
		{"net_error_threshold", float64(c.NetErrorThreshold)},
		{"log_max_size", float64(c.LogMaxSize)},
		{"log_max_backups", float64(c.LogMaxBackups)},
		{"history_retention", float64(c.HistoryRetention)},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			return errFactory.WithMessage(errors.ErrInvalidConfig, f.name+" must not be negative")
		}
	}

	if c.LoadMultiplier <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "load_multiplier must be positive")
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch logger.Format(c.LogFormat) {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return errFactory.WithMessage(errors.ErrInvalidConfig, "unknown log_format "+c.LogFormat)
	}

	if c.History && c.HistoryDB == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "history enabled without history_db")
	}

	return nil
}

// IntervalDuration returns the target tick period.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// Thresholds returns the evaluator limits.
func (c *Config) Thresholds() monitor.Thresholds {
	return monitor.Thresholds{
		CPUPercent:     c.CPUThreshold,
		MemoryPercent:  c.MemoryThreshold,
		LoadMultiplier: c.LoadMultiplier,
		DiskIOBytes:    uint64(c.DiskIOThreshold),
		NetErrors:      uint64(c.NetErrorThreshold),
		TempCelsius:    c.TempThreshold,
	}
}

// Logger returns the logging setup. Validate has already checked the level.
func (c *Config) Logger() logger.Config {
	level, _ := logger.ParseLevel(c.LogLevel)

	return logger.Config{
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSize,
		MaxBackups: c.LogMaxBackups,
		Level:      level,
		Format:     logger.Format(c.LogFormat),
		Console:    c.Console,
	}
}
