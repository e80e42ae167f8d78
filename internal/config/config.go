// Package config resolves memsister's runtime configuration from flags,
// environment variables, an optional config file and built-in defaults.
//
// Precedence, highest first: command-line flag, environment variable, config
// file, default. The environment variable names match the ones earlier
// deployments already export (_MEMSISTER_WATCH_DIRECTORY and friends).
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Keys, as used in config files and as viper keys.
const (
	KeyDirectory     = "directory"
	KeyMemcached     = "memcached"
	KeyInterval      = "interval"
	KeyLogFile       = "logfile"
	KeyLogBackups    = "log-backups"
	KeySkipMalformed = "skip-malformed"
	KeyWatch         = "watch"
	KeyMonitorAddr   = "monitor-addr"
	KeyCacheTimeout  = "cache-timeout"
)

// envNames maps keys to their environment variables.
var envNames = map[string]string{
	KeyDirectory:     "_MEMSISTER_WATCH_DIRECTORY",
	KeyMemcached:     "_MEMSISTER_MEMCACHED_SERVER",
	KeyInterval:      "_MEMSISTER_INTERVAL",
	KeyLogFile:       "_MEMSISTER_LOGFILE",
	KeyLogBackups:    "_MEMSISTER_LOG_BACKUPS",
	KeySkipMalformed: "_MEMSISTER_SKIP_MALFORMED",
	KeyWatch:         "_MEMSISTER_WATCH",
	KeyMonitorAddr:   "_MEMSISTER_MONITOR_ADDR",
	KeyCacheTimeout:  "_MEMSISTER_CACHE_TIMEOUT",
}

// Config is the resolved configuration. It is built once at startup and
// passed by value to the components that need it.
type Config struct {
	// WatchDirectory is scanned for *.base files.
	WatchDirectory string
	// CacheAddress is host:port of memcached, or a scheme URL understood by
	// cache.Dial.
	CacheAddress string
	// ScanIntervalSeconds is both the idle delay between scans and the
	// delay between reconnect attempts.
	ScanIntervalSeconds int
	// LogFile is the log path, or "-" for stderr.
	LogFile string
	// LogBackups is how many rotated log files are kept.
	LogBackups int
	// SkipMalformed publishes the valid lines of a file that has malformed
	// lines instead of failing the whole file.
	SkipMalformed bool
	// Watch wakes the scan loop early on filesystem events.
	Watch bool
	// MonitorAddr enables the monitor server when non-empty.
	MonitorAddr string
	// CacheTimeout bounds a single cache operation.
	CacheTimeout time.Duration
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		WatchDirectory:      ".",
		CacheAddress:        "127.0.0.1:11211",
		ScanIntervalSeconds: 60,
		LogFile:             "memsister.log",
		LogBackups:          7,
		CacheTimeout:        2 * time.Second,
	}
}

// ScanInterval returns the scan interval as a duration.
func (c Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WatchDirectory) == "" {
		return fmt.Errorf("%s cannot be empty", KeyDirectory)
	}
	if strings.TrimSpace(c.CacheAddress) == "" {
		return fmt.Errorf("%s cannot be empty", KeyMemcached)
	}
	if c.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("%s must be a positive number of seconds, got %d", KeyInterval, c.ScanIntervalSeconds)
	}
	if c.LogBackups < 0 {
		return fmt.Errorf("%s cannot be negative", KeyLogBackups)
	}
	if c.CacheTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyCacheTimeout, c.CacheTimeout)
	}
	return nil
}

// RegisterFlags adds memsister's flags to fs and binds them, plus the
// environment variables, to v.
func RegisterFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Defaults()

	fs.StringP(KeyDirectory, "d", d.WatchDirectory, "Directory to watch")
	fs.StringP(KeyMemcached, "m", d.CacheAddress, "Memcached server address (host:port, memcache://, sqlite://, memory://)")
	fs.IntP(KeyInterval, "i", d.ScanIntervalSeconds, "Interval of directory scan (in seconds)")
	fs.StringP(KeyLogFile, "l", d.LogFile, "Log file location (- for stderr)")
	fs.Int(KeyLogBackups, d.LogBackups, "Number of rotated log files to keep")
	fs.Bool(KeySkipMalformed, d.SkipMalformed, "Skip malformed lines instead of failing the whole file")
	fs.Bool(KeyWatch, d.Watch, "Wake the scan loop early when files change")
	fs.String(KeyMonitorAddr, d.MonitorAddr, "Serve the monitor on this address (e.g. :8080)")
	fs.Duration(KeyCacheTimeout, d.CacheTimeout, "Timeout for a single cache operation")

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
		if err := v.BindPFlag(key, fs.Lookup(key)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the optional config file and resolves the configuration.
// The result is validated.
func Load(v *viper.Viper, configFile string) (Config, error) {
	d := Defaults()
	v.SetDefault(KeyDirectory, d.WatchDirectory)
	v.SetDefault(KeyMemcached, d.CacheAddress)
	v.SetDefault(KeyInterval, d.ScanIntervalSeconds)
	v.SetDefault(KeyLogFile, d.LogFile)
	v.SetDefault(KeyLogBackups, d.LogBackups)
	v.SetDefault(KeyCacheTimeout, d.CacheTimeout)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		WatchDirectory:      v.GetString(KeyDirectory),
		CacheAddress:        v.GetString(KeyMemcached),
		ScanIntervalSeconds: v.GetInt(KeyInterval),
		LogFile:             v.GetString(KeyLogFile),
		LogBackups:          v.GetInt(KeyLogBackups),
		SkipMalformed:       v.GetBool(KeySkipMalformed),
		Watch:               v.GetBool(KeyWatch),
		MonitorAddr:         v.GetString(KeyMonitorAddr),
		CacheTimeout:        v.GetDuration(KeyCacheTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fileView is the on-disk shape of a Config, shared by the TOML and YAML
// encoders.
type fileView struct {
	Directory     string `toml:"directory" yaml:"directory"`
	Memcached     string `toml:"memcached" yaml:"memcached"`
	Interval      int    `toml:"interval" yaml:"interval"`
	LogFile       string `toml:"logfile" yaml:"logfile"`
	LogBackups    int    `toml:"log-backups" yaml:"log-backups"`
	SkipMalformed bool   `toml:"skip-malformed" yaml:"skip-malformed"`
	Watch         bool   `toml:"watch" yaml:"watch"`
	MonitorAddr   string `toml:"monitor-addr" yaml:"monitor-addr"`
	CacheTimeout  string `toml:"cache-timeout" yaml:"cache-timeout"`
}

// Encode writes c to w as "toml" or "yaml". The output can be fed back in
// with --config.
func (c Config) Encode(w io.Writer, format string) error {
	view := fileView{
		Directory:     c.WatchDirectory,
		Memcached:     c.CacheAddress,
		Interval:      c.ScanIntervalSeconds,
		LogFile:       c.LogFile,
		LogBackups:    c.LogBackups,
		SkipMalformed: c.SkipMalformed,
		Watch:         c.Watch,
		MonitorAddr:   c.MonitorAddr,
		CacheTimeout:  c.CacheTimeout.String(),
	}

	switch strings.ToLower(format) {
	case "toml", "":
		return toml.NewEncoder(w).Encode(view)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want toml or yaml)", format)
	}
}
