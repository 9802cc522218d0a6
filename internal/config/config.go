// Package config loads KT board's process configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dreamware/ktboard/internal/registry"
)

// Defaults match the values the board has always shipped with.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 9961
	DefaultKeyPath         = "test-skey-20250813"
	DefaultMonitorInterval = 5 * time.Second
	DefaultConfigFile      = "config.json"
	EnvPrefix              = "KTBOARD"
)

// Config keys, shared by files, environment variables and flags.
const (
	KeySiteName        = "site-name"
	KeyHost            = "host"
	KeyPort            = "port"
	KeyKeyPath         = "key-path"
	KeyMonitorInterval = "monitor-interval"
	KeyMetrics         = "metrics"
)

// Config is the validated process configuration.
type Config struct {
	SiteName        string        `mapstructure:"site-name"`
	Host            string        `mapstructure:"host"`
	KeyPath         string        `mapstructure:"key-path"`
	Port            int           `mapstructure:"port"`
	MonitorInterval time.Duration `mapstructure:"monitor-interval"`
	Metrics         bool          `mapstructure:"metrics"`
}

// Addr is the listen address built from Host and Port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

var keyPathPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// Validate checks the values a server cannot start without.
func (c Config) Validate() error {
	var errs []string
	if !keyPathPattern.MatchString(c.KeyPath) {
		errs = append(errs, fmt.Sprintf("%s %q must be a single non-empty path segment", KeyKeyPath, c.KeyPath))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("%s %d out of range", KeyPort, c.Port))
	}
	if c.MonitorInterval <= 0 {
		errs = append(errs, fmt.Sprintf("%s must be positive", KeyMonitorInterval))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// BindFlags declares the config flags on fs. Their values take precedence
// over environment and file settings when explicitly set.
func BindFlags(fs *pflag.FlagSet) {
	fs.String(KeySiteName, registry.DefaultSiteName, "display name shown on the dashboard")
	fs.String(KeyHost, DefaultHost, "address to bind")
	fs.Int(KeyPort, DefaultPort, "port to bind")
	fs.String(KeyKeyPath, DefaultKeyPath, "secret path prefix for client endpoints")
	fs.Duration(KeyMonitorInterval, DefaultMonitorInterval, "how often the liveness monitor sweeps")
	fs.Bool(KeyMetrics, true, "expose Prometheus metrics at /metrics")
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeySiteName, registry.DefaultSiteName)
	v.SetDefault(KeyHost, DefaultHost)
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyKeyPath, DefaultKeyPath)
	v.SetDefault(KeyMonitorInterval, DefaultMonitorInterval)
	v.SetDefault(KeyMetrics, true)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration from, in order of precedence, flags set on
// fs, KTBOARD_* environment variables, the config file and defaults.
//
// With an empty path the loader tries config.json in the working directory;
// if that file is missing or unreadable it logs a warning and carries on
// with defaults. A path given explicitly must be readable.
func (l *Loader) Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := newViper()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var notExist *os.PathError
		if errors.As(err, &notExist) {
			l.logger.Info("no config file, using defaults", zap.String("path", path))
		} else {
			l.logger.Warn("ignoring unreadable config file", zap.String("path", path), zap.Error(err))
		}
	} else {
		l.logger.Info("loaded config file", zap.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.SiteName == "" {
		cfg.SiteName = registry.DefaultSiteName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
