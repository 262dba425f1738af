// Package config loads launchpad settings from a TOML file with
// LAUNCHPAD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/launchpad/internal/auth"
	"github.com/loykin/launchpad/internal/icon"
	"github.com/loykin/launchpad/internal/logger"
	"github.com/loykin/launchpad/internal/metrics"
	"github.com/loykin/launchpad/internal/pathguard"
	tlsx "github.com/loykin/launchpad/internal/tls"
)

// EnvPrefix is prepended to every environment override, with dots in the
// key replaced by underscores: LAUNCHPAD_SERVER_LISTEN overrides server.listen.
const EnvPrefix = "LAUNCHPAD"

type Config struct {
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	Launch  LaunchConfig  `toml:"launch" mapstructure:"launch"`
	Icons   IconsConfig   `toml:"icons" mapstructure:"icons"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

type StoreConfig struct {
	// DSN selects the backend: a file path or sqlite:// for SQLite,
	// postgres:// for PostgreSQL.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LaunchConfig struct {
	AllowedExtensions []string      `toml:"allowed_extensions" mapstructure:"allowed_extensions"`
	MaxArgs           int           `toml:"max_args" mapstructure:"max_args"`
	StartupProbe      time.Duration `toml:"startup_probe" mapstructure:"startup_probe"` // 0 disables
}

type IconsConfig struct {
	Dir     string        `toml:"dir" mapstructure:"dir"`
	Command []string      `toml:"command" mapstructure:"command"` // empty disables extraction
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	TLS      tlsx.Config `toml:"tls" mapstructure:"tls"`
	Auth     auth.Config `toml:"auth" mapstructure:"auth"`
}

type MetricsConfig struct {
	Enabled   bool                   `toml:"enabled" mapstructure:"enabled"`
	Resources metrics.ResourceConfig `toml:"resources" mapstructure:"resources"`
}

type HistoryConfig struct {
	// Sinks are DSNs understood by history/factory. Empty disables history.
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

// Default returns the built-in configuration.
func Default() Config {
	dir := dataDir()
	return Config{
		Log:   logger.Config{Level: logger.LevelInfo, Format: logger.FormatText},
		Store: StoreConfig{DSN: filepath.Join(dir, "launchpad.db")},
		Launch: LaunchConfig{
			AllowedExtensions: append([]string(nil), pathguard.DefaultExtensions...),
			MaxArgs:           pathguard.DefaultMaxArgs,
			StartupProbe:      3 * time.Second,
		},
		Icons: IconsConfig{Dir: filepath.Join(dir, "icons"), Timeout: icon.DefaultTimeout},
		Server: ServerConfig{
			Listen:   "127.0.0.1:8080",
			BasePath: "/api",
			TLS: tlsx.Config{
				Dir:        filepath.Join(dir, "tls"),
				MinVersion: "1.2",
				Hosts:      []string{"localhost", "127.0.0.1"},
				ValidDays:  365,
			},
		},
		Metrics: MetricsConfig{
			Resources: metrics.ResourceConfig{Interval: 5 * time.Second, MaxHistory: 60},
		},
	}
}

func dataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, "launchpad")
	}
	return "."
}

// Load reads path over Default and applies environment overrides.
// An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.source", d.Log.Source)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("launch.allowed_extensions", d.Launch.AllowedExtensions)
	v.SetDefault("launch.max_args", d.Launch.MaxArgs)
	v.SetDefault("launch.startup_probe", d.Launch.StartupProbe)
	v.SetDefault("icons.dir", d.Icons.Dir)
	v.SetDefault("icons.command", d.Icons.Command)
	v.SetDefault("icons.timeout", d.Icons.Timeout)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.dir", d.Server.TLS.Dir)
	v.SetDefault("server.tls.auto_generate", d.Server.TLS.AutoGenerate)
	v.SetDefault("server.tls.min_version", d.Server.TLS.MinVersion)
	v.SetDefault("server.tls.hosts", d.Server.TLS.Hosts)
	v.SetDefault("server.tls.valid_days", d.Server.TLS.ValidDays)
	v.SetDefault("server.auth.token", d.Server.Auth.Token)
	v.SetDefault("server.auth.allowed_origins", d.Server.Auth.AllowedOrigins)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.resources.enabled", d.Metrics.Resources.Enabled)
	v.SetDefault("metrics.resources.interval", d.Metrics.Resources.Interval)
	v.SetDefault("metrics.resources.max_history", d.Metrics.Resources.MaxHistory)
	v.SetDefault("history.sinks", d.History.Sinks)
}

// Validate reports settings that would make the launcher unusable.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Launch.MaxArgs <= 0 {
		errs = append(errs, fmt.Errorf("launch.max_args must be positive, got %d", c.Launch.MaxArgs))
	}
	if c.Launch.StartupProbe < 0 {
		errs = append(errs, errors.New("launch.startup_probe must not be negative"))
	}
	for _, ext := range c.Launch.AllowedExtensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			errs = append(errs, errors.New("launch.allowed_extensions contains an empty extension"))
			break
		}
	}
	if len(c.Icons.Command) > 0 && strings.TrimSpace(c.Icons.Dir) == "" {
		errs = append(errs, errors.New("icons.dir is required when icons.command is set"))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls.cert_file and server.tls.key_file must be set together"))
	}
	return errors.Join(errs...)
}

// GuardOptions turns the launch section into pathguard options.
func (c Config) GuardOptions() []pathguard.Option {
	var opts []pathguard.Option
	if len(c.Launch.AllowedExtensions) > 0 {
		opts = append(opts, pathguard.WithExtensions(c.Launch.AllowedExtensions...))
	}
	if c.Launch.MaxArgs > 0 {
		opts = append(opts, pathguard.WithMaxArgs(c.Launch.MaxArgs))
	}
	return opts
}

// IconExtractor returns the configured extractor, icon.Noop when disabled.
func (c Config) IconExtractor() (icon.Extractor, error) {
	if len(c.Icons.Command) == 0 {
		return icon.Noop{}, nil
	}
	x, err := icon.NewCommandExtractor(icon.CommandConfig{Dir: c.Icons.Dir, Command: c.Icons.Command, Timeout: c.Icons.Timeout})
	if err != nil {
		return nil, err
	}
	return x, nil
}
