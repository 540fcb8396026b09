package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/loykin/previewd/internal/logbuf"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/probe"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. PREVIEWD_SERVER_LISTEN.
const EnvPrefix = "PREVIEWD"

// Config is the daemon configuration read from TOML.
type Config struct {
	Server     ServerConfig      `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	Log        logger.SlogConfig `toml:"log" mapstructure:"log"`
	Capture    logger.FileConfig `toml:"capture" mapstructure:"capture"`
	Probe      ProbeConfig       `toml:"probe" mapstructure:"probe"`
	Supervisor SupervisorConfig  `toml:"supervisor" mapstructure:"supervisor"`
	// History lists sink DSNs, see history/factory.
	History []string `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// MetricsConfig enables a separate /metrics listener when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type ProbeConfig struct {
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type SupervisorConfig struct {
	StopGrace   time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	LogCapacity int           `toml:"log_capacity" mapstructure:"log_capacity"`
	Env         []string      `toml:"env" mapstructure:"env"`
	EnvFiles    []string      `toml:"env_files" mapstructure:"env_files"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.file", "")
	v.SetDefault("capture.dir", "")
	v.SetDefault("capture.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("capture.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("capture.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("capture.compress", false)
	v.SetDefault("probe.timeout", probe.DefaultTimeout)
	v.SetDefault("supervisor.stop_grace", 2*time.Second)
	v.SetDefault("supervisor.log_capacity", logbuf.DefaultCapacity)
	v.SetDefault("supervisor.env", []string{})
	v.SetDefault("supervisor.env_files", []string{})
	v.SetDefault("history", []string{})
}

// Load reads the TOML file at path on top of the defaults. An empty path
// yields the defaults.
// PREVIEWD_<SECTION>_<KEY> environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.Probe.Timeout < 0 {
		errs = append(errs, errors.New("probe.timeout must not be negative"))
	}
	if c.Supervisor.StopGrace < 0 {
		errs = append(errs, errors.New("supervisor.stop_grace must not be negative"))
	}
	if c.Supervisor.LogCapacity < 0 {
		errs = append(errs, errors.New("supervisor.log_capacity must not be negative"))
	}
	for _, kv := range c.Supervisor.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("supervisor.env entry %q is not KEY=VALUE", kv))
		}
	}
	return errors.Join(errs...)
}

// Logger returns the logger configuration of the daemon.
func (c *Config) Logger() logger.Config {
	return logger.Config{Slog: c.Log, File: c.Capture}
}

// Environ returns the extra environment for dev servers: env_files in order,
// then the env list. Later entries win. The result is sorted.
func (s SupervisorConfig) Environ() ([]string, error) {
	m := make(map[string]string)
	for _, p := range s.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range s.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines. Blank lines and lines starting with #
// are ignored, as is a leading "export ".
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return m, nil
}
