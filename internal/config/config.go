// Package config loads the proxy recorder configuration.
//
// Values are layered, later sources winning: defaults, a YAML file,
// MCREC_* environment variables, then command line flags applied by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of one proxy session.
type Config struct {
	Listen    string    `yaml:"listen"`
	Upstream  string    `yaml:"upstream"`
	Recording Recording `yaml:"recording"`
	Log       Log       `yaml:"log"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Recording decides whether a session is recorded and where to.
type Recording struct {
	Enabled                 bool   `yaml:"enabled"`
	Path                    string `yaml:"path"`
	ServerName              string `yaml:"server_name"`
	ExcludeLoginCompression bool   `yaml:"exclude_login_compression"`
	Generator               string `yaml:"generator"`
}

// Log selects the log level and format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics enables the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Environment variable names.
const (
	EnvListen          = "MCREC_LISTEN"
	EnvUpstream        = "MCREC_UPSTREAM"
	EnvRecord          = "MCREC_RECORD"
	EnvRecordPath      = "MCREC_RECORD_PATH"
	EnvServerName      = "MCREC_SERVER_NAME"
	EnvExcludeCompress = "MCREC_EXCLUDE_LOGIN_COMPRESSION"
	EnvLogLevel        = "MCREC_LOG_LEVEL"
	EnvLogFormat       = "MCREC_LOG_FORMAT"
	EnvMetricsListen   = "MCREC_METRICS_LISTEN"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   ":25566",
		Upstream: "127.0.0.1:25565",
		Recording: Recording{
			Enabled:                 true,
			Path:                    "session.mcpr",
			ExcludeLoginCompression: true,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Listen: ":9464",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if path is
// not empty, and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides values present in the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str(EnvListen, &c.Listen)
	str(EnvUpstream, &c.Upstream)
	str(EnvRecordPath, &c.Recording.Path)
	str(EnvServerName, &c.Recording.ServerName)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	if v, ok := lookup(EnvMetricsListen); ok && v != "" {
		c.Metrics.Listen = v
		c.Metrics.Enabled = true
	}
	return errors.Join(
		boolean(EnvRecord, &c.Recording.Enabled),
		boolean(EnvExcludeCompress, &c.Recording.ExcludeLoginCompression),
	)
}

// ServerName returns the label written to the replay, the upstream address
// unless one is configured.
func (c *Config) ServerName() string {
	if c.Recording.ServerName != "" {
		return c.Recording.ServerName
	}
	return c.Upstream
}

// Validate reports configuration that cannot start a session.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Upstream == "" {
		errs = append(errs, errors.New("upstream address is required"))
	}
	if c.Recording.Enabled && c.Recording.Path == "" {
		errs = append(errs, errors.New("recording.path is required when recording is enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}
