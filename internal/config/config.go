// Package config loads replay settings from a global file, a project file
// and REPLAY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configurable replay settings.
type Config struct {
	// Endpoint is the collector URL segments are uploaded to.
	Endpoint string            `mapstructure:"endpoint"`
	Headers  map[string]string `mapstructure:"headers"`

	SessionSampleRate *float64 `mapstructure:"session_sample_rate"`
	DisableBuffering  bool     `mapstructure:"disable_buffering"`
	StickySession     *bool    `mapstructure:"sticky_session"`
	// Compression names the payload codec; "none" sends plain JSON.
	Compression string `mapstructure:"compression"`

	FlushMinDelay     time.Duration `mapstructure:"flush_min_delay"`
	FlushMaxDelay     time.Duration `mapstructure:"flush_max_delay"`
	MinReplayDuration time.Duration `mapstructure:"min_replay_duration"`
	MaxReplayDuration time.Duration `mapstructure:"max_replay_duration"`
	MutationLimit     int           `mapstructure:"mutation_limit"`

	ArchiveDSN    string `mapstructure:"archive_dsn"`
	CollectorAddr string `mapstructure:"collector_addr"`
	DefaultFormat string `mapstructure:"default_format"` // "markdown" | "json"
	OutputDir     string `mapstructure:"output_dir"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig selects the log level, handler and optional rotating file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "text" | "json" | "color"
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EnvPrefix prefixes every environment override, e.g. REPLAY_ENDPOINT.
const EnvPrefix = "REPLAY"

var envKeys = []string{
	"endpoint", "session_sample_rate", "disable_buffering", "sticky_session", "compression",
	"flush_min_delay", "flush_max_delay", "min_replay_duration", "max_replay_duration", "mutation_limit",
	"archive_dsn", "collector_addr", "default_format", "output_dir",
	"log.level", "log.format", "log.file", "log.max_size_mb", "log.max_backups", "log.max_age_days", "log.compress",
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Endpoint:      "http://127.0.0.1:8844/api/replay",
		Headers:       map[string]string{},
		Compression:   "zlib",
		CollectorAddr: "127.0.0.1:8844",
		DefaultFormat: "markdown",
		OutputDir:     ".",
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Dir returns ~/.config/replay.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "replay"), nil
}

// LoadGlobal reads ~/.config/replay/config.{toml,yaml,json}.
// Returns defaults if no file is present.
func LoadGlobal() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	cfg, err := loadFirst(dir, "config")
	if err != nil || cfg != nil {
		return cfg, err
	}
	d := Defaults()
	return &d, nil
}

// LoadProject reads .replay.{toml,yaml,json} in the current working directory.
// Returns nil (no error) if no file is present.
func LoadProject() (*Config, error) {
	return loadFirst(".", ".replay")
}

func loadFirst(dir, base string) (*Config, error) {
	for _, ext := range []string{".toml", ".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, base+ext)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		return LoadFile(path)
	}
	return nil, nil
}

// LoadFile parses the config file at path; the format follows the extension.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// LoadEnv reads REPLAY_* overrides. Unset variables leave fields empty.
func LoadEnv() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ParseError{Path: "environment", Err: err}
	}
	return &cfg, nil
}

// Load merges the global file, the project file and the environment.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Defaults(), err
	}
	project, err := LoadProject()
	if err != nil {
		return Defaults(), err
	}
	env, err := LoadEnv()
	if err != nil {
		return Defaults(), err
	}
	files := Merge(global, project)
	return Merge(&files, env), nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, c := range []*Config{global, project} {
		if c != nil {
			result.apply(c)
		}
	}
	return result
}

func (r *Config) apply(c *Config) {
	setString(&r.Endpoint, c.Endpoint)
	if len(c.Headers) > 0 {
		merged := make(map[string]string, len(r.Headers)+len(c.Headers))
		for k, v := range r.Headers {
			merged[k] = v
		}
		for k, v := range c.Headers {
			merged[k] = v
		}
		r.Headers = merged
	}
	if c.SessionSampleRate != nil {
		rate := *c.SessionSampleRate
		r.SessionSampleRate = &rate
	}
	if c.DisableBuffering {
		r.DisableBuffering = true
	}
	if c.StickySession != nil {
		sticky := *c.StickySession
		r.StickySession = &sticky
	}
	setString(&r.Compression, c.Compression)
	setDuration(&r.FlushMinDelay, c.FlushMinDelay)
	setDuration(&r.FlushMaxDelay, c.FlushMaxDelay)
	setDuration(&r.MinReplayDuration, c.MinReplayDuration)
	setDuration(&r.MaxReplayDuration, c.MaxReplayDuration)
	if c.MutationLimit != 0 {
		r.MutationLimit = c.MutationLimit
	}
	setString(&r.ArchiveDSN, c.ArchiveDSN)
	setString(&r.CollectorAddr, c.CollectorAddr)
	setString(&r.DefaultFormat, c.DefaultFormat)
	setString(&r.OutputDir, c.OutputDir)

	setString(&r.Log.Level, c.Log.Level)
	setString(&r.Log.Format, c.Log.Format)
	setString(&r.Log.File, c.Log.File)
	if c.Log.MaxSizeMB > 0 {
		r.Log.MaxSizeMB = c.Log.MaxSizeMB
	}
	if c.Log.MaxBackups > 0 {
		r.Log.MaxBackups = c.Log.MaxBackups
	}
	if c.Log.MaxAgeDays > 0 {
		r.Log.MaxAgeDays = c.Log.MaxAgeDays
	}
	if c.Log.Compress {
		r.Log.Compress = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// ParseError is returned when a config source exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
