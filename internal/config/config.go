package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/tally/internal/logging"
)

// Config is the resolved client configuration.
type Config struct {
	Path        string
	APIURL      string `validate:"required"`
	LogDir      string `validate:"required"`
	LogLevel    string `validate:"oneof=debug info warn warning error"`
	MetricsBind string `validate:"omitempty,hostname_port"`
	Sync        Sync
	TTL         TTL
}

// Sync tunes the data manager.
type Sync struct {
	Interval         time.Duration `validate:"gte=1s"`
	MinResyncGap     time.Duration `validate:"gte=0s"`
	ProbeInterval    time.Duration `validate:"gte=1s"`
	LoadingThreshold int           `validate:"gte=0"`
}

// TTL is the maximum cache age per store.
type TTL struct {
	Profile   time.Duration `validate:"gte=1s"`
	Events    time.Duration `validate:"gte=1s"`
	Tasks     time.Duration `validate:"gte=1s"`
	Sanctions time.Duration `validate:"gte=1s"`
}

const (
	defaultConfigPath = "~/.config/tally/config.toml"
	defaultLogDir     = "~/.local/share/tally/logs"
	defaultAPIURL     = "127.0.0.1:8787"
	defaultLogLevel   = "info"
)

var validate = validator.New()

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIURL:   defaultAPIURL,
		LogDir:   mustExpand(defaultLogDir),
		LogLevel: defaultLogLevel,
		Sync: Sync{
			Interval:         5 * time.Minute,
			MinResyncGap:     2 * time.Minute,
			ProbeInterval:    15 * time.Second,
			LoadingThreshold: 2,
		},
		TTL: TTL{
			Profile:   5 * time.Minute,
			Events:    10 * time.Minute,
			Tasks:     5 * time.Minute,
			Sanctions: 5 * time.Minute,
		},
	}
}

type rawConfig struct {
	APIURL      string `toml:"api_url"`
	LogDir      string `toml:"log_dir"`
	LogLevel    string `toml:"log_level"`
	MetricsBind string `toml:"metrics_bind"`
	Sync        struct {
		Interval         string `toml:"interval"`
		MinResyncGap     string `toml:"min_resync_gap"`
		ProbeInterval    string `toml:"probe_interval"`
		LoadingThreshold *int   `toml:"loading_threshold"`
	} `toml:"sync"`
	TTL struct {
		Profile   string `toml:"profile"`
		Events    string `toml:"events"`
		Tasks     string `toml:"tasks"`
		Sanctions string `toml:"sanctions"`
	} `toml:"ttl"`
}

// Load reads the config at path (or the default location), falling back to
// defaults when the file is missing and for every empty field.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.Path = resolved

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	setString(&cfg.APIURL, raw.APIURL)
	setString(&cfg.LogLevel, strings.ToLower(raw.LogLevel))
	setString(&cfg.MetricsBind, raw.MetricsBind)
	if dir := strings.TrimSpace(raw.LogDir); dir != "" {
		cfg.LogDir = mustExpand(dir)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"sync.interval", raw.Sync.Interval, &cfg.Sync.Interval},
		{"sync.min_resync_gap", raw.Sync.MinResyncGap, &cfg.Sync.MinResyncGap},
		{"sync.probe_interval", raw.Sync.ProbeInterval, &cfg.Sync.ProbeInterval},
		{"ttl.profile", raw.TTL.Profile, &cfg.TTL.Profile},
		{"ttl.events", raw.TTL.Events, &cfg.TTL.Events},
		{"ttl.tasks", raw.TTL.Tasks, &cfg.TTL.Tasks},
		{"ttl.sanctions", raw.TTL.Sanctions, &cfg.TTL.Sanctions},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %s: %w", d.key, err)
		}
	}
	if raw.Sync.LoadingThreshold != nil {
		cfg.Sync.LoadingThreshold = *raw.Sync.LoadingThreshold
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (got %v)", fe.Namespace(), fe.Tag()+paramSuffix(fe.Param()), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LogPath returns the path of tally's own log file.
func (c Config) LogPath() string {
	if strings.TrimSpace(c.LogDir) == "" {
		return filepath.Join(mustExpand(defaultLogDir), logging.FileName)
	}
	return filepath.Join(c.LogDir, logging.FileName)
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

func setString(dst *string, v string) {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		*dst = trimmed
	}
}

func setDuration(dst *time.Duration, v string) error {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
