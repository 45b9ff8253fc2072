// Package config handles loading and resolving kwchart configuration.
// Resolution order (later layers win):
//  1. built-in defaults
//  2. config.json in the current working directory
//  3. environment variables KWCHART_TOKEN, KWCHART_BASE_URL, KWCHART_TZ,
//     KWCHART_DB_PATH
//  4. CLI flags, applied by the caller after Load
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

const (
	DefaultConfigFile = "config.json"
	DefaultFormat     = "table"
	DefaultTimeout    = 30 * time.Second
	DefaultRate       = 5.0
	DefaultTimezone   = "UTC"
	DefaultLiveCap    = 1100
	DefaultLivePoll   = 10 * time.Second
	DefaultMQTTPrefix = "kwchart"

	EnvToken   = "KWCHART_TOKEN"
	EnvBaseURL = "KWCHART_BASE_URL"
	EnvTZ      = "KWCHART_TZ"
	EnvDBPath  = "KWCHART_DB_PATH"
)

// File is the on-disk representation of config.json.
type File struct {
	BaseURL       string  `json:"base_url"`
	Token         string  `json:"token"`
	Timezone      string  `json:"timezone"`
	DefaultFormat string  `json:"default_format"`
	Timeout       string  `json:"timeout"`
	Rate          float64 `json:"rate"`
	LiveCap       int     `json:"live_cap"`
	LivePoll      string  `json:"live_poll"`
	MQTTBroker    string  `json:"mqtt_broker"`
	MQTTPrefix    string  `json:"mqtt_prefix"`
	DBPath        string  `json:"db_path"`
}

// Config is the fully-resolved runtime configuration.
// All callers use this struct; the File is only read during loading.
type Config struct {
	BaseURL    string
	Token      string
	Timezone   string
	Format     string
	Timeout    time.Duration
	Rate       float64
	LiveCap    int
	LivePoll   time.Duration
	MQTTBroker string
	MQTTPrefix string
	DBPath     string
	ConfigPath string // path of the config.json that was loaded (empty if none found)

	// Runtime overrides set from CLI flags after Load()
	Quiet   bool
	Verbose bool
	Debug   bool
}

// Load resolves configuration from defaults, config.json and the
// environment. flagToken is the value of --token (empty if not set).
func Load(flagToken string) (*Config, error) {
	cfg := &Config{
		Timezone:   DefaultTimezone,
		Format:     DefaultFormat,
		Timeout:    DefaultTimeout,
		Rate:       DefaultRate,
		LiveCap:    DefaultLiveCap,
		LivePoll:   DefaultLivePoll,
		MQTTPrefix: DefaultMQTTPrefix,
	}

	f, path, err := loadFile()
	switch {
	case err == nil:
		if err := applyFile(cfg, f, path); err != nil {
			return nil, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	setString(&cfg.Token, os.Getenv(EnvToken))
	setString(&cfg.BaseURL, os.Getenv(EnvBaseURL))
	setString(&cfg.Timezone, os.Getenv(EnvTZ))
	setString(&cfg.DBPath, os.Getenv(EnvDBPath))

	if flagToken != "" {
		cfg.Token = flagToken
	}

	if cfg.DBPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DBPath = filepath.Join(home, ".kwchart", "kwchart.db")
		}
	}
	return cfg, nil
}

// Validate returns an error if the configuration cannot reach the API.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New(
			"measurement API base URL not set.\n\n" +
				"Set it one of these ways:\n" +
				"  1. CLI flag:        kwchart --base-url https://host/api ...\n" +
				"  2. Environment:     export " + EnvBaseURL + "=https://host/api\n" +
				"  3. config.json:     {\"base_url\": \"https://host/api\"}",
		)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// RedactedToken returns the token with most characters replaced by
// asterisks. Safe for logging and display.
func (c *Config) RedactedToken() string {
	if c.Token == "" {
		return ""
	}
	if len(c.Token) <= 4 {
		return "****"
	}
	return c.Token[:2] + "****" + c.Token[len(c.Token)-2:]
}

// loadFile reads config.json from the current working directory. A missing
// file yields an error wrapping os.ErrNotExist.
func loadFile() (*File, string, error) {
	path, err := filepath.Abs(DefaultConfigFile)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config.json: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, path, nil
}

// applyFile copies values from a parsed File into cfg, skipping any fields
// that are zero/empty. Durations accept day and week units ("1d").
func applyFile(cfg *Config, f *File, path string) error {
	cfg.ConfigPath = path
	setString(&cfg.BaseURL, f.BaseURL)
	setString(&cfg.Token, f.Token)
	setString(&cfg.Timezone, f.Timezone)
	setString(&cfg.Format, f.DefaultFormat)
	setString(&cfg.MQTTBroker, f.MQTTBroker)
	setString(&cfg.MQTTPrefix, f.MQTTPrefix)
	setString(&cfg.DBPath, f.DBPath)
	if f.Timeout != "" {
		d, err := str2duration.ParseDuration(f.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout %q: %w", f.Timeout, err)
		}
		cfg.Timeout = d
	}
	if f.LivePoll != "" {
		d, err := str2duration.ParseDuration(f.LivePoll)
		if err != nil {
			return fmt.Errorf("config live_poll %q: %w", f.LivePoll, err)
		}
		cfg.LivePoll = d
	}
	if f.Rate > 0 {
		cfg.Rate = f.Rate
	}
	if f.LiveCap > 0 {
		cfg.LiveCap = f.LiveCap
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Template returns a File populated with sensible defaults, suitable for
// writing an initial config.json via `kwchart config init`.
func Template() File {
	return File{
		BaseURL:       "",
		Token:         "",
		Timezone:      DefaultTimezone,
		DefaultFormat: DefaultFormat,
		Timeout:       "30s",
		Rate:          DefaultRate,
		LiveCap:       DefaultLiveCap,
		LivePoll:      "10s",
		MQTTBroker:    "",
		MQTTPrefix:    DefaultMQTTPrefix,
	}
}

// WriteFile serialises a File to the given path.
func WriteFile(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}
