package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/derickschaefer/kwchart/internal/config"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// chdir changes the working directory to dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

// writeConfig writes a config.json into dir and changes into dir.
func writeConfig(t *testing.T, dir string, f config.File) {
	t.Helper()
	if err := config.WriteFile(filepath.Join(dir, "config.json"), f); err != nil {
		t.Fatalf("write config: %v", err)
	}
	chdir(t, dir)
}

// clearEnv unsets every KWCHART_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvToken, config.EnvBaseURL, config.EnvTZ, config.EnvDBPath} {
		t.Setenv(k, "")
	}
}

// ─── Defaults ─────────────────────────────────────────────────────────────────

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Format != config.DefaultFormat {
		t.Errorf("Format: expected %q, got %q", config.DefaultFormat, cfg.Format)
	}
	if cfg.Timeout != config.DefaultTimeout || cfg.LivePoll != config.DefaultLivePoll {
		t.Errorf("durations: timeout=%v live_poll=%v", cfg.Timeout, cfg.LivePoll)
	}
	if cfg.LiveCap != config.DefaultLiveCap || cfg.Rate != config.DefaultRate {
		t.Errorf("live_cap=%d rate=%g", cfg.LiveCap, cfg.Rate)
	}
	if cfg.Timezone != "UTC" || cfg.MQTTPrefix != config.DefaultMQTTPrefix {
		t.Errorf("timezone=%q mqtt_prefix=%q", cfg.Timezone, cfg.MQTTPrefix)
	}
	if cfg.DBPath == "" {
		t.Error("DBPath should have a home-dir based default")
	}
	if cfg.ConfigPath != "" {
		t.Errorf("ConfigPath should be empty when no file is found, got %q", cfg.ConfigPath)
	}
}

// ─── Config file loading ──────────────────────────────────────────────────────

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	writeConfig(t, t.TempDir(), config.File{
		BaseURL:       "https://ems.example.com/api",
		Token:         "filetoken",
		Timezone:      "Europe/Berlin",
		DefaultFormat: "json",
		Timeout:       "1m",
		Rate:          2.5,
		LiveCap:       500,
		LivePoll:      "1d",
		MQTTBroker:    "tcp://broker:1883",
		DBPath:        "/tmp/test.db",
	})

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://ems.example.com/api" || cfg.Token != "filetoken" {
		t.Errorf("base_url/token: %q %q", cfg.BaseURL, cfg.Token)
	}
	if cfg.Timezone != "Europe/Berlin" || cfg.Format != "json" {
		t.Errorf("timezone/format: %q %q", cfg.Timezone, cfg.Format)
	}
	if cfg.Timeout != time.Minute {
		t.Errorf("Timeout: expected 1m, got %v", cfg.Timeout)
	}
	if cfg.LivePoll != 24*time.Hour {
		t.Errorf("LivePoll: day units should parse, got %v", cfg.LivePoll)
	}
	if cfg.Rate != 2.5 || cfg.LiveCap != 500 {
		t.Errorf("rate/live_cap: %g %d", cfg.Rate, cfg.LiveCap)
	}
	if cfg.MQTTBroker != "tcp://broker:1883" || cfg.MQTTPrefix != config.DefaultMQTTPrefix {
		t.Errorf("mqtt: %q %q", cfg.MQTTBroker, cfg.MQTTPrefix)
	}
	if !strings.HasSuffix(cfg.ConfigPath, "config.json") {
		t.Errorf("ConfigPath should point at config.json, got %q", cfg.ConfigPath)
	}
}

func TestLoadInvalidDurationErrors(t *testing.T) {
	clearEnv(t)
	writeConfig(t, t.TempDir(), config.File{Timeout: "not-a-duration"})
	if _, err := config.Load(""); err == nil {
		t.Error("an invalid timeout should be reported")
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.json"), []byte("{"), 0600)
	chdir(t, dir)
	if _, err := config.Load(""); err == nil {
		t.Error("a malformed config.json should be reported")
	}
}

// ─── Priority ─────────────────────────────────────────────────────────────────

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	writeConfig(t, t.TempDir(), config.File{Token: "filetoken", BaseURL: "https://file", Timezone: "UTC"})
	t.Setenv(config.EnvToken, "envtoken")
	t.Setenv(config.EnvBaseURL, "https://env")
	t.Setenv(config.EnvTZ, "America/New_York")
	t.Setenv(config.EnvDBPath, "/custom/kwchart.db")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "envtoken" || cfg.BaseURL != "https://env" || cfg.Timezone != "America/New_York" || cfg.DBPath != "/custom/kwchart.db" {
		t.Errorf("environment should override the file: %+v", cfg)
	}
}

func TestFlagTokenOverridesEnv(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv(config.EnvToken, "envtoken")

	cfg, _ := config.Load("flagtoken")
	if cfg.Token != "flagtoken" {
		t.Errorf("flag should win, got %q", cfg.Token)
	}
	cfg, _ = config.Load("")
	if cfg.Token != "envtoken" {
		t.Errorf("empty flag should not override, got %q", cfg.Token)
	}
}

// ─── Validate ─────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	if err := (&config.Config{BaseURL: "https://x", Timezone: "UTC"}).Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}
	err := (&config.Config{}).Validate()
	if err == nil || !strings.Contains(err.Error(), "base URL") {
		t.Errorf("missing base URL should be reported, got %v", err)
	}
	if err := (&config.Config{BaseURL: "https://x", Timezone: "Mars/Olympus"}).Validate(); err == nil {
		t.Error("unknown timezone should be reported")
	}
}

func TestLocationDefaultsToUTC(t *testing.T) {
	loc, err := (&config.Config{}).Location()
	if err != nil || loc != time.UTC {
		t.Errorf("expected UTC, got %v %v", loc, err)
	}
}

// ─── RedactedToken ────────────────────────────────────────────────────────────

func TestRedactedToken(t *testing.T) {
	cfg := &config.Config{Token: "abcdefghij"}
	if got := cfg.RedactedToken(); got != "ab****ij" {
		t.Errorf("expected ab****ij, got %q", got)
	}
	for _, tok := range []string{"a", "abcd"} {
		if got := (&config.Config{Token: tok}).RedactedToken(); got != "****" {
			t.Errorf("short token %q: got %q", tok, got)
		}
	}
	if got := (&config.Config{}).RedactedToken(); got != "" {
		t.Errorf("empty token should stay empty, got %q", got)
	}
}

// ─── WriteFile / Template ─────────────────────────────────────────────────────

func TestWriteFileTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.WriteFile(path, config.Template()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file permissions: expected 0600, got %04o", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	var f config.File
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("WriteFile produced invalid JSON: %v", err)
	}
	if f.Timeout != "30s" || f.LiveCap != config.DefaultLiveCap || f.Token != "" {
		t.Errorf("unexpected template: %+v", f)
	}
}
