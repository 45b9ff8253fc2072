package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/derickschaefer/kwchart/internal/config"
	"github.com/derickschaefer/kwchart/internal/render"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage kwchart configuration",
	Long:  `Read and write kwchart configuration stored in config.json.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a template config.json in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config.json already exists at %s (delete it first to re-initialise)", path)
		}
		if err := config.WriteFile(path, config.Template()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "  Edit it and set base_url and token to get started.")
		return nil
	},
}

var configGetShowSecrets bool

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}

		token := cfg.RedactedToken()
		if configGetShowSecrets {
			token = cfg.Token
		}
		if token == "" {
			token = "(not set)"
		}
		src := "(not found)"
		if cfg.ConfigPath != "" {
			src = cfg.ConfigPath
		}

		if resolveFormat(cfg.Format) == render.FormatJSON {
			type configOut struct {
				BaseURL    string  `json:"base_url"`
				Token      string  `json:"token"`
				Timezone   string  `json:"timezone"`
				Format     string  `json:"default_format"`
				Timeout    string  `json:"timeout"`
				Rate       float64 `json:"rate"`
				LiveCap    int     `json:"live_cap"`
				LivePoll   string  `json:"live_poll"`
				MQTTBroker string  `json:"mqtt_broker"`
				MQTTPrefix string  `json:"mqtt_prefix"`
				DBPath     string  `json:"db_path"`
				ConfigFile string  `json:"config_file"`
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(configOut{
				BaseURL:    cfg.BaseURL,
				Token:      token,
				Timezone:   cfg.Timezone,
				Format:     cfg.Format,
				Timeout:    cfg.Timeout.String(),
				Rate:       cfg.Rate,
				LiveCap:    cfg.LiveCap,
				LivePoll:   cfg.LivePoll.String(),
				MQTTBroker: cfg.MQTTBroker,
				MQTTPrefix: cfg.MQTTPrefix,
				DBPath:     cfg.DBPath,
				ConfigFile: src,
			})
		}

		printKVTableTo(cmd.OutOrStdout(), [][]string{
			{"base_url", cfg.BaseURL},
			{"token", token},
			{"timezone", cfg.Timezone},
			{"default_format", cfg.Format},
			{"timeout", cfg.Timeout.String()},
			{"rate", fmt.Sprintf("%.1f req/s", cfg.Rate)},
			{"live_cap", strconv.Itoa(cfg.LiveCap)},
			{"live_poll", cfg.LivePoll.String()},
			{"mqtt_broker", lo.Ternary(cfg.MQTTBroker == "", "(not set)", cfg.MQTTBroker)},
			{"mqtt_prefix", cfg.MQTTPrefix},
			{"db_path", cfg.DBPath},
			{"config_file", src},
		})
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in config.json",
	Example: `  kwchart config set base_url https://api.example.com/v1
  kwchart config set timezone Europe/Berlin
  kwchart config set live_poll 5s`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])

		f, path, err := loadConfigFile()
		if err != nil {
			path = config.DefaultConfigFile
			tmpl := config.Template()
			f = &tmpl
		}
		if err := setConfigKey(f, key, args[1]); err != nil {
			return err
		}
		if err := config.WriteFile(path, *f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s in %s\n", key, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configGetCmd.Flags().BoolVar(&configGetShowSecrets, "show-secrets", false, "show the token in plain text")
}

var configKeys = []string{
	"base_url", "token", "timezone", "default_format", "timeout", "rate",
	"live_cap", "live_poll", "mqtt_broker", "mqtt_prefix", "db_path",
}

// setConfigKey validates val and assigns it to key in f.
func setConfigKey(f *config.File, key, val string) error {
	switch key {
	case "base_url":
		f.BaseURL = val
	case "token":
		f.Token = val
	case "timezone", "tz":
		if _, err := time.LoadLocation(val); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		f.Timezone = val
	case "default_format", "format":
		if !lo.Contains(render.Formats, val) {
			return fmt.Errorf("default_format must be one of %s", strings.Join(render.Formats, "|"))
		}
		f.DefaultFormat = val
	case "timeout", "live_poll":
		if d, err := str2duration.ParseDuration(val); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration such as 30s", key)
		}
		if key == "timeout" {
			f.Timeout = val
		} else {
			f.LivePoll = val
		}
	case "rate":
		r, err := strconv.ParseFloat(val, 64)
		if err != nil || r <= 0 {
			return fmt.Errorf("rate must be a positive number")
		}
		f.Rate = r
	case "live_cap":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return fmt.Errorf("live_cap must be a positive integer")
		}
		f.LiveCap = n
	case "mqtt_broker":
		f.MQTTBroker = val
	case "mqtt_prefix":
		f.MQTTPrefix = val
	case "db_path":
		f.DBPath = val
	default:
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s", key, strings.Join(configKeys, ", "))
	}
	return nil
}

// loadConfigFile reads config.json from cwd; used by configSetCmd.
func loadConfigFile() (*config.File, string, error) {
	path := config.DefaultConfigFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var f config.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", err
	}
	return &f, path, nil
}
