package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Options locates the configuration sources. Both paths are optional.
type Options struct {
	// ConfigPath is a JSON or YAML file (by extension).
	ConfigPath string
	// EnvFile is a dotenv file; a missing file is not an error.
	EnvFile string
}

// envBinding maps an environment key onto the config field it sets.
type envBinding struct {
	Key      string
	Required bool
	set      func(c *Config, v string)
	get      func(c *Config) string
}

var envBindings = []envBinding{
	{Key: "JIRA_HOST", Required: true, set: func(c *Config, v string) { c.Jira.Host = v }, get: func(c *Config) string { return c.Jira.Host }},
	{Key: "JIRA_USER", Required: true, set: func(c *Config, v string) { c.Jira.User = v }, get: func(c *Config) string { return c.Jira.User }},
	{Key: "JIRA_API_TOKEN", Required: true, set: func(c *Config, v string) { c.Jira.APIToken = v }, get: func(c *Config) string { return c.Jira.APIToken }},
	{Key: "JIRA_BOARD_NAME", Required: true, set: func(c *Config, v string) { c.Watch.Project = v }, get: func(c *Config) string { return c.Watch.Project }},
	{Key: "JIRA_STATUS_NAME", Required: true, set: func(c *Config, v string) { c.Watch.Status = v }, get: func(c *Config) string { return c.Watch.Status }},
	{Key: "TELEGRAM_BOT_TOKEN", Required: true, set: func(c *Config, v string) { c.Telegram.Token = v }, get: func(c *Config) string { return c.Telegram.Token }},
	{Key: "TELEGRAM_CHAT_ID", Required: true, set: func(c *Config, v string) { c.Telegram.ChatID = v }, get: func(c *Config) string { return c.Telegram.ChatID }},
	{Key: "TELEGRAM_LOG_CHAT_ID", set: func(c *Config, v string) { c.Telegram.LogChat = v }, get: func(c *Config) string { return c.Telegram.LogChat }},
	{Key: "LOG_LEVEL", set: func(c *Config, v string) { c.Logging.Level = v }, get: func(c *Config) string { return c.Logging.Level }},
}

const envCheckInterval = "CHECK_INTERVAL_MS"

// Load assembles the configuration: defaults, then the config file, then
// the dotenv file and process environment. It does not validate; see
// Validate.
func Load(opts Options) (*Config, error) {
	cfg := Defaults()
	if p := strings.TrimSpace(opts.ConfigPath); p != "" {
		if err := decodeFile(p, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", p, err)
		}
	}
	if err := applyEnv(cfg, opts.EnvFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile strictly decodes a JSON/YAML file over cfg.
func decodeFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	jb, err := toJSON(path, b)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if dec.More() {
		return fmt.Errorf("invalid config: trailing data")
	}
	return nil
}

// applyEnv overlays the dotenv file and the process environment (which wins).
func applyEnv(cfg *Config, envFile string) error {
	v := viper.New()
	if p := strings.TrimSpace(envFile); p != "" {
		v.SetConfigFile(p)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return fmt.Errorf("env file %s: %w", p, err)
		}
	}
	v.AutomaticEnv()

	for _, b := range envBindings {
		if v.IsSet(b.Key) {
			b.set(cfg, strings.TrimSpace(v.GetString(b.Key)))
		}
	}
	if v.IsSet(envCheckInterval) {
		raw := v.GetString(envCheckInterval)
		d, ok := IntervalFromMillis(raw)
		if !ok {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s=%q is not a positive number of milliseconds; using %s", envCheckInterval, raw, d))
		}
		cfg.Watch.Interval = d.String()
	}
	return nil
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &nf)
}
