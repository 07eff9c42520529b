package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.unichat/config.toml.
// Values may be overridden through UNICHAT_-prefixed environment variables.
type Config struct {
	Default ConfigDefault `koanf:"default" toml:"default"`
	Auth    ConfigAuth    `koanf:"auth" toml:"auth"`
}

// ConfigDefault holds general client settings.
type ConfigDefault struct {
	BaseURL  string `koanf:"baseurl" toml:"baseurl"`
	LogLevel string `koanf:"loglevel" toml:"loglevel"`
}

// ConfigAuth holds the stored session.
type ConfigAuth struct {
	Token       string `koanf:"token" toml:"token"`
	UserID      string `koanf:"userid" toml:"userid"`
	DisplayName string `koanf:"displayname" toml:"displayname"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.unichat, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".unichat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig layers defaults, the config file, and UNICHAT_ environment
// variables (e.g. UNICHAT_AUTH_TOKEN), lowest priority first.
func loadConfig() (*Config, error) {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"default.baseurl":  "http://localhost:5000",
		"default.loglevel": "info",
	}, "."), nil)

	path, err := configPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("cannot parse config: %w", err)
		}
	}

	k.Load(env.Provider("UNICHAT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "UNICHAT_")), "_", ".", -1)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := gotoml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.baseurl").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.baseurl)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "baseurl":
			cfg.Default.BaseURL = value
		case "loglevel":
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "userid":
			cfg.Auth.UserID = value
		case "displayname":
			cfg.Auth.DisplayName = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "unichat",
	Short: "UniChat messaging CLI",
	Long:  "Command-line interface for the UniChat messaging service.\nManage your session, browse conversations, send messages, and watch the realtime channel.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
