// ABOUTME: Configuration loading for the chatsync CLI client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Chat    ChatConfig    `toml:"chat"`
}

type GatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

type ChatConfig struct {
	HistoryLimit int `toml:"history_limit"`
}

// defaultConfigPath returns XDG_CONFIG_HOME/chatsync/cli.toml or the
// ~/.config equivalent.
func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cli.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "chatsync", "cli.toml")
}

// loadConfig reads config from the given path, expanding environment variables.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if _, err := url.Parse(c.Gateway.URL); err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway.token is required (generate one with: chatsync-gateway token --user you)")
	}
	return nil
}

// wsURL derives the websocket endpoint from the gateway base URL.
func (c *Config) wsURL() string {
	ws := c.Gateway.URL
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return strings.TrimSuffix(ws, "/") + "/ws"
}
