package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds the resolved runtime configuration.
type ServerConfig struct {
	HTTPPort        int
	MetricsEnabled  bool
	IdentityField   string
	MaxMessageBytes int64
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8084,
		MetricsEnabled:  true,
		IdentityField:   "id",
		MaxMessageBytes: 1048576, // 1MB
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Protocol ProtocolSection `toml:"protocol"`
}

type ServerSection struct {
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
	Metrics      bool   `toml:"metrics"`
}

type ProtocolSection struct {
	IdentityField   string `toml:"identity_field"`
	MaxMessageBytes int64  `toml:"max_message_bytes"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:     8084,
			DatabasePath: "~/.wirehub/wirehub.db",
			Metrics:      true,
		},
		Protocol: ProtocolSection{
			IdentityField:   "id",
			MaxMessageBytes: 1048576,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(expanded, config); err != nil {
			// Can't write (permissions?), still run with defaults
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(expanded, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Wirehub Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	cfg.MetricsEnabled = c.Server.Metrics

	if strings.TrimSpace(c.Protocol.IdentityField) != "" {
		cfg.IdentityField = c.Protocol.IdentityField
	}
	if c.Protocol.MaxMessageBytes != 0 {
		cfg.MaxMessageBytes = c.Protocol.MaxMessageBytes
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
