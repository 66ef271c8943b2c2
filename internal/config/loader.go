package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".remedian"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file. REMEDIAN_CONFIG points
// at an explicit file; REMEDIAN_HOME relocates the state directory.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("REMEDIAN_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("REMEDIAN_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults. A missing file is not an
// error; an unreadable or invalid one is.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if cfg.Paths.Home == "" {
		home, err := resolveHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.Paths.Home = home
	}

	// Env overrides per group.
	if err := processEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func processEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		target any
	}{
		{"REMEDIAN_PATHS", &cfg.Paths},
		{"REMEDIAN_MODEL", &cfg.Model},
		{"REMEDIAN_OPENAI", &cfg.OpenAI},
		{"REMEDIAN_APPROVAL", &cfg.Approval},
		{"REMEDIAN_POOLS", &cfg.Pools},
		{"REMEDIAN_KAFKA", &cfg.Kafka},
		{"REMEDIAN_EXEC", &cfg.Exec},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return fmt.Errorf("env override %s: %w", g.prefix, err)
		}
	}
	return nil
}

// Save writes the configuration file, creating the state directory.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
