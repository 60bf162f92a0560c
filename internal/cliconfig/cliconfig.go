// Package cliconfig resolves the CLI's configuration from, in order of
// precedence, environment variables (with .env loading), the TOML
// config file under ~/.smooth, and built-in defaults.
package cliconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const configFileName = "config.toml"

// Config is the resolved CLI configuration.
type Config struct {
	APIKey       string        `toml:"api_key"`
	BaseURL      string        `toml:"base_url,omitempty"`
	APIVersion   string        `toml:"api_version,omitempty"`
	Timeout      time.Duration `toml:"-"`
	TimeoutSecs  int           `toml:"timeout_seconds,omitempty"`
	Retries      int           `toml:"retries,omitempty"`
	HistoryPath  string        `toml:"history_path,omitempty"`
	OutputJSON   bool          `toml:"output_json,omitempty"`
	SmoothDir    string        `toml:"-"`
}

// Dir returns the CLI's state directory, honoring SMOOTH_HOME.
func Dir() (string, error) {
	if d := os.Getenv("SMOOTH_HOME"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".smooth"), nil
}

// Load resolves the configuration. A missing config file is not an
// error; a malformed one is.
func Load() (Config, error) {
	loadDotEnv(".env")

	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{SmoothDir: dir}
	path := filepath.Join(dir, configFileName)
	if b, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.SmoothDir = dir
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if v := os.Getenv("CIRCLEMIND_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("SMOOTH_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("SMOOTH_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}
	if cfg.TimeoutSecs > 0 {
		cfg.Timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(dir, "history.db")
	}
	return cfg, nil
}

// Save writes the configuration file atomically.
func Save(cfg Config) error {
	dir := cfg.SmoothDir
	if dir == "" {
		var err error
		dir, err = Dir()
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if cfg.Timeout > 0 {
		cfg.TimeoutSecs = int(cfg.Timeout / time.Second)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := filepath.Join(dir, configFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
