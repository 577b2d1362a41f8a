package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"comfygallery/logger"
)

type (
	Config struct {
		Server  Server        `toml:"server" validate:"required"`
		Gallery Gallery       `toml:"gallery" validate:"required"`
		Logging logger.Config `toml:"logging"`
	}

	Server struct {
		Listen string `toml:"listen" validate:"required,hostname_port"`
	}

	Gallery struct {
		// Root is the media directory served and watched, typically
		// the host application's output directory.
		Root string `toml:"root" validate:"required"`
		// ScanWorkers bounds concurrent per-file metadata extraction.
		ScanWorkers int `toml:"scanWorkers" validate:"gte=0"`
		// CachePath is the sqlite metadata cache location. Empty
		// disables caching.
		CachePath string `toml:"cachePath"`
		// DebounceMS is the file-watch debounce interval.
		DebounceMS int `toml:"debounceMs" validate:"gte=0"`
	}
)

// Debounce returns the watch debounce interval with its default
// applied.
func (g Gallery) Debounce() time.Duration {
	if g.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(g.DebounceMS) * time.Millisecond
}

// Workers returns the scan worker count with its default applied.
func (g Gallery) Workers() int {
	if g.ScanWorkers <= 0 {
		return 4
	}
	return g.ScanWorkers
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// LoadConfig loads and validates the configuration file. It returns a
// pointer to the Config struct or an error if loading fails.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path // fallback to relative path
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a runnable configuration for when no config file is
// given on the command line.
func Default(root string) *Config {
	return &Config{
		Server:  Server{Listen: "127.0.0.1:8190"},
		Gallery: Gallery{Root: root},
		Logging: logger.Config{Level: logger.LevelInfo, Format: "text"},
	}
}
