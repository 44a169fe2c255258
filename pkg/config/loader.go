package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"qr-spider/pkg/utils"
)

const (
	AppName           = "qr-spider"
	DefaultConfigFile = "config.yaml"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/qr-spider/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, DefaultConfigFile)
}

// DefaultCacheDir returns the directory used for an on-disk decode cache
// when cache.dir is set to "xdg".
func DefaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName, "decode-cache")
}

// Load reads a YAML config file and validates it. An empty path falls back
// to DefaultConfigPath, and a missing default file yields the built-in
// defaults. A missing explicit path is an error.
func Load(path string) (AppConfig, []string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	var cfg AppConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return AppConfig{}, nil, fmt.Errorf("%w: parsing %s: %v", utils.ErrConfigValidation, path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// built-in defaults
	default:
		return AppConfig{}, nil, fmt.Errorf("%w: reading %s: %v", utils.ErrConfigValidation, path, err)
	}

	if cfg.Cache.Dir == "xdg" {
		cfg.Cache.Dir = DefaultCacheDir()
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return AppConfig{}, warnings, err
	}
	return cfg, warnings, nil
}
