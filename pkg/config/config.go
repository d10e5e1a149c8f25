package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix for environment variable overrides,
// e.g. STORE_PROVIDER_OPENSTORE_API.
const envPrefix = "store_provider"

// Config represents the store-provider configuration.
type Config struct {
	// Directory where cached catalog data lives
	CacheDir string `json:"cache_dir" envconfig:"CACHE_DIR"`
	// Directory where installed apps and their database live
	DataDir string `json:"data_dir" envconfig:"DATA_DIR"`
	// Directory with the distribution's repository definitions
	SystemRepoDir string `json:"system_repo_dir" envconfig:"SYSTEM_REPO_DIR"`
	// Directory with administrator-provided repository definitions;
	// entries here shadow same-named system entries
	UserRepoDir string `json:"user_repo_dir" envconfig:"USER_REPO_DIR"`
	// Base URL of the OpenStore catalog API
	OpenStoreAPI string `json:"openstore_api" envconfig:"OPENSTORE_API"`
	// How long the daemon may sit idle before shutting down
	IdleTimeout time.Duration `json:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
}

// Directories represents the on-disk layout derived from the configuration.
type Directories struct {
	// Root cache directory
	Cache string
	// Staging area for downloaded repository indexes
	RepoCache string
	// Staging area for downloaded install artifacts
	Downloads string
	// Directory holding the catalog database files
	DB string
	// Root for extracted apps and the installed-apps database
	Apps string
	// Directory for generated desktop entries
	DesktopEntries string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		CacheDir:      filepath.Join(homeDir, ".cache", "store-provider"),
		DataDir:       filepath.Join(homeDir, ".local", "store-provider"),
		SystemRepoDir: "/usr/lib/store-provider/repos",
		UserRepoDir:   "/etc/store-provider/repos",
		OpenStoreAPI:  "https://open-store.io/api/v4/apps",
		IdleTimeout:   120 * time.Second,
	}
}

// GetDirectories returns the directory layout based on the configuration.
func (c *Config) GetDirectories() *Directories {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Directories{
		Cache:          c.CacheDir,
		RepoCache:      filepath.Join(c.CacheDir, "repo"),
		Downloads:      filepath.Join(c.CacheDir, "downloads"),
		DB:             filepath.Join(c.CacheDir, "db"),
		Apps:           c.DataDir,
		DesktopEntries: filepath.Join(homeDir, ".local", "share", "applications"),
	}
}

// Load loads the configuration from the default location. A missing config
// file is not an error; defaults are used. Environment variables with the
// STORE_PROVIDER_ prefix override values from the file.
func Load() (*Config, error) {
	config := DefaultConfig()

	configFile, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := envconfig.Process(envPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to process environment overrides: %w", err)
	}

	return config, nil
}

// Save saves the configuration to the default location.
func (c *Config) Save() error {
	configFile, err := configPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// EnsureDirectories creates all necessary daemon directories if they don't exist.
func (c *Config) EnsureDirectories() error {
	dirs := c.GetDirectories()
	for _, dir := range []string{
		dirs.Cache,
		dirs.RepoCache,
		dirs.Downloads,
		dirs.DB,
		dirs.Apps,
		dirs.DesktopEntries,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func configPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "store-provider", "config.json"), nil
}
