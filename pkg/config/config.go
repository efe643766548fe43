package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Config holds every runtime option for the skim daemon. Durations are TOML
// strings ("60s", "2m"); zero values are replaced with defaults on load.
type Config struct {
	DatabasePath string `toml:"database_path"`
	ListenAddr   string `toml:"listen_addr"`

	// BaseURL is the public URL this instance is reachable at. WebSub
	// callback URLs are derived from it, so it must be externally routable
	// for push delivery to work.
	BaseURL string `toml:"base_url"`

	MountPath string `toml:"mount_path"`
	AuthToken string `toml:"auth_token"`
	Owner     string `toml:"owner"`

	BatchConcurrency  int      `toml:"batch_concurrency"`
	SchedulerInterval Duration `toml:"scheduler_interval"`
	FetchTimeout      Duration `toml:"fetch_timeout"`
	DiscoveryTimeout  Duration `toml:"discovery_timeout"`

	MaxFullReadItems    int `toml:"max_full_read_items"`
	UnreadRetentionDays int `toml:"unread_retention_days"`
	WebSubLeaseSeconds  int `toml:"websub_lease_seconds"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() (*Config, error) {
	dbPath, err := GetDefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("getting default database path: %w", err)
	}
	cfg := &Config{DatabasePath: dbPath}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.MountPath == "" {
		c.MountPath = "/microsub"
	}
	if c.Owner == "" {
		c.Owner = "me"
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 5
	}
	if c.SchedulerInterval.Duration == 0 {
		c.SchedulerInterval = Duration{60 * time.Second}
	}
	if c.FetchTimeout.Duration == 0 {
		c.FetchTimeout = Duration{30 * time.Second}
	}
	if c.DiscoveryTimeout.Duration == 0 {
		c.DiscoveryTimeout = Duration{10 * time.Second}
	}
	if c.MaxFullReadItems <= 0 {
		c.MaxFullReadItems = 200
	}
	if c.UnreadRetentionDays <= 0 {
		c.UnreadRetentionDays = 30
	}
	if c.WebSubLeaseSeconds <= 0 {
		c.WebSubLeaseSeconds = 604800
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if !strings.HasPrefix(c.MountPath, "/") {
		c.MountPath = "/" + c.MountPath
	}
	c.MountPath = strings.TrimRight(c.MountPath, "/")
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.DatabasePath == "" {
		dbPath, err := GetDefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("getting default database path: %w", err)
		}
		config.DatabasePath = dbPath
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := c.DatabasePath
	if dbPath == "" {
		var err error
		dbPath, err = GetDefaultDBPath()
		if err != nil {
			return fmt.Errorf("getting default database path: %w", err)
		}
	}

	template := strings.Replace(configTemplate, "/home/user/.local/share/skim/skim.db", dbPath, 1)
	return os.WriteFile(configPath, []byte(template), 0644)
}

// GetDefaultStorageDir returns the default directory for the database.
func GetDefaultStorageDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	skimDir := filepath.Join(dataDir, "skim")

	if err := os.MkdirAll(skimDir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", skimDir, err)
	}

	return skimDir, nil
}

// GetDefaultDBPath returns the default database path in the user's data directory
func GetDefaultDBPath() (string, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(storageDir, "skim.db"), nil
}

// GetConfigDir returns the configuration directory for skim
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	skimConfigDir := filepath.Join(configDir, "skim")

	if err := os.MkdirAll(skimConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", skimConfigDir, err)
	}

	return skimConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
