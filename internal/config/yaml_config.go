package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the structure of the config.yaml file.
// Tuning knobs that are easier to keep in a file than in env vars.
type YAMLConfig struct {
	Resolver ResolverConfig `yaml:"resolver"`
	Feed     YAMLFeedConfig `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// YAMLFeedConfig mirrors FeedConfig. ScanPushRate is a pointer so that an
// explicit 0, which disables scan pushes, is told apart from an absent key.
type YAMLFeedConfig struct {
	Buffer        int           `yaml:"buffer"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
	ScanPushRate  *float64      `yaml:"scan_push_rate"`
	ScanPushBurst int           `yaml:"scan_push_burst"`
}

// LoadYAMLConfig loads the YAML configuration file.
// Path is determined by CONFIG_FILE env var, defaulting to "config.yaml".
// Returns nil without error if the config file doesn't exist.
func LoadYAMLConfig() (*YAMLConfig, error) {
	path := getEnv("CONFIG_FILE", "config.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return nil, nil
		}
		return nil, err
	}

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyTo copies every value set in the file onto cfg.
func (y *YAMLConfig) ApplyTo(cfg *Config) {
	if y == nil {
		return
	}
	if y.Resolver.Timeout > 0 {
		cfg.Resolver.Timeout = y.Resolver.Timeout
	}
	if y.Feed.Buffer > 0 {
		cfg.Feed.Buffer = y.Feed.Buffer
	}
	if y.Feed.Heartbeat > 0 {
		cfg.Feed.Heartbeat = y.Feed.Heartbeat
	}
	if y.Feed.ScanPushRate != nil {
		cfg.Feed.ScanPushRate = *y.Feed.ScanPushRate
	}
	if y.Feed.ScanPushBurst > 0 {
		cfg.Feed.ScanPushBurst = y.Feed.ScanPushBurst
	}
	if y.API.RateLimit > 0 {
		cfg.API.RateLimit = y.API.RateLimit
	}
	if y.Defaults.Foreground != "" {
		cfg.Defaults.Foreground = y.Defaults.Foreground
	}
	if y.Defaults.Background != "" {
		cfg.Defaults.Background = y.Defaults.Background
	}
}
