package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Mail    Mail    `yaml:"mail"`
	Wiki    Wiki    `yaml:"wiki"`
	Output  Output  `yaml:"output"`
	Logging Logging `yaml:"logging"`
}

// Mail configures the mailing-list archive source.
type Mail struct {
	List              string  `yaml:"list"`
	Domain            string  `yaml:"domain"`
	BaseURL           string  `yaml:"base_url"`
	DaysBack          int     `yaml:"days_back"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Wiki configures the proposal metadata source.
type Wiki struct {
	BaseURL        string `yaml:"base_url"`
	SpaceKey       string `yaml:"space_key"`
	MainPage       string `yaml:"main_page"`
	Chunk          int    `yaml:"chunk"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Output struct {
	DataDir   string `yaml:"data_dir"`
	CacheFile string `yaml:"cache_file"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for kipwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "kipwatch")
}

// DataDir returns the XDG data directory for kipwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "kipwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/kipwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'kipwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Mail: Mail{
			List:              "dev",
			Domain:            "kafka.apache.org",
			BaseURL:           "https://lists.apache.org/api/mbox.lua",
			DaysBack:          365,
			TimeoutSeconds:    30,
			MaxRetries:        3,
			RequestsPerSecond: 1,
		},
		Wiki: Wiki{
			BaseURL:        "https://cwiki.apache.org/confluence",
			SpaceKey:       "KAFKA",
			MainPage:       "Kafka Improvement Proposals",
			Chunk:          100,
			TimeoutSeconds: 30,
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetCacheFile returns the effective mention cache path.
func (c *Config) GetCacheFile() string {
	if c.Output.CacheFile != "" {
		return c.Output.CacheFile
	}
	return filepath.Join(c.GetDataDir(), "kip_mentions.csv")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
