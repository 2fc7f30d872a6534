package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskmate.yml.
type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Tasks struct {
		PageSize       int           `yaml:"page_size"`
		SearchDebounce time.Duration `yaml:"search_debounce"`
		Timezone       string        `yaml:"timezone"`
	} `yaml:"tasks"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	DevServer struct {
		Addr      string        `yaml:"addr"`
		JWTSecret string        `yaml:"jwt_secret"`
		CodeTTL   time.Duration `yaml:"code_ttl"`
	} `yaml:"devserver"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tm config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("config.api.base_url must be an http(s) URL")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("config.api.timeout must not be negative")
	}
	if c.Tasks.PageSize <= 0 {
		return fmt.Errorf("config.tasks.page_size must be positive")
	}
	if c.Tasks.SearchDebounce < 0 {
		return fmt.Errorf("config.tasks.search_debounce must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.tasks.timezone: %w", err)
	}
	if c.DevServer.CodeTTL < 0 {
		return fmt.Errorf("config.devserver.code_ttl must not be negative")
	}
	return nil
}

// Location resolves tasks.timezone; empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Tasks.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Tasks.Timezone)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmate.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `api:
  base_url: http://localhost:5000/api
  timeout: 10s

storage:
  path: ""

tasks:
  page_size: 100
  search_debounce: 300ms
  timezone: ""

log:
  level: info

devserver:
  addr: 127.0.0.1:5000
  jwt_secret: dev-secret
  code_ttl: 10m
`
