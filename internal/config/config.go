package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultSystemInstruction = "You are Helixar, a professional AI creative workspace. Provide concise, helpful answers."

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Storage     StorageConfig             `json:"storage" yaml:"storage"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Completion  CompletionConfig          `json:"completion" yaml:"completion"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Preferences PreferencesConfig         `json:"preferences" yaml:"preferences"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	Workers       int    `json:"workers" yaml:"workers"`
	QueueSize     int    `json:"queue_size" yaml:"queue_size"`
}

// StorageConfig picks the key-value backend: memory, sqlite3, mysql or redis.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// CompletionConfig describes how assistant replies are produced.
type CompletionConfig struct {
	Provider          string `json:"provider" yaml:"provider"`
	FastModel         string `json:"fast_model" yaml:"fast_model"`
	ProModel          string `json:"pro_model" yaml:"pro_model"`
	SystemInstruction string `json:"system_instruction" yaml:"system_instruction"`
	WebSearch         bool   `json:"web_search" yaml:"web_search"`
	SearchPerMinute   int    `json:"search_per_minute" yaml:"search_per_minute"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type PreferencesConfig struct {
	Theme  string `json:"theme" yaml:"theme"`
	Accent string `json:"accent" yaml:"accent"`
}

var providerKeyEnv = map[string][]string{
	"gemini": {"GEMINI_API_KEY", "API_KEY"},
	"openai": {"OPENAI_API_KEY"},
	"claude": {"ANTHROPIC_API_KEY"},
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults()

	// relative sqlite paths are resolved against the config file
	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.LogLevel == "" {
		c.BasicConfig.LogLevel = "info"
	}
	if c.BasicConfig.Workers <= 0 {
		c.BasicConfig.Workers = 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 32
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite3"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if db, ok := c.Databases["sqlite3"]; !ok || db.DSN == "" {
		db.DSN = "helixar.db"
		c.Databases["sqlite3"] = db
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "helixar:"
	}
	if c.Completion.Provider == "" {
		c.Completion.Provider = "gemini"
	}
	if c.Completion.FastModel == "" {
		c.Completion.FastModel = "gemini-3-flash-preview"
	}
	if c.Completion.ProModel == "" {
		c.Completion.ProModel = "gemini-3-pro-preview"
	}
	if c.Completion.SearchPerMinute <= 0 {
		c.Completion.SearchPerMinute = 5
	}
	if c.Completion.SystemInstruction == "" {
		c.Completion.SystemInstruction = DefaultSystemInstruction
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, envs := range providerKeyEnv {
		prov := c.Providers[name]
		if prov.APIKey != "" {
			continue
		}
		for _, env := range envs {
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				prov.APIKey = v
				break
			}
		}
		c.Providers[name] = prov
	}
	if c.Preferences.Theme == "" {
		c.Preferences.Theme = "dark"
	}
	if c.Preferences.Accent == "" {
		c.Preferences.Accent = "#b33a72"
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "sqlite", "sqlite3", "mysql", "redis":
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	switch c.Completion.Provider {
	case "gemini", "openai", "claude":
	default:
		return fmt.Errorf("unsupported completion provider: %s", c.Completion.Provider)
	}
	switch c.Preferences.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("theme must be dark or light, got %q", c.Preferences.Theme)
	}
	return nil
}

func isSQLite(name string) bool {
	name = strings.ToLower(name)
	return name == "sqlite" || name == "sqlite3"
}
