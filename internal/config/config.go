package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Broker   BrokerConfig   `yaml:"broker"`
	Sync     SyncConfig     `yaml:"sync"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug or release
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // sqlite file path
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type BrokerConfig struct {
	FlexBaseURL    string   `yaml:"flex_base_url"`
	ExcludeSymbols []string `yaml:"exclude_symbols"`
}

type SyncConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	SymbolWorkers  int           `yaml:"symbol_workers"`
}

// Load loads configuration from an optional YAML file, then applies
// environment variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, Mode: "release"},
		Database: DatabaseConfig{Path: "wheeltrack.db"},
		JWT:      JWTConfig{Secret: "wheeltrack-secret-key", ExpireHours: 24},
		Broker: BrokerConfig{
			FlexBaseURL: "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService",
		},
		Sync: SyncConfig{
			MaxRetries:     5,
			InitialBackoff: 2 * time.Second,
			SymbolWorkers:  4,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("FLEX_BASE_URL"); v != "" {
		cfg.Broker.FlexBaseURL = v
	}
	if v := os.Getenv("EXCLUDE_SYMBOLS"); v != "" {
		cfg.Broker.ExcludeSymbols = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
