package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yml:"env" default:"local"`
	Metadata Metadata `yml:"metadata"`
	Cache    Cache    `yml:"cache"`
	Server   Server   `yml:"server" env-required:"true"`
	Mining   Mining   `yml:"mining"`
}

// Metadata configures the read-only metadata store connection.
// Dialect distinguishes the full postgres backend from the feature-limited
// sqlite one; it only changes the issue-label query strategy, not results.
type Metadata struct {
	Dialect         string        `yml:"dialect" default:"postgres"`
	Username        string        `env:"POSTGRES_USER"`
	Password        string        `env:"POSTGRES_PASSWORD"`
	Host            string        `yml:"host"`
	Port            string        `env:"POSTGRES_PORT"`
	Database        string        `env:"POSTGRES_DB"`
	SQLitePath      string        `yml:"sqlite_path"`
	MaxOpenConns    int           `yml:"max_open_conns" default:"50"`
	MaxIdleConns    int           `yml:"max_idle_conns" default:"10"`
	ConnMaxLifetime time.Duration `yml:"conn_max_lifetime" default:"5m"`
	ConnMaxIdleTime time.Duration `yml:"conn_max_idle_time" default:"1m"`
}

// Cache configures the embedded object cache.
type Cache struct {
	Enabled    bool          `yml:"enabled" default:"true"`
	Path       string        `yml:"path"`
	InMemory   bool          `yml:"in_memory"`
	DefaultTTL time.Duration `yml:"default_ttl" default:"5m"`
}

type Server struct {
	Host    string        `yml:"host" default:"localhost"`
	Port    string        `yml:"port" default:"8080"`
	Timeout time.Duration `yml:"timeout" default:"5s"`
}

// Mining tunes snapshot assembly and fact extraction.
type Mining struct {
	// MaxItems caps one snapshot at the most-recently-updated N work items.
	// Zero means unlimited.
	MaxItems int `yml:"max_items" default:"0"`
	// Bots are user logins excluded from external-comment calculations.
	Bots []string `yml:"bots"`
}

func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		return nil, errors.New("CONFIG_PATH is not set")
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}

	return cfg
}
