package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	StoreConfig
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Security
	Store
}

var _ Config = mainConfig{}

// Load reads envFile when it exists, without overriding variables already set in the
// environment, and parses the environment into a Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("[config.Load] %s: %w", envFile, err)
		}
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (Config, error) {
	cfg := mainConfig{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("[config.Parse] %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c mainConfig) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("[config.Parse] unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.Driver == StoreRedis && c.Store.RedisAddr == "" {
		return fmt.Errorf("[config.Parse] REDIS_ADDR is required for the redis store")
	}
	if c.EnvVars.Issuer == "" {
		return fmt.Errorf("[config.Parse] ISSUER is required")
	}
	return nil
}
