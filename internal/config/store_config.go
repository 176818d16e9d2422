package config

import "time"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// StoreConfig selects and configures the persisted grant store.
type StoreConfig interface {
	GetStoreDriver() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetSQLiteDSN() string
	GetSweepInterval() time.Duration
	GetSweepBatchSize() int
}

type Store struct {
	Driver         string        `env:"STORE_DRIVER" envDefault:"memory"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"oidc"`
	SQLiteDSN      string        `env:"SQLITE_DSN" envDefault:"file:grants.db?_pragma=busy_timeout(5000)"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
}

var _ StoreConfig = Store{}

func (s Store) GetStoreDriver() string {
	return s.Driver
}

func (s Store) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Store) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Store) GetRedisDB() int {
	return s.RedisDB
}

func (s Store) GetRedisKeyPrefix() string {
	return s.RedisKeyPrefix
}

func (s Store) GetSQLiteDSN() string {
	return s.SQLiteDSN
}

func (s Store) GetSweepInterval() time.Duration {
	return s.SweepInterval
}

func (s Store) GetSweepBatchSize() int {
	return s.SweepBatchSize
}
