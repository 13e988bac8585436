// Package config loads cmd/worker's configuration from environment
// variables, an optional YAML file, and an optional .env file, using
// a layered strategy. cmd/verify takes command-line flags instead.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"emailverify/internal/obslog"
)

// ErrFileNotExists is returned when CONFIG names a file that does not exist.
var ErrFileNotExists = errors.New("config file not found, set env variable CONFIG to path config file")

var defaultConfigPath = "./config/config.yaml"

func init() {
	// Best-effort: a missing .env is normal outside local development.
	_ = godotenv.Load()
}

// Worker is the environment surface for cmd/worker.
type Worker struct {
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	QueueKey      string `env:"QUEUE_KEY" env-default:"emailverify:jobs"`
	RetryZSetKey  string `env:"RETRY_ZSET_KEY" env-default:"emailverify:retry"`

	PostgresDSN string `env:"POSTGRES_DSN" env-default:"postgres://localhost:5432/emailverify?sslmode=disable"`

	HeloDomain string `env:"HELO_DOMAIN" env-default:"verify.example.com"`
	MailFrom   string `env:"MAIL_FROM" env-default:"verify@verify.example.com"`

	GlobalRatePerSecond float64 `env:"GLOBAL_RATE_PER_SECOND" env-default:"10"`
	PerDomainRateBurst  int     `env:"PER_DOMAIN_RATE_BURST" env-default:"2"`

	ProbeCount   int `env:"PROBE_COUNT" env-default:"2"`
	MaxCacheSize int `env:"MAX_CACHE_SIZE" env-default:"10000"`

	SOCKS5ProxyAddr string `env:"SOCKS5_PROXY_ADDR" env-default:""`
	SOCKS5Username  string `env:"SOCKS5_USERNAME" env-default:""`
	SOCKS5Password  string `env:"SOCKS5_PASSWORD" env-default:""`
}

// RetryBackoff returns the delay before a greylisted job is retried,
// growing linearly with attempt (1-indexed), capped at 30 minutes.
func (w Worker) RetryBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Minute
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

// Load populates cfg (a pointer to a struct with cleanenv tags) from,
// in increasing priority: env-tag defaults, a YAML file (CONFIG env var
// or ./config/config.yaml if present), a sibling *.local.yaml override,
// then real environment variables.
func Load(cfg interface{}) error {
	configFile, exists := os.LookupEnv("CONFIG")
	if exists {
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			return ErrFileNotExists
		}
	}
	if !exists {
		currentDir, _ := os.Getwd()
		defaultConfig := path.Join(currentDir, defaultConfigPath)
		if _, err := os.Stat(defaultConfig); err == nil {
			configFile = defaultConfig
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		} else {
			obslog.Default().Debug("no config file found, using environment variables only")
			return cleanenv.ReadEnv(cfg)
		}
	}

	if err := cleanenv.ReadConfig(configFile, cfg); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}

	localConfigFile := configFile[:len(configFile)-len(path.Ext(configFile))] + ".local" + path.Ext(configFile)
	if _, err := os.Stat(localConfigFile); err == nil {
		if err := cleanenv.ReadConfig(localConfigFile, cfg); err != nil {
			return fmt.Errorf("read local config %s: %w", localConfigFile, err)
		}
	}

	return cleanenv.ReadEnv(cfg)
}

// MustLoad is Load, panicking on error, for use during binary startup
// where there is no sensible way to continue without configuration.
func MustLoad(cfg interface{}) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
