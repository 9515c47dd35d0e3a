package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR,default=:8080"`
	StoreDriver    string        `env:"STORE_DRIVER,default=postgres"`
	DBDSN          string        `env:"DB_DSN"`
	BadgerPath     string        `env:"BADGER_PATH,default=./data"`
	JWTSecret      string        `env:"JWT_SECRET,required=true"`
	TokenTTL       time.Duration `env:"TOKEN_TTL,default=24h"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisChannel   string        `env:"REDIS_CHANNEL,default=realchat"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	SendBufferSize int           `env:"SEND_BUFFER_SIZE,default=256"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT,default=5s"`
	HistoryLimit   int           `env:"HISTORY_LIMIT,default=200"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS,default=*"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("%w: DB_DSN is required with STORE_DRIVER=%s", ErrInvalidConfig, DriverPostgres)
		}
	case DriverBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("%w: BADGER_PATH is required with STORE_DRIVER=%s", ErrInvalidConfig, DriverBadger)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 || c.SendBufferSize <= 0 || c.HistoryLimit <= 0 {
		return fmt.Errorf("%w: sizes and limits must be positive", ErrInvalidConfig)
	}
	if c.StoreTimeout <= 0 || c.TokenTTL <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	return nil
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	return lo.FilterMap(strings.Split(c.AllowedOrigins, ","), func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		return origin, origin != ""
	})
}
