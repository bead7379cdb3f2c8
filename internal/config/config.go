package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const defaultSecret = "dev-secret-change-me"

type Config struct {
	Addr         string        `env:"APP_ADDR,default=:8080"`
	Env          string        `env:"APP_ENV,default=dev"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
	StoreDriver  string        `env:"STORE_DRIVER,default=sqlite3"`
	DatabaseDSN  string        `env:"DATABASE_DSN,default=chatty.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT,default=5s"`

	CookieSecret string        `env:"COOKIE_SECRET,default=dev-secret-change-me"`
	JWTSecret    string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TokenTTL     time.Duration `env:"TOKEN_TTL,default=24h"`

	AllowedOrigins string  `env:"ALLOWED_ORIGINS,default=*"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=40"`

	RoomEventBuffer  int `env:"ROOM_EVENT_BUFFER,default=256"`
	ClientSendBuffer int `env:"CLIENT_SEND_BUFFER,default=256"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("APP_ADDR must not be empty"))
	}
	switch c.StoreDriver {
	case "sqlite3", "postgres", "badger":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of sqlite3, postgres, badger", c.StoreDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must not be empty"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.RoomEventBuffer <= 0 || c.ClientSendBuffer <= 0 {
		errs = append(errs, errors.New("ROOM_EVENT_BUFFER and CLIENT_SEND_BUFFER must be positive"))
	}
	if c.Env != "dev" && (c.CookieSecret == defaultSecret || c.JWTSecret == defaultSecret) {
		errs = append(errs, errors.New("COOKIE_SECRET and JWT_SECRET must be set outside dev"))
	}
	return errors.Join(errs...)
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
