package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port            int           `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel        string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	GracePeriod     time.Duration `env:"GRACE_PERIOD,default=5m" validate:"gt=0"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=1m" validate:"gte=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	MaxRooms        int           `env:"MAX_ROOMS,default=1000" validate:"min=1"`
	MaxUsers        int           `env:"MAX_USERS,default=10000" validate:"min=1"`
	MaxUsersPerRoom int           `env:"MAX_USERS_PER_ROOM,default=100" validate:"min=1"`
	MaxSessions     int           `env:"MAX_SESSIONS,default=20000" validate:"min=1"`
}

// Load reads the process environment. Unset variables take their defaults.
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
