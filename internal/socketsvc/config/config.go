package config

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port         string `env:"SOCKET_SERVICE_PORT" envDefault:"8081"`
	RateLimit    int    `env:"RATE_LIMIT" envDefault:"100"`
	JWTSecretKey string `env:"JWT_SECRET_KEY"`

	NatsURL   string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsToken string `env:"NATS_TOKEN"`

	NotifySubject string `env:"NOTIFY_SUBJECT" envDefault:"notifications"`

	// empty allows any origin
	AllowedOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NotifySubject == "" {
		return cfg, fmt.Errorf("NOTIFY_SUBJECT must not be empty")
	}
	return cfg, nil
}

// CheckOrigin is used by the websocket upgrader.
func (c Config) CheckOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(c.AllowedOrigins, r.Header.Get("Origin"))
}
