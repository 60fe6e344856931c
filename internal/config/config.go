// Package config содержит логику чтения конфигурации магазина монет.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации магазина монет.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	AuthServiceAddress string `env:"AUTH_SERVICE_ADDRESS"`
	PaypalBaseURL      string `env:"PAYPAL_BASE_URL"`
	RedisAddress       string `env:"REDIS_ADDRESS"`

	JWTSecret          string `env:"JWT_SECRET"`
	PaypalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PaypalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`

	PurchaseMin               int64         `env:"PURCHASE_MIN" envDefault:"1"`
	PurchaseMax               int64         `env:"PURCHASE_MAX" envDefault:"100000"`
	ReleaseWithheldOnEligible bool          `env:"RELEASE_WITHHELD_ON_ELIGIBLE" envDefault:"true"`
	OrderSyncInterval         time.Duration `env:"ORDER_SYNC_INTERVAL" envDefault:"5s"`
	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthAddress := cfg.AuthServiceAddress
	envPaypalURL := cfg.PaypalBaseURL
	envRedisAddress := cfg.RedisAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.AuthServiceAddress, "i", "", "identity service address")
	flag.StringVar(&cfg.PaypalBaseURL, "p", "https://api-m.sandbox.paypal.com", "PayPal API base URL")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for capture locks")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthAddress != "" {
		cfg.AuthServiceAddress = envAuthAddress
	}
	if envPaypalURL != "" {
		cfg.PaypalBaseURL = envPaypalURL
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.PurchaseMin <= 0 || cfg.PurchaseMax < cfg.PurchaseMin {
		return nil, fmt.Errorf("invalid purchase range [%d, %d]", cfg.PurchaseMin, cfg.PurchaseMax)
	}

	return cfg, nil
}
