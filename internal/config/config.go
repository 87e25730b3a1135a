// Package config содержит логику чтения конфигурации сервиса скупки драгметаллов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса скупки.
type Config struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	SpotFeedAddress string        `env:"SPOT_FEED_ADDRESS"`
	ShippingAddress string        `env:"SHIPPING_ADDRESS"`
	AuthSecret      string        `env:"AUTH_SECRET"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSpotFeedAddress := cfg.SpotFeedAddress
	envShippingAddress := cfg.ShippingAddress
	envAuthSecret := cfg.AuthSecret
	envSweepInterval := cfg.SweepInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SpotFeedAddress, "r", "", "spot feed address")
	flag.StringVar(&cfg.ShippingAddress, "s", "", "shipping service address")
	flag.StringVar(&cfg.AuthSecret, "k", "", "auth cookie signing key")
	flag.DurationVar(&cfg.SweepInterval, "i", time.Minute, "offer expiration sweep interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSpotFeedAddress != "" {
		cfg.SpotFeedAddress = envSpotFeedAddress
	}
	if envShippingAddress != "" {
		cfg.ShippingAddress = envShippingAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
