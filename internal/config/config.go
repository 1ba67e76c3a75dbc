package config

import (
	"fmt"
	"os"
	"time"
)

const (
	ServiceName = "jewellery-shop"

	DefaultAddr           = ":8080"
	DefaultReservationTTL = 15 * time.Minute
	DefaultReserveTimeout = 3 * time.Second
	DefaultKafkaTopic     = "order-events"
)

type Config struct {
	Addr string
	Env  string

	// StoreBackend selects the storage layer: memory, postgres or rqlite.
	StoreBackend string
	PostgresDSN  string
	RqliteURL    string

	// KafkaBroker enables the Kafka order-event publisher when set.
	KafkaBroker string
	KafkaTopic  string

	ReservationTTL time.Duration
	ReserveTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:           getEnv("ADDR", DefaultAddr),
		Env:            os.Getenv("ENV"),
		StoreBackend:   getEnv("STORE_BACKEND", "memory"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RqliteURL:      os.Getenv("RQLITE_URL"),
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		KafkaTopic:     getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		ReservationTTL: DefaultReservationTTL,
		ReserveTimeout: DefaultReserveTimeout,
	}

	var err error
	if cfg.ReservationTTL, err = getDuration("RESERVATION_TTL", DefaultReservationTTL); err != nil {
		return nil, err
	}
	if cfg.ReserveTimeout, err = getDuration("RESERVE_TIMEOUT", DefaultReserveTimeout); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case "memory":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
	case "rqlite":
		if cfg.RqliteURL == "" {
			return nil, fmt.Errorf("RQLITE_URL is required when STORE_BACKEND=rqlite")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
