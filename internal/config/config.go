package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"otp_service"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	FiveSimBaseURL string `env:"FIVESIM_BASE_URL" envDefault:"https://5sim.net/v1"`
	FiveSimAPIKey  string `env:"FIVESIM_API_KEY" envDefault:""`

	JWTSecret string        `env:"JWT_SECRET" envDefault:""`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

// Load reads configuration from the environment, with an optional .env
// file for local development. Missing .env is not an error; a malformed
// override is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// GetMigrateURL builds the URL form golang-migrate expects.
func (c *Config) GetMigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}
