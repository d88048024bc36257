package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment surface consumed by the service.
type Config struct {
	Addr        string `env:"AUTHGATE_ADDR" envDefault:":8080"`
	Environment string `env:"AUTHGATE_ENV" envDefault:"prod"`
	DatabaseDSN string `env:"AUTHGATE_PG_DSN"`

	// Signing key material. The private key is required for any token
	// issuance; the server starts without it but every signing request
	// fails until it is configured.
	JWTPrivateKey string `env:"JWT_PRIVATE_KEY"`
	JWTKid        string `env:"JWT_KID" envDefault:"primary"`
	// Issuer embedded in tokens and the discovery document. When empty the
	// request origin is used instead.
	JWTIssuer string `env:"JWT_ISSUER"`

	PasswordPepper string `env:"PASSWORD_PEPPER"`

	AccessTokenTTLSeconds  int `env:"ACCESS_TOKEN_TTL_SECONDS" envDefault:"600"`
	RefreshTokenTTLSeconds int `env:"REFRESH_TOKEN_TTL_SECONDS" envDefault:"1209600"`

	RateBurst  int `env:"AUTHGATE_RATE_BURST" envDefault:"50"`
	RatePerSec int `env:"AUTHGATE_RATE_PER_SEC" envDefault:"25"`
}

// Load parses configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AccessTokenTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL_SECONDS must be positive")
	}
	if cfg.RefreshTokenTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("REFRESH_TOKEN_TTL_SECONDS must be positive")
	}
	return cfg, nil
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// RefreshTokenTTL returns the refresh token lifetime as a duration.
func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}
