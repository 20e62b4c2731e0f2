package session

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for staff access tokens.
//
// At least one key must be set. With only PasetoV4PublicKeyHex the manager verifies
// tokens but cannot issue them.
type Config struct {
	// Issuer is the value set in and required from the "iss" claim.
	Issuer string

	// AccessTokenTTL defines the lifetime of issued tokens.
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign tokens.
	PasetoV4SecretKeyHex string

	// PasetoV4PublicKeyHex is the hex-encoded Ed25519 public key used to verify tokens.
	// Derived from the secret key when empty.
	PasetoV4PublicKeyHex string
}

// DefaultConfig returns defaults suitable for development. Keys are left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:         "sirkup-pos",
		AccessTokenTTL: 12 * time.Hour,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// One of these is required:
//   - POS_PASETO_V4_SECRET_KEY_HEX
//   - POS_PASETO_V4_PUBLIC_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - POS_AUTH_ISSUER
//   - POS_AUTH_ACCESS_TTL
//   - POS_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("POS_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("POS_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("POS_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("POS_PASETO_V4_SECRET_KEY_HEX"))
	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("POS_PASETO_V4_PUBLIC_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" && cfg.PasetoV4PublicKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
