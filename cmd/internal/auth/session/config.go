package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSecretBytes is the minimum HS256 signing secret size.
const MinSecretBytes = 32

// Config defines all runtime configuration for the session subsystem.
//
// It controls access/refresh TTLs, refresh entropy size, the HS256 signing
// secret and the retry budgets used around store transactions.
type Config struct {
	// Secret is the shared HS256 signing secret for access tokens.
	Secret []byte

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTTL defines the lifetime of refresh records, fixed at creation.
	RefreshTTL time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// MaxIssueAttempts bounds how many fresh refresh values IssueSession
	// generates when candidates collide with expired records.
	MaxIssueAttempts int

	// TxRetries bounds how many times a conflicting store transaction
	// (including the whole RevokeAll batch) is attempted.
	TxRetries int
}

// DefaultConfig returns a secure default configuration without a secret.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		RefreshTokenBytes: 32,
		MaxIssueAttempts:  4,
		TxRetries:         5,
	}
}

// Validate reports ErrConfig when cfg cannot be used.
func (c Config) Validate() error {
	if len(c.Secret) < MinSecretBytes {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTTL <= 0 {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return ErrConfig
	}
	if c.MaxIssueAttempts <= 0 || c.TxRetries <= 0 {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - MEREB_JWT_SECRET (at least 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - MEREB_AUTH_ACCESS_TTL
//   - MEREB_AUTH_REFRESH_TTL
//   - MEREB_AUTH_REFRESH_TOKEN_BYTES
//   - MEREB_AUTH_MAX_ISSUE_ATTEMPTS
//   - MEREB_AUTH_TX_RETRIES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("MEREB_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("MEREB_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("MEREB_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := os.Getenv("MEREB_AUTH_MAX_ISSUE_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxIssueAttempts = n
	}

	if v := os.Getenv("MEREB_AUTH_TX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TxRetries = n
	}

	secret := strings.TrimSpace(os.Getenv("MEREB_JWT_SECRET"))
	if secret == "" {
		return Config{}, ErrConfig
	}
	cfg.Secret = []byte(secret)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
