package app

import (
	"fmt"
	"strings"
	"time"
)

// Store backends selectable with MEREB_STORE.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
// Session settings (TTLs, signing secret) are loaded by session.LoadConfigFromEnv.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | text | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// StoreBackend selects refresh record persistence.
	// Empty means postgres when DatabaseURL is set, memory otherwise.
	StoreBackend string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// If true:
	// - /readyz returns 503 unless a durable backend is configured and reachable.
	ReadinessRequireStore bool

	// Security policy:
	// If true, MEREB_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MEREB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MEREB_LOG_LEVEL", "info"),
		LogFormat: EnvString("MEREB_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MEREB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MEREB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MEREB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MEREB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("MEREB_HTTP_MAX_HEADER_BYTES", 1<<20),

		StoreBackend: strings.ToLower(EnvString("MEREB_STORE", "")),

		DatabaseURL: EnvString("MEREB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("MEREB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MEREB_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("MEREB_DB_MIGRATE", false),

		RedisAddr:      EnvString("MEREB_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  EnvString("MEREB_REDIS_PASSWORD", ""),
		RedisDB:        EnvInt("MEREB_REDIS_DB", 0),
		RedisKeyPrefix: EnvString("MEREB_REDIS_KEY_PREFIX", "mereb"),

		ReadinessRequireStore: EnvBool("MEREB_READINESS_REQUIRE_STORE", false),

		RequireTokenHMAC: EnvBool("MEREB_REQUIRE_TOKEN_HMAC", false),
	}
}

// Backend resolves the effective store backend.
func (c Config) Backend() (string, error) {
	switch c.StoreBackend {
	case "":
		if c.DatabaseURL != "" {
			return BackendPostgres, nil
		}
		return BackendMemory, nil
	case BackendMemory, BackendRedis:
		return c.StoreBackend, nil
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return "", fmt.Errorf("config: MEREB_STORE=postgres requires MEREB_DATABASE_URL")
		}
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("config: unknown MEREB_STORE %q", c.StoreBackend)
	}
}
