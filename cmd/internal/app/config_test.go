package app

import (
	"testing"
	"time"
)

func TestConfigBackend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "default memory", cfg: Config{}, want: BackendMemory},
		{name: "default postgres with url", cfg: Config{DatabaseURL: "postgres://x"}, want: BackendPostgres},
		{name: "explicit redis", cfg: Config{StoreBackend: BackendRedis, DatabaseURL: "postgres://x"}, want: BackendRedis},
		{name: "explicit memory", cfg: Config{StoreBackend: BackendMemory, DatabaseURL: "postgres://x"}, want: BackendMemory},
		{name: "postgres needs url", cfg: Config{StoreBackend: BackendPostgres}, wantErr: true},
		{name: "unknown", cfg: Config{StoreBackend: "bolt"}, wantErr: true},
	}

	for _, tc := range cases {
		got, err := tc.cfg.Backend()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %q", tc.name, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: Backend()=%q,%v want %q", tc.name, got, err, tc.want)
		}
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("MEREB_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("MEREB_STORE", "Redis")
	t.Setenv("MEREB_REDIS_ADDR", "redis:6380")
	t.Setenv("MEREB_REDIS_DB", "2")
	t.Setenv("MEREB_HTTP_READ_TIMEOUT", "3s")
	t.Setenv("MEREB_DB_MIGRATE", "true")
	t.Setenv("MEREB_READINESS_REQUIRE_STORE", "not-a-bool")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.StoreBackend != BackendRedis {
		t.Fatalf("StoreBackend=%q", cfg.StoreBackend)
	}
	if cfg.RedisAddr != "redis:6380" || cfg.RedisDB != 2 {
		t.Fatalf("redis addr=%q db=%d", cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("ReadTimeout=%s", cfg.ReadTimeout)
	}
	if !cfg.DBMigrate {
		t.Fatalf("DBMigrate should be true")
	}
	if cfg.ReadinessRequireStore {
		t.Fatalf("invalid bool should fall back to default false")
	}
	if cfg.RedisKeyPrefix != "mereb" {
		t.Fatalf("RedisKeyPrefix=%q", cfg.RedisKeyPrefix)
	}
}
