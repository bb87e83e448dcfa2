package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mereb/cmd/identity"
	"mereb/cmd/internal/auth/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Secret = []byte(strings.Repeat("k", session.MinSecretBytes))
	return cfg
}

func mustApp(t *testing.T, cfg Config) *App {
	t.Helper()

	a, err := New(context.Background(), cfg, testSessionConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestApp_MemoryBackendEndpoints(t *testing.T) {
	a := mustApp(t, Config{StoreBackend: BackendMemory})
	h := a.Handler()

	rr := get(t, h, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d", rr.Code)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("missing %s header", RequestIDHeader)
	}

	if rr := get(t, h, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d body=%q", rr.Code, rr.Body.String())
	}

	if rr := get(t, h, "/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("/nope status=%d", rr.Code)
	}
}

func TestApp_MetricsReflectSessions(t *testing.T) {
	a := mustApp(t, Config{StoreBackend: BackendMemory})
	ctx := context.Background()

	u, err := a.Directory().CreateUser(ctx, identity.CreateUserInput{
		Username:    "alice",
		Authorities: []string{"ROLE_USER"},
		Now:         time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	issued, err := a.Sessions().IssueSession(ctx, u.Principal())
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := a.Sessions().RefreshAccessToken(ctx, issued.RefreshToken); err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}

	rr := get(t, a.Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`mereb_session_issued_total{outcome="created"} 1`,
		`mereb_session_refresh_total{result="ok"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("/metrics missing %q", want)
		}
	}
}

func TestApp_ReadinessRequiresDurableStore(t *testing.T) {
	a := mustApp(t, Config{StoreBackend: BackendMemory, ReadinessRequireStore: true})

	if rr := get(t, a.Handler(), "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status=%d want 503", rr.Code)
	}
}

func TestApp_RedisBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	closed := false
	t.Cleanup(func() {
		if !closed {
			mr.Close()
		}
	})

	a := mustApp(t, Config{
		StoreBackend:   BackendRedis,
		RedisAddr:      mr.Addr(),
		RedisKeyPrefix: "apptest",
	})
	ctx := context.Background()

	u, err := a.Directory().CreateUser(ctx, identity.CreateUserInput{Username: "bob", Now: time.Now()})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := a.Sessions().IssueSession(ctx, u.Principal()); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	members, err := mr.Members("apptest:owner:" + u.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("owner index members=%v err=%v", members, err)
	}

	h := a.Handler()
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d", rr.Code)
	}

	mr.Close()
	closed = true
	if rr := get(t, h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz after redis stop status=%d want 503", rr.Code)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown backend", cfg: Config{StoreBackend: "etcd"}},
		{name: "postgres without url", cfg: Config{StoreBackend: BackendPostgres}},
		{name: "hmac required without key", cfg: Config{StoreBackend: BackendMemory, RequireTokenHMAC: true}},
	}

	t.Setenv("MEREB_TOKEN_HMAC_KEY", "")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(context.Background(), tc.cfg, testSessionConfig(), discardLogger()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := New(context.Background(), Config{}, session.DefaultConfig(), discardLogger()); err == nil {
		t.Fatalf("expected error for missing signing secret")
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), Config{HTTPAddr: "127.0.0.1:0", StoreBackend: BackendMemory}, testSessionConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
