package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mereb/cmd/identity/ids"
	"mereb/cmd/internal/migrations"
)

// Integration tests are enabled when MEREB_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Contract(t *testing.T) {
	ctx := context.Background()
	pool := mustMigratedPool(ctx, t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	runStoreContract(t, storeHarness{
		store: st,
		newOwner: func(t *testing.T) string {
			return mustCreateUser(ctx, t, pool)
		},
	})
}

func TestPostgresStore_UnknownOwnerIsOwnerNotFound(t *testing.T) {
	ctx := context.Background()
	pool := mustMigratedPool(ctx, t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	rec := testRecord(t, newULID(t), "pg-orphan-"+newULID(t), time.Now(), time.Hour)
	err = st.Update(ctx, func(tx Tx) error { return tx.Save(ctx, rec) })
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("Save with unknown owner: expected ErrOwnerNotFound, got %v", err)
	}
}

func TestPostgresStore_OwnerDeleteCascades(t *testing.T) {
	ctx := context.Background()
	pool := mustMigratedPool(ctx, t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	owner := mustCreateUser(ctx, t, pool)
	rec := testRecord(t, owner, "pg-cascade-"+owner, time.Now(), time.Hour)
	if err := st.Update(ctx, func(tx Tx) error { return tx.Save(ctx, rec) }); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := pool.Exec(ctx, `DELETE FROM mereb.users WHERE id = $1`, owner); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := findByValue(ctx, t, st, rec.ValueHash); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected record to be cascaded away, got %v", err)
	}
}

func TestPostgresSession_Scenarios(t *testing.T) {
	ctx := context.Background()
	pool := mustMigratedPool(ctx, t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ownerID := mustCreateUser(ctx, t, pool)
	p := Principal{ID: ownerID, Username: "user-" + ownerID, Authorities: []string{"ROLE_USER"}}

	svc, err := NewService(testConfig(), st, newTestDirectory(p))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	var values []string
	for i := 0; i < 3; i++ {
		issued, err := svc.IssueSession(ctx, p)
		if err != nil {
			t.Fatalf("IssueSession: %v", err)
		}
		values = append(values, issued.RefreshToken)
	}

	if err := svc.Revoke(ctx, values[0]); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, values[0]); err != nil {
		t.Fatalf("Revoke (again): %v", err)
	}
	if _, err := svc.RefreshAccessToken(ctx, values[0]); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("RefreshAccessToken(R1): expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.RefreshAccessToken(ctx, values[1]); err != nil {
		t.Fatalf("RefreshAccessToken(R2): %v", err)
	}

	if err := svc.RevokeAll(ctx, ownerID); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for i, v := range values {
		if _, err := svc.RefreshAccessToken(ctx, v); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("RefreshAccessToken(R%d) after RevokeAll: expected ErrInvalidToken, got %v", i+1, err)
		}
	}
}

func TestPostgresSession_ConcurrentRevokeAndIssue(t *testing.T) {
	ctx := context.Background()
	pool := mustMigratedPool(ctx, t)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ownerID := mustCreateUser(ctx, t, pool)
	p := Principal{ID: ownerID, Username: "user-" + ownerID}
	svc, err := NewService(testConfig(), st, newTestDirectory(p))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.IssueSession(ctx, p); err != nil {
				t.Errorf("IssueSession: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := svc.RevokeAll(ctx, ownerID); err != nil {
				t.Errorf("RevokeAll: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := svc.RevokeAll(ctx, ownerID); err != nil {
		t.Fatalf("final RevokeAll: %v", err)
	}
	for _, r := range findAllByOwner(ctx, t, st, ownerID) {
		if !r.Revoked {
			t.Fatalf("record %s not revoked", r.ID)
		}
	}
}

func mustMigratedPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("MEREB_DATABASE_URL")
	if dbURL == "" {
		t.Skip("MEREB_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool := mustPGXPool(ctx, t, dbURL)
	t.Cleanup(pool.Close)

	if err := migrations.Up(ctx, dbURL); err != nil {
		t.Fatalf("migrations.Up: %v", err)
	}
	return pool
}

func mustPGXPool(ctx context.Context, t *testing.T, dbURL string) *pgxpool.Pool {
	t.Helper()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}

	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (MEREB_DATABASE_URL set): %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func newULID(t *testing.T) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("expected ULID length 26, got %d", len(id))
	}
	return id
}

func mustCreateUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id := newULID(t)
	_, err := pool.Exec(ctx, `
		INSERT INTO mereb.users (id, username, username_norm, authorities)
		VALUES ($1, $2, $3, $4)
	`, id, "u-"+id, "u-"+strings.ToLower(id), []string{"ROLE_USER"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM mereb.users WHERE id = $1`, id)
	})
	return id
}
