package authapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"bookshelf/cmd/identity"
	"bookshelf/cmd/internal/auth/session"
	"bookshelf/cmd/internal/httpx"
	"bookshelf/cmd/security/password"
	"bookshelf/cmd/security/token"
)

// newPostgresEnv runs the handler on the Postgres stores. The database must already be
// migrated (cmd/migrate up).
func newPostgresEnv(t *testing.T) (*testEnv, *pgxpool.Pool) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("BOOKSHELF_DATABASE_URL"))
	if dsn == "" {
		t.Skip("BOOKSHELF_DATABASE_URL not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("database not reachable: %v", err)
	}
	t.Cleanup(pool.Close)

	idStore, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity.NewPostgresStore: %v", err)
	}
	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	accounts, err := identity.NewAccounts(idStore, pw)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}

	scfg := session.DefaultConfig()
	scfg.EphemeralKeys = true
	scfg.RefreshRateLimit = 0
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewService(scfg, session.NewPostgresStore(pool), token.NewHasher([]byte("integration-hmac-key-0123456789ab")), session.WithLogger(log))
	issuer := token.NewEphemeralPasetoV4Issuer(scfg.IssuerConfig())

	cfg := DefaultConfig()
	cfg.LoginIPMax = 0
	cfg.LockoutShortThreshold = 2
	cfg.LockoutShortDuration = time.Minute
	// Real clock: Postgres compares created_at against the handler's now.
	h, err := NewHandler(cfg, accounts, sessions, issuer, WithLogger(log), WithAuditLog(NewPostgresAuditLog(pool)))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sessions: sessions}, pool
}

func cleanupUser(t *testing.T, pool *pgxpool.Pool, username string) {
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM bookshelf.users WHERE username_norm = lower($1)`, username)
		_, _ = pool.Exec(ctx, `DELETE FROM bookshelf.auth_audit WHERE identifier = $1`, "username:"+strings.ToLower(username))
	})
}

func TestPostgresAPI_LoginRotateReplay(t *testing.T) {
	e, pool := newPostgresEnv(t)
	username := "it_" + strings.ToLower(ulid.Make().String())
	cleanupUser(t, pool, username)

	e.register(t, username, testPassword)
	lr, _ := e.login(t, username, testPassword, "cli")

	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %s", res.StatusCode, body)
	}
	res, body = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusUnauthorized || errCode(t, body) != httpx.CodeSessionNotActive {
		t.Fatalf("replay: %d %s", res.StatusCode, body)
	}

	var hash string
	if err := pool.QueryRow(context.Background(),
		`SELECT refresh_token_hash FROM bookshelf.sessions WHERE id = $1`, lr.Session.SessionID).Scan(&hash); err != nil {
		t.Fatalf("select session: %v", err)
	}
	if len(hash) != token.HashHexLen || strings.Contains(hash, lr.Session.RefreshToken) {
		t.Fatalf("stored hash looks wrong: %q", hash)
	}
}

func TestPostgresAPI_LockoutFromAuditTable(t *testing.T) {
	e, pool := newPostgresEnv(t)
	username := "it_" + strings.ToLower(ulid.Make().String())
	cleanupUser(t, pool, username)
	e.register(t, username, testPassword)

	for i := 0; i < 2; i++ {
		res, _ := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": username, "password": "wrong horse battery"}})
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i, res.StatusCode)
		}
	}

	var n int
	if err := pool.QueryRow(context.Background(), `
		SELECT count(*) FROM bookshelf.auth_audit
		WHERE action = 'auth.login.failed' AND identifier = $1
	`, "username:"+username).Scan(&n); err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if n != 2 {
		t.Fatalf("audited failures = %d, want 2", n)
	}

	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": username, "password": testPassword}})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("locked login: %d %s", res.StatusCode, body)
	}
}
