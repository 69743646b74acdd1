package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookshelf/cmd/identity/ids"
	"bookshelf/cmd/security/password"
)

var t0 = time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC)

func fastPassword() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newAccounts(t *testing.T, store Store, opts ...AccountsOption) *Accounts {
	t.Helper()
	a, err := NewAccounts(store, fastPassword(), opts...)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	return a
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := newAccounts(t, NewMemoryStore())

	u, err := a.Register(ctx, t0, RegisterInput{Username: "Octavia", Email: "octavia@example.com", Password: "kindred spirits"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !ids.Valid(u.ID) || !u.HasRole(RoleReader) || u.HasRole(RoleAdmin) {
		t.Fatalf("Register = %+v", u)
	}

	for _, login := range []string{"octavia", "OCTAVIA", "Octavia@Example.com"} {
		got, err := a.Authenticate(ctx, t0, login, "kindred spirits")
		if err != nil {
			t.Fatalf("Authenticate(%q): %v", login, err)
		}
		if got.ID != u.ID {
			t.Fatalf("Authenticate(%q) = %s, want %s", login, got.ID, u.ID)
		}
	}
}

func TestAuthenticate_FailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	a := newAccounts(t, NewMemoryStore())
	if _, err := a.Register(ctx, t0, RegisterInput{Username: "ursula", Password: "the dispossessed"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cases := []struct{ login, pw string }{
		{"ursula", "the left hand"},
		{"nobody", "the dispossessed"},
		{"nobody@example.com", "whatever"},
		{"", ""},
	}
	for _, tc := range cases {
		_, err := a.Authenticate(ctx, t0, tc.login, tc.pw)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Authenticate(%q) = %v, want ErrInvalidCredentials", tc.login, err)
		}
	}
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	a := newAccounts(t, NewMemoryStore())

	if _, err := a.Register(ctx, t0, RegisterInput{Username: "", Password: "long enough pw"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty username: %v", err)
	}
	if _, err := a.Register(ctx, t0, RegisterInput{Username: "terry", Password: "short"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password: %v", err)
	}
	if _, err := a.Register(ctx, t0, RegisterInput{Username: "terry", Password: "password123"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("weak password: %v", err)
	}

	if _, err := a.Register(ctx, t0, RegisterInput{Username: "terry", Password: "small gods rule"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := a.Register(ctx, t0, RegisterInput{Username: "Terry", Password: "small gods rule"})
	if f, ok := ConflictField(err); !ok || f != "username" {
		t.Fatalf("duplicate: %v", err)
	}
}

func TestRegister_BootstrapAdmin(t *testing.T) {
	a := newAccounts(t, NewMemoryStore(), WithBootstrapAdmins("Librarian"))
	u, err := a.Register(context.Background(), t0, RegisterInput{Username: "librarian", Password: "ook ook ook!"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !u.HasRole(RoleAdmin) || !u.HasRole(RoleReader) {
		t.Fatalf("roles = %v", u.Roles)
	}
}

func TestAuthenticate_RehashesOnCostChange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	old := newAccounts(t, store)
	u, err := old.Register(ctx, t0, RegisterInput{Username: "mary", Password: "modern prometheus"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	before, _ := store.GetUserAuthByUsername(ctx, "mary")

	cfg := fastPassword()
	cfg.Params.Iterations = 2
	upgraded, err := NewAccounts(store, cfg)
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	if _, err := upgraded.Authenticate(ctx, t0.Add(time.Hour), "mary", "modern prometheus"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	after, _ := store.GetUserAuthByUsername(ctx, "mary")
	if after.PasswordHash == before.PasswordHash || cfg.NeedsRehash(after.PasswordHash) {
		t.Fatalf("hash was not upgraded for %s", u.ID)
	}
}
