package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookshelf/cmd/identity/ids"
)

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create and lookup case-insensitively", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, CreateUserInput{
			ID: ids.New(now), Username: "Ada", Email: "Ada@Example.com",
			PasswordHash: "hash", Roles: []string{"Reader", "reader", "wizard"}, Now: now,
		})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if u.Username != "Ada" || len(u.Roles) != 1 || u.Roles[0] != RoleReader {
			t.Fatalf("CreateUser = %+v", u)
		}

		byName, err := s.GetUserAuthByUsername(ctx, "  aDA ")
		if err != nil || byName.ID != u.ID || byName.PasswordHash != "hash" {
			t.Fatalf("by username = %+v, %v", byName, err)
		}
		byEmail, err := s.GetUserAuthByEmail(ctx, "ada@EXAMPLE.com")
		if err != nil || byEmail.ID != u.ID {
			t.Fatalf("by email = %+v, %v", byEmail, err)
		}
		got, err := s.GetUserByID(ctx, u.ID)
		if err != nil || got.Email != "Ada@Example.com" {
			t.Fatalf("by id = %+v, %v", got, err)
		}
	})

	t.Run("conflicts name the field", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := CreateUserInput{ID: ids.New(now), Username: "grace", Email: "grace@example.com", PasswordHash: "h", Now: now}
		if _, err := s.CreateUser(ctx, base); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		dupName := base
		dupName.ID, dupName.Email = ids.New(now), "other@example.com"
		dupName.Username = "GRACE"
		_, err := s.CreateUser(ctx, dupName)
		if f, ok := ConflictField(err); !ok || f != "username" || !errors.Is(err, ErrConflict) {
			t.Fatalf("dup username: %v", err)
		}

		dupEmail := base
		dupEmail.ID, dupEmail.Username = ids.New(now), "hopper"
		dupEmail.Email = "Grace@Example.com"
		if f, ok := ConflictField(mustErr(s.CreateUser(ctx, dupEmail))); !ok || f != "email" {
			t.Fatalf("dup email: field %q", f)
		}
	})

	t.Run("accounts without email do not collide", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, name := range []string{"no-mail-1", "no-mail-2"} {
			if _, err := s.CreateUser(ctx, CreateUserInput{ID: ids.New(now), Username: name, PasswordHash: "h", Now: now}); err != nil {
				t.Fatalf("CreateUser(%s): %v", name, err)
			}
		}
		if _, err := s.GetUserAuthByEmail(ctx, ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("empty email lookup: %v", err)
		}
	})

	t.Run("missing rows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		missing := ids.New(now)

		if _, err := s.GetUserByID(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetUserByID: %v", err)
		}
		if _, err := s.GetUserAuthByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetUserAuthByUsername: %v", err)
		}
		if err := s.UpdatePasswordHash(ctx, missing, "h", now); !errors.Is(err, ErrNotFound) {
			t.Fatalf("UpdatePasswordHash: %v", err)
		}
		if _, err := s.SetRoles(ctx, missing, []string{RoleAdmin}, now); !errors.Is(err, ErrNotFound) {
			t.Fatalf("SetRoles: %v", err)
		}
	})

	t.Run("roles and password updates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u, err := s.CreateUser(ctx, CreateUserInput{ID: ids.New(now), Username: "linus", PasswordHash: "old", Roles: []string{RoleReader}, Now: now})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		later := now.Add(time.Minute)
		u, err = s.SetRoles(ctx, u.ID, []string{"ADMIN", RoleReader}, later)
		if err != nil {
			t.Fatalf("SetRoles: %v", err)
		}
		if !u.HasRole(RoleAdmin) || !u.HasRole(RoleReader) || !u.UpdatedAt.Equal(later) {
			t.Fatalf("SetRoles = %+v", u)
		}

		if err := s.UpdatePasswordHash(ctx, u.ID, "new", later); err != nil {
			t.Fatalf("UpdatePasswordHash: %v", err)
		}
		ua, err := s.GetUserAuthByUsername(ctx, "linus")
		if err != nil || ua.PasswordHash != "new" {
			t.Fatalf("after update = %+v, %v", ua, err)
		}
	})

	t.Run("rejects incomplete rows", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(context.Background(), CreateUserInput{ID: ids.New(now), Username: " ", PasswordHash: "h", Now: now})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("blank username: %v", err)
		}
	})
}

func mustErr(_ User, err error) error { return err }

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}
