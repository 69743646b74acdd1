package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*UserAuth
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*UserAuth),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func cloneAuth(a *UserAuth) UserAuth {
	out := *a
	out.Roles = slices.Clone(a.Roles)
	return out
}

func (m *MemoryStore) CreateUser(_ context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if in.ID == "" || in.PasswordHash == "" || strings.TrimSpace(in.Username) == "" {
		return User{}, invalid(op, "id, username and password hash are required")
	}
	uname := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[in.ID]; ok {
		return User{}, ConflictError{Op: op, Field: "id"}
	}
	if _, ok := m.byUsername[uname]; ok {
		return User{}, ConflictError{Op: op, Field: "username"}
	}
	if email != "" {
		if _, ok := m.byEmail[email]; ok {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	a := &UserAuth{
		User: User{
			ID:        in.ID,
			Username:  strings.TrimSpace(in.Username),
			Email:     strings.TrimSpace(in.Email),
			Roles:     NormalizeRoles(in.Roles),
			CreatedAt: in.Now,
			UpdatedAt: in.Now,
		},
		PasswordHash: in.PasswordHash,
	}
	m.byID[a.ID] = a
	m.byUsername[uname] = a.ID
	if email != "" {
		m.byEmail[email] = a.ID
	}
	return cloneAuth(a).User, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return cloneAuth(a).User, nil
}

func (m *MemoryStore) GetUserAuthByUsername(_ context.Context, username string) (UserAuth, error) {
	return m.lookup("identity.GetUserAuthByUsername", m.byUsername, NormalizeUsername(username))
}

func (m *MemoryStore) GetUserAuthByEmail(_ context.Context, email string) (UserAuth, error) {
	return m.lookup("identity.GetUserAuthByEmail", m.byEmail, NormalizeEmail(email))
}

func (m *MemoryStore) lookup(op string, index map[string]string, key string) (UserAuth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := index[key]
	if !ok || key == "" {
		return UserAuth{}, notFound(op)
	}
	return cloneAuth(m.byID[id]), nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return notFound("identity.UpdatePasswordHash")
	}
	a.PasswordHash = hash
	a.UpdatedAt = now
	return nil
}

func (m *MemoryStore) SetRoles(_ context.Context, id string, roles []string, now time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return User{}, notFound("identity.SetRoles")
	}
	a.Roles = NormalizeRoles(roles)
	a.UpdatedAt = now
	return cloneAuth(a).User, nil
}
