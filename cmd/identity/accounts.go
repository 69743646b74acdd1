package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookshelf/cmd/identity/ids"
	"bookshelf/cmd/security/password"
)

// Accounts registers users and checks their credentials.
type Accounts struct {
	store  Store
	pw     password.Config
	dummy  *password.DummyVerifier
	log    *slog.Logger
	roles  []string
	admins map[string]bool
}

// AccountsOption configures Accounts.
type AccountsOption func(*Accounts)

// WithAccountsLogger sets the logger.
func WithAccountsLogger(log *slog.Logger) AccountsOption {
	return func(a *Accounts) {
		if log != nil {
			a.log = log
		}
	}
}

// WithBootstrapAdmins grants the admin role at registration to the listed usernames.
func WithBootstrapAdmins(usernames ...string) AccountsOption {
	return func(a *Accounts) {
		for _, u := range usernames {
			if n := NormalizeUsername(u); n != "" {
				a.admins[n] = true
			}
		}
	}
}

// NewAccounts builds the service. The dummy hash used for unknown logins is computed here.
func NewAccounts(store Store, pw password.Config, opts ...AccountsOption) (*Accounts, error) {
	dummy, err := password.NewDummyVerifier(pw)
	if err != nil {
		return nil, fmt.Errorf("identity: dummy verifier: %w", err)
	}
	a := &Accounts{
		store:  store,
		pw:     pw,
		dummy:  dummy,
		log:    slog.Default(),
		roles:  []string{RoleReader},
		admins: map[string]bool{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RegisterInput is a sign-up request. Email is optional.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates a reader account.
func (a *Accounts) Register(ctx context.Context, now time.Time, in RegisterInput) (User, error) {
	const op = "identity.Register"

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, invalid(op, "username is required")
	}
	if err := a.pw.Validate(in.Password); err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	hash, err := a.pw.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	roles := a.roles
	if a.admins[NormalizeUsername(username)] {
		roles = append([]string{RoleAdmin}, roles...)
	}
	return a.store.CreateUser(ctx, CreateUserInput{
		ID:           ids.New(now),
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Roles:        roles,
		Now:          now,
	})
}

// Authenticate resolves login (a username, or an email when it contains '@') and checks
// the password. Unknown accounts and wrong passwords are both ErrInvalidCredentials and
// take the same time.
func (a *Accounts) Authenticate(ctx context.Context, now time.Time, login, pw string) (User, error) {
	const op = "identity.Authenticate"

	login = strings.TrimSpace(login)
	var (
		ua  UserAuth
		err error
	)
	if looksLikeEmail(login) {
		ua, err = a.store.GetUserAuthByEmail(ctx, login)
	} else {
		ua, err = a.store.GetUserAuthByUsername(ctx, login)
	}
	if errors.Is(err, ErrNotFound) {
		a.dummy.Verify(pw)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.pw.Verify(ua.PasswordHash, pw)
	if err != nil {
		a.log.Error("identity.verify.bad_hash", "user_id", ua.ID, "err", err)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if a.pw.NeedsRehash(ua.PasswordHash) {
		if hash, err := a.pw.Hash(pw); err == nil {
			if err := a.store.UpdatePasswordHash(ctx, ua.ID, hash, now); err != nil {
				a.log.Warn("identity.rehash.fail", "user_id", ua.ID, "err", err)
			}
		}
	}
	return ua.User, nil
}

// User returns the current account record, roles included.
func (a *Accounts) User(ctx context.Context, id string) (User, error) {
	return a.store.GetUserByID(ctx, id)
}

// SetRoles replaces the roles of a user.
func (a *Accounts) SetRoles(ctx context.Context, now time.Time, id string, roles []string) (User, error) {
	return a.store.SetRoles(ctx, id, roles, now)
}
