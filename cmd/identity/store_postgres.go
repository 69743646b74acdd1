package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over bookshelf.users. The pool is owned by the caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the users table (default "bookshelf").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		s.table = pgx.Identifier{schema, "users"}.Sanitize()
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	st := &PostgresStore{pool: pool, table: pgx.Identifier{"bookshelf", "users"}.Sanitize()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

const userColumns = `id, username, email, roles, created_at, updated_at`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dst := append([]any{&u.ID, &u.Username, &u.Email, &u.Roles, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dst...); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser inserts a prepared row.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if in.ID == "" || in.PasswordHash == "" || strings.TrimSpace(in.Username) == "" {
		return User{}, invalid(op, "id, username and password hash are required")
	}
	roles := NormalizeRoles(in.Roles)

	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table+` (id, username, email, password_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+userColumns,
		in.ID, strings.TrimSpace(in.Username), strings.TrimSpace(in.Email), in.PasswordHash, roles, in.Now,
	))
	if err != nil {
		if field, ok := classifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByID returns the user or ErrNotFound.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.table+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserAuthByUsername looks up by normalized username.
func (s *PostgresStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	return s.getAuth(ctx, "identity.GetUserAuthByUsername", "username_norm", NormalizeUsername(username))
}

// GetUserAuthByEmail looks up by normalized email.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	return s.getAuth(ctx, "identity.GetUserAuthByEmail", "email_norm", NormalizeEmail(email))
}

func (s *PostgresStore) getAuth(ctx context.Context, op, column, value string) (UserAuth, error) {
	if value == "" {
		return UserAuth{}, notFound(op)
	}
	var hash string
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM `+s.table+` WHERE `+column+` = $1`, value), &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, notFound(op)
	}
	if err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	return UserAuth{User: u, PasswordHash: hash}, nil
}

// UpdatePasswordHash replaces the stored hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	tag, err := s.pool.Exec(ctx, `UPDATE `+s.table+` SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// SetRoles replaces the user's roles. Unknown roles are dropped.
func (s *PostgresStore) SetRoles(ctx context.Context, id string, roles []string, now time.Time) (User, error) {
	const op = "identity.SetRoles"

	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE `+s.table+` SET roles = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns, id, NormalizeRoles(roles), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// classifyUniqueViolation maps a unique_violation to the logical field by constraint name.
func classifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case strings.Contains(c, "username"):
		return "username", true
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
