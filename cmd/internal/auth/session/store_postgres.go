package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on bookshelf.sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `
	id, user_id, refresh_token_hash,
	COALESCE(user_agent, ''), COALESCE(ip_address, ''), device_type, COALESCE(location, ''),
	expires_at, revoked_at, created_at, updated_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var device string
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.UserAgent,
		&s.IPAddress,
		&device,
		&s.Location,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.DeviceType = DeviceType(device)
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create inserts a new session row. s.ID must already be set.
func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bookshelf.sessions (
			id, user_id, refresh_token_hash,
			user_agent, ip_address, device_type, location,
			expires_at, revoked_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $9)
	`, s.ID, s.UserID, s.RefreshTokenHash,
		nullIfEmpty(s.UserAgent), nullIfEmpty(s.IPAddress), string(s.DeviceType), nullIfEmpty(s.Location),
		s.ExpiresAt, s.CreatedAt)
	return err
}

// FindByID loads a session regardless of state.
func (p *PostgresStore) FindByID(ctx context.Context, id string) (Session, error) {
	return scanSession(p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM bookshelf.sessions WHERE id = $1`, id))
}

// FindByUser returns every session row of a user, revoked and expired included.
func (p *PostgresStore) FindByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM bookshelf.sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// FindActiveByUser returns the user's sessions that are neither revoked nor expired at now.
func (p *PostgresStore) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM bookshelf.sessions
		WHERE user_id = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
		ORDER BY updated_at DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// FindActiveByRefreshHash loads the active session currently holding hash.
func (p *PostgresStore) FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return scanSession(p.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM bookshelf.sessions
		WHERE refresh_token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
	`, hash, now))
}

// SwapRefreshHash is the rotation CAS: one conditional UPDATE keyed on the old hash.
// Under concurrent callers only the first UPDATE matches; the row lock makes the
// others re-evaluate the WHERE clause against the new hash and match nothing.
func (p *PostgresStore) SwapRefreshHash(ctx context.Context, in SwapInput) (Session, error) {
	var capMicros *int64
	if in.MaxLifetime > 0 {
		v := in.MaxLifetime.Microseconds()
		capMicros = &v
	}
	return scanSession(p.pool.QueryRow(ctx, `
		UPDATE bookshelf.sessions
		SET refresh_token_hash = $2,
		    expires_at = CASE
		        WHEN $5::bigint IS NULL THEN $4::timestamptz
		        ELSE LEAST($4::timestamptz, created_at + ($5::bigint * INTERVAL '1 microsecond'))
		    END,
		    updated_at = $3
		WHERE refresh_token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $3
		RETURNING `+sessionColumns,
		in.OldHash, in.NewHash, in.Now, in.SlideTo, capMicros))
}

// Revoke sets revoked_at once. Unknown ids and already-revoked rows are no-ops.
func (p *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE bookshelf.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    updated_at = CASE WHEN revoked_at IS NULL THEN $2 ELSE updated_at END
		WHERE id = $1
	`, id, now)
	return err
}

// RevokeAllByUser revokes every non-revoked session of a user in one statement and
// returns the ids it revoked.
func (p *PostgresStore) RevokeAllByUser(ctx context.Context, userID string, now time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		UPDATE bookshelf.sessions
		SET revoked_at = $2,
		    updated_at = $2
		WHERE user_id = $1
		  AND revoked_at IS NULL
		RETURNING id
	`, userID, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Delete hard-deletes one row.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM bookshelf.sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllByUser hard-deletes every row of a user.
func (p *PostgresStore) DeleteAllByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM bookshelf.sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByUser counts every row of a user, including revoked and expired ones.
func (p *PostgresStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM bookshelf.sessions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// DeleteExpired removes rows that expired or were revoked before the cutoff.
func (p *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM bookshelf.sessions
		WHERE expires_at < $1
		   OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
