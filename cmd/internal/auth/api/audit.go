package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailed      = "auth.login.failed"
	ActionLoginRateLimited = "auth.login.rate_limited"
	ActionRegister         = "auth.register"
	ActionRefresh          = "auth.refresh.success"
	ActionRefreshRejected  = "auth.refresh.rejected"
	ActionLogout           = "auth.logout"
	ActionLogoutAll        = "auth.logout_all"
	ActionSessionRevoked   = "auth.session.revoked"
	ActionAdminRevokeAll   = "auth.admin.revoke_all"
	ActionAdminPurge       = "auth.admin.sessions_purged"
	ActionAdminDelete      = "auth.admin.session_deleted"
)

// AuditEvent is one security-relevant action. Raw tokens and passwords never go here.
type AuditEvent struct {
	Action     string
	UserID     string
	SessionID  string
	Identifier string
	IP         string
	UserAgent  string
	Meta       map[string]any
	At         time.Time
}

// maxFailureRows bounds the failure timestamps loaded for one throttle decision.
const maxFailureRows = 100

// AuditLog records events and answers the failed-login history used for throttling.
// Failure lookups return timestamps at or after since, newest first.
type AuditLog interface {
	Record(ctx context.Context, ev AuditEvent) error
	LoginFailuresByIP(ctx context.Context, ip string, since time.Time) ([]time.Time, error)
	LoginFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) ([]time.Time, error)
}

// PostgresAuditLog stores events in bookshelf.auth_audit.
type PostgresAuditLog struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditLog wraps pool.
func NewPostgresAuditLog(pool *pgxpool.Pool) *PostgresAuditLog {
	return &PostgresAuditLog{pool: pool}
}

func (p *PostgresAuditLog) Record(ctx context.Context, ev AuditEvent) error {
	var meta *string
	if len(ev.Meta) > 0 {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return fmt.Errorf("audit: marshal meta: %w", err)
		}
		s := string(b)
		meta = &s
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO bookshelf.auth_audit (
			action, user_id, session_id, identifier, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`, ev.Action, nullIfBlank(ev.UserID), nullIfBlank(ev.SessionID), nullIfBlank(ev.Identifier),
		nullIfBlank(ev.IP), nullIfBlank(ev.UserAgent), meta, ev.At)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", ev.Action, err)
	}
	return nil
}

func (p *PostgresAuditLog) LoginFailuresByIP(ctx context.Context, ip string, since time.Time) ([]time.Time, error) {
	return p.failures(ctx, `
		SELECT created_at
		FROM bookshelf.auth_audit
		WHERE action = 'auth.login.failed'
		  AND ip = $1
		  AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, ip, since)
}

func (p *PostgresAuditLog) LoginFailuresByIdentifier(ctx context.Context, identifier string, since time.Time) ([]time.Time, error) {
	return p.failures(ctx, `
		SELECT created_at
		FROM bookshelf.auth_audit
		WHERE action = 'auth.login.failed'
		  AND identifier = $1
		  AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, identifier, since)
}

func (p *PostgresAuditLog) failures(ctx context.Context, q, key string, since time.Time) ([]time.Time, error) {
	rows, err := p.pool.Query(ctx, q, key, since, maxFailureRows)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

func nullIfBlank(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

// MemoryAuditLog keeps events in memory for single-process runs and tests. Events older
// than the retention are dropped on write.
type MemoryAuditLog struct {
	mu        sync.Mutex
	events    []AuditEvent
	retention time.Duration
}

// NewMemoryAuditLog returns a log that keeps events for retention (24h when <= 0).
func NewMemoryAuditLog(retention time.Duration) *MemoryAuditLog {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryAuditLog{retention: retention}
}

func (m *MemoryAuditLog) Record(_ context.Context, ev AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cut := ev.At.Add(-m.retention)
	kept := m.events[:0]
	for _, e := range m.events {
		if !e.At.Before(cut) {
			kept = append(kept, e)
		}
	}
	m.events = append(kept, ev)
	return nil
}

func (m *MemoryAuditLog) LoginFailuresByIP(_ context.Context, ip string, since time.Time) ([]time.Time, error) {
	return m.failures(func(e AuditEvent) bool { return e.IP == ip }, since), nil
}

func (m *MemoryAuditLog) LoginFailuresByIdentifier(_ context.Context, identifier string, since time.Time) ([]time.Time, error) {
	return m.failures(func(e AuditEvent) bool { return e.Identifier == identifier }, since), nil
}

func (m *MemoryAuditLog) failures(match func(AuditEvent) bool, since time.Time) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for i := len(m.events) - 1; i >= 0 && len(out) < maxFailureRows; i-- {
		e := m.events[i]
		if e.Action == ActionLoginFailed && !e.At.Before(since) && match(e) {
			out = append(out, e.At)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

// Events returns a copy of the recorded events.
func (m *MemoryAuditLog) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEvent(nil), m.events...)
}

// audit records ev and logs a failure; auditing never fails a request.
func (h *Handler) audit(ctx context.Context, ev AuditEvent) {
	if strings.TrimSpace(ev.Action) == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = h.now()
	}
	if err := h.auditLog.Record(ctx, ev); err != nil {
		h.log.Error("auth.audit.insert.fail", "action", ev.Action, "err", err)
	}
}

var _ AuditLog = (*PostgresAuditLog)(nil)
var _ AuditLog = (*MemoryAuditLog)(nil)

// discardAudit satisfies AuditLog and keeps nothing.
type discardAudit struct{}

func (discardAudit) Record(context.Context, AuditEvent) error { return nil }
func (discardAudit) LoginFailuresByIP(context.Context, string, time.Time) ([]time.Time, error) {
	return nil, nil
}
func (discardAudit) LoginFailuresByIdentifier(context.Context, string, time.Time) ([]time.Time, error) {
	return nil, nil
}
