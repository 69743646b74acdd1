package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bookshelf/cmd/internal/auth/autherr"
	"bookshelf/cmd/security/token"
)

const tracerName = "bookshelf/session"

// Service is the only writer of session records.
type Service struct {
	cfg     Config
	store   Store
	hasher  token.Hasher
	limiter *refreshLimiter

	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	newID   func() string
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the logger (slog.Default otherwise).
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithIDGenerator overrides session id generation (ULID by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs a Service over store. hasher must be the same value used for
// the lifetime of the stored hashes.
func NewService(cfg Config, store Store, hasher token.Hasher, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		store:   store,
		hasher:  hasher,
		limiter: newRefreshLimiter(cfg.RefreshRateLimit, cfg.RefreshRateWindow),
		log:     slog.Default(),
		tracer:  otel.Tracer(tracerName),
		newID:   func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, autherr.KindOf(err).String())
	}
	span.End()
}

// CreateSession persists a new session and returns the raw refresh token, which the
// caller must hand to the client exactly once.
func (s *Service) CreateSession(ctx context.Context, now time.Time, userID string, dev DeviceInfo) (sess Session, raw string, err error) {
	ctx, span := s.startSpan(ctx, "session.Create", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, "", errors.New("session.Create: empty user id")
	}

	raw, hash, err := token.GenerateRefreshSecret(s.cfg.RefreshTokenBytes, s.hasher)
	if err != nil {
		return Session{}, "", fmt.Errorf("session.Create: %w", err)
	}

	sess = Session{
		ID:               s.newID(),
		UserID:           userID,
		RefreshTokenHash: hash,
		UserAgent:        truncate(strings.TrimSpace(dev.UserAgent), 512),
		IPAddress:        strings.TrimSpace(dev.IPAddress),
		DeviceType:       ParseDeviceType(string(dev.DeviceType)),
		Location:         truncate(strings.TrimSpace(dev.Location), 256),
		ExpiresAt:        cappedExpiry(now, now.Add(s.cfg.RefreshTTL), s.cfg.MaxLifetime),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, "", fmt.Errorf("session.Create: %w", err)
	}

	s.metrics.sessionCreated()
	span.SetAttributes(attribute.String("session.id", sess.ID))
	return sess, raw, nil
}

// ActiveByRefreshToken returns the active session a raw refresh token currently belongs
// to without changing it. Failures are autherr.SessionNotFound like RotateSession.
func (s *Service) ActiveByRefreshToken(ctx context.Context, now time.Time, presented string) (Session, error) {
	const op = "session.Lookup"
	presented, ok := token.NormalizePresented(presented)
	if !ok {
		return Session{}, notFound(op)
	}
	sess, err := s.store.FindActiveByRefreshHash(ctx, s.hasher.Hash(presented), now)
	if errors.Is(err, ErrNotFound) {
		return Session{}, notFound(op)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// RotateSession exchanges a raw refresh token for a new one on the same session.
//
// Every failure to match an active session (unknown, revoked, expired, already rotated,
// or lost a concurrent race) is reported identically as autherr.SessionNotFound.
func (s *Service) RotateSession(ctx context.Context, now time.Time, presented string) (sess Session, raw string, err error) {
	const op = "session.Rotate"
	ctx, span := s.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	presented, ok := token.NormalizePresented(presented)
	if !ok {
		s.metrics.rotation(rotateNotFound)
		return Session{}, "", notFound(op)
	}
	oldHash := s.hasher.Hash(presented)

	// Advisory read: it only identifies the session for rate limiting. The swap below
	// is what decides the outcome.
	cur, err := s.store.FindActiveByRefreshHash(ctx, oldHash, now)
	if errors.Is(err, ErrNotFound) {
		s.metrics.rotation(rotateNotFound)
		return Session{}, "", notFound(op)
	}
	if err != nil {
		s.metrics.rotation(rotateError)
		return Session{}, "", fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.String("session.id", cur.ID), attribute.String("user.id", cur.UserID))

	// Only completed swaps count against the limit, so callers that lose a race never
	// use up the winner's budget.
	if allowed, retry := s.limiter.Check(cur.ID, now); !allowed {
		if _, err := s.store.FindActiveByRefreshHash(ctx, oldHash, now); errors.Is(err, ErrNotFound) {
			s.metrics.rotation(rotateLostRace)
			return Session{}, "", notFound(op)
		} else if err != nil {
			s.metrics.rotation(rotateError)
			return Session{}, "", fmt.Errorf("%s: %w", op, err)
		}
		s.metrics.rotation(rotateRateLimited)
		return Session{}, "", autherr.RateLimitedFor(op, retry)
	}

	raw, newHash, err := token.GenerateRefreshSecret(s.cfg.RefreshTokenBytes, s.hasher)
	if err != nil {
		s.metrics.rotation(rotateError)
		return Session{}, "", fmt.Errorf("%s: %w", op, err)
	}

	sess, err = s.store.SwapRefreshHash(ctx, SwapInput{
		OldHash:     oldHash,
		NewHash:     newHash,
		Now:         now,
		SlideTo:     now.Add(s.cfg.RefreshTTL),
		MaxLifetime: s.cfg.MaxLifetime,
	})
	if errors.Is(err, ErrNotFound) {
		s.metrics.rotation(rotateLostRace)
		s.log.Debug("session.rotate.lost_race", "session_id", cur.ID)
		return Session{}, "", notFound(op)
	}
	if err != nil {
		s.metrics.rotation(rotateError)
		return Session{}, "", fmt.Errorf("%s: %w", op, err)
	}

	s.limiter.Record(sess.ID, now)
	s.metrics.rotation(rotateOK)
	return sess, raw, nil
}

// RevokeSession revokes one session. Revoking an unknown or already revoked session
// is a successful no-op.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) (err error) {
	ctx, span := s.startSpan(ctx, "session.Revoke", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := s.store.Revoke(ctx, sessionID, now); err != nil {
		return fmt.Errorf("session.Revoke: %w", err)
	}
	s.metrics.revoked("single", 1)
	return nil
}

// RevokeUserSession revokes sessionID only if it belongs to userID. Sessions of other
// users are reported as not found.
func (s *Service) RevokeUserSession(ctx context.Context, now time.Time, userID, sessionID string) (err error) {
	const op = "session.RevokeOwned"
	ctx, span := s.startSpan(ctx, op, attribute.String("user.id", userID), attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	sess, err := s.store.FindByID(ctx, sessionID)
	if errors.Is(err, ErrNotFound) || (err == nil && sess.UserID != userID) {
		return autherr.New(autherr.SessionNotFound, op, "session not found")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Revoke(ctx, sessionID, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.revoked("single", 1)
	return nil
}

// RevokeAllForUser revokes every active session of userID and returns the revoked ids.
//
// The bulk update is tried first. If it fails, sessions are revoked one by one and a
// *RevokeAllError lists the ids that could not be revoked.
func (s *Service) RevokeAllForUser(ctx context.Context, now time.Time, userID string) (ids []string, err error) {
	const op = "session.RevokeAll"
	ctx, span := s.startSpan(ctx, op, attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	ids, bulkErr := s.store.RevokeAllByUser(ctx, userID, now)
	if bulkErr == nil {
		s.metrics.revoked("all", len(ids))
		span.SetAttributes(attribute.Int("sessions.revoked", len(ids)))
		return ids, nil
	}
	s.log.Warn("session.revoke_all.bulk_fail", "user_id", userID, "err", bulkErr)

	active, err := s.store.FindActiveByUser(ctx, userID, now)
	if err != nil {
		return nil, &RevokeAllError{UserID: userID, Err: errors.Join(bulkErr, err)}
	}

	var failed []string
	var errs []error
	for _, sess := range active {
		if err := s.store.Revoke(ctx, sess.ID, now); err != nil {
			failed = append(failed, sess.ID)
			errs = append(errs, err)
			continue
		}
		ids = append(ids, sess.ID)
	}
	s.metrics.revoked("all", len(ids))

	if len(failed) > 0 {
		s.log.Error("session.revoke_all.partial", "user_id", userID, "failed", len(failed))
		return ids, &RevokeAllError{UserID: userID, Failed: failed, Err: errors.Join(errs...)}
	}
	return ids, nil
}

// ListActiveSessions returns the user's sessions that are neither revoked nor expired.
func (s *Service) ListActiveSessions(ctx context.Context, now time.Time, userID string) (out []Session, err error) {
	ctx, span := s.startSpan(ctx, "session.ListActive", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	out, err = s.store.FindActiveByUser(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("session.ListActive: %w", err)
	}
	return out, nil
}

// History is every session row of a user plus the total count.
type History struct {
	Sessions []Session
	Total    int
}

// SessionHistory returns all rows of a user, revoked and expired included.
func (s *Service) SessionHistory(ctx context.Context, userID string) (h History, err error) {
	ctx, span := s.startSpan(ctx, "session.History", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	rows, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return History{}, fmt.Errorf("session.History: %w", err)
	}
	total, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return History{}, fmt.Errorf("session.History: %w", err)
	}
	return History{Sessions: rows, Total: total}, nil
}

// DeleteSession hard-deletes one row.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	err := s.store.Delete(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return autherr.New(autherr.SessionNotFound, "session.Delete", "session not found")
	}
	return err
}

// PurgeUser hard-deletes every row of a user.
func (s *Service) PurgeUser(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteAllByUser(ctx, userID)
}

// PurgeExpired deletes rows that expired or were revoked more than retention ago.
// Correctness never depends on it.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	return s.store.DeleteExpired(ctx, now.Add(-retention))
}

// RunJanitor calls PurgeExpired every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := s.PurgeExpired(ctx, now.UTC(), retention)
			if err != nil {
				s.log.Error("session.janitor.fail", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("session.janitor.purged", "rows", n)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
