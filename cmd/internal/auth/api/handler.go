// Package authapi is the HTTP surface of authentication: registration, login, refresh
// rotation, logout, session listing and the admin session controls.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bookshelf/cmd/identity"
	"bookshelf/cmd/internal/auth/autherr"
	"bookshelf/cmd/internal/auth/gateway"
	"bookshelf/cmd/internal/auth/session"
	"bookshelf/cmd/internal/httpx"
	"bookshelf/cmd/security/token"
)

const codeInvalidCredentials = "invalid_credentials"

// Handler wires HTTP auth endpoints to the account and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts *identity.Accounts
	sessions *session.Service
	issuer   token.AccessIssuer
	auditLog AuditLog
	validate *httpx.Validator
	now      func() time.Time
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the logger (slog.Default otherwise).
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithAuditLog records auth events and enables login throttling.
func WithAuditLog(a AuditLog) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditLog = a
		}
	}
}

// WithClock overrides time.Now for handlers and the gateway.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. accounts, sessions and issuer are required.
func NewHandler(cfg Config, accounts *identity.Accounts, sessions *session.Service, issuer token.AccessIssuer, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil || sessions == nil || issuer == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		issuer:   issuer,
		auditLog: discardAudit{},
		validate: httpx.NewValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.cfg.MaxBodyBytes <= 0 {
		h.cfg.MaxBodyBytes = httpx.DefaultMaxBody
	}
	return h, nil
}

// Routes mounts the auth endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Get("/auth/refresh", h.handleRefresh)
	r.Post("/auth/refresh", h.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(gateway.RequireAuth(h.issuer, h.log, gateway.WithClock(h.now)))

		r.Post("/auth/logout", h.handleLogout)
		r.Post("/auth/logout-all", h.handleLogoutAll)
		r.Get("/auth/sessions", h.handleListSessions)
		r.Delete("/auth/sessions/{id}", h.handleRevokeSession)
		r.Get("/me", h.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(gateway.RequireRole(gateway.RoleAdmin))
			r.Get("/admin/users/{id}/sessions", h.handleAdminSessions)
			r.Delete("/admin/users/{id}/sessions", h.handleAdminPurge)
			r.Delete("/admin/sessions/{id}", h.handleAdminDeleteSession)
			r.Post("/admin/users/{id}/revoke-sessions", h.handleAdminRevokeAll)
			r.Put("/admin/users/{id}/roles", h.handleAdminSetRoles)
		})
	})
}

// Router returns a standalone router serving Routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	u, err := h.accounts.Register(ctx, now, identity.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrConflict):
			field, _ := identity.ConflictField(err)
			httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, conflictMessage(field))
		case errors.Is(err, identity.ErrInvalidInput):
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, inputMessage(err))
		default:
			h.log.Error("auth.register.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		}
		return
	}

	h.audit(ctx, AuditEvent{
		Action:    ActionRegister,
		UserID:    u.ID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
		At:        now,
	})
	httpx.WriteJSON(w, http.StatusCreated, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := loginIdentifier(req.Login)

	if blocked, wait, err := h.checkLoginThrottle(ctx, ip, identifier, now); err != nil {
		h.log.Error("auth.login.throttle.fail", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeServerError, "please retry later")
		return
	} else if blocked {
		h.audit(ctx, AuditEvent{
			Action: ActionLoginRateLimited, Identifier: identifier, IP: ip, UserAgent: ua, At: now,
			Meta: map[string]any{"retry_after_s": int64(wait.Seconds())},
		})
		httpx.WriteAuthError(w, autherr.RateLimitedFor("auth.login", wait))
		return
	}

	u, err := h.accounts.Authenticate(ctx, now, req.Login, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.audit(ctx, AuditEvent{Action: ActionLoginFailed, Identifier: identifier, IP: ip, UserAgent: ua, At: now})
			httpx.WriteError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
			return
		}
		h.log.Error("auth.login.authenticate.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}

	dev := session.DeviceInfo{
		UserAgent:  ua,
		IPAddress:  ip,
		DeviceType: session.ParseDeviceType(req.Device),
		Location:   req.Location,
	}
	sess, raw, err := h.sessions.CreateSession(ctx, now, u.ID, dev)
	if err != nil {
		h.log.Error("auth.login.create_session.fail", "user_id", u.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}

	resp, ok := h.credentials(w, u, sess, raw, now, h.cookieTransport(sess.DeviceType))
	if !ok {
		// The client never learns the refresh token, so the session is unusable.
		_ = h.sessions.RevokeSession(context.WithoutCancel(ctx), now, sess.ID)
		return
	}

	h.audit(ctx, AuditEvent{
		Action: ActionLoginSuccess, UserID: u.ID, SessionID: sess.ID,
		Identifier: identifier, IP: ip, UserAgent: ua, At: now,
	})
	h.log.Info("auth.login.success", "user_id", u.ID, "session_id", sess.ID, "device", sess.DeviceType)
	httpx.WriteJSON(w, http.StatusOK, loginResponse{User: toUserResponse(u), Session: resp})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	presented := strings.TrimSpace(req.RefreshToken)
	if presented == "" {
		presented = strings.TrimSpace(r.Header.Get("X-Refresh-Token"))
	}
	fromCookie := false
	if presented == "" {
		if v, ok := h.refreshTokenFromCookie(r); ok {
			presented, fromCookie = v, true
		}
	}
	if presented == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "refresh token is required")
		return
	}
	if fromCookie && !h.csrfValid(r) {
		httpx.WriteError(w, http.StatusForbidden, httpx.CodeForbidden, "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// Everything that can fail is resolved before the rotation commits, so a failure
	// here leaves the presented token usable.
	cur, err := h.sessions.ActiveByRefreshToken(ctx, now, presented)
	if err != nil {
		h.refreshFailed(ctx, w, err, fromCookie, ip, ua, now)
		return
	}
	u, err := h.accounts.User(ctx, cur.UserID)
	if errors.Is(err, identity.ErrNotFound) {
		_ = h.sessions.RevokeSession(ctx, now, cur.ID)
		h.refreshFailed(ctx, w, autherr.New(autherr.SessionNotFound, "auth.refresh", "user gone"), fromCookie, ip, ua, now)
		return
	}
	if err != nil {
		h.log.Error("auth.refresh.user.fail", "session_id", cur.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	access, exp, ok := h.issueAccess(w, u, cur.ID, now)
	if !ok {
		return
	}

	sess, raw, err := h.sessions.RotateSession(ctx, now, presented)
	if err == nil && sess.ID != cur.ID {
		err = autherr.New(autherr.SessionNotFound, "auth.refresh", "session changed")
	}
	if err != nil {
		h.refreshFailed(ctx, w, err, fromCookie, ip, ua, now)
		return
	}

	resp, ok := h.sessionCredentials(w, sess, raw, access, exp, fromCookie || h.cookieTransport(sess.DeviceType))
	if !ok {
		return
	}
	h.audit(ctx, AuditEvent{Action: ActionRefresh, UserID: u.ID, SessionID: sess.ID, IP: ip, UserAgent: ua, At: now})
	httpx.WriteJSON(w, http.StatusOK, refreshResponse{Session: resp})
}

func (h *Handler) refreshFailed(ctx context.Context, w http.ResponseWriter, err error, fromCookie bool, ip, ua string, now time.Time) {
	kind := autherr.KindOf(err)
	if kind == autherr.SessionNotFound || kind == autherr.RateLimited {
		h.audit(ctx, AuditEvent{
			Action: ActionRefreshRejected, IP: ip, UserAgent: ua, At: now,
			Meta: map[string]any{"reason": kind.String()},
		})
		if kind == autherr.SessionNotFound && fromCookie {
			h.clearWebSessionCookies(w)
		}
		httpx.WriteAuthError(w, err)
		return
	}
	h.log.Error("auth.refresh.fail", "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
}

// credentials issues the access token for sess and builds the response.
func (h *Handler) credentials(w http.ResponseWriter, u identity.User, sess session.Session, raw string, now time.Time, cookie bool) (sessionResponse, bool) {
	access, exp, ok := h.issueAccess(w, u, sess.ID, now)
	if !ok {
		return sessionResponse{}, false
	}
	return h.sessionCredentials(w, sess, raw, access, exp, cookie)
}

func (h *Handler) issueAccess(w http.ResponseWriter, u identity.User, sessionID string, now time.Time) (string, time.Time, bool) {
	access, exp, err := h.issuer.Issue(token.Subject{UserID: u.ID, SessionID: sessionID, Roles: u.Roles}, now)
	if err != nil {
		h.log.Error("auth.access_token.issue.fail", "session_id", sessionID, "err", err)
		if !httpx.WriteAuthError(w, err) {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		}
		return "", time.Time{}, false
	}
	return access, exp, true
}

// sessionCredentials builds the response. With cookie transport the refresh token goes
// into cookies instead of the body.
func (h *Handler) sessionCredentials(w http.ResponseWriter, sess session.Session, raw, access string, exp time.Time, cookie bool) (sessionResponse, bool) {
	resp := sessionResponse{
		SessionID:        sess.ID,
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     raw,
		RefreshExpiresAt: sess.ExpiresAt,
	}
	if cookie {
		if _, err := h.setWebSessionCookies(w, raw, sess.ExpiresAt); err != nil {
			h.log.Error("auth.web_cookie.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
			return sessionResponse{}, false
		}
		resp.RefreshToken = ""
	}
	return resp, true
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFrom(r.Context())
	ctx := r.Context()
	now := h.now().UTC()

	if err := h.sessions.RevokeSession(ctx, now, id.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "session_id", id.SessionID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	h.audit(ctx, AuditEvent{
		Action: ActionLogout, UserID: id.UserID, SessionID: id.SessionID,
		IP: clientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent(), At: now,
	})
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFrom(r.Context())
	ids, ok := h.revokeAll(w, r, id.UserID, ActionLogoutAll)
	if !ok {
		return
	}
	h.clearWebSessionCookies(w)
	httpx.WriteJSON(w, http.StatusOK, revokeAllResponse{Revoked: len(ids)})
}

// partialRevokeResponse reports the sessions a logout-all could not revoke.
type partialRevokeResponse struct {
	Error   httpx.ErrorBody `json:"error"`
	Revoked int             `json:"revoked"`
	Failed  []string        `json:"failed,omitempty"`
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request, userID, action string) ([]string, bool) {
	ctx := r.Context()
	now := h.now().UTC()
	actor, _ := gateway.IdentityFrom(ctx)

	ids, err := h.sessions.RevokeAllForUser(ctx, now, userID)
	h.audit(ctx, AuditEvent{
		Action: action, UserID: userID, IP: clientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent(), At: now,
		Meta: map[string]any{"revoked": len(ids), "actor": actor.UserID, "ok": err == nil},
	})
	if err != nil {
		var rae *session.RevokeAllError
		if errors.As(err, &rae) {
			h.log.Error("auth.revoke_all.incomplete", "user_id", userID, "failed", len(rae.Failed), "err", err)
			httpx.WriteJSON(w, http.StatusInternalServerError, partialRevokeResponse{
				Error:   httpx.ErrorBody{Code: httpx.CodeServerError, Message: "not every session could be revoked"},
				Revoked: len(ids),
				Failed:  rae.Failed,
			})
			return nil, false
		}
		h.log.Error("auth.revoke_all.fail", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return nil, false
	}
	return ids, true
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFrom(r.Context())
	ctx := r.Context()

	var (
		rows  []session.Session
		total int
		err   error
	)
	if r.URL.Query().Get("all") == "true" {
		var hist session.History
		hist, err = h.sessions.SessionHistory(ctx, id.UserID)
		rows, total = hist.Sessions, hist.Total
	} else {
		rows, err = h.sessions.ListActiveSessions(ctx, h.now().UTC(), id.UserID)
	}
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "user_id", id.UserID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}

	out := sessionsResponse{Sessions: make([]sessionInfo, 0, len(rows)), Total: total}
	for _, s := range rows {
		out.Sessions = append(out.Sessions, toSessionInfo(s, id.SessionID))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFrom(r.Context())
	target := chi.URLParam(r, "id")
	ctx := r.Context()
	now := h.now().UTC()

	if err := h.sessions.RevokeUserSession(ctx, now, id.UserID, target); err != nil {
		if autherr.KindOf(err) == autherr.SessionNotFound {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "session not found")
			return
		}
		h.log.Error("auth.sessions.revoke.fail", "session_id", target, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	h.audit(ctx, AuditEvent{
		Action: ActionSessionRevoked, UserID: id.UserID, SessionID: target,
		IP: clientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent(), At: now,
	})
	if target == id.SessionID {
		h.clearWebSessionCookies(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := gateway.IdentityFrom(r.Context())
	u, err := h.accounts.User(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "user not found")
			return
		}
		h.log.Error("auth.me.fail", "user_id", id.UserID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	hist, err := h.sessions.SessionHistory(r.Context(), userID)
	if err != nil {
		h.log.Error("auth.admin.sessions.fail", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	out := sessionsResponse{Sessions: make([]sessionInfo, 0, len(hist.Sessions)), Total: hist.Total}
	for _, s := range hist.Sessions {
		out.Sessions = append(out.Sessions, toSessionInfo(s, ""))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAdminRevokeAll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	ids, ok := h.revokeAll(w, r, userID, ActionAdminRevokeAll)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, revokeAllResponse{Revoked: len(ids)})
}

// handleAdminPurge erases every session row of a user, history included.
func (h *Handler) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	admin, _ := gateway.IdentityFrom(r.Context())
	n, err := h.sessions.PurgeUser(r.Context(), userID)
	if err != nil {
		h.log.Error("auth.admin.purge.fail", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	h.audit(r.Context(), AuditEvent{
		Action: ActionAdminPurge, UserID: userID, IP: clientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent(),
		At: h.now().UTC(), Meta: map[string]any{"admin_id": admin.UserID, "deleted": n},
	})
	httpx.WriteJSON(w, http.StatusOK, purgeResponse{Deleted: n})
}

func (h *Handler) handleAdminDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	admin, _ := gateway.IdentityFrom(r.Context())
	if err := h.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		if autherr.KindOf(err) == autherr.SessionNotFound {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "session not found")
			return
		}
		h.log.Error("auth.admin.delete_session.fail", "session_id", sessionID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return
	}
	h.audit(r.Context(), AuditEvent{
		Action: ActionAdminDelete, SessionID: sessionID, IP: clientIP(r, h.cfg.TrustProxy), UserAgent: r.UserAgent(),
		At: h.now().UTC(), Meta: map[string]any{"admin_id": admin.UserID},
	})
	w.WriteHeader(http.StatusNoContent)
}

type setRolesRequest struct {
	Roles []string `json:"roles" validate:"required,min=1,dive,oneof=reader admin"`
}

func (h *Handler) handleAdminSetRoles(w http.ResponseWriter, r *http.Request) {
	var req setRolesRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "id")
	u, err := h.accounts.SetRoles(r.Context(), h.now().UTC(), userID, req.Roles)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "user not found")
		case errors.Is(err, identity.ErrInvalidInput):
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, inputMessage(err))
		default:
			h.log.Error("auth.admin.roles.fail", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		}
		return
	}
	// Roles ride in access tokens, so they apply from the user's next refresh.
	httpx.WriteJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- helpers ----

type validationResponse struct {
	Error  httpx.ErrorBody    `json:"error"`
	Fields []httpx.FieldError `json:"fields"`
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		var de *httpx.DecodeError
		if errors.As(err, &de) {
			httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, de.Msg)
			return false
		}
		h.log.Error("auth.decode.fail", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeInvalidRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve *httpx.ValidationError
		if errors.As(err, &ve) {
			httpx.WriteJSON(w, http.StatusBadRequest, validationResponse{
				Error:  httpx.ErrorBody{Code: httpx.CodeValidation, Message: ve.Error()},
				Fields: ve.Fields,
			})
			return false
		}
		h.log.Error("auth.validate.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError, "internal error")
		return false
	}
	return true
}

func inputMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid input"
}

func conflictMessage(field string) string {
	if field == "" {
		return "account already exists"
	}
	return field + " is already taken"
}

// loginIdentifier is the throttling key of a login attempt.
func loginIdentifier(login string) string {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return "email:" + identity.NormalizeEmail(login)
	}
	return "username:" + identity.NormalizeUsername(login)
}

// clientIP returns the caller address. Forwarding headers count only behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, p := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
