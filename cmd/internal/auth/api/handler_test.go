package authapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookshelf/cmd/identity"
	"bookshelf/cmd/internal/auth/session"
	"bookshelf/cmd/internal/httpx"
	"bookshelf/cmd/security/password"
	"bookshelf/cmd/security/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// switchIssuer fails Issue while failing is set.
type switchIssuer struct {
	token.AccessIssuer
	failing atomic.Bool
}

func (s *switchIssuer) Issue(sub token.Subject, now time.Time) (string, time.Time, error) {
	if s.failing.Load() {
		return "", time.Time{}, errors.New("signer unavailable")
	}
	return s.AccessIssuer.Issue(sub, now)
}

type testEnv struct {
	srv      *httptest.Server
	clock    *fakeClock
	audit    *MemoryAuditLog
	sessions *session.Service
	issuer   *switchIssuer
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	accounts, err := identity.NewAccounts(identity.NewMemoryStore(), pw, identity.WithBootstrapAdmins("root"))
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}

	scfg := session.DefaultConfig()
	scfg.EphemeralKeys = true
	scfg.RefreshRateLimit = 0
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewService(scfg, session.NewMemoryStore(), token.NewHasher([]byte("test-refresh-hmac-key-32-bytes!!")), session.WithLogger(log))
	issuer := &switchIssuer{AccessIssuer: token.NewEphemeralPasetoV4Issuer(scfg.IssuerConfig())}

	cfg := DefaultConfig()
	cfg.CookieSecure = false
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	audit := NewMemoryAuditLog(0)
	h, err := NewHandler(cfg, accounts, sessions, issuer, WithLogger(log), WithAuditLog(audit), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, clock: clock, audit: audit, sessions: sessions, issuer: issuer}
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	headers map[string]string
	cookies []*http.Cookie
}

func (e *testEnv) do(t *testing.T, c call) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if c.body != nil {
		switch b := c.body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(c.method, e.srv.URL+c.path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	res, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, body
}

func (e *testEnv) register(t *testing.T, username, pw string) userResponse {
	t.Helper()
	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/register", body: map[string]string{
		"username": username, "password": pw,
	}})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, res.StatusCode, body)
	}
	var out meResponse
	mustDecode(t, body, &out)
	return out.User
}

func (e *testEnv) login(t *testing.T, username, pw, device string) (loginResponse, *http.Response) {
	t.Helper()
	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"login": username, "password": pw, "device_type": device,
	}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, res.StatusCode, body)
	}
	var out loginResponse
	mustDecode(t, body, &out)
	return out, res
}

func mustDecode(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func errCode(t *testing.T, body []byte) string {
	t.Helper()
	var er httpx.ErrorResponse
	mustDecode(t, body, &er)
	return er.Error.Code
}

const testPassword = "anne of green gables"

func TestRegister(t *testing.T) {
	e := newTestEnv(t, nil)

	u := e.register(t, "Ada", testPassword)
	if u.ID == "" || u.Username != "Ada" || len(u.Roles) != 1 || u.Roles[0] != identity.RoleReader {
		t.Fatalf("registered user = %+v", u)
	}

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"duplicate username", map[string]string{"username": "ADA", "password": testPassword}, http.StatusConflict, httpx.CodeConflict},
		{"bad username", map[string]string{"username": "a b", "password": testPassword}, http.StatusBadRequest, httpx.CodeValidation},
		{"bad email", map[string]string{"username": "grace", "email": "nope", "password": testPassword}, http.StatusBadRequest, httpx.CodeValidation},
		{"weak password", map[string]string{"username": "grace", "password": "password"}, http.StatusBadRequest, httpx.CodeValidation},
		{"unknown field", `{"username":"grace","password":"x","admin":true}`, http.StatusBadRequest, httpx.CodeInvalidRequest},
		{"malformed", `{"username":`, http.StatusBadRequest, httpx.CodeInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, body := e.do(t, call{method: http.MethodPost, path: "/auth/register", body: tc.body})
			if res.StatusCode != tc.wantCode || errCode(t, body) != tc.wantErr {
				t.Fatalf("got %d %s", res.StatusCode, body)
			}
		})
	}
}

func TestLoginRefreshReplay(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)

	lr, _ := e.login(t, "ada", testPassword, "cli")
	if lr.Session.AccessToken == "" || lr.Session.RefreshToken == "" || lr.Session.SessionID == "" {
		t.Fatalf("login session = %+v", lr.Session)
	}

	res, body := e.do(t, call{method: http.MethodGet, path: "/me", bearer: lr.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/me: %d %s", res.StatusCode, body)
	}

	e.clock.Advance(time.Minute)
	res, body = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %s", res.StatusCode, body)
	}
	var rr refreshResponse
	mustDecode(t, body, &rr)
	if rr.Session.SessionID != lr.Session.SessionID {
		t.Fatalf("rotation must keep the session id")
	}
	if rr.Session.RefreshToken == lr.Session.RefreshToken || rr.Session.AccessToken == lr.Session.AccessToken {
		t.Fatalf("rotation must issue new tokens")
	}

	// The original refresh token is dead.
	res, body = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusUnauthorized || errCode(t, body) != httpx.CodeSessionNotActive {
		t.Fatalf("replay: %d %s", res.StatusCode, body)
	}

	// The rotated one works, via the header transport on GET.
	res, body = e.do(t, call{method: http.MethodGet, path: "/auth/refresh", headers: map[string]string{"X-Refresh-Token": rr.Session.RefreshToken}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET refresh: %d %s", res.StatusCode, body)
	}
}

func TestRefresh_IssueFailureKeepsToken(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)
	lr, _ := e.login(t, "ada", testPassword, "cli")

	e.issuer.failing.Store(true)
	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("refresh with failing issuer: %d %s", res.StatusCode, body)
	}

	e.issuer.failing.Store(false)
	res, body = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh after recovery: %d %s", res.StatusCode, body)
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	e := newTestEnv(t, nil)
	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/refresh"})
	if res.StatusCode != http.StatusBadRequest || errCode(t, body) != httpx.CodeInvalidRequest {
		t.Fatalf("got %d %s", res.StatusCode, body)
	}
}

func TestAccessTokenExpiryThenRefresh(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)
	lr, _ := e.login(t, "ada", testPassword, "desktop")

	e.clock.Advance(6 * time.Minute)
	res, body := e.do(t, call{method: http.MethodGet, path: "/me", bearer: lr.Session.AccessToken})
	if res.StatusCode != http.StatusUnauthorized || errCode(t, body) != httpx.CodeUnauthorized {
		t.Fatalf("expired access token: %d %s", res.StatusCode, body)
	}
	if !strings.Contains(res.Header.Get("WWW-Authenticate"), "invalid_token") {
		t.Fatalf("WWW-Authenticate = %q", res.Header.Get("WWW-Authenticate"))
	}

	res, body = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %s", res.StatusCode, body)
	}
	var rr refreshResponse
	mustDecode(t, body, &rr)
	if res, _ := e.do(t, call{method: http.MethodGet, path: "/me", bearer: rr.Session.AccessToken}); res.StatusCode != http.StatusOK {
		t.Fatalf("/me with refreshed token: %d", res.StatusCode)
	}
}

func TestLogin_FailuresDoNotEnumerate(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)

	resA, bodyA := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": "nobody", "password": testPassword}})
	resB, bodyB := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": "ada", "password": "wrong horse battery"}})
	if resA.StatusCode != http.StatusUnauthorized || resB.StatusCode != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d", resA.StatusCode, resB.StatusCode)
	}
	if !bytes.Equal(bodyA, bodyB) {
		t.Fatalf("bodies differ:\n%s\n%s", bodyA, bodyB)
	}

	failed := 0
	for _, ev := range e.audit.Events() {
		if ev.Action == ActionLoginFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("audited failures = %d, want 2", failed)
	}
}

func TestLogin_ProgressiveLockout(t *testing.T) {
	e := newTestEnv(t, func(c *Config) {
		c.LockoutShortThreshold = 3
		c.LockoutShortDuration = time.Minute
	})
	e.register(t, "ada", testPassword)

	for i := 0; i < 3; i++ {
		res, _ := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": "ada", "password": "wrong horse battery"}})
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i, res.StatusCode)
		}
	}

	// Correct password is refused while locked, and the identifier is case-insensitive.
	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": "ADA", "password": testPassword}})
	if res.StatusCode != http.StatusTooManyRequests || errCode(t, body) != httpx.CodeRateLimited {
		t.Fatalf("locked login: %d %s", res.StatusCode, body)
	}
	if res.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", res.Header.Get("Retry-After"))
	}

	e.clock.Advance(61 * time.Second)
	e.login(t, "ada", testPassword, "cli")
}

func TestLogin_IPWindow(t *testing.T) {
	e := newTestEnv(t, func(c *Config) {
		c.LoginIPMax = 2
		c.LoginIPWindow = 5 * time.Minute
		c.LockoutShortThreshold = 0
		c.LockoutLongThreshold = 0
		c.LockoutSevereThreshold = 0
	})
	e.register(t, "ada", testPassword)

	for _, who := range []string{"x1", "x2"} {
		e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": who, "password": testPassword}})
	}
	res, _ := e.do(t, call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"login": "ada", "password": testPassword}})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third attempt from same ip: %d", res.StatusCode)
	}
}

func TestWebCookieFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)

	lr, res := e.login(t, "ada", testPassword, "web")
	if lr.Session.RefreshToken != "" {
		t.Fatalf("web login must not expose the refresh token in the body")
	}
	cookies := res.Cookies()
	var refresh, csrf *http.Cookie
	for _, c := range cookies {
		switch c.Name {
		case "bookshelf_refresh":
			refresh = c
		case "bookshelf_csrf":
			csrf = c
		}
	}
	if refresh == nil || csrf == nil || !refresh.HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	// Cookie without the double-submit header is refused.
	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{refresh, csrf}})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("refresh without csrf: %d %s", res.StatusCode, body)
	}

	res, body = e.do(t, call{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		cookies: []*http.Cookie{refresh, csrf},
		headers: map[string]string{"X-CSRF-Token": csrf.Value},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh with csrf: %d %s", res.StatusCode, body)
	}
	var rr refreshResponse
	mustDecode(t, body, &rr)
	if rr.Session.RefreshToken != "" || rr.Session.AccessToken == "" {
		t.Fatalf("refresh body = %+v", rr.Session)
	}
	rotated := false
	for _, c := range res.Cookies() {
		if c.Name == "bookshelf_refresh" && c.Value != "" && c.Value != refresh.Value {
			rotated = true
		}
	}
	if !rotated {
		t.Fatalf("refresh cookie was not rotated")
	}

	// Replaying the old cookie fails and clears the cookies.
	res, _ = e.do(t, call{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		cookies: []*http.Cookie{refresh, csrf},
		headers: map[string]string{"X-CSRF-Token": csrf.Value},
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed cookie: %d", res.StatusCode)
	}
	if len(res.Cookies()) != 2 {
		t.Fatalf("expected cookies cleared, got %v", res.Cookies())
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)
	lr, _ := e.login(t, "ada", testPassword, "cli")

	res, _ := e.do(t, call{method: http.MethodPost, path: "/auth/logout", bearer: lr.Session.AccessToken})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", res.StatusCode)
	}
	res, _ = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: lr.Session.RefreshToken}})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: %d", res.StatusCode)
	}
	// Access tokens are verified statelessly and outlive the session until they expire.
	res, _ = e.do(t, call{method: http.MethodGet, path: "/me", bearer: lr.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/me after logout: %d", res.StatusCode)
	}
	// Logging out twice is fine.
	res, _ = e.do(t, call{method: http.MethodPost, path: "/auth/logout", bearer: lr.Session.AccessToken})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("second logout: %d", res.StatusCode)
	}
}

func TestLogoutAll(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)
	a, _ := e.login(t, "ada", testPassword, "cli")
	b, _ := e.login(t, "ada", testPassword, "ios")

	res, body := e.do(t, call{method: http.MethodPost, path: "/auth/logout-all", bearer: a.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("logout-all: %d %s", res.StatusCode, body)
	}
	var out revokeAllResponse
	mustDecode(t, body, &out)
	if out.Revoked != 2 {
		t.Fatalf("revoked = %d, want 2", out.Revoked)
	}
	for _, rt := range []string{a.Session.RefreshToken, b.Session.RefreshToken} {
		res, _ := e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: rt}})
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("refresh after logout-all: %d", res.StatusCode)
		}
	}
}

func TestSessionsListAndRevoke(t *testing.T) {
	e := newTestEnv(t, nil)
	e.register(t, "ada", testPassword)
	e.register(t, "grace", testPassword)
	cur, _ := e.login(t, "ada", testPassword, "cli")
	other, _ := e.login(t, "ada", testPassword, "android")
	foreign, _ := e.login(t, "grace", testPassword, "cli")

	res, body := e.do(t, call{method: http.MethodGet, path: "/auth/sessions", bearer: cur.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, body)
	}
	var list sessionsResponse
	mustDecode(t, body, &list)
	if len(list.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list.Sessions))
	}
	for _, s := range list.Sessions {
		if s.Current != (s.ID == cur.Session.SessionID) {
			t.Fatalf("current flag wrong on %+v", s)
		}
	}

	res, _ = e.do(t, call{method: http.MethodDelete, path: "/auth/sessions/" + foreign.Session.SessionID, bearer: cur.Session.AccessToken})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("revoking another user's session: %d", res.StatusCode)
	}
	res, _ = e.do(t, call{method: http.MethodDelete, path: "/auth/sessions/" + other.Session.SessionID, bearer: cur.Session.AccessToken})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke own session: %d", res.StatusCode)
	}

	res, body = e.do(t, call{method: http.MethodGet, path: "/auth/sessions", bearer: cur.Session.AccessToken})
	mustDecode(t, body, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != cur.Session.SessionID {
		t.Fatalf("after revoke: %+v", list.Sessions)
	}

	res, body = e.do(t, call{method: http.MethodGet, path: "/auth/sessions?all=true", bearer: cur.Session.AccessToken})
	mustDecode(t, body, &list)
	if res.StatusCode != http.StatusOK || list.Total != 2 || len(list.Sessions) != 2 {
		t.Fatalf("history: %d %+v", res.StatusCode, list)
	}
}

func TestProtectedRoutesNeedBearer(t *testing.T) {
	e := newTestEnv(t, nil)
	for _, c := range []call{
		{method: http.MethodGet, path: "/me"},
		{method: http.MethodPost, path: "/auth/logout"},
		{method: http.MethodGet, path: "/auth/sessions"},
		{method: http.MethodGet, path: "/me", bearer: "v4.public.garbage"},
	} {
		res, body := e.do(t, c)
		if res.StatusCode != http.StatusUnauthorized || errCode(t, body) != httpx.CodeUnauthorized {
			t.Fatalf("%s %s: %d %s", c.method, c.path, res.StatusCode, body)
		}
		if !strings.HasPrefix(res.Header.Get("WWW-Authenticate"), "Bearer") {
			t.Fatalf("missing WWW-Authenticate on %s", c.path)
		}
	}
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t, nil)
	reader := e.register(t, "ada", testPassword)
	e.register(t, "root", testPassword)
	rl, _ := e.login(t, "ada", testPassword, "cli")
	al, _ := e.login(t, "root", testPassword, "cli")

	path := "/admin/users/" + reader.ID + "/sessions"
	res, body := e.do(t, call{method: http.MethodGet, path: path, bearer: rl.Session.AccessToken})
	if res.StatusCode != http.StatusForbidden || errCode(t, body) != httpx.CodeForbidden {
		t.Fatalf("reader on admin route: %d %s", res.StatusCode, body)
	}

	res, body = e.do(t, call{method: http.MethodGet, path: path, bearer: al.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin list: %d %s", res.StatusCode, body)
	}
	var list sessionsResponse
	mustDecode(t, body, &list)
	if list.Total != 1 {
		t.Fatalf("admin list total = %d", list.Total)
	}

	res, body = e.do(t, call{method: http.MethodPost, path: "/admin/users/" + reader.ID + "/revoke-sessions", bearer: al.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin revoke: %d %s", res.StatusCode, body)
	}
	res, _ = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: rl.Session.RefreshToken}})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reader refresh after admin revoke: %d", res.StatusCode)
	}

	res, body = e.do(t, call{
		method: http.MethodPut,
		path:   "/admin/users/" + reader.ID + "/roles",
		body:   setRolesRequest{Roles: []string{"reader", "admin"}},
		bearer: al.Session.AccessToken,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set roles: %d %s", res.StatusCode, body)
	}
	res, body = e.do(t, call{
		method: http.MethodPut,
		path:   "/admin/users/" + reader.ID + "/roles",
		body:   setRolesRequest{Roles: []string{"librarian"}},
		bearer: al.Session.AccessToken,
	})
	if res.StatusCode != http.StatusBadRequest || errCode(t, body) != httpx.CodeValidation {
		t.Fatalf("unknown role: %d %s", res.StatusCode, body)
	}

	// New roles apply from the next login or refresh.
	nl, _ := e.login(t, "ada", testPassword, "cli")
	res, _ = e.do(t, call{method: http.MethodGet, path: path, bearer: nl.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("promoted reader on admin route: %d", res.StatusCode)
	}
}

func TestAdminDeleteAndPurge(t *testing.T) {
	e := newTestEnv(t, nil)
	reader := e.register(t, "ada", testPassword)
	e.register(t, "root", testPassword)
	first, _ := e.login(t, "ada", testPassword, "cli")
	_, _ = e.login(t, "ada", testPassword, "web")
	_, _ = e.login(t, "ada", testPassword, "ios")
	al, _ := e.login(t, "root", testPassword, "cli")

	res, body := e.do(t, call{method: http.MethodDelete, path: "/admin/sessions/" + first.Session.SessionID, bearer: first.Session.AccessToken})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reader delete: %d %s", res.StatusCode, body)
	}

	res, body = e.do(t, call{method: http.MethodDelete, path: "/admin/sessions/" + first.Session.SessionID, bearer: al.Session.AccessToken})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("admin delete: %d %s", res.StatusCode, body)
	}
	res, _ = e.do(t, call{method: http.MethodDelete, path: "/admin/sessions/" + first.Session.SessionID, bearer: al.Session.AccessToken})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: %d", res.StatusCode)
	}
	res, _ = e.do(t, call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: first.Session.RefreshToken}})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh of deleted session: %d", res.StatusCode)
	}

	res, body = e.do(t, call{method: http.MethodDelete, path: "/admin/users/" + reader.ID + "/sessions", bearer: al.Session.AccessToken})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin purge: %d %s", res.StatusCode, body)
	}
	var purged purgeResponse
	mustDecode(t, body, &purged)
	if purged.Deleted != 2 {
		t.Fatalf("deleted = %d, want 2", purged.Deleted)
	}

	res, body = e.do(t, call{method: http.MethodGet, path: "/admin/users/" + reader.ID + "/sessions", bearer: al.Session.AccessToken})
	var list sessionsResponse
	mustDecode(t, body, &list)
	if res.StatusCode != http.StatusOK || list.Total != 0 {
		t.Fatalf("after purge: %d total=%d", res.StatusCode, list.Total)
	}
}
