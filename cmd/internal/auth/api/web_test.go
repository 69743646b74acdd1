package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bookshelf/cmd/internal/auth/session"
)

func cookieHandler() *Handler {
	return &Handler{cfg: DefaultConfig()}
}

func TestCookieTransport(t *testing.T) {
	h := cookieHandler()
	if !h.cookieTransport(session.DeviceWeb) {
		t.Fatalf("web devices use cookies")
	}
	if h.cookieTransport(session.DeviceCLI) {
		t.Fatalf("cli devices get the token in the body")
	}
	h.cfg.WebRefreshCookieEnabled = false
	if h.cookieTransport(session.DeviceWeb) {
		t.Fatalf("disabled cookie transport must not apply")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := cookieHandler()
	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(time.Hour)

	csrf, err := h.setWebSessionCookies(rr, "refresh-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("missing csrf token")
	}

	byName := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		byName[c.Name] = c
	}
	rc, cc := byName[h.cfg.RefreshCookieName], byName[h.cfg.CSRFCookieName]
	if rc == nil || cc == nil {
		t.Fatalf("cookies = %v", rr.Result().Cookies())
	}
	if !rc.HttpOnly || rc.Value != "refresh-123" || !rc.Secure || rc.Path != "/auth" {
		t.Fatalf("refresh cookie = %+v", rc)
	}
	if cc.HttpOnly || cc.Value != csrf {
		t.Fatalf("csrf cookie must be readable by scripts: %+v", cc)
	}
}

func TestClearWebSessionCookies(t *testing.T) {
	h := cookieHandler()
	rr := httptest.NewRecorder()
	h.clearWebSessionCookies(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("cookie %s not expired: %+v", c.Name, c)
		}
	}
}

func TestCSRFValid(t *testing.T) {
	h := cookieHandler()
	tests := []struct {
		name   string
		cookie string
		header string
		want   bool
	}{
		{"match", "csrf-abc", "csrf-abc", true},
		{"mismatch", "csrf-abc", "csrf-abd", false},
		{"missing header", "csrf-abc", "", false},
		{"missing cookie", "", "csrf-abc", false},
		{"length differs", "csrf-abc", "csrf-abcd", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: h.cfg.CSRFCookieName, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set(h.cfg.CSRFHeaderName, tc.header)
			}
			if got := h.csrfValid(req); got != tc.want {
				t.Fatalf("csrfValid = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	h := cookieHandler()
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	if _, ok := h.refreshTokenFromCookie(req); ok {
		t.Fatalf("no cookie must not yield a token")
	}
	req.AddCookie(&http.Cookie{Name: h.cfg.RefreshCookieName, Value: "tok-123"})
	if v, ok := h.refreshTokenFromCookie(req); !ok || v != "tok-123" {
		t.Fatalf("refreshTokenFromCookie = %q, %v", v, ok)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name  string
		trust bool
		xff   string
		want  string
	}{
		{"remote addr", false, "", "192.0.2.10"},
		{"untrusted forwarded ignored", false, "203.0.113.9", "192.0.2.10"},
		{"trusted forwarded", true, "garbage, 203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"trusted without header", true, "", "192.0.2.10"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.10:51234"
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIP(req, tc.trust); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
