package authapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"bookshelf/cmd/internal/auth/session"
)

func (h *Handler) cookieTransport(dev session.DeviceType) bool {
	return h.cfg.WebRefreshCookieEnabled && dev == session.DeviceWeb
}

// setWebSessionCookies stores the refresh token in an HttpOnly cookie and issues a fresh
// readable CSRF cookie the browser must echo in CSRFHeaderName.
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, refreshToken string, exp time.Time) (string, error) {
	csrf, err := newCSRFToken()
	if err != nil {
		return "", err
	}
	h.setCookie(w, h.cfg.RefreshCookieName, refreshToken, exp, true)
	h.setCookie(w, h.cfg.CSRFCookieName, csrf, exp, false)
	return csrf, nil
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if !h.cfg.WebRefreshCookieEnabled {
		return
	}
	h.setCookie(w, h.cfg.RefreshCookieName, "", time.Unix(0, 0).UTC(), true)
	h.setCookie(w, h.cfg.CSRFCookieName, "", time.Unix(0, 0).UTC(), false)
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	if !h.cfg.WebRefreshCookieEnabled {
		return "", false
	}
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}

func (h *Handler) csrfValid(r *http.Request) bool {
	c, err := r.Cookie(h.cfg.CSRFCookieName)
	if err != nil {
		return false
	}
	cv := strings.TrimSpace(c.Value)
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if cv == "" || len(cv) != len(hv) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cv), []byte(hv)) == 1
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
	if value == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func newCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
