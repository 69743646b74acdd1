package authapi

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bookshelf/cmd/internal/httpx"
)

// ErrConfig is returned by LoadConfigFromEnv for values that cannot be parsed.
var ErrConfig = errors.New("authapi: invalid config")

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Sliding window of failed logins per client IP.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// Progressive lockout per login identifier, counted over LoginIdentifierWindow.
	LoginIdentifierWindow  time.Duration
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	// Web clients keep the refresh token in an HttpOnly cookie guarded by a
	// double-submit CSRF cookie.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            httpx.DefaultMaxBody,
		LoginIPMax:              20,
		LoginIPWindow:           5 * time.Minute,
		LoginIdentifierWindow:   time.Hour,
		LockoutShortThreshold:   5,
		LockoutShortDuration:    5 * time.Minute,
		LockoutLongThreshold:    10,
		LockoutLongDuration:     30 * time.Minute,
		LockoutSevereThreshold:  20,
		LockoutSevereDuration:   2 * time.Hour,
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "bookshelf_refresh",
		CSRFCookieName:          "bookshelf_csrf",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteStrictMode,
	}
}

// LoadConfigFromEnv overlays BOOKSHELF_AUTH_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	bools := []struct {
		key string
		dst *bool
	}{
		{"BOOKSHELF_AUTH_TRUST_PROXY", &cfg.TrustProxy},
		{"BOOKSHELF_AUTH_WEB_COOKIE", &cfg.WebRefreshCookieEnabled},
		{"BOOKSHELF_AUTH_COOKIE_SECURE", &cfg.CookieSecure},
	}
	for _, b := range bools {
		v := strings.TrimSpace(os.Getenv(b.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		*b.dst = parsed
	}

	// Zero disables a limit; negatives are rejected.
	ints := []struct {
		key string
		dst *int
	}{
		{"BOOKSHELF_AUTH_LOGIN_IP_MAX", &cfg.LoginIPMax},
		{"BOOKSHELF_AUTH_LOCKOUT_SHORT_THRESHOLD", &cfg.LockoutShortThreshold},
		{"BOOKSHELF_AUTH_LOCKOUT_LONG_THRESHOLD", &cfg.LockoutLongThreshold},
		{"BOOKSHELF_AUTH_LOCKOUT_SEVERE_THRESHOLD", &cfg.LockoutSevereThreshold},
	}
	for _, n := range ints {
		v := strings.TrimSpace(os.Getenv(n.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return Config{}, ErrConfig
		}
		*n.dst = parsed
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BOOKSHELF_AUTH_LOGIN_IP_WINDOW", &cfg.LoginIPWindow},
		{"BOOKSHELF_AUTH_LOGIN_IDENTIFIER_WINDOW", &cfg.LoginIdentifierWindow},
		{"BOOKSHELF_AUTH_LOCKOUT_SHORT_DURATION", &cfg.LockoutShortDuration},
		{"BOOKSHELF_AUTH_LOCKOUT_LONG_DURATION", &cfg.LockoutLongDuration},
		{"BOOKSHELF_AUTH_LOCKOUT_SEVERE_DURATION", &cfg.LockoutSevereDuration},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_COOKIE_DOMAIN")); v != "" {
		cfg.CookieDomain = v
	}
	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_COOKIE_SAMESITE")); v != "" {
		ss, ok := parseSameSite(v)
		if !ok {
			return Config{}, ErrConfig
		}
		cfg.CookieSameSite = ss
	}
	// SameSite=None cookies are dropped by browsers unless Secure is set.
	if cfg.CookieSameSite == http.SameSiteNoneMode && !cfg.CookieSecure {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

func parseSameSite(v string) (http.SameSite, bool) {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode, true
	case "lax":
		return http.SameSiteLaxMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return 0, false
	}
}
