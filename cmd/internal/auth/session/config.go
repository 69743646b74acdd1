package session

import (
	"os"
	"strconv"
	"strings"
	"time"

	"bookshelf/cmd/security/token"
)

// Config defines runtime configuration for sessions and access tokens.
type Config struct {
	// Issuer is the "iss" claim of access tokens.
	Issuer string
	// Audience is the optional "aud" claim of access tokens.
	Audience string

	AccessTokenTTL time.Duration
	ClockSkew      time.Duration

	// RefreshTTL is the sliding window: every rotation pushes expiry to now + RefreshTTL.
	RefreshTTL time.Duration
	// MaxLifetime caps a session at created_at + MaxLifetime no matter how often it rotates.
	MaxLifetime time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// RefreshRateLimit rotations are allowed per session within RefreshRateWindow. 0 disables.
	RefreshRateLimit  int
	RefreshRateWindow time.Duration

	// AccessTokenFormat is token.FormatPaseto or token.FormatJWT.
	AccessTokenFormat string

	// PasetoV4SecretKeyHex signs v4.public tokens.
	PasetoV4SecretKeyHex string
	// JWTPrivateKey / JWTPublicKey are inline PEM or file paths.
	JWTPrivateKey string
	JWTPublicKey  string

	// EphemeralKeys allows a generated PASETO key when none is configured (dev only).
	EphemeralKeys bool
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:            "bookshelf",
		AccessTokenTTL:    5 * time.Minute,
		ClockSkew:         30 * time.Second,
		RefreshTTL:        30 * 24 * time.Hour,
		MaxLifetime:       90 * 24 * time.Hour,
		RefreshTokenBytes: token.DefaultRefreshBytes,
		RefreshRateLimit:  10,
		RefreshRateWindow: time.Minute,
		AccessTokenFormat: token.FormatPaseto,
	}
}

// LoadConfigFromEnv loads configuration from BOOKSHELF_* variables.
//
// Durations are Go duration strings. Returns ErrConfig on any invalid value or when
// the selected access token format has no key and EphemeralKeys is off.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	cfg.Audience = strings.TrimSpace(os.Getenv("BOOKSHELF_JWT_AUDIENCE"))

	durations := []struct {
		key    string
		dst    *time.Duration
		zeroOK bool
	}{
		{"BOOKSHELF_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"BOOKSHELF_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"BOOKSHELF_AUTH_REFRESH_TTL", &cfg.RefreshTTL, false},
		{"BOOKSHELF_AUTH_SESSION_MAX_LIFETIME", &cfg.MaxLifetime, true},
		{"BOOKSHELF_AUTH_REFRESH_RATE_WINDOW", &cfg.RefreshRateWindow, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.zeroOK) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < token.MinRefreshBytes || n > token.MaxRefreshBytes {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_REFRESH_RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshRateLimit = n
	}
	if v := strings.TrimSpace(os.Getenv("BOOKSHELF_AUTH_EPHEMERAL_KEYS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.EphemeralKeys = b
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BOOKSHELF_ACCESS_TOKEN_FORMAT"))); v != "" {
		cfg.AccessTokenFormat = v
	}
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("BOOKSHELF_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTPrivateKey = strings.TrimSpace(os.Getenv("BOOKSHELF_JWT_PRIVATE_KEY"))
	cfg.JWTPublicKey = strings.TrimSpace(os.Getenv("BOOKSHELF_JWT_PUBLIC_KEY"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c Config) Validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	// The cap must leave room for at least one full refresh window.
	if c.MaxLifetime > 0 && c.MaxLifetime < c.RefreshTTL {
		return ErrConfig
	}
	switch c.AccessTokenFormat {
	case token.FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" && !c.EphemeralKeys {
			return ErrConfig
		}
	case token.FormatJWT:
		if c.JWTPrivateKey == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}

// IssuerConfig projects the access token settings.
func (c Config) IssuerConfig() token.IssuerConfig {
	return token.IssuerConfig{
		Issuer:    c.Issuer,
		Audience:  c.Audience,
		TTL:       c.AccessTokenTTL,
		ClockSkew: c.ClockSkew,
	}
}

// NewAccessIssuer builds the configured access token issuer. Key problems surface
// here, at startup, as autherr.Signing errors.
func NewAccessIssuer(c Config) (token.AccessIssuer, error) {
	switch c.AccessTokenFormat {
	case token.FormatJWT:
		return token.NewJWTIssuerFromPEM(c.IssuerConfig(), c.JWTPrivateKey, c.JWTPublicKey)
	case token.FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			if !c.EphemeralKeys {
				return nil, ErrConfig
			}
			return token.NewEphemeralPasetoV4Issuer(c.IssuerConfig()), nil
		}
		return token.NewPasetoV4Issuer(c.IssuerConfig(), c.PasetoV4SecretKeyHex)
	default:
		return nil, ErrConfig
	}
}
