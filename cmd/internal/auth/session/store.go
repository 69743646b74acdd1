package session

import (
	"context"
	"strings"
	"time"
)

// DeviceType is the coarse client class recorded on a session.
type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceIOS     DeviceType = "ios"
	DeviceAndroid DeviceType = "android"
	DeviceDesktop DeviceType = "desktop"
	DeviceCLI     DeviceType = "cli"
	DeviceUnknown DeviceType = "unknown"
)

// ParseDeviceType maps free-form client input onto a known DeviceType.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceWeb:
		return DeviceWeb
	case DeviceIOS:
		return DeviceIOS
	case DeviceAndroid:
		return DeviceAndroid
	case DeviceDesktop:
		return DeviceDesktop
	case DeviceCLI:
		return DeviceCLI
	default:
		return DeviceUnknown
	}
}

// DeviceInfo is the descriptive metadata captured at login. It never changes afterwards.
type DeviceInfo struct {
	UserAgent  string
	IPAddress  string
	DeviceType DeviceType
	Location   string
}

// Session mirrors a bookshelf.sessions row.
// RefreshTokenHash is the only form of the refresh token the server keeps.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string

	UserAgent  string
	IPAddress  string
	DeviceType DeviceType
	Location   string

	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the session is usable at now: not revoked and not yet expired.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// SwapInput is the compare-and-swap request for a rotation.
type SwapInput struct {
	OldHash string
	NewHash string
	Now     time.Time

	// SlideTo is the requested new expiry (now + refresh TTL).
	SlideTo time.Time
	// MaxLifetime caps expiry at created_at + MaxLifetime. Zero disables the cap.
	MaxLifetime time.Duration
}

// cappedExpiry applies the absolute lifetime cap to a sliding expiry.
func cappedExpiry(createdAt, slideTo time.Time, maxLifetime time.Duration) time.Time {
	if maxLifetime <= 0 {
		return slideTo
	}
	limit := createdAt.Add(maxLifetime)
	if slideTo.After(limit) {
		return limit
	}
	return slideTo
}

// Store is the session persistence port.
//
// Contract:
//   - SwapRefreshHash is atomic: it only succeeds when OldHash is the current hash of an
//     active session, and replaces it in the same step. A miss returns ErrNotFound.
//   - Revoke and RevokeAllByUser never clear revoked_at and are idempotent.
//   - Finders return ErrNotFound for missing rows; "active" finders also treat revoked
//     and expired rows as missing.
type Store interface {
	Create(ctx context.Context, s Session) error
	FindByID(ctx context.Context, id string) (Session, error)
	FindByUser(ctx context.Context, userID string) ([]Session, error)
	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]Session, error)
	FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error)
	SwapRefreshHash(ctx context.Context, in SwapInput) (Session, error)
	Revoke(ctx context.Context, id string, now time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, now time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
