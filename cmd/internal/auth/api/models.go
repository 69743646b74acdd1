package authapi

import (
	"time"

	"bookshelf/cmd/identity"
	"bookshelf/cmd/internal/auth/session"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,username"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type loginRequest struct {
	// Login is a username, or an email address when it contains '@'.
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
	Device   string `json:"device_type" validate:"omitempty,oneof=web ios android desktop cli unknown"`
	Location string `json:"location" validate:"max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionResponse carries the credentials of a login or refresh. RefreshToken is empty
// when the cookie transport is used.
type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type sessionInfo struct {
	ID         string     `json:"id"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	DeviceType string     `json:"device_type"`
	Location   string     `json:"location,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Current    bool       `json:"current"`
}

type sessionsResponse struct {
	Sessions []sessionInfo `json:"sessions"`
	Total    int           `json:"total,omitempty"`
}

type revokeAllResponse struct {
	Revoked int `json:"revoked"`
}

type purgeResponse struct {
	Deleted int64 `json:"deleted"`
}

func toUserResponse(u identity.User) userResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
	}
}

func toSessionInfo(s session.Session, currentID string) sessionInfo {
	return sessionInfo{
		ID:         s.ID,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
		DeviceType: string(s.DeviceType),
		Location:   s.Location,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		ExpiresAt:  s.ExpiresAt,
		RevokedAt:  s.RevokedAt,
		Current:    s.ID == currentID,
	}
}
