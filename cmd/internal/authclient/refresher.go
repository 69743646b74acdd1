package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoRefreshToken means there is nothing to refresh with; the user must log in.
	ErrNoRefreshToken = errors.New("authclient: no refresh token")
	// ErrSessionEnded means the server no longer accepts the refresh token.
	ErrSessionEnded = errors.New("authclient: session ended")
)

// RefreshTokenStore persists the refresh token between runs. Save replaces the previous
// token; rotation makes the old one useless.
type RefreshTokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, tok string) error
	Clear(ctx context.Context) error
}

// MemoryRefreshStore keeps the token for the life of the process.
type MemoryRefreshStore struct {
	mu  sync.Mutex
	tok string
}

func (m *MemoryRefreshStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == "" {
		return "", ErrNoRefreshToken
	}
	return m.tok, nil
}

func (m *MemoryRefreshStore) Save(_ context.Context, tok string) error {
	m.mu.Lock()
	m.tok = tok
	m.mu.Unlock()
	return nil
}

func (m *MemoryRefreshStore) Clear(context.Context) error {
	return m.Save(context.Background(), "")
}

// HTTPRefresher posts the stored refresh token to the server's refresh endpoint.
//
// HTTP must not route through the coordinated Transport.
type HTTPRefresher struct {
	BaseURL string
	HTTP    *http.Client
	Store   RefreshTokenStore
}

type refreshWire struct {
	Session struct {
		AccessToken     string    `json:"access_token"`
		AccessExpiresAt time.Time `json:"access_expires_at"`
		RefreshToken    string    `json:"refresh_token"`
	} `json:"session"`
}

func (h *HTTPRefresher) Refresh(ctx context.Context) (Refreshed, error) {
	tok, err := h.Store.Load(ctx)
	if err != nil {
		return Refreshed{}, err
	}

	body, err := json.Marshal(map[string]string{"refresh_token": tok})
	if err != nil {
		return Refreshed{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(h.BaseURL, "/")+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return Refreshed{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return Refreshed{}, fmt.Errorf("authclient: refresh: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		_ = h.Store.Clear(ctx)
		return Refreshed{}, fmt.Errorf("%w: %w", ErrSessionEnded, decodeAPIError(res))
	}
	if res.StatusCode != http.StatusOK {
		return Refreshed{}, decodeAPIError(res)
	}

	var out refreshWire
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Refreshed{}, fmt.Errorf("authclient: decode refresh: %w", err)
	}
	if out.Session.RefreshToken == "" {
		return Refreshed{}, errors.New("authclient: refresh response carries no refresh token")
	}
	if err := h.Store.Save(ctx, out.Session.RefreshToken); err != nil {
		return Refreshed{}, fmt.Errorf("authclient: save refresh token: %w", err)
	}
	return Refreshed{AccessToken: out.Session.AccessToken, ExpiresAt: out.Session.AccessExpiresAt}, nil
}
