package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx answer carrying the server's error envelope.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("bookshelf api: status %d", e.Status)
	}
	return fmt.Sprintf("bookshelf api: %d %s: %s", e.Status, e.Code, e.Message)
}

func decodeAPIError(res *http.Response) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	_ = json.Unmarshal(raw, &env)
	e := &APIError{Status: res.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	if s, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && s > 0 {
		e.RetryAfter = time.Duration(s) * time.Second
	}
	return e
}

// User is the account as the server reports it.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo describes one of the caller's sessions.
type SessionInfo struct {
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

// Client is a typed bookshelf API client. Authenticated calls go through the
// coordinated Transport.
type Client struct {
	base   string
	device string
	store  RefreshTokenStore
	coord  *Coordinator
	authed *http.Client
	plain  *http.Client
}

// ClientOption configures NewClient.
type ClientOption func(*clientOpts)

type clientOpts struct {
	store     RefreshTokenStore
	base      http.RoundTripper
	timeout   time.Duration
	device    string
	coord     Config
	userAgent string
}

// WithRefreshStore persists refresh tokens somewhere other than memory.
func WithRefreshStore(s RefreshTokenStore) ClientOption {
	return func(o *clientOpts) { o.store = s }
}

// WithBaseTransport sets the transport under the coordinator.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOpts) { o.base = rt }
}

// WithTimeout sets the per-request timeout of the underlying http.Clients.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOpts) { o.timeout = d }
}

// WithDeviceType sets the device type reported at login ("cli" by default).
func WithDeviceType(d string) ClientOption {
	return func(o *clientOpts) { o.device = d }
}

// WithCoordinatorConfig tunes the refresh coordinator.
func WithCoordinatorConfig(cfg Config) ClientOption {
	return func(o *clientOpts) { o.coord = cfg }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(o *clientOpts) { o.userAgent = ua }
}

type uaTransport struct {
	base http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.ua == "" || r.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(r)
}

// NewClient builds a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("authclient: invalid server url %q", baseURL)
	}

	o := clientOpts{timeout: 30 * time.Second, device: "cli", userAgent: "bookshelfctl"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = &MemoryRefreshStore{}
	}
	if o.base == nil {
		o.base = http.DefaultTransport
	}
	if o.coord.Logger == nil {
		o.coord.Logger = slog.Default()
	}
	base := uaTransport{base: o.base, ua: o.userAgent}

	c := &Client{
		base:   strings.TrimRight(u.String(), "/"),
		device: o.device,
		store:  o.store,
		plain:  &http.Client{Transport: base, Timeout: o.timeout},
	}
	c.coord = NewCoordinator(nil, &HTTPRefresher{BaseURL: c.base, HTTP: c.plain, Store: o.store}, o.coord)
	c.authed = &http.Client{Transport: NewTransport(base, c.coord), Timeout: o.timeout}
	return c, nil
}

// Coordinator returns the client's refresh coordinator.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// HTTPClient returns the coordinated client for calls this type does not wrap.
func (c *Client) HTTPClient() *http.Client { return c.authed }

// BaseURL is the server root.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeAPIError(res)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("authclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	err := c.call(ctx, c.plain, http.MethodPost, "/auth/register", map[string]string{
		"username": username, "email": email, "password": password,
	}, &out)
	return out.User, err
}

// Login authenticates and stores the new session's tokens.
func (c *Client) Login(ctx context.Context, login, password string) (User, error) {
	var out struct {
		User    User `json:"user"`
		Session struct {
			SessionID       string    `json:"session_id"`
			AccessToken     string    `json:"access_token"`
			AccessExpiresAt time.Time `json:"access_expires_at"`
			RefreshToken    string    `json:"refresh_token"`
		} `json:"session"`
	}
	err := c.call(ctx, c.plain, http.MethodPost, "/auth/login", map[string]string{
		"login": login, "password": password, "device_type": c.device,
	}, &out)
	if err != nil {
		return User{}, err
	}
	if out.Session.RefreshToken == "" {
		return User{}, errors.New("authclient: login response carries no refresh token")
	}
	if err := c.store.Save(ctx, out.Session.RefreshToken); err != nil {
		return User{}, fmt.Errorf("authclient: save refresh token: %w", err)
	}
	c.coord.SignIn(out.Session.AccessToken, out.Session.AccessExpiresAt)
	return out.User, nil
}

// Logout ends the current session on the server and forgets the local tokens. Local
// state is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, c.authed, http.MethodPost, "/auth/logout", nil, nil)
	c.forget(ctx)
	return err
}

// LogoutAll ends every session of the user and returns how many were revoked.
func (c *Client) LogoutAll(ctx context.Context) (int, error) {
	var out struct {
		Revoked int `json:"revoked"`
	}
	err := c.call(ctx, c.authed, http.MethodPost, "/auth/logout-all", nil, &out)
	c.forget(ctx)
	return out.Revoked, err
}

func (c *Client) forget(ctx context.Context) {
	c.coord.SignOut()
	_ = c.store.Clear(ctx)
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	err := c.call(ctx, c.authed, http.MethodGet, "/me", nil, &out)
	return out.User, err
}

// Sessions lists the caller's active sessions, or every session when all is set.
func (c *Client) Sessions(ctx context.Context, all bool) ([]SessionInfo, error) {
	path := "/auth/sessions"
	if all {
		path += "?all=true"
	}
	var out struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	err := c.call(ctx, c.authed, http.MethodGet, path, nil, &out)
	return out.Sessions, err
}

// RevokeSession revokes one of the caller's sessions.
func (c *Client) RevokeSession(ctx context.Context, id string) error {
	return c.call(ctx, c.authed, http.MethodDelete, "/auth/sessions/"+url.PathEscape(id), nil, nil)
}
