// Package authclient is the client side of bookshelf authentication: it attaches the
// access token to outgoing requests and, when the server answers 401, runs a single
// refresh that every concurrent request waits on before replaying once.
package authclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when MaxWaiters requests already wait on a refresh.
	ErrQueueFull = errors.New("authclient: refresh queue full")
	// ErrSignedOut is returned to a request whose token was cleared by a failed refresh.
	ErrSignedOut = errors.New("authclient: signed out")
)

// Defaults for Config.
const (
	DefaultRefreshTimeout = 30 * time.Second
	DefaultMaxWaiters     = 256
)

// Refreshed is the outcome of a successful refresh.
type Refreshed struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Refresher exchanges the stored refresh credential for a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (Refreshed, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (Refreshed, error)

func (f RefresherFunc) Refresh(ctx context.Context) (Refreshed, error) { return f(ctx) }

// Config tunes a Coordinator.
type Config struct {
	// RefreshTimeout bounds one refresh call through its context.
	RefreshTimeout time.Duration
	// MaxWaiters bounds the requests queued behind one refresh.
	MaxWaiters int
	// OnSignedOut runs after a failed refresh cleared the token, outside any lock.
	OnSignedOut func(err error)
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.MaxWaiters <= 0 {
		c.MaxWaiters = DefaultMaxWaiters
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type outcome struct {
	token string
	err   error
}

// Coordinator owns TokenState and guarantees at most one refresh in flight.
type Coordinator struct {
	cfg       Config
	state     *TokenState
	refresher Refresher

	mu         sync.Mutex
	refreshing bool
	waiters    map[uint64]chan outcome
	nextWaiter uint64

	refreshes atomic.Int64
	failures  atomic.Int64
}

// NewCoordinator returns a Coordinator writing to state (a fresh one when nil).
func NewCoordinator(state *TokenState, r Refresher, cfg Config) *Coordinator {
	if state == nil {
		state = NewTokenState()
	}
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		state:     state,
		refresher: r,
		waiters:   make(map[uint64]chan outcome),
	}
}

// State exposes the token state for reading.
func (c *Coordinator) State() *TokenState { return c.state }

// SignIn installs a token obtained by logging in.
func (c *Coordinator) SignIn(access string, exp time.Time) {
	c.state.set(access, exp)
}

// SignOut clears the token without calling OnSignedOut.
func (c *Coordinator) SignOut() {
	c.state.clear()
}

// AwaitRefresh is called by a request that got 401 while sent with generation sentGen.
//
// If the token already changed since then, the current token is returned at once.
// Otherwise the caller joins the in-flight refresh, starting one if none is running,
// and gets the refreshed token or the refresh error. Cancelling ctx removes the caller
// from the queue; it never cancels the refresh itself.
func (c *Coordinator) AwaitRefresh(ctx context.Context, sentGen uint64) (string, error) {
	c.mu.Lock()
	tok, gen := c.state.AccessToken()
	if gen != sentGen {
		c.mu.Unlock()
		if tok == "" {
			return "", ErrSignedOut
		}
		return tok, nil
	}
	if len(c.waiters) >= c.cfg.MaxWaiters {
		c.mu.Unlock()
		return "", ErrQueueFull
	}

	c.nextWaiter++
	id := c.nextWaiter
	ch := make(chan outcome, 1)
	c.waiters[id] = ch
	if !c.refreshing {
		c.refreshing = true
		go c.refresh(context.WithoutCancel(ctx))
	}
	c.mu.Unlock()

	select {
	case o := <-ch:
		return o.token, o.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

func (c *Coordinator) refresh(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.RefreshTimeout)
	defer cancel()

	res, err := c.refresher.Refresh(ctx)
	if err == nil && res.AccessToken == "" {
		err = errors.New("authclient: refresh returned no access token")
	}
	c.refreshes.Add(1)

	c.mu.Lock()
	if err == nil {
		c.state.set(res.AccessToken, res.ExpiresAt)
	} else {
		c.failures.Add(1)
		c.state.clear()
	}
	waiters := c.waiters
	c.waiters = make(map[uint64]chan outcome)
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcome{token: res.AccessToken, err: err}
	}

	if err != nil {
		c.cfg.Logger.Warn("authclient.refresh.fail", "waiters", len(waiters), "err", err)
		if c.cfg.OnSignedOut != nil {
			c.cfg.OnSignedOut(err)
		}
		return
	}
	c.cfg.Logger.Debug("authclient.refresh.ok", "waiters", len(waiters))
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Refreshes  int64
	Failures   int64
	Waiting    int
	Refreshing bool
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Refreshes:  c.refreshes.Load(),
		Failures:   c.failures.Load(),
		Waiting:    len(c.waiters),
		Refreshing: c.refreshing,
	}
}
