// Command refresh-smoke is a CI-friendly smoke test for bookshelf auth against a running
// server.
//
// It validates:
//   - register + login with a CLI device
//   - concurrent requests with a rejected access token share one refresh
//   - the rotated refresh token keeps working
//   - logout revokes the session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"bookshelf/cmd/internal/authclient"
)

type smokeConfig struct {
	BaseURL  string
	Parallel int
	Rounds   int
	Password string
	Verbose  bool
}

func main() {
	var cfg smokeConfig
	flag.StringVar(&cfg.BaseURL, "url", "http://127.0.0.1:8080", "server base URL")
	flag.IntVar(&cfg.Parallel, "n", 16, "concurrent requests sharing one refresh")
	flag.IntVar(&cfg.Rounds, "rounds", 2, "number of poisoned-token rounds")
	flag.StringVar(&cfg.Password, "password", "smoke test reading list", "password for the throwaway account")
	flag.BoolVar(&cfg.Verbose, "v", false, "verbose output")
	timeout := flag.Duration("timeout", 15*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "refresh smoke: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("refresh smoke: ok")
}

func run(ctx context.Context, cfg smokeConfig, out io.Writer) error {
	if cfg.Parallel < 1 {
		return errors.New("-n must be positive")
	}
	if cfg.Rounds < 1 {
		cfg.Rounds = 1
	}

	c, err := authclient.NewClient(cfg.BaseURL, authclient.WithUserAgent("bookshelf-refresh-smoke"))
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	username := "smoke_" + strings.ToLower(ulid.Make().String())
	if _, err := c.Register(ctx, username, "", cfg.Password); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	u, err := c.Login(ctx, username, cfg.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if cfg.Verbose {
		fmt.Fprintf(out, "logged in: user=%s id=%s\n", u.Username, u.ID)
	}

	for round := 1; round <= cfg.Rounds; round++ {
		// Poison the access token so every request gets 401 and must wait on a refresh.
		c.Coordinator().SignIn("invalid-access-token", time.Now())
		before := c.Coordinator().Stats().Refreshes

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < cfg.Parallel; i++ {
			g.Go(func() error {
				me, err := c.Me(gctx)
				if err != nil {
					return err
				}
				if me.ID != u.ID {
					return fmt.Errorf("me returned user %s, want %s", me.ID, u.ID)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		if got := c.Coordinator().Stats().Refreshes - before; got != 1 {
			return fmt.Errorf("round %d: %d refreshes for %d requests, want 1", round, got, cfg.Parallel)
		}
		if cfg.Verbose {
			fmt.Fprintf(out, "round %d: %d requests, 1 refresh\n", round, cfg.Parallel)
		}
	}

	sessions, err := c.Sessions(ctx, false)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	if len(sessions) != 1 || !sessions[0].Current {
		return fmt.Errorf("expected exactly the current session, got %d", len(sessions))
	}

	if err := c.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if _, err := c.Me(ctx); !errors.Is(err, authclient.ErrNoRefreshToken) {
		return fmt.Errorf("me after logout: %v", err)
	}
	return nil
}
