package authclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// tokenServer accepts exactly one bearer token at a time.
type tokenServer struct {
	mu    sync.Mutex
	valid string
	seen  []string
}

func (s *tokenServer) setValid(tok string) {
	s.mu.Lock()
	s.valid = tok
	s.mu.Unlock()
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	s.mu.Lock()
	s.seen = append(s.seen, auth)
	ok := auth == "Bearer "+s.valid
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/forbidden":
		w.WriteHeader(http.StatusForbidden)
	case !ok:
		w.WriteHeader(http.StatusUnauthorized)
	default:
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}
}

func newRefreshingClient(t *testing.T, srv *tokenServer, delay time.Duration) (*http.Client, *Coordinator, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	coord := NewCoordinator(nil, RefresherFunc(func(ctx context.Context) (Refreshed, error) {
		calls.Add(1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Refreshed{}, ctx.Err()
		}
		srv.setValid("fresh")
		return Refreshed{AccessToken: "fresh", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
	}), Config{Logger: discardLogger()})
	coord.SignIn("stale", time.Now())
	return &http.Client{Transport: NewTransport(nil, coord)}, coord, &calls
}

func TestTransport_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	ts := &tokenServer{valid: "nobody-has-this"}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	hc, coord, calls := newRefreshingClient(t, ts, 50*time.Millisecond)

	const n = 16
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/books", nil)
			if err != nil {
				return err
			}
			res, err := hc.Do(req)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				return errors.New("status " + res.Status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("requests: %v", err)
	}
	if c := calls.Load(); c != 1 {
		t.Fatalf("refresh calls = %d, want 1", c)
	}
	if tok, _ := coord.State().AccessToken(); tok != "fresh" {
		t.Fatalf("token = %q", tok)
	}
}

func TestTransport_SecondUnauthorizedIsFinal(t *testing.T) {
	var hits atomic.Int32
	coord := NewCoordinator(nil, RefresherFunc(func(context.Context) (Refreshed, error) {
		return Refreshed{AccessToken: "still-bad"}, nil
	}), Config{Logger: discardLogger()})
	coord.SignIn("stale", time.Now())
	hc := &http.Client{Transport: NewTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		hits.Add(1)
		return response(http.StatusUnauthorized, `{"error":{"code":"unauthorized"}}`), nil
	}), coord)}

	res, err := hc.Get("http://bookshelf.test/me")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if h := hits.Load(); h != 2 {
		t.Fatalf("server hits = %d, want 2", h)
	}
	if st := coord.Stats(); st.Refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", st.Refreshes)
	}
}

func TestTransport_ForbiddenDoesNotRefresh(t *testing.T) {
	ts := &tokenServer{valid: "stale"}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	hc, _, calls := newRefreshingClient(t, ts, 0)

	res, err := hc.Get(srv.URL + "/forbidden")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden || calls.Load() != 0 {
		t.Fatalf("status = %d, refreshes = %d", res.StatusCode, calls.Load())
	}
}

func TestTransport_ExemptPaths(t *testing.T) {
	var gotAuth atomic.Value
	coord := NewCoordinator(nil, RefresherFunc(func(context.Context) (Refreshed, error) {
		t.Error("exempt path must not trigger a refresh")
		return Refreshed{}, errors.New("unexpected")
	}), Config{Logger: discardLogger()})
	coord.SignIn("stale", time.Now())
	hc := &http.Client{Transport: NewTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotAuth.Store(r.Header.Get("Authorization"))
		return response(http.StatusUnauthorized, ""), nil
	}), coord)}

	for _, p := range []string{"/auth/login", "/auth/refresh/", "/api/auth/register"} {
		res, err := hc.Post("http://bookshelf.test"+p, "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", p, res.StatusCode)
		}
		if a, _ := gotAuth.Load().(string); a != "" {
			t.Fatalf("%s: Authorization = %q, want none", p, a)
		}
	}
}

func TestTransport_ReplaysBody(t *testing.T) {
	ts := &tokenServer{valid: "nobody-has-this"}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	hc, _, calls := newRefreshingClient(t, ts, 0)

	payload := `{"title":"Middlemarch"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/books", bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	res, err := hc.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer res.Body.Close()
	echo, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(echo) != payload {
		t.Fatalf("replay: %d %q", res.StatusCode, echo)
	}
	if calls.Load() != 1 {
		t.Fatalf("refresh calls = %d", calls.Load())
	}

	ts.mu.Lock()
	seen := append([]string(nil), ts.seen...)
	ts.mu.Unlock()
	if len(seen) != 2 || seen[0] != "Bearer stale" || seen[1] != "Bearer fresh" {
		t.Fatalf("Authorization headers = %q", seen)
	}
}

func TestTransport_UnreplayableBodyPassesThrough(t *testing.T) {
	ts := &tokenServer{valid: "nobody-has-this"}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	hc, _, calls := newRefreshingClient(t, ts, 0)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/books", io.NopCloser(strings.NewReader("x")))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.GetBody = nil
	res, err := hc.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized || calls.Load() != 0 {
		t.Fatalf("status = %d, refreshes = %d", res.StatusCode, calls.Load())
	}
}

func TestTransport_CallerCancelDuringRefresh(t *testing.T) {
	ts := &tokenServer{valid: "nobody-has-this"}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	hc, coord, _ := newRefreshingClient(t, ts, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/books", nil)
	_, err := hc.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if st := coord.Stats(); st.Waiting != 0 {
		t.Fatalf("waiting = %d after cancel", st.Waiting)
	}
	waitFor(t, "refresh completes", func() bool { return !coord.Stats().Refreshing })
	if tok, _ := coord.State().AccessToken(); tok != "fresh" {
		t.Fatalf("token = %q", tok)
	}
}

func TestTransport_RefreshFailureSurfaces(t *testing.T) {
	var signedOut atomic.Int32
	coord := NewCoordinator(nil, RefresherFunc(func(context.Context) (Refreshed, error) {
		return Refreshed{}, ErrSessionEnded
	}), Config{Logger: discardLogger(), OnSignedOut: func(error) { signedOut.Add(1) }})
	coord.SignIn("stale", time.Now())
	hc := &http.Client{Transport: NewTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return response(http.StatusUnauthorized, ""), nil
	}), coord)}

	_, err := hc.Get("http://bookshelf.test/me")
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("err = %v, want ErrSessionEnded", err)
	}
	waitFor(t, "OnSignedOut", func() bool { return signedOut.Load() == 1 })
}
