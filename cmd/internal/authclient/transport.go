package authclient

import (
	"io"
	"net/http"
	"strings"
)

// DefaultExemptPaths are never decorated or intercepted: refreshing through the
// coordinator would wait on itself, and login/register have no token yet.
var DefaultExemptPaths = []string{"/auth/refresh", "/auth/login", "/auth/register"}

// attempt is the per-request retry state. It travels with the call instead of being
// stored on the request.
type attempt struct {
	retried bool
	token   string
}

// Transport decorates requests with the bearer token and recovers once from a 401 by
// waiting on the Coordinator's refresh and replaying the request.
//
// Requests with a body are replayed only when GetBody is set (http.NewRequest sets it
// for the common body types); otherwise the 401 is returned as-is.
type Transport struct {
	Base  http.RoundTripper
	Coord *Coordinator
	// Exempt lists path suffixes passed through untouched. Nil means DefaultExemptPaths.
	Exempt []string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, coord *Coordinator) *Transport {
	return &Transport{Base: base, Coord: coord}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) exempt(path string) bool {
	list := t.Exempt
	if list == nil {
		list = DefaultExemptPaths
	}
	path = strings.TrimRight(path, "/")
	for _, p := range list {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.exempt(req.URL.Path) {
		return t.base().RoundTrip(req)
	}
	return t.roundTrip(req, attempt{})
}

func (t *Transport) roundTrip(req *http.Request, at attempt) (*http.Response, error) {
	tok, gen := t.Coord.State().AccessToken()
	if at.retried {
		tok = at.token
	}

	out := req.Clone(req.Context())
	if tok != "" {
		out.Header.Set("Authorization", "Bearer "+tok)
	} else {
		out.Header.Del("Authorization")
	}
	if at.retried && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}

	res, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	// 403 and every other status pass through; a second 401 is final.
	if res.StatusCode != http.StatusUnauthorized || at.retried || !replayable(req) {
		return res, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	_ = res.Body.Close()

	fresh, err := t.Coord.AwaitRefresh(req.Context(), gen)
	if err != nil {
		return nil, err
	}
	return t.roundTrip(req, attempt{retried: true, token: fresh})
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
