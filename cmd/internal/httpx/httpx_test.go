package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bookshelf/cmd/internal/auth/autherr"
)

type loginBody struct {
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		ctype   string
		wantErr string
	}{
		{name: "ok", body: `{"username":"reader","password":"longenough"}`},
		{name: "unknown field", body: `{"username":"a","nope":1}`, wantErr: `unknown field "nope"`},
		{name: "trailing data", body: `{"username":"a"}{"x":1}`, wantErr: "extra data after JSON object"},
		{name: "truncated", body: `{"username":`, wantErr: "malformed JSON"},
		{name: "syntax", body: `{"username" "a"}`, wantErr: "malformed JSON"},
		{name: "wrong type", body: `{"username":5}`, wantErr: `field "username" has the wrong type`},
		{name: "empty", body: ``, wantErr: "request body is empty"},
		{name: "too large", body: `{"username":"` + strings.Repeat("x", 200) + `"}`, wantErr: "request body exceeds 64 bytes"},
		{name: "content type", body: `{}`, ctype: "text/plain", wantErr: "content type must be application/json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			if tc.ctype != "" {
				r.Header.Set("Content-Type", tc.ctype)
			}
			var dst loginBody
			err := DecodeJSON(httptest.NewRecorder(), r, 64, &dst)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("DecodeJSON: %v", err)
				}
				return
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if de.Msg != tc.wantErr {
				t.Fatalf("msg = %q, want %q", de.Msg, tc.wantErr)
			}
		})
	}
}

func TestValidator_UsesJSONNames(t *testing.T) {
	v := NewValidator()

	if err := v.Struct(loginBody{Username: "reader_1", Password: "longenough"}); err != nil {
		t.Fatalf("valid body: %v", err)
	}

	err := v.Struct(loginBody{Username: "a b", Email: "nope", Password: "short"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	got := map[string]bool{}
	for _, f := range ve.Fields {
		got[f.Field] = true
	}
	for _, want := range []string{"username", "email", "password"} {
		if !got[want] {
			t.Fatalf("missing field %q in %+v", want, ve.Fields)
		}
	}
}

func TestWriteAuthError(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{autherr.New(autherr.InvalidToken, "verify", "expired"), http.StatusUnauthorized, CodeUnauthorized, ""},
		{autherr.New(autherr.SessionNotFound, "rotate", ""), http.StatusUnauthorized, CodeSessionNotActive, ""},
		{autherr.New(autherr.Forbidden, "authorize", ""), http.StatusForbidden, CodeForbidden, ""},
		{autherr.New(autherr.Signing, "issue", ""), http.StatusInternalServerError, CodeServerError, ""},
		{autherr.RateLimitedFor("rotate", 1500*time.Millisecond), http.StatusTooManyRequests, CodeRateLimited, "2"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		if !WriteAuthError(rec, tc.err) {
			t.Fatalf("%v: not handled", tc.err)
		}
		if rec.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != tc.code {
			t.Fatalf("%v: code = %q, want %q", tc.err, body.Error.Code, tc.code)
		}
		if got := rec.Header().Get("Retry-After"); got != tc.retryAfter {
			t.Fatalf("%v: Retry-After = %q, want %q", tc.err, got, tc.retryAfter)
		}
	}

	if WriteAuthError(httptest.NewRecorder(), errors.New("db down")) {
		t.Fatalf("plain errors must not be handled")
	}
}
