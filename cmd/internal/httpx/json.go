// Package httpx holds the JSON envelope shared by every HTTP handler.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBody bounds request bodies when handlers do not pick their own limit.
const DefaultMaxBody = 1 << 20

// ErrorBody is the payload of every error response: {"error":{"code":...,"message":...}}.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes v with status. Responses are never cached.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

// DecodeError is a client mistake in the request body. Its message is safe to return.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string { return e.Msg }
func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeJSON strictly decodes one JSON object into dst: unknown fields and trailing
// data are rejected and the body is capped at maxBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return &DecodeError{Msg: "request body is empty"}
	}
	defer func() { _ = r.Body.Close() }()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBody
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return &DecodeError{Msg: "content type must be application/json"}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return &DecodeError{Msg: "request body is empty", Err: err}
		case errors.As(err, &maxErr):
			return &DecodeError{Msg: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), Err: err}
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return &DecodeError{Msg: "malformed JSON", Err: err}
		case errors.As(err, &typeErr):
			return &DecodeError{Msg: fmt.Sprintf("field %q has the wrong type", typeErr.Field), Err: err}
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return &DecodeError{Msg: strings.TrimPrefix(err.Error(), "json: "), Err: err}
		default:
			return &DecodeError{Msg: "invalid JSON body", Err: err}
		}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &DecodeError{Msg: "extra data after JSON object"}
	}
	return nil
}
