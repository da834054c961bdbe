package signature

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"microchallenges/internal/httpx"
)

// DefaultMaxBodyBytes caps how much of a body Capture will buffer.
const DefaultMaxBodyBytes int64 = 1 << 20

// RawBody is the request body exactly as it was received. The zero value
// means no capture happened.
type RawBody struct {
	b        []byte
	captured bool
}

// NewRawBody wraps bytes that the caller guarantees are the unmodified wire
// bytes of a request body.
func NewRawBody(b []byte) RawBody {
	if b == nil {
		b = []byte{}
	}
	return RawBody{b: b, captured: true}
}

// Captured reports whether the body was captured at all. An empty body that
// was captured is still Captured.
func (b RawBody) Captured() bool {
	return b.captured
}

// Bytes returns the captured bytes. Callers must not modify them.
func (b RawBody) Bytes() []byte {
	return b.b
}

func (b RawBody) Len() int {
	return len(b.b)
}

type rawBodyKey struct{}

// WithRawBody returns a copy of ctx carrying body.
func WithRawBody(ctx context.Context, body RawBody) context.Context {
	return context.WithValue(ctx, rawBodyKey{}, body)
}

// RawBodyFromContext returns the body stored by WithRawBody. The second
// return value is false when nothing was captured for this request.
func RawBodyFromContext(ctx context.Context) (RawBody, bool) {
	body, ok := ctx.Value(rawBodyKey{}).(RawBody)
	return body, ok && body.captured
}

// Capture reads the whole body of r, at most maxBytes of it, and replaces
// r.Body with a fresh reader over the same bytes so later handlers can
// still parse it. maxBytes <= 0 selects DefaultMaxBodyBytes.
func Capture(w http.ResponseWriter, r *http.Request, maxBytes int64) (RawBody, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	if r.Body == nil {
		return NewRawBody(nil), nil
	}

	reader := http.MaxBytesReader(w, r.Body, maxBytes)
	payload, err := io.ReadAll(reader)
	r.Body.Close()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return RawBody{}, ErrPayloadTooLarge
		}
		return RawBody{}, ErrUnreadableBody
	}

	r.Body = io.NopCloser(bytes.NewReader(payload))
	return NewRawBody(payload), nil
}

// CaptureRawBody is the middleware form of Capture. It must be installed
// before any handler or middleware that decodes the body.
func CaptureRawBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := Capture(w, r, maxBytes)
			if err != nil {
				var sigErr *Error
				if errors.As(err, &sigErr) {
					httpx.WriteError(w, sigErr.Status, sigErr.Code, sigErr.Message)
					return
				}
				httpx.WriteError(w, http.StatusBadRequest, ErrUnreadableBody.Code, ErrUnreadableBody.Message)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRawBody(r.Context(), body)))
		})
	}
}
