package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"microchallenges/internal/httpx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultHeader carries the hex digest.
const DefaultHeader = "X-Signature"

var (
	signatureChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microchallenges_signature_checks_total",
			Help: "Total number of request signature checks by outcome",
		},
		[]string{"outcome"},
	)
)

// Secret is the shared HMAC key. It never renders its value through fmt or
// slog.
type Secret struct {
	key []byte
}

// NewSecret copies s into a Secret.
func NewSecret(s string) Secret {
	return Secret{key: []byte(s)}
}

func (s Secret) IsZero() bool {
	return len(s.key) == 0
}

func (s Secret) String() string {
	return "[REDACTED]"
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(secret Secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Options configures a Verifier.
type Options struct {
	Secret Secret
	// Header defaults to DefaultHeader.
	Header string
	Logger *slog.Logger
	// OnReject, if set, observes every rejection after the response is
	// written. It must not mutate the request.
	OnReject func(r *http.Request, err *Error)
}

// Verifier checks request signatures against a fixed secret. It is safe for
// concurrent use; it holds no mutable state.
type Verifier struct {
	secret   Secret
	header   string
	logger   *slog.Logger
	onReject func(r *http.Request, err *Error)
}

// NewVerifier creates a Verifier. An empty secret is a configuration error.
func NewVerifier(opts Options) (*Verifier, error) {
	if opts.Secret.IsZero() {
		return nil, errors.New("signature secret is required")
	}
	header := opts.Header
	if header == "" {
		header = DefaultHeader
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		secret:   opts.Secret,
		header:   header,
		logger:   logger,
		onReject: opts.OnReject,
	}, nil
}

// Header returns the name of the header the signature is read from.
func (v *Verifier) Header() string {
	return v.header
}

// Verify checks signature against the HMAC of body. A missing capture is
// reported before anything else, whatever the signature value.
func (v *Verifier) Verify(body RawBody, signature string) error {
	if !body.Captured() {
		return ErrMissingBody
	}
	if signature == "" {
		return ErrMissingSignature
	}

	expected := Sign(v.secret, body.Bytes())
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyRequest verifies r using the body captured into its context.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	body, _ := RawBodyFromContext(r.Context())
	return v.Verify(body, r.Header.Get(v.header))
}

// Middleware forwards only requests whose signature matches. It expects
// CaptureRawBody to have run earlier in the chain.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := v.VerifyRequest(r)
		signatureChecks.WithLabelValues(Outcome(err)).Inc()
		if err != nil {
			v.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) reject(w http.ResponseWriter, r *http.Request, err error) {
	var sigErr *Error
	if !errors.As(err, &sigErr) {
		v.logger.Error("signature verification error", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	v.logger.Warn("signature rejected",
		"code", sigErr.Code,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	httpx.WriteError(w, sigErr.Status, sigErr.Code, sigErr.Message)

	if v.onReject != nil {
		v.onReject(r, sigErr)
	}
}
