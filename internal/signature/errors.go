package signature

import (
	"errors"
	"net/http"
)

// Error is a client-fault rejection. Code and Message are safe to return to
// the caller; none of the fields ever carries the secret, a digest or body
// bytes.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingSignature = &Error{Code: "missing_signature", Message: "Missing signature", Status: http.StatusUnauthorized}
	ErrInvalidSignature = &Error{Code: "invalid_signature", Message: "Invalid signature", Status: http.StatusUnauthorized}
	ErrMissingBody      = &Error{Code: "missing_body", Message: "Missing raw body", Status: http.StatusBadRequest}

	// Capture failures.
	ErrPayloadTooLarge = &Error{Code: "payload_too_large", Message: "Payload too large", Status: http.StatusRequestEntityTooLarge}
	ErrUnreadableBody  = &Error{Code: "bad_body", Message: "Error reading request body", Status: http.StatusBadRequest}
)

// OutcomeAllowed is reported by Outcome for a nil error.
const OutcomeAllowed = "allowed"

// Outcome maps a verification result to a short label suitable for metrics
// and audit records.
func Outcome(err error) string {
	if err == nil {
		return OutcomeAllowed
	}
	var sigErr *Error
	if errors.As(err, &sigErr) {
		return sigErr.Code
	}
	return "error"
}
