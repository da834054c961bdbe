// Package signature authenticates HTTP requests with an HMAC-SHA256 digest
// computed over the exact bytes of the request body.
//
// The digest is carried as lowercase hex in a single header (X-Signature by
// default). Verification must run against the bytes received on the wire,
// never against a re-encoding of a parsed body: JSON encoders are free to
// reorder keys or change whitespace, which changes the digest. To make that
// ordering explicit, Verify only accepts a RawBody, and the only way to
// obtain one from a request is Capture (or the CaptureRawBody middleware),
// which must therefore run before anything parses the body.
//
// Typical wiring:
//
//	r.With(signature.CaptureRawBody(maxBytes), verifier.Middleware).
//		Post("/protected", handler)
package signature
