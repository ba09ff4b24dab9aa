package auth

import "errors"

// Signing and signature parsing errors.
var (
	// ErrInvalidInput indicates a signing input is not valid UTF-8 or is empty.
	ErrInvalidInput = errors.New("invalid signing input")

	// ErrInvalidAuthorizationHeader indicates the Authorization header is malformed.
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

	// ErrSignatureDoesNotMatch indicates the calculated signature doesn't match.
	ErrSignatureDoesNotMatch = errors.New("the request signature we calculated does not match the signature you provided")

	// ErrMissingSecurityHeader indicates a required signed header is missing.
	ErrMissingSecurityHeader = errors.New("missing required security header")
)
