package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// =============================================================================
// Signing Key Generation
// =============================================================================

// GetSigningKey derives the signing key for AWS v4 signatures.
// This implements the key derivation: HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request")
func GetSigningKey(secretKey, dateStamp, region, service string) []byte {
	// Step 1: kDate = HMAC("AWS4" + secretKey, date)
	kDate := Sign([]byte("AWS4"+secretKey), dateStamp)

	// Step 2: kRegion = HMAC(kDate, region)
	kRegion := Sign(kDate, region)

	// Step 3: kService = HMAC(kRegion, service)
	kService := Sign(kRegion, service)

	// Step 4: kSigning = HMAC(kService, "aws4_request")
	return Sign(kService, AWS4Request)
}

// DeriveSigningKey is GetSigningKey with input validation. Every component
// must be non-empty, valid UTF-8.
func DeriveSigningKey(secretKey, dateStamp, region, service string) ([]byte, error) {
	if err := validateInputs(
		"secret", secretKey,
		"date", dateStamp,
		"region", region,
		"service", service,
	); err != nil {
		return nil, err
	}
	return GetSigningKey(secretKey, dateStamp, region, service), nil
}

// Sign computes a single HMAC-SHA256 of msg with key.
func Sign(key []byte, msg string) []byte {
	return hmacSHA256(key, []byte(msg))
}

// GetSignature calculates the signature using the signing key.
func GetSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

// ComputeSignature is GetSignature with input validation.
func ComputeSignature(signingKey []byte, stringToSign string) (string, error) {
	if len(signingKey) == 0 {
		return "", fmt.Errorf("%w: empty signing key", ErrInvalidInput)
	}
	if !utf8.ValidString(stringToSign) {
		return "", fmt.Errorf("%w: string to sign is not valid UTF-8", ErrInvalidInput)
	}
	return GetSignature(signingKey, stringToSign), nil
}

// hmacSHA256 computes HMAC-SHA256.
func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// hashSHA256Hex returns the hex-encoded SHA-256 of s.
func hashSHA256Hex(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// validateInputs checks name/value pairs for emptiness and UTF-8 validity.
func validateInputs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		name, value := pairs[i], pairs[i+1]
		if value == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidInput, name)
		}
		if !utf8.ValidString(value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidInput, name)
		}
	}
	return nil
}

// =============================================================================
// String to Sign Building
// =============================================================================

// GetStringToSign builds the string to sign.
func GetStringToSign(canonicalRequest, amzDate string, scope CredentialScope) string {
	return StringToSign{
		Algorithm:            SignV4Algorithm,
		RequestDateTime:      amzDate,
		CredentialScope:      scope.String(),
		CanonicalRequestHash: hashSHA256Hex(canonicalRequest),
	}.String()
}

// =============================================================================
// Canonical Headers
// =============================================================================

// getCanonicalHeaders builds the canonical headers string.
func getCanonicalHeaders(headers http.Header, signedHeaders []string) string {
	var canonical strings.Builder

	for _, header := range signedHeaders {
		// Get header value (headers are case-insensitive)
		value := headers.Get(header)

		// Trim and collapse whitespace
		value = strings.TrimSpace(value)
		value = strings.Join(strings.Fields(value), " ")

		canonical.WriteString(strings.ToLower(header))
		canonical.WriteString(":")
		canonical.WriteString(value)
		canonical.WriteString("\n")
	}

	return canonical.String()
}

// =============================================================================
// Signature Verification
// =============================================================================

// VerifySignature recomputes the signature of a received request and compares
// it with the one in signedValues. headers must contain every signed header,
// including host and transfer-encoding which net/http keeps outside
// Request.Header. The payload hash is always the empty-string hash.
func VerifySignature(
	method, uri string,
	headers http.Header,
	secretKey string,
	signedValues SignedValues,
) error {
	for _, name := range signedValues.SignedHeaders {
		if headers.Get(name) == "" {
			return fmt.Errorf("%w: %s", ErrMissingSecurityHeader, name)
		}
	}

	amzDate := headers.Get(HeaderXAmzDate)
	requestTime, err := time.Parse(ISO8601BasicFormat, amzDate)
	if err != nil {
		return fmt.Errorf("%w: invalid x-amz-date", ErrInvalidAuthorizationHeader)
	}
	if requestTime.Format(YYYYMMDD) != signedValues.Credential.Scope.Date.Format(YYYYMMDD) {
		return fmt.Errorf("%w: x-amz-date outside credential scope", ErrInvalidAuthorizationHeader)
	}

	canonicalRequest := CanonicalRequest{
		Method:        method,
		URI:           uri,
		Headers:       getCanonicalHeaders(headers, signedValues.SignedHeaders),
		SignedHeaders: strings.Join(signedValues.SignedHeaders, ";"),
		PayloadHash:   EmptyStringSHA256,
	}

	stringToSign := GetStringToSign(canonicalRequest.String(), amzDate, signedValues.Credential.Scope)

	signingKey := GetSigningKey(
		secretKey,
		signedValues.Credential.Scope.Date.Format(YYYYMMDD),
		signedValues.Credential.Scope.Region,
		signedValues.Credential.Scope.Service,
	)

	expectedSignature := GetSignature(signingKey, stringToSign)

	// Compare signatures (constant-time comparison)
	if !hmac.Equal([]byte(expectedSignature), []byte(signedValues.Signature)) {
		return ErrSignatureDoesNotMatch
	}

	return nil
}
