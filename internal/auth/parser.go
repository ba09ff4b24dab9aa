package auth

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// Authorization Header Parsing
// =============================================================================

// Regular expressions for parsing AWS v4 authorization header
var (
	// credentialRegex matches Credential=accessKey/date/region/service/aws4_request
	credentialRegex = regexp.MustCompile(`Credential=([^/]+)/(\d{8})/([^/]+)/([^/]+)/aws4_request`)

	// signedHeadersRegex matches SignedHeaders=header1;header2;header3
	signedHeadersRegex = regexp.MustCompile(`SignedHeaders=([^,\s]+)`)

	// signatureRegex matches Signature=hexstring
	signatureRegex = regexp.MustCompile(`Signature=([a-f0-9]{64})`)
)

// ParseSignV4 parses an AWS v4 Authorization header.
// Format: AWS4-HMAC-SHA256 Credential=access_key/date/region/service/aws4_request, SignedHeaders=..., Signature=...
func ParseSignV4(authHeader string) (*SignedValues, error) {
	// Validate algorithm prefix
	if !strings.HasPrefix(authHeader, SignV4Algorithm) {
		return nil, ErrInvalidAuthorizationHeader
	}

	// Extract credential
	credentialMatch := credentialRegex.FindStringSubmatch(authHeader)
	if credentialMatch == nil || len(credentialMatch) < 5 {
		return nil, fmt.Errorf("%w: invalid credential format", ErrInvalidAuthorizationHeader)
	}

	// Parse date
	date, err := time.Parse(YYYYMMDD, credentialMatch[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date in credential", ErrInvalidAuthorizationHeader)
	}

	// Extract signed headers
	signedHeadersMatch := signedHeadersRegex.FindStringSubmatch(authHeader)
	if signedHeadersMatch == nil || len(signedHeadersMatch) < 2 {
		return nil, fmt.Errorf("%w: missing signed headers", ErrInvalidAuthorizationHeader)
	}
	signedHeaders := strings.Split(signedHeadersMatch[1], ";")

	// Validate signed headers are sorted
	sortedHeaders := make([]string, len(signedHeaders))
	copy(sortedHeaders, signedHeaders)
	sort.Strings(sortedHeaders)
	for i, h := range signedHeaders {
		if h != sortedHeaders[i] {
			return nil, fmt.Errorf("%w: signed headers not sorted", ErrInvalidAuthorizationHeader)
		}
	}

	// Extract signature
	signatureMatch := signatureRegex.FindStringSubmatch(authHeader)
	if signatureMatch == nil || len(signatureMatch) < 2 {
		return nil, fmt.Errorf("%w: missing or invalid signature", ErrInvalidAuthorizationHeader)
	}

	return &SignedValues{
		Credential: CredentialHeader{
			AccessKey: credentialMatch[1],
			Scope: CredentialScope{
				Date:    date,
				Region:  credentialMatch[3],
				Service: credentialMatch[4],
			},
		},
		SignedHeaders: signedHeaders,
		Signature:     signatureMatch[1],
	}, nil
}

// RedactAuthorization replaces the signature of an Authorization header value
// so it can be logged.
func RedactAuthorization(authHeader string) string {
	return signatureRegex.ReplaceAllString(authHeader, "Signature=REDACTED")
}
