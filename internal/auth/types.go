package auth

import (
	"time"
)

// =============================================================================
// Credential Types
// =============================================================================

// CredentialScope represents the scope of AWS credentials.
// Format: {date}/{region}/{service}/aws4_request
type CredentialScope struct {
	// Date is the date portion of the scope (YYYYMMDD).
	Date time.Time

	// Region is the AWS region (e.g., "ap-southeast-2").
	Region string

	// Service is the AWS service (e.g., "kinesisvideo").
	Service string
}

// String returns the credential scope as a string.
// Format: {date}/{region}/{service}/aws4_request
func (cs CredentialScope) String() string {
	return cs.Date.Format(YYYYMMDD) + "/" + cs.Region + "/" + cs.Service + "/" + AWS4Request
}

// CredentialHeader represents the Credential element of the Authorization header.
type CredentialHeader struct {
	// AccessKey is the access key ID.
	AccessKey string

	// Scope is the credential scope.
	Scope CredentialScope
}

// String returns the credential as a string.
// Format: {access_key}/{scope}
func (ch CredentialHeader) String() string {
	return ch.AccessKey + "/" + ch.Scope.String()
}

// SignedValues represents the components of an AWS v4 Authorization header.
type SignedValues struct {
	// Credential contains the access key and scope.
	Credential CredentialHeader

	// SignedHeaders is the list of headers included in the signature.
	SignedHeaders []string

	// Signature is the calculated signature (hex-encoded).
	Signature string
}

// =============================================================================
// Signing Context
// =============================================================================

// SigningContext holds the time-derived values of one signature. Every value
// comes from a single captured instant so that the x-amz-date header, the
// string to sign and the credential scope can never disagree.
type SigningContext struct {
	// Time is the captured instant, in UTC.
	Time time.Time

	// AmzDate is Time formatted as ISO8601 basic (20240101T000000Z).
	AmzDate string

	// DateStamp is Time formatted as YYYYMMDD.
	DateStamp string

	// Scope is the credential scope bound to DateStamp.
	Scope CredentialScope
}

// NewSigningContext captures the signing values for t.
func NewSigningContext(t time.Time, region, service string) SigningContext {
	t = t.UTC()
	return SigningContext{
		Time:      t,
		AmzDate:   t.Format(ISO8601BasicFormat),
		DateStamp: t.Format(YYYYMMDD),
		Scope: CredentialScope{
			Date:    t,
			Region:  region,
			Service: service,
		},
	}
}

// =============================================================================
// Signature Components
// =============================================================================

// CanonicalRequest represents the components of a canonical request.
type CanonicalRequest struct {
	// Method is the HTTP method.
	Method string

	// URI is the canonical URI path.
	URI string

	// QueryString is the canonical query string.
	QueryString string

	// Headers is the canonical headers block; every line ends with "\n".
	Headers string

	// SignedHeaders is the signed headers list.
	SignedHeaders string

	// PayloadHash is the hash of the request payload.
	PayloadHash string
}

// String returns the canonical request as a string for signing.
func (cr CanonicalRequest) String() string {
	return cr.Method + "\n" +
		cr.URI + "\n" +
		cr.QueryString + "\n" +
		cr.Headers + "\n" +
		cr.SignedHeaders + "\n" +
		cr.PayloadHash
}

// StringToSign represents the string to sign.
type StringToSign struct {
	// Algorithm is the signing algorithm.
	Algorithm string

	// RequestDateTime is the request timestamp.
	RequestDateTime string

	// CredentialScope is the credential scope string.
	CredentialScope string

	// CanonicalRequestHash is the hash of the canonical request.
	CanonicalRequestHash string
}

// String returns the string to sign.
func (sts StringToSign) String() string {
	return sts.Algorithm + "\n" +
		sts.RequestDateTime + "\n" +
		sts.CredentialScope + "\n" +
		sts.CanonicalRequestHash
}
