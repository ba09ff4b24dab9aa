// Package auth provides AWS Signature Version 4 signing for the Kinesis Video
// Streams PutMedia operation.
//
// PutMedia streams its body with chunked transfer encoding, so the payload is
// never hashed inline: the canonical request always carries the SHA-256 of the
// empty string. The SDK's standard signer cannot express that, hence this
// package.
package auth

// =============================================================================
// Constants
// =============================================================================

const (
	// SignV4Algorithm is the algorithm identifier for AWS Signature Version 4.
	SignV4Algorithm = "AWS4-HMAC-SHA256"

	// ISO8601BasicFormat is the date format used in AWS v4 signatures.
	ISO8601BasicFormat = "20060102T150405Z"

	// YYYYMMDD is the short date format used in credential scope.
	YYYYMMDD = "20060102"

	// ServiceKinesisVideo is the signing name of Kinesis Video Streams.
	ServiceKinesisVideo = "kinesisvideo"

	// AWS4Request is the termination string for credential scope.
	AWS4Request = "aws4_request"

	// EmptyStringSHA256 is the SHA-256 hash of an empty string.
	EmptyStringSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// =============================================================================
// PutMedia Request Constants
// =============================================================================

const (
	// PutMediaMethod is the HTTP method of the PutMedia operation.
	PutMediaMethod = "POST"

	// PutMediaURI is the operation path on the data endpoint.
	PutMediaURI = "/putMedia"

	// DefaultUserAgent identifies the producer to the service.
	DefaultUserAgent = "AWS-SDK-KVS/2.0.2 GCC/7.4.0 Linux/4.15.0-46-generic x86_64"

	// FragmentTimecodeAbsolute marks fragment timecodes as absolute.
	FragmentTimecodeAbsolute = "ABSOLUTE"
)

// =============================================================================
// Header Names
// =============================================================================

const (
	// AuthorizationHeader is the HTTP header for authorization.
	AuthorizationHeader = "Authorization"

	// XAmzSecurityTokenHeader is the session token header.
	XAmzSecurityTokenHeader = "X-Amz-Security-Token"

	HeaderConnection                  = "connection"
	HeaderContentType                 = "content-type"
	HeaderHost                        = "host"
	HeaderTransferEncoding            = "transfer-encoding"
	HeaderUserAgent                   = "user-agent"
	HeaderXAmzDate                    = "x-amz-date"
	HeaderFragmentAckRequired         = "x-amzn-fragment-acknowledgment-required"
	HeaderFragmentTimecodeType        = "x-amzn-fragment-timecode-type"
	HeaderProducerStartTimestamp      = "x-amzn-producer-start-timestamp"
	HeaderStreamName                  = "x-amzn-stream-name"
	HeaderAccept                      = "Accept"
	HeaderExpect                      = "Expect"
	ExpectContinue                    = "100-continue"
	ConnectionKeepAlive               = "keep-alive"
	ContentTypeJSON                   = "application/json"
	TransferEncodingChunked           = "chunked"
	FragmentAcknowledgmentRequiredYes = "1"
)

// PutMediaSignedHeaders is the fixed, ordered list of headers signed for
// PutMedia. The canonical header block is emitted in exactly this order.
var PutMediaSignedHeaders = []string{
	HeaderConnection,
	HeaderContentType,
	HeaderHost,
	HeaderTransferEncoding,
	HeaderUserAgent,
	HeaderXAmzDate,
	HeaderFragmentAckRequired,
	HeaderFragmentTimecodeType,
	HeaderProducerStartTimestamp,
	HeaderStreamName,
}
