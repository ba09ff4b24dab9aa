package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prn-tf/kvs-ingest/internal/domain"
)

// PutMediaHeaders holds the variable inputs of a PutMedia request. The header
// names, their order and the remaining values are fixed by the protocol.
type PutMediaHeaders struct {
	// Host is the data endpoint host.
	Host string

	// StreamName is the target stream.
	StreamName string

	// UserAgent identifies the producer. Defaults to DefaultUserAgent.
	UserAgent string

	// ProducerStartTimestamp is the producer start time as unix epoch seconds.
	ProducerStartTimestamp string
}

// HeaderField is one header name/value pair in emission order.
type HeaderField struct {
	Name  string
	Value string
}

// SignedPutMedia is a fully signed PutMedia header set.
type SignedPutMedia struct {
	// Fields are the signed headers in canonical order.
	Fields []HeaderField

	// Authorization is the Authorization header value.
	Authorization string

	// SecurityToken is sent unsigned when the credentials carry a session token.
	SecurityToken string

	// Context is the signing context the request was signed with.
	Context SigningContext

	// CanonicalRequest is the canonical request that was hashed.
	CanonicalRequest CanonicalRequest

	// StringToSign is the exact string that was signed.
	StringToSign string
}

// FormatProducerTimestamp formats t as unix epoch seconds with millisecond
// precision.
func FormatProducerTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%03d", t.Unix(), t.Nanosecond()/int(time.Millisecond))
}

// PutMediaHeaderFields returns the signed PutMedia headers in canonical order.
func PutMediaHeaderFields(h PutMediaHeaders, amzDate string) []HeaderField {
	userAgent := h.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return []HeaderField{
		{Name: HeaderConnection, Value: ConnectionKeepAlive},
		{Name: HeaderContentType, Value: ContentTypeJSON},
		{Name: HeaderHost, Value: h.Host},
		{Name: HeaderTransferEncoding, Value: TransferEncodingChunked},
		{Name: HeaderUserAgent, Value: userAgent},
		{Name: HeaderXAmzDate, Value: amzDate},
		{Name: HeaderFragmentAckRequired, Value: FragmentAcknowledgmentRequiredYes},
		{Name: HeaderFragmentTimecodeType, Value: FragmentTimecodeAbsolute},
		{Name: HeaderProducerStartTimestamp, Value: h.ProducerStartTimestamp},
		{Name: HeaderStreamName, Value: h.StreamName},
	}
}

// CanonicalHeaderBlock renders fields as "name:value\n" lines.
func CanonicalHeaderBlock(fields []HeaderField) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Name)
		b.WriteString(":")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	return b.String()
}

// SignedHeaderNames reconstructs the signed header list from a canonical
// header block, in emission order.
func SignedHeaderNames(headerBlock string) string {
	var names []string
	for _, line := range strings.Split(strings.TrimSuffix(headerBlock, "\n"), "\n") {
		if line == "" {
			continue
		}
		name, _, _ := strings.Cut(line, ":")
		names = append(names, name)
	}
	return strings.Join(names, ";")
}

// BuildPutMediaCanonicalRequest builds the canonical request of a PutMedia call.
func BuildPutMediaCanonicalRequest(h PutMediaHeaders, amzDate string) CanonicalRequest {
	return CanonicalRequest{
		Method:        PutMediaMethod,
		URI:           PutMediaURI,
		QueryString:   "",
		Headers:       CanonicalHeaderBlock(PutMediaHeaderFields(h, amzDate)),
		SignedHeaders: strings.Join(PutMediaSignedHeaders, ";"),
		PayloadHash:   EmptyStringSHA256,
	}
}

// SignPutMedia signs a PutMedia request with creds. sc must be the context
// whose AmzDate is sent in the x-amz-date header.
func SignPutMedia(creds domain.Credentials, h PutMediaHeaders, sc SigningContext) (*SignedPutMedia, error) {
	if err := validateInputs(
		"access key id", creds.AccessKeyID,
		"host", h.Host,
		"stream name", h.StreamName,
		"producer start timestamp", h.ProducerStartTimestamp,
	); err != nil {
		return nil, err
	}

	signingKey, err := DeriveSigningKey(creds.SecretAccessKey, sc.DateStamp, sc.Scope.Region, sc.Scope.Service)
	if err != nil {
		return nil, err
	}

	canonicalRequest := BuildPutMediaCanonicalRequest(h, sc.AmzDate)
	stringToSign := GetStringToSign(canonicalRequest.String(), sc.AmzDate, sc.Scope)

	signature, err := ComputeSignature(signingKey, stringToSign)
	if err != nil {
		return nil, err
	}

	credential := CredentialHeader{AccessKey: creds.AccessKeyID, Scope: sc.Scope}

	return &SignedPutMedia{
		Fields: PutMediaHeaderFields(h, sc.AmzDate),
		Authorization: SignV4Algorithm + " " +
			"Credential=" + credential.String() + ", " +
			"SignedHeaders=" + canonicalRequest.SignedHeaders + ", " +
			"Signature=" + signature,
		SecurityToken:    creds.SessionToken,
		Context:          sc,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
	}, nil
}

// Apply writes the signed headers onto req. Host and Transfer-Encoding are
// carried by Request fields because net/http ignores them in Request.Header.
func (s *SignedPutMedia) Apply(req *http.Request) {
	for _, f := range s.Fields {
		switch f.Name {
		case HeaderHost:
			req.Host = f.Value
		case HeaderTransferEncoding:
			req.TransferEncoding = []string{f.Value}
		default:
			req.Header.Set(f.Name, f.Value)
		}
	}

	req.Header.Set(HeaderAccept, "*/*")
	req.Header.Set(HeaderExpect, ExpectContinue)
	req.Header.Set(AuthorizationHeader, s.Authorization)
	if s.SecurityToken != "" {
		req.Header.Set(XAmzSecurityTokenHeader, s.SecurityToken)
	}
}
