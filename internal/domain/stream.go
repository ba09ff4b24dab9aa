package domain

import (
	"strings"
)

// Credentials are the caller-supplied AWS credentials. They live for one
// client session and are never persisted.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string

	// SessionToken is optional; it is set for temporary credentials.
	SessionToken string
}

// Validate returns ErrConfiguration if the key id or secret is missing.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AccessKeyID) == "" {
		return Errorf("Credentials", ErrConfiguration, "access key id is required")
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		return Errorf("Credentials", ErrConfiguration, "secret access key is required")
	}
	return nil
}

// String redacts the secret parts of the credentials.
func (c Credentials) String() string {
	id := c.AccessKeyID
	if len(id) > 4 {
		id = id[:4] + strings.Repeat("*", len(id)-4)
	}
	return "Credentials{AccessKeyID: " + id + ", SecretAccessKey: REDACTED}"
}

// StreamIdentity names the target stream.
type StreamIdentity struct {
	Name   string
	Region string
}

// Validate returns ErrConfiguration if the stream name is missing or too long.
func (s StreamIdentity) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return Errorf("StreamIdentity", ErrConfiguration, "stream name is required")
	}
	if len(name) > 256 {
		return Errorf("StreamIdentity", ErrConfiguration, "stream name exceeds 256 characters")
	}
	return nil
}

// APIName selects the data-plane operation an endpoint is resolved for.
// Endpoints are operation-scoped: the ingest and retrieval endpoints of one
// stream may be different hosts.
type APIName string

// Data-plane operations.
const (
	APIPutMedia                   APIName = "PUT_MEDIA"
	APIGetMedia                   APIName = "GET_MEDIA"
	APIListFragments              APIName = "LIST_FRAGMENTS"
	APIGetMediaForFragmentList    APIName = "GET_MEDIA_FOR_FRAGMENT_LIST"
	APIGetHLSStreamingSessionURL  APIName = "GET_HLS_STREAMING_SESSION_URL"
	APIGetDASHStreamingSessionURL APIName = "GET_DASH_STREAMING_SESSION_URL"
	APIGetClip                    APIName = "GET_CLIP"
	APIGetImages                  APIName = "GET_IMAGES"
)

// IsValid reports whether the API name is a known operation.
func (a APIName) IsValid() bool {
	switch a {
	case APIPutMedia, APIGetMedia, APIListFragments, APIGetMediaForFragmentList,
		APIGetHLSStreamingSessionURL, APIGetDASHStreamingSessionURL, APIGetClip, APIGetImages:
		return true
	default:
		return false
	}
}

// Endpoint is a data endpoint resolved for one operation.
type Endpoint struct {
	// RawURL is the URL returned by the control plane.
	// Example: https://s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com
	RawURL string

	// Host is RawURL without scheme and path.
	Host string

	// Region is the third label of Host.
	Region string

	// APIName is the operation the endpoint was resolved for.
	APIName APIName
}
