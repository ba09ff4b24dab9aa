// Package endpoint resolves per-operation Kinesis Video data endpoints.
package endpoint

import (
	"strings"

	"github.com/prn-tf/kvs-ingest/internal/domain"
)

// httpsScheme is the only scheme a data endpoint may use.
const httpsScheme = "https://"

// ParseHost returns the host of a data endpoint URL: the text between the
// scheme separator and the first path, query or fragment boundary.
//
//	https://s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com
//	-> s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com
func ParseHost(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, httpsScheme) {
		return "", domain.Errorf("ParseHost", domain.ErrMalformedEndpoint, "endpoint %q must start with %s", rawURL, httpsScheme)
	}

	host := rawURL[len(httpsScheme):]
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		return "", domain.Errorf("ParseHost", domain.ErrMalformedEndpoint, "endpoint %q has no host", rawURL)
	}
	return host, nil
}

// ParseRegion returns the region label of a data endpoint URL, the third
// dot-delimited label of its host (s-XXXX.kinesisvideo.<region>.amazonaws.com).
func ParseRegion(rawURL string) (string, error) {
	host, err := ParseHost(rawURL)
	if err != nil {
		return "", err
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 || labels[2] == "" {
		return "", domain.Errorf("ParseRegion", domain.ErrMalformedEndpoint, "endpoint host %q has no region label", host)
	}
	return labels[2], nil
}

// Parse builds a domain.Endpoint from a raw data endpoint URL.
func Parse(rawURL string, api domain.APIName) (*domain.Endpoint, error) {
	host, err := ParseHost(rawURL)
	if err != nil {
		return nil, err
	}
	region, err := ParseRegion(rawURL)
	if err != nil {
		return nil, err
	}
	return &domain.Endpoint{
		RawURL:  strings.TrimSuffix(rawURL, "/"),
		Host:    host,
		Region:  region,
		APIName: api,
	}, nil
}
