// Package kvsfake provides an in-process Kinesis Video data plane for tests.
// It accepts chunked PutMedia uploads, verifies their SigV4 signature with the
// same rules the service applies, records what it received and answers with
// newline-delimited acknowledgements.
package kvsfake

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/prn-tf/kvs-ingest/internal/auth"
)

// ServerName is the TLS server name the test certificate is valid for.
const ServerName = "example.com"

// DefaultAcks are the acknowledgement lines written after every upload. The
// blank line and the bare keep-alive line are framing noise.
var DefaultAcks = []string{
	`{"EventType":"BUFFERING","FragmentTimecode":1704067200000,"FragmentNumber":"91343852333181432392682062623211624958123556823"}`,
	``,
	`keep-alive`,
	`{"EventType":"RECEIVED","FragmentTimecode":1704067200000,"FragmentNumber":"91343852333181432392682062623211624958123556823"}`,
	`{"EventType":"PERSISTED","FragmentTimecode":1704067200000,"FragmentNumber":"91343852333181432392682062623211624958123556823"}`,
}

// Upload is one PutMedia request as received.
type Upload struct {
	Host                   string
	StreamName             string
	ProducerStartTimestamp string
	UserAgent              string
	SecurityToken          string
	TransferEncoding       []string
	Header                 http.Header
	Body                   []byte
}

// Server is a fake data plane. Create it with New and Close it when done.
type Server struct {
	*httptest.Server

	accessKeyID string
	secretKey   string
	acks        []string
	status      int
	statusBody  string

	mu      sync.Mutex
	uploads []Upload
}

// Option configures a Server.
type Option func(*Server)

// WithAcks replaces DefaultAcks.
func WithAcks(lines ...string) Option {
	return func(s *Server) {
		s.acks = lines
	}
}

// WithStatus makes every PutMedia call fail with code and body after the
// upload was read.
func WithStatus(code int, body string) Option {
	return func(s *Server) {
		s.status = code
		s.statusBody = body
	}
}

// New starts a TLS server accepting uploads signed with accessKeyID and
// secretKey.
func New(accessKeyID, secretKey string, opts ...Option) *Server {
	s := &Server{
		accessKeyID: accessKeyID,
		secretKey:   secretKey,
		acks:        DefaultAcks,
		status:      http.StatusOK,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(auth.PutMediaURI, s.handlePutMedia)

	s.Server = httptest.NewTLSServer(r)
	return s
}

// Uploads returns the uploads received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// TLSConfig trusts the server certificate under ServerName.
func (s *Server) TLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(s.Certificate())
	return &tls.Config{
		RootCAs:    pool,
		ServerName: ServerName,
		MinVersion: tls.VersionTLS12,
	}
}

// DialContext connects to the server whatever the requested address, so a
// client can target a real-looking endpoint host.
func (s *Server) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, s.Listener.Addr().String())
}

func (s *Server) handlePutMedia(w http.ResponseWriter, r *http.Request) {
	sv, err := auth.ParseSignV4(r.Header.Get(auth.AuthorizationHeader))
	if err != nil {
		writeError(w, http.StatusForbidden, "MissingAuthenticationTokenException", err)
		return
	}
	if sv.Credential.AccessKey != s.accessKeyID {
		writeError(w, http.StatusForbidden, "UnrecognizedClientException", fmt.Errorf("unknown access key %s", sv.Credential.AccessKey))
		return
	}

	// net/http moves host and transfer-encoding out of Request.Header.
	headers := r.Header.Clone()
	headers.Set(auth.HeaderHost, r.Host)
	if len(r.TransferEncoding) > 0 {
		headers.Set(auth.HeaderTransferEncoding, r.TransferEncoding[0])
	}

	if err := auth.VerifySignature(r.Method, r.URL.Path, headers, s.secretKey, *sv); err != nil {
		writeError(w, http.StatusForbidden, "SignatureDoesNotMatch", err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ConnectionLimitExceededException", err)
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{
		Host:                   r.Host,
		StreamName:             headers.Get(auth.HeaderStreamName),
		ProducerStartTimestamp: headers.Get(auth.HeaderProducerStartTimestamp),
		UserAgent:              headers.Get(auth.HeaderUserAgent),
		SecurityToken:          headers.Get(auth.XAmzSecurityTokenHeader),
		TransferEncoding:       r.TransferEncoding,
		Header:                 headers,
		Body:                   body,
	})
	s.mu.Unlock()

	if s.status != http.StatusOK {
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.statusBody)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, line := range s.acks {
		_, _ = io.WriteString(w, line+"\r\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-amzn-ErrorType", code)
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"message":%q}`, err.Error())
}
