package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/kvs-ingest/internal/auth"
	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/lock"
	"github.com/prn-tf/kvs-ingest/internal/metrics"
	"github.com/prn-tf/kvs-ingest/internal/testsupport/kvsfake"
)

// =============================================================================
// Mocks
// =============================================================================

type mockControlPlane struct {
	mock.Mock
}

func (m *mockControlPlane) GetDataEndpoint(ctx context.Context, params *kinesisvideo.GetDataEndpointInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.GetDataEndpointOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kinesisvideo.GetDataEndpointOutput), args.Error(1)
}

func (m *mockControlPlane) CreateStream(ctx context.Context, params *kinesisvideo.CreateStreamInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.CreateStreamOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kinesisvideo.CreateStreamOutput), args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Create(ctx context.Context, upload *domain.UploadRecord) error {
	args := m.Called(ctx, upload)
	return args.Error(0)
}

// trackingBody is an in-memory media source that records Close.
type trackingBody struct {
	r      io.Reader
	closed atomic.Bool
	onRead func()
}

func newTrackingBody(data []byte) *trackingBody {
	return &trackingBody{r: bytes.NewReader(data)}
}

func (b *trackingBody) Read(p []byte) (int, error) {
	if b.onRead != nil {
		b.onRead()
	}
	return b.r.Read(p)
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

const (
	testStream       = "camera-1"
	testAccessKey    = "AKIDEXAMPLE"
	testSecretKey    = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"
	testEndpoint     = "https://s-ca658586.kinesisvideo.us-west-2.amazonaws.com"
	testEndpointHost = "s-ca658586.kinesisvideo.us-west-2.amazonaws.com"
)

var testTime = time.Date(2024, 1, 1, 12, 30, 45, 123_000_000, time.UTC)

func testConfig() Config {
	return Config{
		StreamName: testStream,
		Region:     "us-west-2",
		Credentials: domain.Credentials{
			AccessKeyID:     testAccessKey,
			SecretAccessKey: testSecretKey,
		},
		ChunkSize: 16000,
	}
}

func mediaBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newControlPlane() *mockControlPlane {
	cp := new(mockControlPlane)
	cp.On("CreateStream", mock.Anything, mock.Anything).Return(&kinesisvideo.CreateStreamOutput{}, nil)
	cp.On("GetDataEndpoint", mock.Anything, mock.Anything).
		Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(testEndpoint)}, nil)
	return cp
}

func fakeHTTPClient(srv *kvsfake.Server) *http.Client {
	return NewHTTPClient(TransportConfig{
		TLSClientConfig: srv.TLSConfig(),
		DialContext:     srv.DialContext,
	})
}

func newInitialisedClient(t *testing.T, cfg Config, srv *kvsfake.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithHTTPClient(fakeHTTPClient(srv)),
		WithClock(func() time.Time { return testTime }),
	}, opts...)
	c := NewClient(cfg, newControlPlane(), zerolog.Nop(), opts...)
	require.NoError(t, c.Initialise(context.Background()))
	return c
}

// =============================================================================
// Initialise
// =============================================================================

func TestClient_Initialise(t *testing.T) {
	ctx := context.Background()

	t.Run("creates stream and resolves endpoint", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("CreateStream", ctx, mock.MatchedBy(func(in *kinesisvideo.CreateStreamInput) bool {
			return aws.ToString(in.StreamName) == testStream && aws.ToInt32(in.DataRetentionInHours) == 24
		})).Return(&kinesisvideo.CreateStreamOutput{StreamARN: aws.String("arn")}, nil).Once()
		cp.On("GetDataEndpoint", ctx, mock.MatchedBy(func(in *kinesisvideo.GetDataEndpointInput) bool {
			return in.APIName == types.APINamePutMedia
		})).Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(testEndpoint)}, nil).Once()

		c := NewClient(testConfig(), cp, zerolog.Nop())
		require.Equal(t, StateUninitialised, c.State())
		require.Nil(t, c.Endpoint())

		require.NoError(t, c.Initialise(ctx))
		require.Equal(t, StateInitialised, c.State())
		require.Equal(t, testEndpointHost, c.Endpoint().Host)
		require.Equal(t, "us-west-2", c.Endpoint().Region)
		cp.AssertExpectations(t)
	})

	t.Run("existing stream twice", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("CreateStream", ctx, mock.Anything).
			Return(nil, &types.ResourceInUseException{Message: aws.String("stream exists")}).Twice()
		cp.On("GetDataEndpoint", ctx, mock.Anything).
			Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(testEndpoint)}, nil)

		c := NewClient(testConfig(), cp, zerolog.Nop())
		require.NoError(t, c.Initialise(ctx))
		first := c.Endpoint()
		require.NoError(t, c.Initialise(ctx))
		require.Equal(t, first, c.Endpoint())
		cp.AssertExpectations(t)
	})

	t.Run("existing stream as generic api error", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("CreateStream", ctx, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "ResourceInUseException", Message: "exists"})
		cp.On("GetDataEndpoint", ctx, mock.Anything).
			Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(testEndpoint)}, nil)

		c := NewClient(testConfig(), cp, zerolog.Nop())
		require.NoError(t, c.Initialise(ctx))
	})

	t.Run("provisioning error", func(t *testing.T) {
		cp := new(mockControlPlane)
		cause := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}
		cp.On("CreateStream", ctx, mock.Anything).Return(nil, cause)

		c := NewClient(testConfig(), cp, zerolog.Nop())
		err := c.Initialise(ctx)
		require.ErrorIs(t, err, domain.ErrInitialisationFailed)

		var apiErr smithy.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "AccessDeniedException", apiErr.ErrorCode())
		require.Equal(t, StateUninitialised, c.State())
		cp.AssertNotCalled(t, "GetDataEndpoint", mock.Anything, mock.Anything)
	})

	t.Run("endpoint unavailable", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("CreateStream", ctx, mock.Anything).Return(&kinesisvideo.CreateStreamOutput{}, nil)
		cp.On("GetDataEndpoint", ctx, mock.Anything).Return(nil, errors.New("throttled"))

		c := NewClient(testConfig(), cp, zerolog.Nop())
		require.ErrorIs(t, c.Initialise(ctx), domain.ErrEndpointUnavailable)
		require.Equal(t, StateUninitialised, c.State())
	})

	t.Run("malformed endpoint", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("CreateStream", ctx, mock.Anything).Return(&kinesisvideo.CreateStreamOutput{}, nil)
		cp.On("GetDataEndpoint", ctx, mock.Anything).
			Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String("http://s-1.kinesisvideo.us-west-2.amazonaws.com")}, nil)

		c := NewClient(testConfig(), cp, zerolog.Nop())
		require.ErrorIs(t, c.Initialise(ctx), domain.ErrMalformedEndpoint)
	})
}

func TestClient_InitialiseConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing access key", mutate: func(c *Config) { c.Credentials.AccessKeyID = "" }},
		{name: "missing secret", mutate: func(c *Config) { c.Credentials.SecretAccessKey = "" }},
		{name: "missing stream", mutate: func(c *Config) { c.StreamName = " " }},
		{name: "negative retention", mutate: func(c *Config) { c.RetentionHours = -1 }},
		{name: "negative chunk size", mutate: func(c *Config) { c.ChunkSize = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			cp := new(mockControlPlane)
			c := NewClient(cfg, cp, zerolog.Nop())
			require.ErrorIs(t, c.Initialise(context.Background()), domain.ErrConfiguration)
			cp.AssertNotCalled(t, "CreateStream", mock.Anything, mock.Anything)
			cp.AssertNotCalled(t, "GetDataEndpoint", mock.Anything, mock.Anything)
		})
	}
}

// =============================================================================
// PutMedia
// =============================================================================

func TestClient_PutMedia(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	m := metrics.New()
	c := newInitialisedClient(t, testConfig(), srv, WithMetrics(m))

	data := mediaBytes(35000)
	body := newTrackingBody(data)

	out, err := c.PutMedia(context.Background(), PutMediaInput{Body: body})
	require.NoError(t, err)
	require.True(t, body.closed.Load())
	require.Equal(t, StateCompleted, c.State())

	require.Len(t, out.Records, 3)
	require.Equal(t, domain.AckBuffering, out.Records[0].EventType)
	require.Equal(t, domain.AckReceived, out.Records[1].EventType)
	require.Equal(t, domain.AckPersisted, out.Records[2].EventType)
	require.Equal(t, "91343852333181432392682062623211624958123556823", out.Records[2].FragmentNumber)
	require.Equal(t, int64(35000), out.BytesSent)
	require.Equal(t, 3, out.Chunks)
	require.Len(t, out.MediaSHA256, 64)
	require.Equal(t, "1704112245.123", out.ProducerStartTimestamp)
	require.Equal(t, testEndpoint, out.Endpoint)

	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	up := uploads[0]
	require.Equal(t, data, up.Body)
	require.Equal(t, testEndpointHost, up.Host)
	require.Equal(t, testStream, up.StreamName)
	require.Equal(t, out.ProducerStartTimestamp, up.ProducerStartTimestamp)
	require.Equal(t, auth.DefaultUserAgent, up.UserAgent)
	require.Equal(t, []string{"chunked"}, up.TransferEncoding)
	require.Equal(t, "20240101T123045Z", up.Header.Get(auth.HeaderXAmzDate))
	require.Equal(t, "ABSOLUTE", up.Header.Get(auth.HeaderFragmentTimecodeType))
	require.Empty(t, up.SecurityToken)

	require.Equal(t, 35000.0, testutil.ToFloat64(m.BytesCounter(testStream)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ChunksCounter(testStream)))
}

func TestClient_PutMediaFromFile(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	path := t.TempDir() + "/clip.mkv"
	data := mediaBytes(1000)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c := newInitialisedClient(t, testConfig(), srv)
	out, err := c.PutMedia(context.Background(), PutMediaInput{MediaPath: path, ChunkSize: 300})
	require.NoError(t, err)
	require.Equal(t, 4, out.Chunks)
	require.Equal(t, data, srv.Uploads()[0].Body)
}

func TestClient_PutMediaSessionToken(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	cfg := testConfig()
	cfg.Credentials.SessionToken = "session-token"
	cfg.UserAgent = "kvs-ingest-test/1.0"
	c := newInitialisedClient(t, cfg, srv)

	_, err := c.PutMedia(context.Background(), PutMediaInput{Body: newTrackingBody(mediaBytes(10))})
	require.NoError(t, err)

	up := srv.Uploads()[0]
	require.Equal(t, "session-token", up.SecurityToken)
	require.Equal(t, "kvs-ingest-test/1.0", up.UserAgent)
}

func TestClient_PutMediaAckParsing(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey, kvsfake.WithAcks(
		`{"FragmentNumber":"1"}`,
		`noise`,
		`{"FragmentNumber":"2"}`,
		`not-json`,
		`{broken`,
	))
	defer srv.Close()

	c := newInitialisedClient(t, testConfig(), srv)
	out, err := c.PutMedia(context.Background(), PutMediaInput{Body: newTrackingBody(mediaBytes(100))})
	require.NoError(t, err)
	require.Len(t, out.Records, 2)
	require.Equal(t, "1", out.Records[0].FragmentNumber)
	require.Equal(t, "2", out.Records[1].FragmentNumber)
}

func TestClient_PutMediaErrors(t *testing.T) {
	t.Run("not initialised", func(t *testing.T) {
		c := NewClient(testConfig(), new(mockControlPlane), zerolog.Nop())
		body := newTrackingBody(mediaBytes(10))

		_, err := c.PutMedia(context.Background(), PutMediaInput{Body: body})
		require.ErrorIs(t, err, domain.ErrInvalidState)
		require.True(t, body.closed.Load())
		require.Equal(t, StateUninitialised, c.State())
	})

	t.Run("no source", func(t *testing.T) {
		srv := kvsfake.New(testAccessKey, testSecretKey)
		defer srv.Close()

		c := newInitialisedClient(t, testConfig(), srv)
		_, err := c.PutMedia(context.Background(), PutMediaInput{})
		require.ErrorIs(t, err, domain.ErrConfiguration)
		require.Equal(t, StateFailed, c.State())
		require.Empty(t, srv.Uploads())
	})

	t.Run("missing file", func(t *testing.T) {
		srv := kvsfake.New(testAccessKey, testSecretKey)
		defer srv.Close()

		c := newInitialisedClient(t, testConfig(), srv)
		_, err := c.PutMedia(context.Background(), PutMediaInput{MediaPath: t.TempDir() + "/missing.mkv"})
		require.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("error status", func(t *testing.T) {
		srv := kvsfake.New(testAccessKey, testSecretKey, kvsfake.WithStatus(http.StatusInternalServerError, "boom"))
		defer srv.Close()

		c := newInitialisedClient(t, testConfig(), srv)
		body := newTrackingBody(mediaBytes(5000))
		out, err := c.PutMedia(context.Background(), PutMediaInput{Body: body})
		require.Nil(t, out)
		require.ErrorIs(t, err, domain.ErrTransport)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		require.Equal(t, "boom", statusErr.Body)
		require.True(t, body.closed.Load())
		require.Equal(t, StateFailed, c.State())
	})

	t.Run("bad signature", func(t *testing.T) {
		srv := kvsfake.New(testAccessKey, "another-secret")
		defer srv.Close()

		c := newInitialisedClient(t, testConfig(), srv)
		_, err := c.PutMedia(context.Background(), PutMediaInput{Body: newTrackingBody(mediaBytes(10))})
		require.ErrorIs(t, err, domain.ErrTransport)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		require.Equal(t, "SignatureDoesNotMatch", statusErr.ErrorType)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := kvsfake.New(testAccessKey, testSecretKey)
		c := newInitialisedClient(t, testConfig(), srv)
		srv.Close()

		body := newTrackingBody(mediaBytes(10))
		_, err := c.PutMedia(context.Background(), PutMediaInput{Body: body})
		require.ErrorIs(t, err, domain.ErrTransport)
		require.True(t, body.closed.Load())
	})
}

func TestClient_PutMediaCancellation(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	c := newInitialisedClient(t, testConfig(), srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body := newTrackingBody(mediaBytes(200000))
	body.onRead = cancel

	out, err := c.PutMedia(ctx, PutMediaInput{Body: body, ChunkSize: 1000})
	require.Nil(t, out)
	require.ErrorIs(t, err, domain.ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, body.closed.Load())
	require.Equal(t, StateFailed, c.State())
}

func TestClient_PutMediaAfterCompletion(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	c := newInitialisedClient(t, testConfig(), srv)
	for i := 0; i < 2; i++ {
		_, err := c.PutMedia(context.Background(), PutMediaInput{Body: newTrackingBody(mediaBytes(10))})
		require.NoError(t, err)
	}
	require.Len(t, srv.Uploads(), 2)
}

func TestClient_PutMediaLock(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	ctx := context.Background()

	t.Run("busy stream", func(t *testing.T) {
		locker := lock.NewMemoryLocker()
		defer locker.Close()

		acquired, err := locker.Acquire(ctx, lock.Keys.StreamPutMedia(testStream), time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		c := newInitialisedClient(t, testConfig(), srv, WithLocker(locker))
		body := newTrackingBody(mediaBytes(10))
		_, err = c.PutMedia(ctx, PutMediaInput{Body: body})
		require.ErrorIs(t, err, domain.ErrStreamBusy)
		require.True(t, body.closed.Load())
	})

	t.Run("released after upload", func(t *testing.T) {
		locker := lock.NewMemoryLocker()
		defer locker.Close()

		c := newInitialisedClient(t, testConfig(), srv, WithLocker(locker))
		_, err := c.PutMedia(ctx, PutMediaInput{Body: newTrackingBody(mediaBytes(10))})
		require.NoError(t, err)

		held, err := locker.IsHeld(ctx, lock.Keys.StreamPutMedia(testStream))
		require.NoError(t, err)
		require.False(t, held)
	})
}

func TestClient_PutMediaRecorder(t *testing.T) {
	srv := kvsfake.New(testAccessKey, testSecretKey)
	defer srv.Close()

	t.Run("records upload", func(t *testing.T) {
		rec := new(mockRecorder)
		rec.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.UploadRecord) bool {
			return u.StreamName == testStream && u.BytesSent == 10 && u.PersistedCount() == 1 && u.Endpoint == testEndpoint
		})).Return(nil).Once()

		c := newInitialisedClient(t, testConfig(), srv, WithRecorder(rec))
		out, err := c.PutMedia(context.Background(), PutMediaInput{Body: newTrackingBody(mediaBytes(10))})
		require.NoError(t, err)
		rec.AssertExpectations(t)

		upload := rec.Calls[0].Arguments.Get(1).(*domain.UploadRecord)
		require.Equal(t, out.UploadID, upload.ID)
	})

	t.Run("recorder failure does not fail upload", func(t *testing.T) {
		rec := new(mockRecorder)
		rec.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		c := newInitialisedClient(t, testConfig(), srv, WithRecorder(rec))
		out, err := c.PutMedia(context.Background(), PutMediaInput{Body: newTrackingBody(mediaBytes(10))})
		require.NoError(t, err)
		require.Len(t, out.Records, 3)
	})
}

// =============================================================================
// State
// =============================================================================

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUninitialised: "uninitialised",
		StateInitialised:   "initialised",
		StateStreaming:     "streaming",
		StateCompleted:     "completed",
		StateFailed:        "failed",
		State(42):          "unknown",
	}
	for state, want := range tests {
		require.Equal(t, want, state.String())
	}
}
