// Package ingest implements the Kinesis Video Streams PutMedia client: stream
// provisioning, endpoint resolution, request signing, chunked upload and
// acknowledgement parsing.
package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/aws/smithy-go"
	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/kvs-ingest/internal/auth"
	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/endpoint"
	"github.com/prn-tf/kvs-ingest/internal/lock"
	"github.com/prn-tf/kvs-ingest/internal/media"
	"github.com/prn-tf/kvs-ingest/internal/metrics"
)

const (
	opInitialise = "Initialise"
	opPutMedia   = "PutMedia"

	// statusSnippetLimit caps how much of an error response body is kept.
	statusSnippetLimit = 512

	resourceInUseCode = "ResourceInUseException"
)

// ControlPlane is the subset of the Kinesis Video control-plane API used by
// the client. *kinesisvideo.Client satisfies it.
type ControlPlane interface {
	endpoint.ControlPlane
	CreateStream(ctx context.Context, params *kinesisvideo.CreateStreamInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.CreateStreamOutput, error)
}

// Resolver resolves data endpoints.
type Resolver interface {
	Resolve(ctx context.Context, streamName string, api domain.APIName) (*domain.Endpoint, error)
}

// AckRecorder persists completed uploads. repository.UploadRepository
// satisfies it.
type AckRecorder interface {
	Create(ctx context.Context, upload *domain.UploadRecord) error
}

// PutMediaInput selects the media of one upload. Exactly one of MediaPath and
// Body is set. The client takes ownership of Body and closes it on return.
type PutMediaInput struct {
	MediaPath string
	Body      io.ReadCloser

	// ChunkSize overrides Config.ChunkSize for this upload.
	ChunkSize int
}

// PutMediaOutput is the result of a completed upload.
type PutMediaOutput struct {
	UploadID               uuid.UUID
	Endpoint               string
	ProducerStartTimestamp string
	StartedAt              time.Time
	Records                []domain.AckRecord
	BytesSent              int64
	Chunks                 int
	MediaSHA256            string
	Duration               time.Duration
}

// StatusError is the cause of ErrTransport when the endpoint answers with a
// non-2xx status.
type StatusError struct {
	StatusCode int
	ErrorType  string
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := "unexpected status " + http.StatusText(e.StatusCode)
	if e.ErrorType != "" {
		msg += " [" + e.ErrorType + "]"
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client uploads media to one stream. A Client serves one upload at a time;
// concurrent uploads use independent clients.
type Client struct {
	cfg          Config
	controlPlane ControlPlane
	resolver     Resolver
	httpClient   *http.Client
	now          func() time.Time
	locker       lock.Locker
	recorder     AckRecorder
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	mu       sync.Mutex
	state    State
	endpoint *domain.Endpoint
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client built from Config.Transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock replaces time.Now as the source of signing instants.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLocker guards each upload with a per-stream lock.
func WithLocker(l lock.Locker) Option {
	return func(c *Client) {
		c.locker = l
	}
}

// WithRecorder persists every completed upload.
func WithRecorder(r AckRecorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithMetrics records upload metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithResolver replaces the resolver built over the control plane.
func WithResolver(r Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// NewClient creates a new Client.
func NewClient(cfg Config, controlPlane ControlPlane, logger zerolog.Logger, opts ...Option) *Client {
	cfg.setDefaults()

	c := &Client{
		cfg:          cfg,
		controlPlane: controlPlane,
		now:          time.Now,
		logger: logger.With().
			Str("component", "ingest_client").
			Str("stream", cfg.StreamName).
			Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = endpoint.NewResolver(controlPlane, logger)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(cfg.Transport)
	}
	return c
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the resolved ingest endpoint, or nil before Initialise.
func (c *Client) Endpoint() *domain.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoint == nil {
		return nil
	}
	ep := *c.endpoint
	return &ep
}

// Initialise ensures the stream exists and resolves its ingest endpoint.
// A stream that already exists is not an error. Initialise may be called
// again at any time except during an upload.
func (c *Client) Initialise(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.State() == StateStreaming {
		return domain.Errorf(opInitialise, domain.ErrInvalidState, "upload in progress")
	}

	if err := c.createStream(ctx); err != nil {
		return err
	}

	ep, err := c.resolver.Resolve(ctx, c.cfg.StreamName, domain.APIPutMedia)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStreaming {
		return domain.Errorf(opInitialise, domain.ErrInvalidState, "upload in progress")
	}
	c.endpoint = ep
	c.state = StateInitialised

	c.logger.Info().
		Str("endpoint", ep.RawURL).
		Str("region", ep.Region).
		Msg("ingest client initialised")

	return nil
}

func (c *Client) createStream(ctx context.Context) error {
	_, err := c.controlPlane.CreateStream(ctx, &kinesisvideo.CreateStreamInput{
		StreamName:           aws.String(c.cfg.StreamName),
		DataRetentionInHours: aws.Int32(int32(c.cfg.RetentionHours)),
	})
	if err == nil {
		c.logger.Info().Int("retention_hours", c.cfg.RetentionHours).Msg("stream created")
		return nil
	}
	if isResourceInUse(err) {
		c.logger.Info().Msg("stream already exists")
		return nil
	}
	return domain.NewOpError(opInitialise, domain.ErrInitialisationFailed, "", err)
}

func isResourceInUse(err error) bool {
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == resourceInUseCode
}

// PutMedia streams one media source to the ingest endpoint and returns the
// acknowledgements. It returns records only if the whole upload and response
// succeeded; any failure or cancellation returns an error and no records.
// PutMedia is not retried internally.
func (c *Client) PutMedia(ctx context.Context, in PutMediaInput) (out *PutMediaOutput, err error) {
	ep, err := c.begin()
	if err != nil {
		closeBody(in.Body)
		return nil, err
	}

	start := time.Now()
	defer func() {
		c.finish(err)
		c.metrics.ObservePutMedia(c.cfg.StreamName, err, time.Since(start))
		if err != nil {
			c.logger.Error().Err(err).Msg("put media failed")
		}
	}()

	src, err := c.openSource(in)
	if err != nil {
		return nil, err
	}

	chunkSize := in.ChunkSize
	if chunkSize == 0 {
		chunkSize = c.cfg.ChunkSize
	}
	producer := media.NewChunkProducer(src, chunkSize,
		media.WithBytesCounter(c.metrics.BytesCounter(c.cfg.StreamName)),
		media.WithChunksCounter(c.metrics.ChunksCounter(c.cfg.StreamName)),
	)
	defer producer.Close()

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	signedAt := c.now().UTC()
	producerStart := auth.FormatProducerTimestamp(signedAt)
	signed, err := auth.SignPutMedia(c.cfg.Credentials, auth.PutMediaHeaders{
		Host:                   ep.Host,
		StreamName:             c.cfg.StreamName,
		UserAgent:              c.cfg.UserAgent,
		ProducerStartTimestamp: producerStart,
	}, auth.NewSigningContext(signedAt, ep.Region, auth.ServiceKinesisVideo))
	if err != nil {
		return nil, domain.NewOpError(opPutMedia, domain.ErrConfiguration, ep.RawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, auth.PutMediaMethod, ep.RawURL+auth.PutMediaURI, producer)
	if err != nil {
		return nil, domain.NewOpError(opPutMedia, domain.ErrConfiguration, ep.RawURL, err)
	}
	req.ContentLength = -1
	signed.Apply(req)

	c.logger.Debug().
		Str("endpoint", ep.RawURL).
		Str("producer_start_timestamp", producerStart).
		Int("chunk_size", producer.ChunkSize()).
		Msg("starting upload")
	c.logger.Trace().
		Str("authorization", auth.RedactAuthorization(signed.Authorization)).
		Str("amz_date", signed.Context.AmzDate).
		Msg("signed put media request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewOpError(opPutMedia, domain.ErrTransport, ep.RawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusSnippetLimit))
		return nil, domain.NewOpError(opPutMedia, domain.ErrTransport, ep.RawURL, &StatusError{
			StatusCode: resp.StatusCode,
			ErrorType:  resp.Header.Get("x-amzn-ErrorType"),
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	parsed, err := domain.ParseAckStream(resp.Body)
	if err != nil {
		return nil, domain.NewOpError(opPutMedia, domain.ErrTransport, ep.RawURL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewOpError(opPutMedia, domain.ErrTransport, ep.RawURL, err)
	}

	out = &PutMediaOutput{
		UploadID:               uuid.New(),
		Endpoint:               ep.RawURL,
		ProducerStartTimestamp: producerStart,
		StartedAt:              signedAt,
		Records:                parsed.Records,
		BytesSent:              producer.Bytes(),
		Chunks:                 producer.Chunks(),
		MediaSHA256:            producer.Digest(),
		Duration:               time.Since(start),
	}

	for _, rec := range out.Records {
		c.metrics.ObserveAck(c.cfg.StreamName, string(rec.EventType))
		if rec.IsError() {
			c.logger.Warn().
				Str("fragment_number", rec.FragmentNumber).
				Int64("error_id", rec.ErrorID).
				Msg("error acknowledgement")
		}
	}

	c.logger.Info().
		Str("upload_id", out.UploadID.String()).
		Str("size", units.HumanSize(float64(out.BytesSent))).
		Int("chunks", out.Chunks).
		Int("acks", len(out.Records)).
		Int("ignored_lines", parsed.Ignored).
		Int("malformed_lines", parsed.Malformed).
		Dur("duration", out.Duration).
		Msg("upload completed")

	c.record(ctx, out)
	return out, nil
}

// begin moves the client to StateStreaming and returns the endpoint.
func (c *Client) begin() (*domain.Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.canPut() || c.endpoint == nil {
		return nil, domain.Errorf(opPutMedia, domain.ErrInvalidState, "cannot upload in state %s", c.state)
	}
	c.state = StateStreaming
	ep := *c.endpoint
	return &ep, nil
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		return
	}
	c.state = StateCompleted
}

func (c *Client) openSource(in PutMediaInput) (io.ReadCloser, error) {
	switch {
	case in.Body != nil && in.MediaPath != "":
		closeBody(in.Body)
		return nil, domain.Errorf(opPutMedia, domain.ErrConfiguration, "both media path and body are set")
	case in.Body != nil:
		return in.Body, nil
	case in.MediaPath != "":
		return media.OpenFile(in.MediaPath)
	default:
		return nil, domain.Errorf(opPutMedia, domain.ErrConfiguration, "no media source")
	}
}

// acquire takes the per-stream upload lock and keeps it alive until the
// returned release func is called.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}

	l := lock.NewLock(c.locker, lock.Keys.StreamPutMedia(c.cfg.StreamName))
	acquired, err := l.AcquireWithRetry(ctx, c.cfg.LockTTL, c.cfg.LockWaitRetries, c.cfg.LockWaitDelay)
	if err != nil {
		return nil, domain.NewOpError(opPutMedia, domain.ErrStreamBusy, "", err)
	}
	if !acquired {
		return nil, domain.Errorf(opPutMedia, domain.ErrStreamBusy, "lock %s is held", l.Key())
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := l.Extend(ctx, c.cfg.LockTTL); err != nil {
					c.logger.Warn().Err(err).Str("key", l.Key()).Msg("failed to extend upload lock")
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Str("key", l.Key()).Msg("failed to release upload lock")
		}
	}, nil
}

// record hands the upload to the recorder. A recorder failure is logged and
// does not fail the upload, which the service has already acknowledged.
func (c *Client) record(ctx context.Context, out *PutMediaOutput) {
	if c.recorder == nil {
		return
	}

	upload := &domain.UploadRecord{
		ID:                     out.UploadID,
		StreamName:             c.cfg.StreamName,
		Endpoint:               out.Endpoint,
		ProducerStartTimestamp: out.ProducerStartTimestamp,
		StartedAt:              out.StartedAt,
		CompletedAt:            out.StartedAt.Add(out.Duration),
		BytesSent:              out.BytesSent,
		Chunks:                 out.Chunks,
		MediaSHA256:            out.MediaSHA256,
		Acks:                   out.Records,
	}
	if err := c.recorder.Create(ctx, upload); err != nil {
		c.logger.Warn().Err(err).Str("upload_id", out.UploadID.String()).Msg("failed to record upload")
	}
}

func closeBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
