package endpoint

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/kvs-ingest/internal/domain"
)

// ControlPlane is the subset of the Kinesis Video control-plane API used to
// look up data endpoints. *kinesisvideo.Client satisfies it.
type ControlPlane interface {
	GetDataEndpoint(ctx context.Context, params *kinesisvideo.GetDataEndpointInput, optFns ...func(*kinesisvideo.Options)) (*kinesisvideo.GetDataEndpointOutput, error)
}

// Resolver resolves data endpoints and caches them per (stream, operation)
// for the lifetime of the Resolver. A Resolver is not shared across clients
// with different parameters.
type Resolver struct {
	controlPlane ControlPlane
	logger       zerolog.Logger

	mu    sync.Mutex
	cache map[cacheKey]*domain.Endpoint
}

type cacheKey struct {
	stream string
	api    domain.APIName
}

// NewResolver creates a new Resolver.
func NewResolver(controlPlane ControlPlane, logger zerolog.Logger) *Resolver {
	return &Resolver{
		controlPlane: controlPlane,
		logger:       logger.With().Str("component", "endpoint_resolver").Logger(),
		cache:        make(map[cacheKey]*domain.Endpoint),
	}
}

// Resolve returns the data endpoint of streamName for api.
func (r *Resolver) Resolve(ctx context.Context, streamName string, api domain.APIName) (*domain.Endpoint, error) {
	if strings.TrimSpace(streamName) == "" {
		return nil, domain.Errorf("GetDataEndpoint", domain.ErrConfiguration, "stream name is required")
	}
	if !api.IsValid() {
		return nil, domain.Errorf("GetDataEndpoint", domain.ErrConfiguration, "unknown API name %q", api)
	}

	key := cacheKey{stream: streamName, api: api}

	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		ep := *cached
		return &ep, nil
	}

	out, err := r.controlPlane.GetDataEndpoint(ctx, &kinesisvideo.GetDataEndpointInput{
		StreamName: aws.String(streamName),
		APIName:    types.APIName(api),
	})
	if err != nil {
		return nil, domain.NewOpError("GetDataEndpoint", domain.ErrEndpointUnavailable, "", err)
	}
	if out == nil || aws.ToString(out.DataEndpoint) == "" {
		return nil, domain.Errorf("GetDataEndpoint", domain.ErrEndpointUnavailable, "no endpoint returned for %s/%s", streamName, api)
	}

	ep, err := Parse(aws.ToString(out.DataEndpoint), api)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("stream", streamName).
		Str("api", string(api)).
		Str("endpoint", ep.RawURL).
		Str("region", ep.Region).
		Msg("resolved data endpoint")

	r.mu.Lock()
	r.cache[key] = ep
	r.mu.Unlock()

	result := *ep
	return &result, nil
}

// Invalidate drops the cached endpoint of streamName for api.
func (r *Resolver) Invalidate(streamName string, api domain.APIName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey{stream: streamName, api: api})
}
