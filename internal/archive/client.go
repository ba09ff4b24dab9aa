// Package archive lists the fragments ingested into a stream.
package archive

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/metrics"
)

// Resolver resolves operation-scoped data endpoints.
type Resolver interface {
	Resolve(ctx context.Context, streamName string, api domain.APIName) (*domain.Endpoint, error)
}

// ListerFactory builds a ListFragments client bound to a data endpoint.
type ListerFactory func(endpoint *domain.Endpoint) kinesisvideoarchivedmedia.ListFragmentsAPIClient

// NewSDKListerFactory returns a ListerFactory creating archived-media SDK
// clients from cfg, with the base endpoint and region of the resolved
// endpoint. Requests use the SDK's standard signing.
func NewSDKListerFactory(cfg aws.Config) ListerFactory {
	return func(endpoint *domain.Endpoint) kinesisvideoarchivedmedia.ListFragmentsAPIClient {
		return kinesisvideoarchivedmedia.NewFromConfig(cfg, func(o *kinesisvideoarchivedmedia.Options) {
			o.BaseEndpoint = aws.String(endpoint.RawURL)
			if endpoint.Region != "" {
				o.Region = endpoint.Region
			}
		})
	}
}

// Client queries fragment metadata.
type Client struct {
	resolver  Resolver
	newLister ListerFactory
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewClient creates a new fragment query client. m may be nil.
func NewClient(resolver Resolver, newLister ListerFactory, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		resolver:  resolver,
		newLister: newLister,
		metrics:   m,
		logger:    logger.With().Str("component", "archive").Logger(),
	}
}

// ListFragments returns the fragments of streamName within selector, ordered
// by the selector's timestamp and then by fragment number. A selector whose
// start is after its end matches nothing and returns an empty slice without
// a remote call. An empty selector type means SERVER_TIMESTAMP.
func (c *Client) ListFragments(ctx context.Context, streamName string, selector domain.FragmentSelector) ([]domain.Fragment, error) {
	if strings.TrimSpace(streamName) == "" {
		return nil, domain.Errorf("ListFragments", domain.ErrConfiguration, "stream name is required")
	}
	if selector.Type == "" {
		selector.Type = domain.SelectorServerTimestamp
	}
	if !selector.Type.IsValid() {
		return nil, domain.Errorf("ListFragments", domain.ErrConfiguration, "unknown selector type %q", selector.Type)
	}

	if selector.IsEmptyRange() {
		c.logger.Debug().
			Str("stream", streamName).
			Time("start", selector.Start).
			Time("end", selector.End).
			Msg("selector start is after end, returning no fragments")
		c.metrics.ObserveFragmentQuery(streamName, 0, nil)
		return []domain.Fragment{}, nil
	}

	fragments, err := c.list(ctx, streamName, selector)
	c.metrics.ObserveFragmentQuery(streamName, len(fragments), err)
	if err != nil {
		return nil, err
	}
	return fragments, nil
}

func (c *Client) list(ctx context.Context, streamName string, selector domain.FragmentSelector) ([]domain.Fragment, error) {
	endpoint, err := c.resolver.Resolve(ctx, streamName, domain.APIListFragments)
	if err != nil {
		return nil, domain.NewOpError("ListFragments", domain.ErrQuery, "", err)
	}

	input := &kinesisvideoarchivedmedia.ListFragmentsInput{
		StreamName: aws.String(streamName),
		FragmentSelector: &types.FragmentSelector{
			FragmentSelectorType: types.FragmentSelectorType(selector.Type),
			TimestampRange: &types.TimestampRange{
				StartTimestamp: aws.Time(selector.Start),
				EndTimestamp:   aws.Time(selector.End),
			},
		},
	}

	paginator := kinesisvideoarchivedmedia.NewListFragmentsPaginator(c.newLister(endpoint), input)

	fragments := []domain.Fragment{}
	pages := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.NewOpError("ListFragments", domain.ErrQuery, endpoint.RawURL, err)
		}
		pages++
		for _, f := range page.Fragments {
			fragments = append(fragments, toFragment(f))
		}
	}

	sortFragments(fragments, selector.Type)

	c.logger.Debug().
		Str("stream", streamName).
		Str("endpoint", endpoint.RawURL).
		Int("pages", pages).
		Int("fragments", len(fragments)).
		Msg("listed fragments")

	return fragments, nil
}

func toFragment(f types.Fragment) domain.Fragment {
	return domain.Fragment{
		FragmentNumber:       aws.ToString(f.FragmentNumber),
		SizeInBytes:          aws.ToInt64(f.FragmentSizeInBytes),
		ProducerTimestamp:    aws.ToTime(f.ProducerTimestamp),
		ServerTimestamp:      aws.ToTime(f.ServerTimestamp),
		LengthInMilliseconds: aws.ToInt64(f.FragmentLengthInMilliseconds),
	}
}

func sortFragments(fragments []domain.Fragment, by domain.FragmentSelectorType) {
	key := func(f domain.Fragment) int64 {
		if by == domain.SelectorProducerTimestamp {
			return f.ProducerTimestamp.UnixNano()
		}
		return f.ServerTimestamp.UnixNano()
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		ki, kj := key(fragments[i]), key(fragments[j])
		if ki != kj {
			return ki < kj
		}
		return lessFragmentNumber(fragments[i].FragmentNumber, fragments[j].FragmentNumber)
	})
}

// lessFragmentNumber orders decimal fragment numbers numerically.
func lessFragmentNumber(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
