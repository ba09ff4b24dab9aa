package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/metrics"
)

// =============================================================================
// Mocks
// =============================================================================

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, streamName string, api domain.APIName) (*domain.Endpoint, error) {
	args := m.Called(ctx, streamName, api)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Endpoint), args.Error(1)
}

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListFragments(ctx context.Context, params *kinesisvideoarchivedmedia.ListFragmentsInput, optFns ...func(*kinesisvideoarchivedmedia.Options)) (*kinesisvideoarchivedmedia.ListFragmentsOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kinesisvideoarchivedmedia.ListFragmentsOutput), args.Error(1)
}

var listEndpoint = &domain.Endpoint{
	RawURL:  "https://b-1234.kinesisvideo.ap-southeast-2.amazonaws.com",
	Host:    "b-1234.kinesisvideo.ap-southeast-2.amazonaws.com",
	Region:  "ap-southeast-2",
	APIName: domain.APIListFragments,
}

func fragment(number string, server time.Time) types.Fragment {
	return types.Fragment{
		FragmentNumber:               aws.String(number),
		FragmentSizeInBytes:          aws.Int64(1024),
		FragmentLengthInMilliseconds: aws.Int64(2000),
		ProducerTimestamp:            aws.Time(server.Add(-time.Second)),
		ServerTimestamp:              aws.Time(server),
	}
}

func newTestClient(resolver Resolver, lister *mockLister) (*Client, *[]*domain.Endpoint) {
	var bound []*domain.Endpoint
	factory := func(ep *domain.Endpoint) kinesisvideoarchivedmedia.ListFragmentsAPIClient {
		bound = append(bound, ep)
		return lister
	}
	return NewClient(resolver, factory, metrics.New(), zerolog.Nop()), &bound
}

// =============================================================================
// Tests
// =============================================================================

func TestClient_ListFragments(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	resolver := new(mockResolver)
	resolver.On("Resolve", ctx, "camera-1", domain.APIListFragments).Return(listEndpoint, nil)

	lister := new(mockLister)
	lister.On("ListFragments", ctx, mock.MatchedBy(func(in *kinesisvideoarchivedmedia.ListFragmentsInput) bool {
		return in.NextToken == nil &&
			aws.ToString(in.StreamName) == "camera-1" &&
			in.FragmentSelector.FragmentSelectorType == types.FragmentSelectorTypeServerTimestamp &&
			aws.ToTime(in.FragmentSelector.TimestampRange.StartTimestamp).Equal(start) &&
			aws.ToTime(in.FragmentSelector.TimestampRange.EndTimestamp).Equal(end)
	})).Return(&kinesisvideoarchivedmedia.ListFragmentsOutput{
		Fragments: []types.Fragment{
			fragment("91343852333181432392682062631214140000000000000000000000003", start.Add(20*time.Second)),
			fragment("91343852333181432392682062631214140000000000000000000000001", start.Add(10*time.Second)),
		},
		NextToken: aws.String("page-2"),
	}, nil).Once()
	lister.On("ListFragments", ctx, mock.MatchedBy(func(in *kinesisvideoarchivedmedia.ListFragmentsInput) bool {
		return aws.ToString(in.NextToken) == "page-2"
	})).Return(&kinesisvideoarchivedmedia.ListFragmentsOutput{
		Fragments: []types.Fragment{
			fragment("91343852333181432392682062631214140000000000000000000000002", start.Add(15*time.Second)),
		},
	}, nil).Once()

	client, bound := newTestClient(resolver, lister)
	fragments, err := client.ListFragments(ctx, "camera-1", domain.FragmentSelector{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	require.Equal(t, "91343852333181432392682062631214140000000000000000000000001", fragments[0].FragmentNumber)
	require.Equal(t, "91343852333181432392682062631214140000000000000000000000002", fragments[1].FragmentNumber)
	require.Equal(t, "91343852333181432392682062631214140000000000000000000000003", fragments[2].FragmentNumber)
	require.Equal(t, int64(1024), fragments[0].SizeInBytes)
	require.Equal(t, int64(2000), fragments[0].LengthInMilliseconds)

	require.Len(t, *bound, 1)
	require.Equal(t, listEndpoint, (*bound)[0])
	resolver.AssertExpectations(t)
	lister.AssertExpectations(t)
}

func TestClient_ListFragments_ProducerTimestampOrder(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := fragment("10", start)
	b := fragment("20", start.Add(time.Second))
	// b was produced first but received later.
	b.ProducerTimestamp = aws.Time(start.Add(-time.Hour))

	resolver := new(mockResolver)
	resolver.On("Resolve", ctx, "camera-1", domain.APIListFragments).Return(listEndpoint, nil)
	lister := new(mockLister)
	lister.On("ListFragments", ctx, mock.Anything).Return(&kinesisvideoarchivedmedia.ListFragmentsOutput{
		Fragments: []types.Fragment{a, b},
	}, nil)

	client, _ := newTestClient(resolver, lister)
	fragments, err := client.ListFragments(ctx, "camera-1", domain.FragmentSelector{
		Type:  domain.SelectorProducerTimestamp,
		Start: start.Add(-2 * time.Hour),
		End:   start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"20", "10"}, []string{fragments[0].FragmentNumber, fragments[1].FragmentNumber})
}

func TestClient_ListFragments_Empty(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	resolver := new(mockResolver)
	resolver.On("Resolve", ctx, "camera-1", domain.APIListFragments).Return(listEndpoint, nil)
	lister := new(mockLister)
	lister.On("ListFragments", ctx, mock.Anything).Return(&kinesisvideoarchivedmedia.ListFragmentsOutput{}, nil)

	client, _ := newTestClient(resolver, lister)
	fragments, err := client.ListFragments(ctx, "camera-1", domain.FragmentSelector{Start: start, End: start.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, fragments)
	require.Empty(t, fragments)
}

func TestClient_ListFragments_StartAfterEnd(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	resolver := new(mockResolver)
	lister := new(mockLister)

	client, bound := newTestClient(resolver, lister)
	fragments, err := client.ListFragments(ctx, "camera-1", domain.FragmentSelector{
		Type:  domain.SelectorServerTimestamp,
		Start: start.Add(time.Minute),
		End:   start,
	})
	require.NoError(t, err)
	require.NotNil(t, fragments)
	require.Empty(t, fragments)

	require.Empty(t, *bound)
	resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	lister.AssertNotCalled(t, "ListFragments", mock.Anything, mock.Anything)
}

func TestClient_ListFragments_Errors(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	selector := domain.FragmentSelector{Start: start, End: start.Add(time.Minute)}

	t.Run("service error", func(t *testing.T) {
		resolver := new(mockResolver)
		resolver.On("Resolve", ctx, "camera-1", domain.APIListFragments).Return(listEndpoint, nil)
		lister := new(mockLister)
		cause := errors.New("ResourceNotFoundException")
		lister.On("ListFragments", ctx, mock.Anything).Return(nil, cause)

		client, _ := newTestClient(resolver, lister)
		fragments, err := client.ListFragments(ctx, "camera-1", selector)
		require.ErrorIs(t, err, domain.ErrQuery)
		require.ErrorIs(t, err, cause)
		require.Nil(t, fragments)

		var opErr *domain.OpError
		require.ErrorAs(t, err, &opErr)
		require.Equal(t, listEndpoint.RawURL, opErr.Endpoint)
	})

	t.Run("error on second page drops first page", func(t *testing.T) {
		resolver := new(mockResolver)
		resolver.On("Resolve", ctx, "camera-1", domain.APIListFragments).Return(listEndpoint, nil)
		lister := new(mockLister)
		lister.On("ListFragments", ctx, mock.MatchedBy(func(in *kinesisvideoarchivedmedia.ListFragmentsInput) bool {
			return in.NextToken == nil
		})).Return(&kinesisvideoarchivedmedia.ListFragmentsOutput{
			Fragments: []types.Fragment{fragment("1", start)},
			NextToken: aws.String("next"),
		}, nil)
		lister.On("ListFragments", ctx, mock.MatchedBy(func(in *kinesisvideoarchivedmedia.ListFragmentsInput) bool {
			return in.NextToken != nil
		})).Return(nil, errors.New("throttled"))

		client, _ := newTestClient(resolver, lister)
		fragments, err := client.ListFragments(ctx, "camera-1", selector)
		require.ErrorIs(t, err, domain.ErrQuery)
		require.Nil(t, fragments)
	})

	t.Run("endpoint unavailable", func(t *testing.T) {
		resolver := new(mockResolver)
		resolver.On("Resolve", ctx, "camera-1", domain.APIListFragments).
			Return(nil, domain.Errorf("GetDataEndpoint", domain.ErrEndpointUnavailable, "no endpoint"))

		client, _ := newTestClient(resolver, new(mockLister))
		_, err := client.ListFragments(ctx, "camera-1", selector)
		require.ErrorIs(t, err, domain.ErrQuery)
		require.ErrorIs(t, err, domain.ErrEndpointUnavailable)
	})

	t.Run("configuration", func(t *testing.T) {
		client, _ := newTestClient(new(mockResolver), new(mockLister))

		_, err := client.ListFragments(ctx, " ", selector)
		require.ErrorIs(t, err, domain.ErrConfiguration)

		_, err = client.ListFragments(ctx, "camera-1", domain.FragmentSelector{Type: "WALL_CLOCK"})
		require.ErrorIs(t, err, domain.ErrConfiguration)
	})
}

func TestLessFragmentNumber(t *testing.T) {
	require.True(t, lessFragmentNumber("9", "10"))
	require.False(t, lessFragmentNumber("10", "9"))
	require.True(t, lessFragmentNumber("123", "124"))
	require.False(t, lessFragmentNumber("5", "5"))
}
