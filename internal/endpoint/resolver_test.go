package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/kvs-ingest/internal/domain"
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

const sydneyEndpoint = "https://s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com"

// =============================================================================
// Parsing
// =============================================================================

func TestParseHost(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{name: "bare host", url: sydneyEndpoint, want: "s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com"},
		{name: "trailing slash", url: sydneyEndpoint + "/", want: "s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com"},
		{name: "with path", url: sydneyEndpoint + "/putMedia", want: "s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com"},
		{name: "with query", url: "https://a.kinesisvideo.us-west-2.amazonaws.com?x=1", want: "a.kinesisvideo.us-west-2.amazonaws.com"},
		{name: "http scheme", url: "http://s-1.kinesisvideo.us-east-1.amazonaws.com", wantErr: domain.ErrMalformedEndpoint},
		{name: "no scheme", url: "s-1.kinesisvideo.us-east-1.amazonaws.com", wantErr: domain.ErrMalformedEndpoint},
		{name: "empty", url: "", wantErr: domain.ErrMalformedEndpoint},
		{name: "scheme only", url: "https://", wantErr: domain.ErrMalformedEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, err := ParseHost(tt.url)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, host)
		})
	}
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{name: "sydney", url: sydneyEndpoint, want: "ap-southeast-2"},
		{name: "virginia with path", url: "https://b-1234.kinesisvideo.us-east-1.amazonaws.com/listFragments", want: "us-east-1"},
		{name: "too few labels", url: "https://localhost", wantErr: domain.ErrMalformedEndpoint},
		{name: "two labels", url: "https://a.b", wantErr: domain.ErrMalformedEndpoint},
		{name: "not https", url: "ftp://s-1.kinesisvideo.us-east-1.amazonaws.com", wantErr: domain.ErrMalformedEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, err := ParseRegion(tt.url)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, region)
		})
	}
}

func TestParse(t *testing.T) {
	ep, err := Parse(sydneyEndpoint+"/", domain.APIPutMedia)
	require.NoError(t, err)
	require.Equal(t, sydneyEndpoint, ep.RawURL)
	require.Equal(t, "s-ca658586.kinesisvideo.ap-southeast-2.amazonaws.com", ep.Host)
	require.Equal(t, "ap-southeast-2", ep.Region)
	require.Equal(t, domain.APIPutMedia, ep.APIName)
}

// =============================================================================
// Resolver
// =============================================================================

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("GetDataEndpoint", ctx, mock.MatchedBy(func(in *kinesisvideo.GetDataEndpointInput) bool {
			return aws.ToString(in.StreamName) == "camera-1" && in.APIName == types.APINamePutMedia
		})).Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(sydneyEndpoint)}, nil).Once()

		r := NewResolver(cp, zerolog.Nop())
		ep, err := r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.NoError(t, err)
		require.Equal(t, "ap-southeast-2", ep.Region)
		require.Equal(t, domain.APIPutMedia, ep.APIName)
		cp.AssertExpectations(t)
	})

	t.Run("cached per operation", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("GetDataEndpoint", ctx, mock.MatchedBy(func(in *kinesisvideo.GetDataEndpointInput) bool {
			return in.APIName == types.APINamePutMedia
		})).Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(sydneyEndpoint)}, nil).Once()
		cp.On("GetDataEndpoint", ctx, mock.MatchedBy(func(in *kinesisvideo.GetDataEndpointInput) bool {
			return in.APIName == types.APINameListFragments
		})).Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String("https://b-99.kinesisvideo.ap-southeast-2.amazonaws.com")}, nil).Once()

		r := NewResolver(cp, zerolog.Nop())
		for i := 0; i < 3; i++ {
			_, err := r.Resolve(ctx, "camera-1", domain.APIPutMedia)
			require.NoError(t, err)
		}
		list, err := r.Resolve(ctx, "camera-1", domain.APIListFragments)
		require.NoError(t, err)
		require.Equal(t, "b-99.kinesisvideo.ap-southeast-2.amazonaws.com", list.Host)

		cp.AssertExpectations(t)
		cp.AssertNumberOfCalls(t, "GetDataEndpoint", 2)
	})

	t.Run("invalidate forces lookup", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("GetDataEndpoint", ctx, mock.Anything).
			Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String(sydneyEndpoint)}, nil).Twice()

		r := NewResolver(cp, zerolog.Nop())
		_, err := r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.NoError(t, err)
		r.Invalidate("camera-1", domain.APIPutMedia)
		_, err = r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.NoError(t, err)

		cp.AssertNumberOfCalls(t, "GetDataEndpoint", 2)
	})

	t.Run("control plane error", func(t *testing.T) {
		cp := new(mockControlPlane)
		cause := errors.New("throttled")
		cp.On("GetDataEndpoint", ctx, mock.Anything).Return(nil, cause)

		r := NewResolver(cp, zerolog.Nop())
		_, err := r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.ErrorIs(t, err, domain.ErrEndpointUnavailable)
		require.ErrorIs(t, err, cause)
	})

	t.Run("empty endpoint", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("GetDataEndpoint", ctx, mock.Anything).Return(&kinesisvideo.GetDataEndpointOutput{}, nil)

		r := NewResolver(cp, zerolog.Nop())
		_, err := r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.ErrorIs(t, err, domain.ErrEndpointUnavailable)
	})

	t.Run("malformed endpoint is not cached", func(t *testing.T) {
		cp := new(mockControlPlane)
		cp.On("GetDataEndpoint", ctx, mock.Anything).
			Return(&kinesisvideo.GetDataEndpointOutput{DataEndpoint: aws.String("http://insecure.example.com")}, nil).Twice()

		r := NewResolver(cp, zerolog.Nop())
		_, err := r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.ErrorIs(t, err, domain.ErrMalformedEndpoint)
		_, err = r.Resolve(ctx, "camera-1", domain.APIPutMedia)
		require.ErrorIs(t, err, domain.ErrMalformedEndpoint)
		cp.AssertNumberOfCalls(t, "GetDataEndpoint", 2)
	})

	t.Run("invalid arguments make no call", func(t *testing.T) {
		cp := new(mockControlPlane)
		r := NewResolver(cp, zerolog.Nop())

		_, err := r.Resolve(ctx, "", domain.APIPutMedia)
		require.ErrorIs(t, err, domain.ErrConfiguration)
		_, err = r.Resolve(ctx, "camera-1", domain.APIName("PUT_EVERYTHING"))
		require.ErrorIs(t, err, domain.ErrConfiguration)

		cp.AssertNotCalled(t, "GetDataEndpoint", mock.Anything, mock.Anything)
	})
}
