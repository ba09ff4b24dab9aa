package ingest

import (
	"time"

	"github.com/prn-tf/kvs-ingest/internal/domain"
)

// DefaultRetentionHours is the data retention of provisioned streams.
const DefaultRetentionHours = 24

// Config contains the settings of an ingest Client.
type Config struct {
	// StreamName is the target stream.
	StreamName string

	// Region is the control-plane region. The signing region of PutMedia is
	// taken from the resolved endpoint.
	Region string

	// Credentials sign every PutMedia request.
	Credentials domain.Credentials

	// RetentionHours is the retention of a newly created stream.
	// Defaults to DefaultRetentionHours.
	RetentionHours int

	// UserAgent identifies the producer. Defaults to auth.DefaultUserAgent.
	UserAgent string

	// ChunkSize is the default body chunk size. Defaults to
	// media.DefaultInteractiveChunkSize.
	ChunkSize int

	// Transport configures the default HTTP client. Ignored when
	// WithHTTPClient is used.
	Transport TransportConfig

	// LockTTL is the lifetime of the per-stream upload lock. The lock is
	// extended while the upload runs.
	LockTTL time.Duration

	// LockWaitRetries and LockWaitDelay control how long PutMedia waits for a
	// busy stream before failing with ErrStreamBusy.
	LockWaitRetries int
	LockWaitDelay   time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Credentials.Validate(); err != nil {
		return err
	}
	if err := (domain.StreamIdentity{Name: c.StreamName, Region: c.Region}).Validate(); err != nil {
		return err
	}
	if c.RetentionHours < 0 {
		return domain.Errorf("Config", domain.ErrConfiguration, "retention hours must not be negative")
	}
	if c.ChunkSize < 0 {
		return domain.Errorf("Config", domain.ErrConfiguration, "chunk size must not be negative")
	}
	if c.LockWaitRetries < 0 {
		return domain.Errorf("Config", domain.ErrConfiguration, "lock wait retries must not be negative")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.RetentionHours == 0 {
		c.RetentionHours = DefaultRetentionHours
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.LockWaitDelay <= 0 {
		c.LockWaitDelay = time.Second
	}
}

// State is the lifecycle state of a Client.
type State int

// Client states.
const (
	StateUninitialised State = iota
	StateInitialised
	StateStreaming
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateInitialised:
		return "initialised"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// canPut reports whether PutMedia may start from s. A finished upload leaves
// the endpoint resolved, so another independent upload may follow.
func (s State) canPut() bool {
	return s == StateInitialised || s == StateCompleted || s == StateFailed
}
