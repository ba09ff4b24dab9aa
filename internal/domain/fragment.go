package domain

import (
	"time"
)

// FragmentSelectorType selects which timestamp a fragment query ranges over.
type FragmentSelectorType string

// Fragment selector types.
const (
	SelectorServerTimestamp   FragmentSelectorType = "SERVER_TIMESTAMP"
	SelectorProducerTimestamp FragmentSelectorType = "PRODUCER_TIMESTAMP"
)

// IsValid reports whether the selector type is known.
func (t FragmentSelectorType) IsValid() bool {
	return t == SelectorServerTimestamp || t == SelectorProducerTimestamp
}

// FragmentSelector defines a server-side fragment query.
type FragmentSelector struct {
	Type  FragmentSelectorType
	Start time.Time
	End   time.Time
}

// IsEmptyRange reports whether the selector can match no fragment because
// its start is after its end.
func (s FragmentSelector) IsEmptyRange() bool {
	return s.Start.After(s.End)
}

// Fragment describes one ingested fragment.
type Fragment struct {
	// FragmentNumber is the server-assigned identifier.
	FragmentNumber string `json:"fragment_number"`

	// SizeInBytes is the fragment size including metadata.
	SizeInBytes int64 `json:"size_in_bytes"`

	// ProducerTimestamp is the producer-side start timestamp.
	ProducerTimestamp time.Time `json:"producer_timestamp"`

	// ServerTimestamp is when the service received the fragment.
	ServerTimestamp time.Time `json:"server_timestamp"`

	// LengthInMilliseconds is the playback duration.
	LengthInMilliseconds int64 `json:"length_in_milliseconds"`
}
