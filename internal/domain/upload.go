package domain

import (
	"time"

	"github.com/google/uuid"
)

// UploadRecord is the ledger entry of one completed PutMedia call.
type UploadRecord struct {
	// ID identifies the upload.
	ID uuid.UUID

	// StreamName is the target stream.
	StreamName string

	// Endpoint is the data endpoint the media was sent to.
	Endpoint string

	// ProducerStartTimestamp is the x-amzn-producer-start-timestamp header value.
	ProducerStartTimestamp string

	// StartedAt is the signing instant.
	StartedAt time.Time

	// CompletedAt is when the response was fully read.
	CompletedAt time.Time

	// BytesSent is the number of media bytes streamed.
	BytesSent int64

	// Chunks is the number of body chunks streamed.
	Chunks int

	// MediaSHA256 is the hex digest of the streamed media.
	MediaSHA256 string

	// Acks are the acknowledgements in the order received.
	Acks []AckRecord
}

// PersistedCount returns the number of PERSISTED acknowledgements.
func (u *UploadRecord) PersistedCount() int {
	n := 0
	for _, a := range u.Acks {
		if a.EventType == AckPersisted {
			n++
		}
	}
	return n
}

// ErrorCount returns the number of ERROR acknowledgements.
func (u *UploadRecord) ErrorCount() int {
	n := 0
	for _, a := range u.Acks {
		if a.IsError() {
			n++
		}
	}
	return n
}
