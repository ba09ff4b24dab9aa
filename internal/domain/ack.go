package domain

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	json "github.com/goccy/go-json"
)

// AckEventType is the kind of a PutMedia acknowledgement.
type AckEventType string

// Acknowledgement event types emitted by the ingest service.
const (
	AckBuffering AckEventType = "BUFFERING"
	AckReceived  AckEventType = "RECEIVED"
	AckPersisted AckEventType = "PERSISTED"
	AckError     AckEventType = "ERROR"
	AckIdle      AckEventType = "IDLE"
)

// AckRecord is one acknowledgement line of a PutMedia response.
// Records are kept in the order the service emitted them, which is the ingest
// order of the fragments.
type AckRecord struct {
	// EventType is BUFFERING, RECEIVED, PERSISTED, ERROR or IDLE.
	EventType AckEventType `json:"EventType"`

	// FragmentTimecode is the fragment timecode in milliseconds.
	FragmentTimecode int64 `json:"FragmentTimecode,omitempty"`

	// FragmentNumber is the server-assigned fragment identifier.
	FragmentNumber string `json:"FragmentNumber,omitempty"`

	// ErrorID is the service error id for ERROR events.
	ErrorID int64 `json:"ErrorId,omitempty"`

	// Raw is the line as received.
	Raw json.RawMessage `json:"-"`
}

// IsError reports whether the record is an ERROR acknowledgement.
func (a AckRecord) IsError() bool {
	return a.EventType == AckError
}

// AckParseResult is the outcome of parsing a PutMedia response body.
type AckParseResult struct {
	// Records are the decoded acknowledgements in input order.
	Records []AckRecord

	// Ignored counts lines that did not start with '{'.
	Ignored int

	// Malformed counts lines that started with '{' but were not valid JSON,
	// and lines longer than MaxAckLineSize.
	Malformed int
}

// MaxAckLineSize bounds one acknowledgement line. Longer lines are counted as
// malformed and discarded without being buffered.
const MaxAckLineSize = 64 * 1024

// ParseAckStream reads newline-delimited acknowledgements from r. Lines not
// starting with '{' are framing noise and are skipped, as are lines that fail
// to decode or exceed MaxAckLineSize. Only read errors are returned.
func ParseAckStream(r io.Reader) (*AckParseResult, error) {
	result := &AckParseResult{Records: []AckRecord{}}
	reader := bufio.NewReaderSize(r, MaxAckLineSize)

	oversized := false
	for {
		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !oversized {
				result.Malformed++
				oversized = true
			}
			continue
		}

		switch {
		case oversized:
			// tail of a line already counted
			oversized = false
		case len(line) > 0:
			result.add(line)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			return nil, err
		}
	}
}

func (res *AckParseResult) add(line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	if line[0] != '{' {
		res.Ignored++
		return
	}

	var rec AckRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		res.Malformed++
		return
	}
	rec.Raw = append(json.RawMessage(nil), line...)
	res.Records = append(res.Records, rec)
}
