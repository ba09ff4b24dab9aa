package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	units "github.com/docker/go-units"
	json "github.com/goccy/go-json"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/ingest"
)

// formatter renders command results.
type formatter interface {
	FormatUpload(w io.Writer, out *ingest.PutMediaOutput) error
	FormatFragments(w io.Writer, fragments []domain.Fragment) error
	FormatUploads(w io.Writer, uploads []*domain.UploadRecord) error
}

func newFormatter(jsonOutput bool) formatter {
	if jsonOutput {
		return &jsonFormatter{}
	}
	return &humanFormatter{}
}

// humanFormatter outputs human-readable text.
type humanFormatter struct{}

func (f *humanFormatter) FormatUpload(w io.Writer, out *ingest.PutMediaOutput) error {
	_, _ = fmt.Fprintf(w, "Uploaded: %s in %d chunk(s) to %s\n", units.HumanSize(float64(out.BytesSent)), out.Chunks, out.Endpoint)
	_, _ = fmt.Fprintf(w, "  Upload ID: %s\n", out.UploadID)
	_, _ = fmt.Fprintf(w, "  Producer start: %s\n", out.ProducerStartTimestamp)
	_, _ = fmt.Fprintf(w, "  SHA-256: %s\n", out.MediaSHA256)
	_, _ = fmt.Fprintf(w, "  Duration: %s\n", out.Duration.Round(time.Millisecond))

	if len(out.Records) == 0 {
		_, _ = fmt.Fprintln(w, "No acknowledgements received")
		return nil
	}

	_, _ = fmt.Fprintf(w, "\n%-10s  %-48s  %15s  %s\n", "EVENT", "FRAGMENT", "TIMECODE", "ERROR")
	_, _ = fmt.Fprintf(w, "%s  %s  %s  %s\n", strings.Repeat("-", 10), strings.Repeat("-", 48), strings.Repeat("-", 15), strings.Repeat("-", 5))
	for _, rec := range out.Records {
		errorID := ""
		if rec.IsError() {
			errorID = fmt.Sprintf("%d", rec.ErrorID)
		}
		_, _ = fmt.Fprintf(w, "%-10s  %-48s  %15d  %s\n", rec.EventType, rec.FragmentNumber, rec.FragmentTimecode, errorID)
	}
	_, _ = fmt.Fprintf(w, "\n%d acknowledgement(s)\n", len(out.Records))
	return nil
}

func (f *humanFormatter) FormatFragments(w io.Writer, fragments []domain.Fragment) error {
	if len(fragments) == 0 {
		_, _ = fmt.Fprintln(w, "No fragments found")
		return nil
	}

	_, _ = fmt.Fprintf(w, "%-48s  %10s  %-24s  %-24s  %s\n", "FRAGMENT", "SIZE", "PRODUCER", "SERVER", "LENGTH")
	_, _ = fmt.Fprintf(w, "%s  %s  %s  %s  %s\n", strings.Repeat("-", 48), strings.Repeat("-", 10), strings.Repeat("-", 24), strings.Repeat("-", 24), strings.Repeat("-", 6))

	var total int64
	for _, frag := range fragments {
		total += frag.SizeInBytes
		_, _ = fmt.Fprintf(w, "%-48s  %10s  %-24s  %-24s  %dms\n",
			frag.FragmentNumber,
			units.HumanSize(float64(frag.SizeInBytes)),
			frag.ProducerTimestamp.UTC().Format(time.RFC3339Nano),
			frag.ServerTimestamp.UTC().Format(time.RFC3339Nano),
			frag.LengthInMilliseconds,
		)
	}

	_, _ = fmt.Fprintf(w, "\n%d fragment(s) (%s total)\n", len(fragments), units.HumanSize(float64(total)))
	return nil
}

func (f *humanFormatter) FormatUploads(w io.Writer, uploads []*domain.UploadRecord) error {
	if len(uploads) == 0 {
		_, _ = fmt.Fprintln(w, "No uploads recorded")
		return nil
	}

	_, _ = fmt.Fprintf(w, "%-36s  %-20s  %10s  %6s  %9s  %6s\n", "UPLOAD", "STARTED", "SIZE", "CHUNKS", "PERSISTED", "ERRORS")
	_, _ = fmt.Fprintf(w, "%s  %s  %s  %s  %s  %s\n", strings.Repeat("-", 36), strings.Repeat("-", 20), strings.Repeat("-", 10), strings.Repeat("-", 6), strings.Repeat("-", 9), strings.Repeat("-", 6))
	for _, u := range uploads {
		_, _ = fmt.Fprintf(w, "%-36s  %-20s  %10s  %6d  %9d  %6d\n",
			u.ID,
			u.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			units.HumanSize(float64(u.BytesSent)),
			u.Chunks,
			u.PersistedCount(),
			u.ErrorCount(),
		)
	}
	return nil
}

// jsonFormatter outputs JSON.
type jsonFormatter struct{}

type jsonAck struct {
	EventType        domain.AckEventType `json:"event_type"`
	FragmentNumber   string              `json:"fragment_number,omitempty"`
	FragmentTimecode int64               `json:"fragment_timecode,omitempty"`
	ErrorID          int64               `json:"error_id,omitempty"`
}

type jsonUpload struct {
	UploadID               string    `json:"upload_id"`
	StreamName             string    `json:"stream_name,omitempty"`
	Endpoint               string    `json:"endpoint"`
	ProducerStartTimestamp string    `json:"producer_start_timestamp"`
	StartedAt              time.Time `json:"started_at"`
	BytesSent              int64     `json:"bytes_sent"`
	Chunks                 int       `json:"chunks"`
	MediaSHA256            string    `json:"media_sha256"`
	DurationMS             int64     `json:"duration_ms,omitempty"`
	Acks                   []jsonAck `json:"acks"`
}

func toJSONAcks(records []domain.AckRecord) []jsonAck {
	acks := make([]jsonAck, 0, len(records))
	for _, rec := range records {
		acks = append(acks, jsonAck{
			EventType:        rec.EventType,
			FragmentNumber:   rec.FragmentNumber,
			FragmentTimecode: rec.FragmentTimecode,
			ErrorID:          rec.ErrorID,
		})
	}
	return acks
}

func (f *jsonFormatter) FormatUpload(w io.Writer, out *ingest.PutMediaOutput) error {
	return writeJSON(w, jsonUpload{
		UploadID:               out.UploadID.String(),
		Endpoint:               out.Endpoint,
		ProducerStartTimestamp: out.ProducerStartTimestamp,
		StartedAt:              out.StartedAt,
		BytesSent:              out.BytesSent,
		Chunks:                 out.Chunks,
		MediaSHA256:            out.MediaSHA256,
		DurationMS:             out.Duration.Milliseconds(),
		Acks:                   toJSONAcks(out.Records),
	})
}

func (f *jsonFormatter) FormatFragments(w io.Writer, fragments []domain.Fragment) error {
	if fragments == nil {
		fragments = []domain.Fragment{}
	}
	return writeJSON(w, map[string]any{"fragments": fragments})
}

func (f *jsonFormatter) FormatUploads(w io.Writer, uploads []*domain.UploadRecord) error {
	out := make([]jsonUpload, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, jsonUpload{
			UploadID:               u.ID.String(),
			StreamName:             u.StreamName,
			Endpoint:               u.Endpoint,
			ProducerStartTimestamp: u.ProducerStartTimestamp,
			StartedAt:              u.StartedAt,
			BytesSent:              u.BytesSent,
			Chunks:                 u.Chunks,
			MediaSHA256:            u.MediaSHA256,
			DurationMS:             u.CompletedAt.Sub(u.StartedAt).Milliseconds(),
			Acks:                   toJSONAcks(u.Acks),
		})
	}
	return writeJSON(w, map[string]any{"uploads": out})
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
