package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/repository"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// uploadRepository implements repository.UploadRepository for SQLite.
type uploadRepository struct {
	db *DB
}

// NewUploadRepository creates a new SQLite upload repository.
func NewUploadRepository(db *DB) repository.UploadRepository {
	return &uploadRepository{db: db}
}

// Create stores an upload and its acknowledgements in one transaction.
func (r *uploadRepository) Create(ctx context.Context, upload *domain.UploadRecord) error {
	if err := repository.ValidateUpload(upload); err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO uploads (id, stream_name, endpoint, producer_start_timestamp,
				started_at, completed_at, bytes_sent, chunks, media_sha256)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			upload.ID.String(),
			upload.StreamName,
			upload.Endpoint,
			upload.ProducerStartTimestamp,
			upload.StartedAt.UTC().Format(timeLayout),
			upload.CompletedAt.UTC().Format(timeLayout),
			upload.BytesSent,
			upload.Chunks,
			upload.MediaSHA256,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert upload: %w", err)
		}

		for i, ack := range upload.Acks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO upload_acks (upload_id, seq, event_type, fragment_timecode,
					fragment_number, error_id, raw)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				upload.ID.String(),
				i,
				string(ack.EventType),
				ack.FragmentTimecode,
				ack.FragmentNumber,
				ack.ErrorID,
				string(ack.Raw),
			)
			if err != nil {
				return fmt.Errorf("failed to insert ack %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetByID retrieves an upload with its acknowledgements.
func (r *uploadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.UploadRecord, error) {
	upload, err := scanUpload(r.db.QueryRowContext(ctx, `
		SELECT id, stream_name, endpoint, producer_start_timestamp,
			started_at, completed_at, bytes_sent, chunks, media_sha256
		FROM uploads
		WHERE id = ?
	`, id.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, fragment_timecode, fragment_number, error_id, raw
		FROM upload_acks
		WHERE upload_id = ?
		ORDER BY seq
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list acks: %w", err)
	}
	defer rows.Close()

	upload.Acks = []domain.AckRecord{}
	for rows.Next() {
		var ack domain.AckRecord
		var eventType, raw string
		if err := rows.Scan(&eventType, &ack.FragmentTimecode, &ack.FragmentNumber, &ack.ErrorID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan ack: %w", err)
		}
		ack.EventType = domain.AckEventType(eventType)
		if raw != "" {
			ack.Raw = []byte(raw)
		}
		upload.Acks = append(upload.Acks, ack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate acks: %w", err)
	}

	return upload, nil
}

// ListByStream returns the most recent uploads of a stream, newest first.
func (r *uploadRepository) ListByStream(ctx context.Context, streamName string, limit int) ([]*domain.UploadRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stream_name, endpoint, producer_start_timestamp,
			started_at, completed_at, bytes_sent, chunks, media_sha256
		FROM uploads
		WHERE stream_name = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, streamName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []*domain.UploadRecord{}
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, upload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate uploads: %w", err)
	}
	return uploads, nil
}

// FindByFragment returns the upload that produced a fragment number.
func (r *uploadRepository) FindByFragment(ctx context.Context, streamName, fragmentNumber string) (*domain.UploadRecord, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT u.id
		FROM upload_acks a
		JOIN uploads u ON u.id = a.upload_id
		WHERE u.stream_name = ? AND a.fragment_number = ?
		ORDER BY u.started_at DESC
		LIMIT 1
	`, streamName, fragmentNumber).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find fragment: %w", err)
	}

	uploadID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid upload id %q: %w", id, err)
	}
	return r.GetByID(ctx, uploadID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*domain.UploadRecord, error) {
	upload := &domain.UploadRecord{}
	var id, startedAt, completedAt string

	err := row.Scan(
		&id,
		&upload.StreamName,
		&upload.Endpoint,
		&upload.ProducerStartTimestamp,
		&startedAt,
		&completedAt,
		&upload.BytesSent,
		&upload.Chunks,
		&upload.MediaSHA256,
	)
	if err != nil {
		return nil, err
	}

	if upload.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid upload id %q: %w", id, err)
	}
	if upload.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	if upload.CompletedAt, err = time.Parse(timeLayout, completedAt); err != nil {
		return nil, fmt.Errorf("invalid completed_at %q: %w", completedAt, err)
	}
	return upload, nil
}
