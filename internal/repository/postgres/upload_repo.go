package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/repository"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// uploadRepository implements repository.UploadRepository.
type uploadRepository struct {
	db *DB
}

// NewUploadRepository creates a new PostgreSQL upload repository.
func NewUploadRepository(db *DB) repository.UploadRepository {
	return &uploadRepository{db: db}
}

// Create stores an upload and its acknowledgements in one transaction. The
// acknowledgements are sent as a single batch.
func (r *uploadRepository) Create(ctx context.Context, upload *domain.UploadRecord) error {
	if err := repository.ValidateUpload(upload); err != nil {
		return err
	}
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO uploads (id, stream_name, endpoint, producer_start_timestamp,
				started_at, completed_at, bytes_sent, chunks, media_sha256)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			upload.ID,
			upload.StreamName,
			upload.Endpoint,
			upload.ProducerStartTimestamp,
			upload.StartedAt.UTC(),
			upload.CompletedAt.UTC(),
			upload.BytesSent,
			upload.Chunks,
			upload.MediaSHA256,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return repository.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert upload: %w", err)
		}

		if len(upload.Acks) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, ack := range upload.Acks {
			var raw []byte
			if len(ack.Raw) > 0 {
				raw = ack.Raw
			}
			batch.Queue(`
				INSERT INTO upload_acks (upload_id, seq, event_type, fragment_timecode,
					fragment_number, error_id, raw)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, upload.ID, i, string(ack.EventType), ack.FragmentTimecode, ack.FragmentNumber, ack.ErrorID, raw)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range upload.Acks {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert ack %d: %w", i, err)
			}
		}
		return results.Close()
	})
}

// GetByID retrieves an upload with its acknowledgements.
func (r *uploadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.UploadRecord, error) {
	return getUpload(ctx, r.db.Pool, id)
}

// ListByStream returns the most recent uploads of a stream, newest first.
func (r *uploadRepository) ListByStream(ctx context.Context, streamName string, limit int) ([]*domain.UploadRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, stream_name, endpoint, producer_start_timestamp,
			started_at, completed_at, bytes_sent, chunks, media_sha256
		FROM uploads
		WHERE stream_name = $1
		ORDER BY started_at DESC
		LIMIT $2
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
	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		SELECT u.id
		FROM upload_acks a
		JOIN uploads u ON u.id = a.upload_id
		WHERE u.stream_name = $1 AND a.fragment_number = $2
		ORDER BY u.started_at DESC
		LIMIT 1
	`, streamName, fragmentNumber).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find fragment: %w", err)
	}
	return getUpload(ctx, r.db.Pool, id)
}

func getUpload(ctx context.Context, q Querier, id uuid.UUID) (*domain.UploadRecord, error) {
	upload, err := scanUpload(q.QueryRow(ctx, `
		SELECT id, stream_name, endpoint, producer_start_timestamp,
			started_at, completed_at, bytes_sent, chunks, media_sha256
		FROM uploads
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT event_type, fragment_timecode, fragment_number, error_id, raw
		FROM upload_acks
		WHERE upload_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list acks: %w", err)
	}
	defer rows.Close()

	upload.Acks = []domain.AckRecord{}
	for rows.Next() {
		var ack domain.AckRecord
		var eventType string
		var raw []byte
		if err := rows.Scan(&eventType, &ack.FragmentTimecode, &ack.FragmentNumber, &ack.ErrorID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan ack: %w", err)
		}
		ack.EventType = domain.AckEventType(eventType)
		ack.Raw = raw
		upload.Acks = append(upload.Acks, ack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate acks: %w", err)
	}
	return upload, nil
}

func scanUpload(row pgx.Row) (*domain.UploadRecord, error) {
	upload := &domain.UploadRecord{}
	err := row.Scan(
		&upload.ID,
		&upload.StreamName,
		&upload.Endpoint,
		&upload.ProducerStartTimestamp,
		&upload.StartedAt,
		&upload.CompletedAt,
		&upload.BytesSent,
		&upload.Chunks,
		&upload.MediaSHA256,
	)
	if err != nil {
		return nil, err
	}
	return upload, nil
}
