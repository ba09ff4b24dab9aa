// Package repository defines the data access interfaces of the upload ledger.
// The ledger keeps a record of every completed PutMedia call and the
// acknowledgements it produced, in SQLite or PostgreSQL.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/prn-tf/kvs-ingest/internal/domain"
)

// UploadRepository defines the interface for upload ledger access.
type UploadRepository interface {
	// Create stores an upload and its acknowledgements atomically.
	Create(ctx context.Context, upload *domain.UploadRecord) error

	// GetByID retrieves an upload with its acknowledgements.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.UploadRecord, error)

	// ListByStream returns the most recent uploads of a stream, newest first,
	// without their acknowledgements.
	ListByStream(ctx context.Context, streamName string, limit int) ([]*domain.UploadRecord, error)

	// FindByFragment returns the upload that produced a fragment number.
	FindByFragment(ctx context.Context, streamName, fragmentNumber string) (*domain.UploadRecord, error)
}
