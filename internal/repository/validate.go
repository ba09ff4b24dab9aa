package repository

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/pkg/crypto"
)

// ValidateUpload checks an upload before it is written to the ledger.
func ValidateUpload(upload *domain.UploadRecord) error {
	switch {
	case upload == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidUpload)
	case upload.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrInvalidUpload)
	case upload.StreamName == "":
		return fmt.Errorf("%w: missing stream name", ErrInvalidUpload)
	case !crypto.ValidateSHA256(upload.MediaSHA256):
		return fmt.Errorf("%w: media digest %q is not a SHA-256", ErrInvalidUpload, upload.MediaSHA256)
	}
	return nil
}
