package repository

import (
	"context"
)

// Supported ledger drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseHealth is an interface for database health checks.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Ledger bundles the upload repository with the connection backing it.
type Ledger struct {
	Uploads  UploadRepository
	Database DatabaseHealth
}

// Close closes the backing connection.
func (l *Ledger) Close() error {
	if l == nil || l.Database == nil {
		return nil
	}
	return l.Database.Close()
}
