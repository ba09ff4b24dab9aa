package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/rs/zerolog"

	"github.com/prn-tf/kvs-ingest/internal/config"
	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/lock"
	"github.com/prn-tf/kvs-ingest/internal/metrics"
	"github.com/prn-tf/kvs-ingest/internal/repository"
	"github.com/prn-tf/kvs-ingest/internal/repository/postgres"
	"github.com/prn-tf/kvs-ingest/internal/repository/sqlite"
)

// loadAWSConfig builds the SDK configuration. Explicit credentials take
// precedence over the default credential chain.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	if cfg.AWS.Region == "" {
		return aws.Config{}, domain.Errorf("LoadAWSConfig", domain.ErrConfiguration, "aws.region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" || cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, domain.NewOpError("LoadAWSConfig", domain.ErrConfiguration, "", err)
	}
	return awsCfg, nil
}

// retrieveCredentials resolves the credentials PutMedia is signed with.
func retrieveCredentials(ctx context.Context, awsCfg aws.Config) (domain.Credentials, error) {
	if awsCfg.Credentials == nil {
		return domain.Credentials{}, domain.Errorf("RetrieveCredentials", domain.ErrConfiguration, "no credentials configured")
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return domain.Credentials{}, domain.NewOpError("RetrieveCredentials", domain.ErrConfiguration, "", err)
	}
	return domain.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}, nil
}

// newControlPlane creates the Kinesis Video control-plane client.
func newControlPlane(awsCfg aws.Config, cfg *config.Config) *kinesisvideo.Client {
	return kinesisvideo.NewFromConfig(awsCfg, func(o *kinesisvideo.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
}

// newMetrics returns a metrics registry, or nil when metrics are disabled.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// dumpMetrics writes m to the configured dump path, if any.
func dumpMetrics(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) {
	if m == nil || cfg.Metrics.DumpPath == "" {
		return
	}

	var w io.Writer = os.Stderr
	if cfg.Metrics.DumpPath != "-" {
		f, err := os.Create(cfg.Metrics.DumpPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Metrics.DumpPath).Msg("failed to create metrics dump")
			return
		}
		defer f.Close()
		w = f
	}

	if err := m.Dump(w); err != nil {
		logger.Warn().Err(err).Msg("failed to dump metrics")
	}
}

// newLocker creates the configured upload lock backend and its cleanup.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func(), error) {
	switch cfg.Lock.Backend {
	case "", "none":
		return lock.NewNoOpLocker(), func() {}, nil

	case "memory":
		l := lock.NewMemoryLocker()
		return l, func() { _ = l.Close() }, nil

	case "redis":
		client := lock.NewRedisClient(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		logger.Debug().Str("addr", cfg.Redis.Addr()).Msg("using redis upload lock")
		return lock.NewRedisLocker(client), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

// openLedger opens and migrates the configured upload ledger. It returns nil
// when the ledger is disabled.
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repository.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "", repository.DriverNone:
		return nil, nil

	case repository.DriverSQLite:
		db, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            cfg.Ledger.Path,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: cfg.Ledger.ConnMaxLifetime,
			JournalMode:     cfg.Ledger.JournalMode,
			BusyTimeout:     cfg.Ledger.BusyTimeout,
			SynchronousMode: cfg.Ledger.SynchronousMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &repository.Ledger{Uploads: sqlite.NewUploadRepository(db), Database: db}, nil

	case repository.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Ledger, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &repository.Ledger{Uploads: postgres.NewUploadRepository(db), Database: db}, nil

	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}
