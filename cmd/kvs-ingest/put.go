package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/prn-tf/kvs-ingest/internal/archive"
	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/endpoint"
	"github.com/prn-tf/kvs-ingest/internal/ingest"
	"github.com/prn-tf/kvs-ingest/internal/media"
)

var putCmd = &cobra.Command{
	Use:   "put [media-file]",
	Short: "Upload a media file to the stream",
	Long: `Upload a media file (MKV, optionally gzip-compressed) to the stream.

The stream is created with the configured retention if it does not exist,
the PUT_MEDIA endpoint is resolved and the file is streamed over one signed
chunked-transfer connection. The acknowledgements are printed once the
upload completes. Uploads are not retried.

Examples:
  kvs-ingest put clip.mkv --stream camera-1
  kvs-ingest put --media clip.mkv.gz --chunk-size 100kB
  kvs-ingest put clip.mkv --bulk --list-fragments`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPut,
}

var (
	putBulk          bool
	putListFragments bool
)

func init() {
	putCmd.Flags().String("media", "", "media file to upload (env: KVS_MEDIA_PATH)")
	putCmd.Flags().String("chunk-size", "", "body chunk size, e.g. 16kB (default: 16kB)")
	putCmd.Flags().Int("retention-hours", 0, "data retention of a newly created stream (default: 24)")
	putCmd.Flags().BoolVar(&putBulk, "bulk", false, "use the bulk chunk size unless --chunk-size is set")
	putCmd.Flags().BoolVar(&putListFragments, "list-fragments", false, "list the fragments ingested during the upload")

	_ = v.BindPFlag("media.path", putCmd.Flags().Lookup("media"))
	_ = v.BindPFlag("media.chunk_size", putCmd.Flags().Lookup("chunk-size"))
	_ = v.BindPFlag("stream.retention_hours", putCmd.Flags().Lookup("retention-hours"))

	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := appFromContext(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfg

	mediaPath := cfg.Media.Path
	if len(args) > 0 {
		mediaPath = args[0]
	}
	if mediaPath == "" {
		return domain.Errorf("put", domain.ErrConfiguration, "no media file given")
	}

	chunkSize, err := cfg.Media.ChunkSizeBytes()
	if err != nil {
		return err
	}
	if putBulk && !cmd.Flags().Changed("chunk-size") {
		chunkSize = media.DefaultBulkChunkSize
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	creds, err := retrieveCredentials(ctx, awsCfg)
	if err != nil {
		return err
	}

	m := newMetrics(cfg)
	defer dumpMetrics(cfg, m, a.logger)

	locker, closeLocker, err := newLocker(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	ledger, err := openLedger(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	controlPlane := newControlPlane(awsCfg, cfg)
	resolver := endpoint.NewResolver(controlPlane, a.logger)

	opts := []ingest.Option{
		ingest.WithResolver(resolver),
		ingest.WithMetrics(m),
		ingest.WithLocker(locker),
	}
	if ledger != nil {
		opts = append(opts, ingest.WithRecorder(ledger.Uploads))
	}

	client := ingest.NewClient(ingest.Config{
		StreamName:     cfg.Stream.Name,
		Region:         cfg.AWS.Region,
		Credentials:    creds,
		RetentionHours: cfg.Stream.RetentionHours,
		UserAgent:      cfg.Transport.UserAgent,
		ChunkSize:      chunkSize,
		Transport: ingest.TransportConfig{
			ConnectTimeout:        cfg.Transport.ConnectTimeout,
			ExpectContinueTimeout: cfg.Transport.ExpectContinueTimeout,
		},
		LockTTL:         cfg.Lock.TTL,
		LockWaitRetries: cfg.Lock.WaitRetries,
		LockWaitDelay:   cfg.Lock.WaitDelay,
	}, controlPlane, a.logger, opts...)

	if err := client.Initialise(ctx); err != nil {
		return err
	}

	windowStart := time.Now()
	out, err := client.PutMedia(ctx, ingest.PutMediaInput{MediaPath: mediaPath})
	if err != nil {
		return err
	}
	windowEnd := time.Now()

	if err := a.formatter.FormatUpload(os.Stdout, out); err != nil {
		return err
	}

	if !putListFragments {
		return nil
	}

	fragments, err := archive.NewClient(resolver, archive.NewSDKListerFactory(awsCfg), m, a.logger).
		ListFragments(ctx, cfg.Stream.Name, domain.FragmentSelector{
			Type:  domain.SelectorServerTimestamp,
			Start: windowStart,
			End:   windowEnd,
		})
	if err != nil {
		if errors.Is(err, domain.ErrQuery) {
			return fmt.Errorf("upload succeeded but listing fragments failed: %w", err)
		}
		return err
	}
	return a.formatter.FormatFragments(os.Stdout, fragments)
}
