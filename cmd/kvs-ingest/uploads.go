package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/repository"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Show uploads recorded in the ledger",
	Long: `Show the uploads of the stream recorded in the upload ledger, newest
first, or the upload that produced a given fragment.

Requires a ledger (--ledger sqlite or --ledger postgres).

Examples:
  kvs-ingest uploads --ledger sqlite --stream camera-1
  kvs-ingest uploads --fragment 91343852333181432392682062623211624958123556823`,
	Args: cobra.NoArgs,
	RunE: runUploads,
}

var (
	uploadsLimit    int
	uploadsFragment string
)

func init() {
	uploadsCmd.Flags().IntVarP(&uploadsLimit, "limit", "l", 20, "maximum number of uploads to show")
	uploadsCmd.Flags().StringVar(&uploadsFragment, "fragment", "", "show the upload that produced this fragment number")
	rootCmd.AddCommand(uploadsCmd)
}

func runUploads(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := appFromContext(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfg

	if cfg.Stream.Name == "" {
		return domain.Errorf("uploads", domain.ErrConfiguration, "stream name is required")
	}

	ledger, err := openLedger(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	if ledger == nil {
		return domain.Errorf("uploads", domain.ErrConfiguration, "no ledger configured")
	}
	defer ledger.Close()

	if uploadsFragment != "" {
		upload, err := ledger.Uploads.FindByFragment(ctx, cfg.Stream.Name, uploadsFragment)
		if errors.Is(err, repository.ErrNotFound) {
			return a.formatter.FormatUploads(os.Stdout, nil)
		}
		if err != nil {
			return err
		}
		return a.formatter.FormatUploads(os.Stdout, []*domain.UploadRecord{upload})
	}

	uploads, err := ledger.Uploads.ListByStream(ctx, cfg.Stream.Name, uploadsLimit)
	if err != nil {
		return err
	}
	return a.formatter.FormatUploads(os.Stdout, uploads)
}
