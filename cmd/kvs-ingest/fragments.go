package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/prn-tf/kvs-ingest/internal/archive"
	"github.com/prn-tf/kvs-ingest/internal/domain"
	"github.com/prn-tf/kvs-ingest/internal/endpoint"
)

var fragmentsCmd = &cobra.Command{
	Use:   "fragments",
	Short: "List the fragments stored for the stream",
	Long: `List the fragments stored for the stream within a time range.

The range applies to the server timestamp by default, or to the producer
timestamp with --producer. A range whose start is after its end matches
nothing. Fragments are ordered by the selected timestamp.

Examples:
  kvs-ingest fragments --stream camera-1
  kvs-ingest fragments --since 15m
  kvs-ingest fragments --start 2024-01-01T00:00:00Z --end 2024-01-01T01:00:00Z --producer`,
	Args: cobra.NoArgs,
	RunE: runFragments,
}

var (
	fragmentsStart    string
	fragmentsEnd      string
	fragmentsSince    time.Duration
	fragmentsProducer bool
)

func init() {
	fragmentsCmd.Flags().StringVar(&fragmentsStart, "start", "", "range start, RFC 3339 (default: end minus --since)")
	fragmentsCmd.Flags().StringVar(&fragmentsEnd, "end", "", "range end, RFC 3339 (default: now)")
	fragmentsCmd.Flags().DurationVar(&fragmentsSince, "since", time.Hour, "range length when --start is not set")
	fragmentsCmd.Flags().BoolVar(&fragmentsProducer, "producer", false, "select by producer timestamp instead of server timestamp")
	rootCmd.AddCommand(fragmentsCmd)
}

// fragmentSelector builds the selector from the command flags.
func fragmentSelector(start, end string, since time.Duration, producer bool, now time.Time) (domain.FragmentSelector, error) {
	sel := domain.FragmentSelector{Type: domain.SelectorServerTimestamp, End: now}
	if producer {
		sel.Type = domain.SelectorProducerTimestamp
	}

	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return sel, fmt.Errorf("invalid --end: %w", err)
		}
		sel.End = t
	}

	sel.Start = sel.End.Add(-since)
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return sel, fmt.Errorf("invalid --start: %w", err)
		}
		sel.Start = t
	}

	return sel, nil
}

func runFragments(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := appFromContext(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfg

	if cfg.Stream.Name == "" {
		return domain.Errorf("fragments", domain.ErrConfiguration, "stream name is required")
	}

	sel, err := fragmentSelector(fragmentsStart, fragmentsEnd, fragmentsSince, fragmentsProducer, time.Now())
	if err != nil {
		return err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}

	m := newMetrics(cfg)
	defer dumpMetrics(cfg, m, a.logger)

	resolver := endpoint.NewResolver(newControlPlane(awsCfg, cfg), a.logger)
	client := archive.NewClient(resolver, archive.NewSDKListerFactory(awsCfg), m, a.logger)

	fragments, err := client.ListFragments(ctx, cfg.Stream.Name, sel)
	if err != nil {
		return err
	}
	return a.formatter.FormatFragments(os.Stdout, fragments)
}
