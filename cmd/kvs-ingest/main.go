// Package main is the entry point of the kvs-ingest command.
// kvs-ingest streams local media into Kinesis Video Streams with a signed
// chunked PutMedia upload and lists the fragments it produced.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prn-tf/kvs-ingest/internal/config"
	"github.com/prn-tf/kvs-ingest/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// v holds the configuration layers; flags bound to it win over the
// environment and the config file.
var v = viper.New()

var rootCmd = &cobra.Command{
	Version: Version,
	Use:     "kvs-ingest",
	Short:   "Stream media into Kinesis Video Streams",
	Long: `kvs-ingest uploads local media to a Kinesis Video stream over a single
signed, chunked PutMedia connection, prints the fragment acknowledgements
and queries the fragments stored for the stream.

Configuration is read from ./kvs-ingest.yaml, KVS_* environment variables
(AWS_* and STREAM_NAME are honoured as fallbacks) and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadFrom(v, configPath)
		if err != nil {
			return err
		}

		logger, err := logging.Init(cfg.Logging)
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		cmd.SetContext(withApp(cmd.Context(), &app{
			cfg:       cfg,
			logger:    logger,
			formatter: newFormatter(jsonOutput),
		}))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file path (default: ./kvs-ingest.yaml)")
	pf.String("stream", "", "stream name (env: KVS_STREAM_NAME, STREAM_NAME)")
	pf.String("region", "", "AWS region (env: KVS_AWS_REGION, AWS_REGION)")
	pf.String("endpoint-url", "", "control-plane endpoint override (env: KVS_AWS_ENDPOINT)")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error (default: info)")
	pf.String("log-format", "", "log format: console, json (default: console)")
	pf.String("metrics-dump", "", "write metrics in text format to this file at exit, - for stderr")
	pf.String("lock", "", "upload lock backend: none, memory, redis (default: memory)")
	pf.String("ledger", "", "upload ledger driver: none, sqlite, postgres (default: none)")
	pf.Bool("json", false, "print results as JSON")

	_ = v.BindPFlag("stream.name", pf.Lookup("stream"))
	_ = v.BindPFlag("aws.region", pf.Lookup("region"))
	_ = v.BindPFlag("aws.endpoint", pf.Lookup("endpoint-url"))
	_ = v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", pf.Lookup("log-format"))
	_ = v.BindPFlag("metrics.dump_path", pf.Lookup("metrics-dump"))
	_ = v.BindPFlag("lock.backend", pf.Lookup("lock"))
	_ = v.BindPFlag("ledger.driver", pf.Lookup("ledger"))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
