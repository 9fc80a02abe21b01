package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mafuba8/iex-parser/internal/batch"
)

var batchWorkers int

var batchCmd = &cobra.Command{
	Use:   "batch <input-dir> <output-dir>",
	Short: "Decode every capture archive in a directory",
	Long: `Decode all DEEP 1.0 capture archives in a directory, in parallel.

Archives are matched by the exchange's download naming scheme
data_feeds_<date>_<date>_IEXTP1_DEEP1.0.pcap.gz and each one decodes
into <output-dir>/DEEP1.0/<date>/.

Examples:
  iex-parser batch downloads/ decoded/
  iex-parser batch downloads/ decoded/ -w 8
`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := initRuntime()

		workers := batchWorkers
		if workers == 0 {
			workers = cfg.Batch.Workers
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err := batch.Run(ctx, batch.Config{
			InputDir:      args[0],
			OutputDir:     args[1],
			Workers:       workers,
			BufferSize:    cfg.Decode.BufferSize,
			ProgressEvery: cfg.Decode.ProgressEvery,
		})
		if err != nil {
			exitWithError("batch decode failed", err)
		}
	},
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 0,
		"parallel decoders (default from configuration)")
	rootCmd.AddCommand(batchCmd)
}
