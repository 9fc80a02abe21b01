package cmd

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mafuba8/iex-parser/internal/config"
	"github.com/mafuba8/iex-parser/internal/deep"
	"github.com/mafuba8/iex-parser/internal/pcapfile"
	"github.com/mafuba8/iex-parser/internal/pipeline"
	"github.com/mafuba8/iex-parser/internal/sink"
)

var (
	decodeOutDir string
	decodeGzip   bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <capture-file>",
	Short: "Decode one capture into per-type CSV files",
	Long: `Decode a single pcap capture of the DEEP 1.0 feed into per-type CSV
files named output-<tag>.csv.

A capture named *.gz is decompressed on the fly. Pass - to read an
uncompressed capture from stdin.

Examples:
  iex-parser decode data_feeds_20220502_20220502_IEXTP1_DEEP1.0.pcap.gz -o out/
  gunzip -d -c FILE.pcap.gz | iex-parser decode - -o out/
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := initRuntime()

		outDir := decodeOutDir
		if outDir == "" {
			outDir = cfg.Decode.OutputDir
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runDecode(ctx, cfg, args[0], outDir, decodeGzip); err != nil {
			exitWithError("decode failed", err)
		}
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeOutDir, "out-dir", "o", "",
		"output directory for the CSV files (default from configuration)")
	decodeCmd.Flags().BoolVar(&decodeGzip, "gzip", false,
		"treat the input as gzip-compressed regardless of its name")
	rootCmd.AddCommand(decodeCmd)
}

// runDecode drives one capture through the pipeline. Partial output of
// a failed run stays on disk, flushed.
func runDecode(ctx context.Context, cfg *config.Config, path, outDir string, forceGzip bool) error {
	start := time.Now()

	var in io.Reader
	if path == "-" {
		in = os.Stdin
		path = "stdin"
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	if forceGzip || strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		in = gz
	}

	rd, err := pcapfile.NewReader(in)
	if err != nil {
		return err
	}
	if lt := rd.LinkType(); lt != layers.LinkTypeEthernet {
		logrus.WithField("link_type", lt.String()).Warn("capture link type is not Ethernet, expect skipped packets")
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"input":  path,
		"output": outDir,
	}).Info("decoding capture")

	reg := sink.NewRegistry(outDir)
	p := pipeline.NewBuilder().
		WithSource(rd).
		WithRegistry(reg).
		WithBufferSize(cfg.Decode.BufferSize).
		WithProgressEvery(cfg.Decode.ProgressEvery).
		Build()

	runErr := p.Run(ctx)
	if closeErr := reg.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return runErr
	}

	summarize(p.Stats(), reg.Rows(), time.Since(start))
	return nil
}

// summarize logs the end-of-run counters, then the per-type row counts
// in the feed's documentation order.
func summarize(stats pipeline.Stats, rows map[byte]uint64, elapsed time.Duration) {
	logrus.WithFields(logrus.Fields{
		"packets":    stats.Packets,
		"segments":   stats.Segments,
		"heartbeats": stats.Heartbeats,
		"rows":       stats.Rows,
		"unknown":    stats.Unknown,
		"malformed":  stats.Malformed,
		"skipped":    stats.HeaderErrors + stats.SegmentErrors,
		"duration":   elapsed.Round(time.Millisecond).String(),
	}).Info("decode complete")

	for _, tag := range deep.Tags {
		n, ok := rows[tag]
		if !ok {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"type": deep.TypeName(tag),
			"rows": n,
		}).Info("rows written")
	}
}
