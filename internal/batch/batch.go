// Package batch decodes a directory of downloaded capture archives in
// parallel. Archives follow the exchange's download naming scheme
// data_feeds_<date>_<date>_IEXTP1_DEEP1.0.pcap.gz; each one decodes
// into <output>/DEEP1.0/<date>/.
package batch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mafuba8/iex-parser/internal/pcapfile"
	"github.com/mafuba8/iex-parser/internal/pipeline"
	"github.com/mafuba8/iex-parser/internal/sink"
)

// captureName matches the feed download file names; the first group is
// the trading date the archive covers.
var captureName = regexp.MustCompile(`^data_feeds_(\d{8})_(\d{8})_IEXTP1_DEEP1\.0\.pcap\.gz$`)

// Config contains batch run configuration.
type Config struct {
	InputDir      string
	OutputDir     string
	Workers       int    // parallel decoders, defaults to 4
	BufferSize    int    // per-pipeline packet channel buffer size
	ProgressEvery uint64 // per-pipeline progress log interval
}

type job struct {
	path   string
	outDir string
}

// Run decodes every matching archive under cfg.InputDir. Individual
// archive failures are logged and counted but do not stop the other
// workers; Run reports them in one error at the end.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	jobs, err := scan(cfg.InputDir, cfg.OutputDir)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		logrus.WithField("dir", cfg.InputDir).Warn("no capture archives matched")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"archives": len(jobs),
		"workers":  cfg.Workers,
	}).Info("batch decode starting")

	jobCh := make(chan job)
	var wg sync.WaitGroup
	var failed atomic.Uint64

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				err := parseOne(ctx, j, cfg)
				switch {
				case err == nil:
				case errors.Is(err, context.Canceled):
					// The caller reports the interruption once.
				default:
					failed.Add(1)
					logrus.WithFields(logrus.Fields{
						"file":  filepath.Base(j.path),
						"error": err,
					}).Error("capture decode failed")
				}
			}
		}()
	}

feed:
	for _, j := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case jobCh <- j:
		}
	}
	close(jobCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d captures failed", n, len(jobs))
	}
	return nil
}

// scan lists the archives under inputDir that carry the feed's naming
// scheme, pairing each with its dated output directory.
func scan(inputDir, outputDir string) ([]job, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var jobs []job
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := captureName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		jobs = append(jobs, job{
			path:   filepath.Join(inputDir, e.Name()),
			outDir: filepath.Join(outputDir, "DEEP1.0", m[1]),
		})
	}
	return jobs, nil
}

// parseOne decodes a single archive into its output directory.
func parseOne(ctx context.Context, j job, cfg Config) error {
	start := time.Now()

	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(j.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	rd, err := pcapfile.NewReader(gz)
	if err != nil {
		return err
	}

	reg := sink.NewRegistry(j.outDir)
	p := pipeline.NewBuilder().
		WithSource(rd).
		WithRegistry(reg).
		WithBufferSize(cfg.BufferSize).
		WithProgressEvery(cfg.ProgressEvery).
		Build()

	runErr := p.Run(ctx)
	if closeErr := reg.Close(); runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return runErr
	}

	stats := p.Stats()
	logrus.WithFields(logrus.Fields{
		"file":     filepath.Base(j.path),
		"packets":  stats.Packets,
		"rows":     stats.Rows,
		"duration": time.Since(start).Round(time.Second).String(),
	}).Info("parsed capture")
	return nil
}
