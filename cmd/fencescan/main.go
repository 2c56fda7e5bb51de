// Command fencescan statically scans a source tree for tenant-scoped table
// access that bypasses the guarded query path. It is meant to run in CI:
// it exits nonzero when it finds unguarded access not yet recorded in the
// baseline file, and stays silent when the tree is clean.
//
// Setting FENCESCAN_WRITE_BASELINE=1 switches to baseline-write mode: the
// current violation set is accepted as known debt and the command exits zero.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/fieldline/fence/internal/scanner"
)

func main() {
	var (
		root     = pflag.String("root", ".", "root of the source tree to scan")
		schema   = pflag.String("schema", "migrations", "directory of .sql files defining tenant-scoped tables, relative to root")
		baseline = pflag.String("baseline", ".fence-baseline.json", "baseline file of accepted violations, relative to root")
		window   = pflag.Int("window", 6, "lines of context searched for guard tokens around a table reference")
	)
	pflag.Parse()

	cfg := scanner.Config{
		Root:         *root,
		SchemaDir:    *schema,
		BaselinePath: *baseline,
		Window:       *window,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	os.Exit(run(cfg, os.Getenv("FENCESCAN_WRITE_BASELINE") == "1", os.Stdout, logger))
}

// run performs one scan and returns the process exit code. A clean scan
// writes nothing to stdout: CI consumers treat any output as a finding.
func run(cfg scanner.Config, writeBaseline bool, stdout io.Writer, logger *slog.Logger) int {
	s, err := scanner.New(cfg, logger)
	if err != nil {
		logger.Error("scanner init failed", "error", err)
		return 2
	}

	result, err := s.Scan()
	if err != nil {
		logger.Error("scan failed", "error", err)
		return 2
	}

	if writeBaseline {
		rel := cfg.BaselinePath
		if rel == "" {
			rel = ".fence-baseline.json"
		}
		path := filepath.Join(cfg.Root, rel)
		if err := scanner.WriteBaseline(path, result.All); err != nil {
			logger.Error("baseline write failed", "error", err)
			return 2
		}
		fmt.Fprintf(stdout, "baseline written: %s (%d entries)\n", path, len(result.All))
		return 0
	}

	if len(result.New) > 0 {
		fmt.Fprint(stdout, scanner.FormatReport(result.New))
		return 1
	}
	return 0
}
