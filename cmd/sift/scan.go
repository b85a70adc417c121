package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/cmd/sift/tui"
	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/index"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/match"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/output"
	"github.com/jamesainslie/sift/pkg/sift/scanner"
	"github.com/jamesainslie/sift/pkg/sift/types"
	"github.com/jamesainslie/sift/pkg/sift/volume"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Classify indexed files into cleanup categories",
	Long: `Scan queries the metadata index for each category in turn and prints
a summary. Build the index first with "sift index build".

Categories: junk, cache, images, videos, audio, documents, downloads,
large, duplicates, temporary. Cache is read from disk directly.

Interrupt with Ctrl+C to stop early; completed categories are kept.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.BoolP("progress", "p", false, "show progress while scanning")
	f.StringP("output", "o", "pretty", "output format ("+strings.Join(output.Available(), ", ")+")")
	f.StringSliceP("category", "c", nil, "scan only these categories (repeatable)")
	f.Bool("verify", false, "confirm duplicates by content digest")
	f.Bool("files", false, "list individual files in text output")
	f.String("large-threshold", "", "size above which a file is large (e.g. 100MiB)")
	f.String("duplicate-floor", "", "size a duplicate candidate must exceed")
	f.Int("batch-size", 0, "records per batch")
	f.String("downloads", "", "downloads directory")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	if _, err := output.Get(format); err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(output.Available(), ", "))
	}
	names, _ := cmd.Flags().GetStringSlice("category")
	cats, err := parseCategories(names)
	if err != nil {
		return err
	}

	store, err := index.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("failed to open index %s: %w", cfg.Index.Path, err)
	}
	defer store.Close()
	idx := index.New(store, index.Options{DownloadsDir: cfg.DownloadsDir})

	if n, err := store.Count(); err == nil && n == 0 {
		printInfo(cmd, "The index is empty; run \"sift index build\" first.")
	}

	opts, err := scannerOptions(cfg, idx, cats)
	if err != nil {
		return err
	}
	s, err := scanner.New(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	stop := cancelOnSignal(cmd, s)
	defer stop()

	progress, _ := cmd.Flags().GetBool("progress")
	var summary *types.ScanSummary
	switch {
	case progress && isTerminal(os.Stderr):
		// The view owns the terminal until the scan returns.
		if err := initLogging(cmd, true); err != nil {
			return err
		}
		summary, err = tui.Run(ctx, s, tui.Options{Categories: opts.Categories, Output: os.Stderr})
	case progress:
		summary, err = s.ScanWithProgress(ctx, progressPrinter(cmd.ErrOrStderr(), format))
	default:
		summary, err = s.Scan(ctx)
	}
	if err != nil {
		var se *scanner.ScanError
		if errors.As(err, &se) && se.Partial != nil {
			logging.Get("cli").Warn("partial results discarded", "files", se.Partial.TotalFiles)
		}
		return fmt.Errorf("scan failed: %w", err)
	}

	files, _ := cmd.Flags().GetBool("files")
	result := &output.Result{
		Summary: summary,
		Source:  cfg.Index.Path,
		Files:   files,
	}
	if vol, err := volume.Stat(cfg.Index.Root); err == nil {
		result.Volume = &vol
	} else {
		logging.Get("cli").Debug("no volume statistics", "path", cfg.Index.Root, "err", err)
	}
	return output.Write(cmd.OutOrStdout(), format, result)
}

// cancelOnSignal cancels s on SIGINT or SIGTERM until the returned stop is called.
func cancelOnSignal(cmd *cobra.Command, s *scanner.Scanner) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
			printInfo(cmd, "\nInterrupted, stopping scan...")
			s.Cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// progressPrinter writes one line per event: JSON for the json format,
// text otherwise.
func progressPrinter(w io.Writer, format string) func(types.ProgressEvent) {
	return func(ev types.ProgressEvent) {
		if format == "json" {
			var buf bytes.Buffer
			if err := output.ProgressJSON(&buf, ev); err == nil {
				_, _ = buf.WriteTo(w)
			}
			return
		}
		if ev.Status == types.StatusScanning {
			fmt.Fprintf(w, "[%3.0f%%] %s...\n", ev.Progress, ev.Category)
			return
		}
		line := fmt.Sprintf("[%3.0f%%] %s done", ev.Progress, ev.Category)
		if ev.CategoryFiles != nil && ev.CategorySize != nil {
			line += fmt.Sprintf(": %d files, %s", *ev.CategoryFiles, types.FormatSize(*ev.CategorySize))
		}
		fmt.Fprintln(w, line)
	}
}

func parseCategories(names []string) ([]types.Category, error) {
	var cats []types.Category
	for _, name := range names {
		c, err := types.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, nil
}

// scannerOptions maps the configuration onto scanner options.
func scannerOptions(c *config.Config, src metadata.Source, cats []types.Category) (scanner.Options, error) {
	large, err := c.LargeThresholdBytes()
	if err != nil {
		return scanner.Options{}, err
	}
	floor, err := c.DuplicateFloorBytes()
	if err != nil {
		return scanner.Options{}, err
	}

	opts := scanner.DefaultOptions()
	opts.Source = src
	opts.Categories = cats
	opts.BatchSize = c.BatchSize
	opts.MaxDepth = c.MaxDepth
	opts.Pacing = c.Pacing
	opts.Verify = c.Duplicates.Verify
	opts.VerifyWorkers = c.Duplicates.Workers
	opts.Match = match.Options{
		LargeThreshold: large,
		DuplicateFloor: floor,
		CacheDirs:      c.CacheDirs,
	}
	return opts, nil
}
