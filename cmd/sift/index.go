package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/index"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the metadata index",
	Long: `Commands for the metadata index that scans read from.

The index lives in $XDG_DATA_HOME/sift/index unless --index or index.path
says otherwise.`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build [root]",
	Short: "Index every file below root",
	Long: `Walk root and record every regular file with its size, modification
time and content type. Records for files that no longer exist below root
are removed. Symbolic links are not followed.

Root defaults to index.root from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndexBuild,
}

var indexWatchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Keep the index current until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndexWatch,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index location and size",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

func init() {
	indexWatchCmd.Flags().Bool("build", false, "rebuild root before watching")
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexWatchCmd)
	indexCmd.AddCommand(indexStatsCmd)
	rootCmd.AddCommand(indexCmd)
}

func indexRoot(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Index.Root
}

func openIndex() (*index.Index, func(), error) {
	store, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index %s: %w", cfg.Index.Path, err)
	}
	idx := index.New(store, index.Options{DownloadsDir: cfg.DownloadsDir})
	return idx, func() { _ = store.Close() }, nil
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	idx, closeIndex, err := openIndex()
	if err != nil {
		return err
	}
	defer closeIndex()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := indexRoot(args)
	printInfo(cmd, "Indexing %s...", root)
	res, err := idx.Build(ctx, root)
	if err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %s files (%s) below %s in %s\n",
		humanize.Comma(res.Files), humanize.IBytes(uint64(res.Bytes)), res.Root, res.Duration.Round(time.Millisecond))
	if res.Removed > 0 {
		fmt.Fprintf(out, "Removed %d stale records\n", res.Removed)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d unreadable entries\n", res.Skipped)
	}
	return nil
}

func runIndexWatch(cmd *cobra.Command, args []string) error {
	idx, closeIndex, err := openIndex()
	if err != nil {
		return err
	}
	defer closeIndex()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := indexRoot(args)
	if rebuild, _ := cmd.Flags().GetBool("build"); rebuild {
		if _, err := idx.Build(ctx, root); err != nil {
			return fmt.Errorf("index build failed: %w", err)
		}
	}

	printInfo(cmd, "Watching %s (Ctrl+C to stop)", root)
	verbose, _ := cmd.Flags().GetBool("verbose")
	err = idx.Watch(ctx, root, func(path string, op fsnotify.Op) {
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", op, path)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func runIndexStats(cmd *cobra.Command, _ []string) error {
	idx, closeIndex, err := openIndex()
	if err != nil {
		return err
	}
	defer closeIndex()

	var files, bytes int64
	err = idx.Store().Each(func(rec *index.Record) error {
		files++
		bytes += rec.Size
		return nil
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Index location: %s\n", cfg.Index.Path)
	fmt.Fprintf(out, "Files:          %s\n", humanize.Comma(files))
	fmt.Fprintf(out, "Indexed size:   %s\n", humanize.IBytes(uint64(bytes)))
	return nil
}
