package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/logging"
)

var (
	cfgFile string

	// settings and cfg are populated before any subcommand runs.
	settings *viper.Viper
	cfg      *config.Config

	rootCmd = &cobra.Command{
		Use:   "sift",
		Short: "Classify files into cleanup categories",
		Long: `Sift sorts the files on this machine into ten cleanup categories
(junk, cache, images, videos, audio, documents, downloads, large,
duplicates, temporary) using a local metadata index.

Examples:
  sift index build ~          # Index your home directory
  sift scan                   # Summarize every category
  sift scan -c large -c junk  # Only some categories
  sift scan --progress        # Live progress while scanning
  sift scan -o json --files   # Machine-readable output with file lists
  sift config init            # Write a default config file`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.Close()
		},
	}
)

// flagKeys maps command-line flags to configuration keys. Flags a command
// does not define are ignored.
var flagKeys = map[string]string{
	"index":           "index.path",
	"verify":          "duplicates.verify",
	"large-threshold": "large_threshold",
	"duplicate-floor": "duplicate_floor",
	"batch-size":      "batch_size",
	"downloads":       "downloads_dir",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/sift/config.yaml)")
	rootCmd.PersistentFlags().String("index", "", "index directory (default: $XDG_DATA_HOME/sift/index)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "no log output on stderr")
}

// setup loads the configuration and starts logging.
func setup(cmd *cobra.Command, _ []string) error {
	settings = config.New(cfgFile)
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := settings.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	var err error
	if cfg, err = config.Read(settings); err != nil {
		return err
	}
	return initLogging(cmd, false)
}

// initLogging starts logging from cfg. quiet turns console output off, for
// views that own the terminal.
func initLogging(cmd *cobra.Command, quiet bool) error {
	opts := cfg.LoggingOptions()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts.ConsoleLevel = "debug"
	}
	if q, _ := cmd.Flags().GetBool("quiet"); q || quiet {
		opts.Quiet = true
	}
	if err := logging.Init(opts); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printInfo(cmd *cobra.Command, format string, args ...any) {
	if q, _ := cmd.Flags().GetBool("quiet"); q {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
