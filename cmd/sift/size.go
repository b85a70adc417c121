package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/scanner"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var formatSizeCmd = &cobra.Command{
	Use:   "format-size <size>",
	Short: "Render a byte count the way scan output does",
	Long: `Render a byte count with binary units and one decimal place.

The argument is a plain byte count or a size such as 1.5G.

  sift format-size 1536     # 1.5 KB
  sift format-size 2GiB     # 2.0 GB`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := types.ParseSize(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), scanner.FormatSize(n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatSizeCmd)
}
