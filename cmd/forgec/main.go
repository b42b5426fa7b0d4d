// Package main implements the forgec CLI, the thin command surface
// over the internal/driver compilation core.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"forge/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "forgec",
	Short: "forge compilation driver",
	Long:  `forgec drives the multi-language compilation core: job scheduling, content-addressed caching, and CRT/runtime sub-compilation.`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
