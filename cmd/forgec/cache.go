package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forge/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local object cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [path]",
	Short: "Remove every cached artifact under a local cache directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(_ *cobra.Command, args []string) error {
	dir := defaultLocalCacheDir()
	if len(args) > 0 && args[0] != "" {
		dir = args[0]
	}

	store, err := cache.Open(dir)
	if err != nil {
		return fmt.Errorf("forgec cache clear: open %q: %w", dir, err)
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("forgec cache clear: %w", err)
	}

	fmt.Fprintf(os.Stdout, "cleared %s\n", dir)
	return nil
}

func defaultLocalCacheDir() string {
	if manifest, ok, err := loadProjectManifest("."); err == nil && ok {
		return manifest.Root + "/.forge-cache"
	}
	return ".forge-cache"
}
