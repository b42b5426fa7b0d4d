package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"forge/internal/target"
	"forge/internal/version"
)

type versionInfo struct {
	Version    string
	GitCommit  string
	GitMessage string
	BuildDate  string
	Target     string
	TargetErr  string
	CacheDir   string
}

type versionOptions struct {
	format      string
	showHash    bool
	showMessage bool
	showDate    bool
	showTarget  bool
}

type versionPayload struct {
	Tool       string `json:"tool"`
	Version    string `json:"version"`
	Tagline    string `json:"tagline"`
	GitCommit  string `json:"git_commit,omitempty"`
	GitMessage string `json:"git_message,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	Target     string `json:"target,omitempty"`
	CacheDir   string `json:"cache_dir,omitempty"`
}

const versionTagline = "one compilation, many child compilations"

var (
	versionFormat      string
	versionShowHash    bool
	versionShowMessage bool
	versionShowDate    bool
	versionShowTarget  bool
	versionShowFull    bool
	versionTargetFlag  string
)

func init() {
	versionCmd.Flags().BoolVar(&versionShowHash, "hash", false, "include git commit hash")
	versionCmd.Flags().BoolVar(&versionShowMessage, "message", false, "include git commit message")
	versionCmd.Flags().BoolVar(&versionShowDate, "date", false, "include build timestamp")
	versionCmd.Flags().BoolVar(&versionShowTarget, "target-info", false, "include the resolved target triple and local cache directory")
	versionCmd.Flags().BoolVar(&versionShowFull, "full", false, "show every recorded bit of build metadata")
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
	versionCmd.Flags().StringVar(&versionTargetFlag, "target", "x86_64-linux-gnu", "target triple to resolve for --target-info (arch-os[-abi])")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show forgec build fingerprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := versionOptions{
			format:      strings.ToLower(versionFormat),
			showHash:    versionShowHash || versionShowFull,
			showMessage: versionShowMessage || versionShowFull,
			showDate:    versionShowDate || versionShowFull,
			showTarget:  versionShowTarget || versionShowFull,
		}

		switch opts.format {
		case "pretty", "json":
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}

		info := collectVersionInfo(versionTargetFlag)
		if opts.format == "json" {
			return renderVersionJSON(cmd.OutOrStdout(), info, opts)
		}

		renderVersionPretty(cmd.OutOrStdout(), info, opts)
		return nil
	},
}

// collectVersionInfo gathers link-time build stamps alongside the two
// facts a compilation driven by this binary would actually resolve
// against: the target triple builtinsrc/ccArgsFor would emit for, and
// the local cache directory a build against the current tree would
// hash artifacts into.
func collectVersionInfo(tripleStr string) versionInfo {
	v := strings.TrimSpace(version.Version)
	if v == "" {
		v = "dev"
	}

	info := versionInfo{
		Version:    v,
		GitCommit:  strings.TrimSpace(version.GitCommit),
		GitMessage: strings.TrimSpace(version.GitMessage),
		BuildDate:  strings.TrimSpace(version.BuildDate),
	}

	if ti, err := target.Parse(tripleStr); err != nil {
		info.TargetErr = err.Error()
	} else {
		info.Target = ti.Triple()
	}

	if abs, err := filepath.Abs(defaultLocalCacheDir()); err == nil {
		info.CacheDir = abs
	} else {
		info.CacheDir = defaultLocalCacheDir()
	}

	return info
}

func renderVersionPretty(out io.Writer, info versionInfo, opts versionOptions) {
	fmt.Fprintf(out, "forgec %s - %s\n", info.Version, versionTagline)
	if opts.showHash {
		fmt.Fprintf(out, "commit: %s\n", valueOrUnknown(info.GitCommit))
	}
	if opts.showMessage {
		fmt.Fprintf(out, "message: %s\n", valueOrUnknown(info.GitMessage))
	}
	if opts.showDate {
		fmt.Fprintf(out, "built:  %s\n", valueOrUnknown(info.BuildDate))
	}
	if opts.showTarget {
		if info.TargetErr != "" {
			fmt.Fprintf(out, "target: invalid (%s)\n", info.TargetErr)
		} else {
			fmt.Fprintf(out, "target: %s\n", valueOrUnknown(info.Target))
		}
		fmt.Fprintf(out, "cache:  %s\n", valueOrUnknown(info.CacheDir))
	}
	if !opts.showHash && !opts.showMessage && !opts.showDate && !opts.showTarget {
		fmt.Fprintln(out, "set --hash, --message, --date, --target-info, or --full for more build trivia")
	}
}

func renderVersionJSON(out io.Writer, info versionInfo, opts versionOptions) error {
	payload := versionPayload{
		Tool:    "forgec",
		Version: info.Version,
		Tagline: versionTagline,
	}
	if opts.showHash {
		payload.GitCommit = valueOrUnknown(info.GitCommit)
	}
	if opts.showMessage {
		payload.GitMessage = valueOrUnknown(info.GitMessage)
	}
	if opts.showDate {
		payload.BuildDate = valueOrUnknown(info.BuildDate)
	}
	if opts.showTarget {
		if info.TargetErr != "" {
			payload.Target = "invalid: " + info.TargetErr
		} else {
			payload.Target = valueOrUnknown(info.Target)
		}
		payload.CacheDir = valueOrUnknown(info.CacheDir)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
