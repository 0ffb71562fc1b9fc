package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information set at build time via ldflags.
var (
	version = ""
	commit  = ""
	date    = ""
)

// buildInfo is what the version command prints.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Built     string `json:"built"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// getVersion returns the version string.
// Priority: ldflags > debug.ReadBuildInfo > "(devel)"
func getVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// vcsSetting returns a build setting recorded by the go tool, or "unknown".
func vcsSetting(key string) string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == key {
				return setting.Value
			}
		}
	}
	return "unknown"
}

// getCommit returns the short commit hash.
func getCommit() string {
	if commit != "" {
		return commit
	}
	rev := vcsSetting("vcs.revision")
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// getDate returns the build date.
func getDate() string {
	if date != "" {
		return date
	}
	return vcsSetting("vcs.time")
}

func currentBuildInfo() buildInfo {
	return buildInfo{
		Version:   getVersion(),
		Commit:    getCommit(),
		Built:     getDate(),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, build date and platform of portscan.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentBuildInfo()
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(info)
			}
			fmt.Fprintf(out, "portscan version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:   %s\n", info.Commit)
			fmt.Fprintf(out, "  built:    %s\n", info.Built)
			fmt.Fprintf(out, "  go:       %s\n", info.GoVersion)
			fmt.Fprintf(out, "  platform: %s\n", info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Print version information as JSON")
	return cmd
}
