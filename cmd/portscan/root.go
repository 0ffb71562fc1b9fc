package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for portscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portscan",
		Short: "Network port scanner with adaptive timeouts and protocol detection",
		Long: `portscan probes hosts for open ports and identifies the services behind them.

It supports connect, SYN, FIN, XMAS, NULL and UDP scans, adapts probe
timeouts to the latency it observes and keeps a history of results so
scans of the same host can be compared over time.

The connect and udp scans run unprivileged. The raw TCP scans need root
or CAP_NET_RAW.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewCompareCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
