// Package main provides the entry point for the portscan CLI.
//
// portscan probes hosts for open ports with connect, raw TCP and UDP scans,
// adapts its timeouts to observed latency and identifies the protocol
// spoken on each open port.
//
// Usage:
//
//	portscan scan <target>...
//	portscan compare <host>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
