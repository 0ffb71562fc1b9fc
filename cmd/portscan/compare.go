package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/portscan/internal/config"
	"github.com/nao1215/portscan/internal/database"
	"github.com/nao1215/portscan/internal/model"
	"github.com/spf13/cobra"
)

// Constants for exposure direction and summary messages.
const (
	exposureWorsened  = "worsened"
	exposureImproved  = "improved"
	exposureUnchanged = "unchanged"
	noOpenPorts       = "no open ports"
)

// Port change kinds.
const (
	changeOpened  = "opened"
	changeClosed  = "closed"
	changeState   = "state"
	changeService = "service"
	changeBanner  = "banner"
	changeAdded   = "added"
	changeRemoved = "removed"
)

// NewCompareCmd creates the compare command.
// This command compares scan results with historical data stored in the database.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [host]",
		Short: "Compare scan results with historical data",
		Long: `Compare displays differences between the latest and a previous scan of a host.

This command retrieves historical results from the database and shows:
- Ports that opened or closed since the previous scan
- Ports whose detected protocol or banner changed
- New and resolved exposure findings

The host may be given as an address or as the name it was scanned by.
The comparison requires at least two scans in the database for the host.
Use 'portscan scan' to perform scans and save results.

Examples:
  # Compare the latest two scans of a host
  portscan compare 192.0.2.10

  # List all scan history for a host
  portscan compare --list 192.0.2.10

  # Compare with a specific historical scan by ID
  portscan compare --with-scan-id 5 192.0.2.10

  # Compare with the first scan since a date
  portscan compare --since "2026-01-01" gw.example

  # Show how one port changed over time
  portscan compare --port 22 192.0.2.10

  # Output comparison in JSON format
  portscan compare --json 192.0.2.10

  # List all scanned hosts in the database
  portscan compare --list-hosts`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCompareCmd,
	}

	// History listing flags
	cmd.Flags().BoolP("list", "l", false,
		"List scan history for the specified host")
	cmd.Flags().BoolP("list-hosts", "L", false,
		"List all scanned hosts in the database")
	cmd.Flags().Uint16P("port", "P", 0,
		"Show the stored history of one port")

	// Comparison target flags
	cmd.Flags().Int64P("with-scan-id", "i", 0,
		"Compare with a specific scan by ID (use --list to see available IDs)")
	cmd.Flags().StringP("since", "s", "",
		"Compare with the first scan after this date (format: YYYY-MM-DD)")

	// Output format flags
	cmd.Flags().BoolP("json", "j", false,
		"Output comparison result in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output comparison result in Markdown format")

	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")

	return cmd
}

// runCompareCmd executes the compare command.
func runCompareCmd(cmd *cobra.Command, args []string) error {
	listHosts, err := cmd.Flags().GetBool("list-hosts")
	if err != nil {
		return err
	}

	// Validate arguments before opening the database so a bad call leaves
	// no database behind.
	var host string
	if !listHosts {
		if len(args) == 0 {
			return errors.New("host is required (use --list-hosts to see scanned hosts)")
		}
		host, err = normalizeHost(args[0])
		if err != nil {
			return err
		}
	}

	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return errors.New("--json and --markdown are mutually exclusive")
	}

	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	db, err := database.Open(dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if listHosts {
		return listScannedHosts(ctx, out, db)
	}

	listHistory, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}
	if listHistory {
		return listScanHistory(ctx, out, db, host)
	}

	if cmd.Flags().Changed("port") {
		port, err := cmd.Flags().GetUint16("port")
		if err != nil {
			return err
		}
		if port == 0 {
			return errors.New("port must be between 1 and 65535")
		}
		return showPortHistory(ctx, out, db, host, port)
	}

	withScanID, err := cmd.Flags().GetInt64("with-scan-id")
	if err != nil {
		return err
	}
	sinceDate, err := cmd.Flags().GetString("since")
	if err != nil {
		return err
	}

	comparison, err := runComparison(ctx, db, host, withScanID, sinceDate)
	if err != nil {
		return err
	}

	switch {
	case jsonOutput:
		return outputComparisonJSON(out, comparison)
	case markdownOutput:
		return outputComparisonMarkdown(out, comparison)
	default:
		return outputComparisonText(out, comparison)
	}
}

// normalizeHost canonicalizes an address argument and lowercases a name.
func normalizeHost(arg string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(arg))
	if host == "" {
		return "", errors.New("host must not be empty")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String(), nil
	}
	return host, nil
}

// listScannedHosts lists all hosts that have results in the database.
func listScannedHosts(ctx context.Context, out io.Writer, db *database.ScanDB) error {
	hosts, err := db.ListScannedHosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts: %w", err)
	}

	if len(hosts) == 0 {
		fmt.Fprintln(out, "No scanned hosts found in the database.")
		fmt.Fprintln(out, "\nUse 'portscan scan <target>' to scan a host.")
		return nil
	}

	fmt.Fprintf(out, "Scanned hosts (%d):\n\n", len(hosts))
	for _, host := range hosts {
		fmt.Fprintf(out, "  • %s\n", host)
	}
	fmt.Fprintln(out, "\nUse 'portscan compare --list <host>' to see scan history for a host.")
	return nil
}

// listScanHistory lists all stored results for a host.
func listScanHistory(ctx context.Context, out io.Writer, db *database.ScanDB, host string) error {
	history, err := db.GetScanHistoryWithMetadata(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to get scan history: %w", err)
	}

	if len(history) == 0 {
		fmt.Fprintf(out, "No scan history found for %s\n", host)
		fmt.Fprintln(out, "\nUse 'portscan scan' to scan this host.")
		return nil
	}

	fmt.Fprintf(out, "Scan history for %s (%d scans):\n\n", host, len(history))
	fmt.Fprintf(out, "  %-6s  %-20s  %-8s  %s\n", "ID", "Date", "Type", "Summary")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 70))

	for _, meta := range history {
		fmt.Fprintf(out, "  %-6d  %-20s  %-8s  %s\n",
			meta.ID,
			meta.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			meta.ScanType,
			formatScanSummary(meta),
		)
	}

	fmt.Fprintln(out, "\nUse 'portscan compare <host>' to compare the latest two scans.")
	fmt.Fprintln(out, "Use 'portscan compare --with-scan-id <id> <host>' to compare with a specific scan.")
	return nil
}

// formatScanSummary condenses stored metadata into one line.
func formatScanSummary(meta database.ScanMetadata) string {
	switch {
	case meta.HostDown:
		return "host down"
	case meta.Summary.Open == 0 && meta.Summary.OpenFiltered == 0:
		return noOpenPorts
	}

	parts := []string{fmt.Sprintf("open:%d", meta.Summary.Open)}
	if meta.Summary.OpenFiltered > 0 {
		parts = append(parts, fmt.Sprintf("open|filtered:%d", meta.Summary.OpenFiltered))
	}
	if meta.Summary.Findings > 0 {
		parts = append(parts, fmt.Sprintf("findings:%d", meta.Summary.Findings))
	}
	if meta.Cancelled {
		parts = append(parts, "(cancelled)")
	}
	return strings.Join(parts, " ")
}

// showPortHistory prints every stored observation of one port.
func showPortHistory(ctx context.Context, out io.Writer, db *database.ScanDB, host string, port uint16) error {
	states, err := db.GetPortHistory(ctx, host, port)
	if err != nil {
		return fmt.Errorf("failed to get port history: %w", err)
	}
	if len(states) == 0 {
		fmt.Fprintf(out, "No history found for port %d on %s\n", port, host)
		return nil
	}

	fmt.Fprintf(out, "History of port %d on %s (%d observations):\n\n", port, host, len(states))
	fmt.Fprintf(out, "  %-6s  %-20s  %-14s  %-10s  %-10s  %s\n", "ID", "Date", "State", "Protocol", "RTT", "Digest")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 80))
	for _, ps := range states {
		protocol := ps.Protocol
		if protocol == "" {
			protocol = "-"
		}
		rtt := "-"
		if ps.RTT > 0 {
			rtt = ps.RTT.Round(time.Microsecond).String()
		}
		digest := ps.Digest
		if digest == "" {
			digest = "-"
		}
		fmt.Fprintf(out, "  %-6d  %-20s  %-14s  %-10s  %-10s  %s\n",
			ps.ResultID,
			ps.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			ps.Status,
			protocol,
			rtt,
			digest,
		)
	}
	return nil
}

// runComparison selects the two results to compare and diffs them.
func runComparison(ctx context.Context, db *database.ScanDB, host string, withScanID int64, sinceDate string) (*ComparisonResult, error) {
	history, err := db.GetScanHistory(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan history: %w", err)
	}

	if len(history) == 0 {
		return nil, fmt.Errorf("no scan history found for %s", host)
	}

	if len(history) < 2 && withScanID == 0 && sinceDate == "" {
		return nil, fmt.Errorf("at least 2 scans are required for comparison (found %d)", len(history))
	}

	// The latest result is always the current one.
	current := history[0]
	var previous *model.ScanResult

	switch {
	case withScanID > 0:
		previous, err = db.GetScanResultByID(ctx, withScanID)
		if err != nil {
			return nil, fmt.Errorf("failed to get scan with ID %d: %w", withScanID, err)
		}
		if previous == nil {
			return nil, fmt.Errorf("scan with ID %d not found", withScanID)
		}
		if previous.Host != current.Host {
			return nil, fmt.Errorf("scan ID %d belongs to %s, not %s", withScanID, previous.Host, host)
		}
	case sinceDate != "":
		parsedDate, err := time.Parse("2006-01-02", sinceDate)
		if err != nil {
			return nil, fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}

		// History is newest first, so walk it backwards to find the oldest
		// result at or after the date.
		for i := len(history) - 1; i >= 0; i-- {
			if !history[i].FinishedAt.Before(parsedDate) {
				previous = history[i]
				break
			}
		}
		if previous == nil {
			return nil, fmt.Errorf("no scans found since %s", sinceDate)
		}
		if previous == current {
			return nil, fmt.Errorf("only one scan found since %s; at least 2 scans are required for comparison", sinceDate)
		}
	default:
		previous = history[1]
	}

	return compareResults(previous, current), nil
}

// ComparisonResult holds the result of comparing two scans of one host.
type ComparisonResult struct {
	// Host is the scanned address.
	Host string `json:"host"`

	// PreviousScan contains metadata about the previous scan.
	PreviousScan ScanInfo `json:"previous_scan"`

	// CurrentScan contains metadata about the current scan.
	CurrentScan ScanInfo `json:"current_scan"`

	// Changes lists the ports whose state, service or banner differ.
	Changes []PortChange `json:"changes,omitempty"`

	// NewFindings contains findings that are new in the current scan.
	NewFindings []PortFinding `json:"new_findings,omitempty"`

	// ResolvedFindings contains findings that were in the previous scan but not in current.
	ResolvedFindings []PortFinding `json:"resolved_findings,omitempty"`

	// UnchangedPorts is the number of ports compared without differences.
	UnchangedPorts int `json:"unchanged_ports"`

	// Exposure describes the overall change in exposure.
	Exposure ExposureChange `json:"exposure"`
}

// ScanInfo contains metadata about a scan for comparison display.
type ScanInfo struct {
	RunID        string    `json:"run_id"`
	ScanType     string    `json:"scan_type"`
	FinishedAt   time.Time `json:"finished_at"`
	Ports        int       `json:"ports"`
	Open         int       `json:"open"`
	OpenFiltered int       `json:"open_filtered"`
	Findings     int       `json:"findings"`
	Cancelled    bool      `json:"cancelled,omitempty"`
	HostDown     bool      `json:"host_down,omitempty"`
}

// PortChange describes how one port differs between the scans.
type PortChange struct {
	Port             uint16 `json:"port"`
	Kind             string `json:"kind"`
	PreviousState    string `json:"previous_state,omitempty"`
	CurrentState     string `json:"current_state,omitempty"`
	PreviousProtocol string `json:"previous_protocol,omitempty"`
	CurrentProtocol  string `json:"current_protocol,omitempty"`
}

// PortFinding is a finding together with the port it was observed on.
type PortFinding struct {
	Port    uint16        `json:"port"`
	Finding model.Finding `json:"finding"`
}

// ExposureChange describes the change in exposure between scans.
type ExposureChange struct {
	// Direction is "improved", "worsened", or "unchanged".
	Direction string `json:"direction"`

	OpenDelta     int `json:"open_delta"`
	FindingsDelta int `json:"findings_delta"`
}

// compareResults diffs two results of the same host.
func compareResults(previous, current *model.ScanResult) *ComparisonResult {
	result := &ComparisonResult{
		Host:         current.Host.String(),
		PreviousScan: scanInfo(previous),
		CurrentScan:  scanInfo(current),
	}

	ports := slices.Concat(previous.PortNumbers(), current.PortNumbers())
	slices.Sort(ports)
	ports = slices.Compact(ports)

	for _, port := range ports {
		prev, inPrev := previous.Port(port)
		cur, inCur := current.Port(port)
		if change, ok := diffPort(port, prev, inPrev, cur, inCur); ok {
			result.Changes = append(result.Changes, change)
		} else {
			result.UnchangedPorts++
		}
	}

	prevFindings := findingSet(previous)
	curFindings := findingSet(current)
	for _, key := range sortedKeys(curFindings) {
		if _, ok := prevFindings[key]; !ok {
			result.NewFindings = append(result.NewFindings, curFindings[key])
		}
	}
	for _, key := range sortedKeys(prevFindings) {
		if _, ok := curFindings[key]; !ok {
			result.ResolvedFindings = append(result.ResolvedFindings, prevFindings[key])
		}
	}

	result.Exposure = calculateExposureChange(previous, current)
	return result
}

func scanInfo(r *model.ScanResult) ScanInfo {
	s := r.Summary()
	return ScanInfo{
		RunID:        r.RunID,
		ScanType:     r.ScanType.String(),
		FinishedAt:   r.FinishedAt,
		Ports:        s.Total,
		Open:         s.Open,
		OpenFiltered: s.OpenFiltered,
		Findings:     s.Findings,
		Cancelled:    r.Cancelled,
		HostDown:     r.HostDown,
	}
}

// diffPort reports the change of one port, if any.
func diffPort(port uint16, prev model.PortResult, inPrev bool, cur model.PortResult, inCur bool) (PortChange, bool) {
	change := PortChange{Port: port}
	if inPrev {
		change.PreviousState = prev.Outcome.Status.String()
		change.PreviousProtocol = detectedProtocol(prev)
	}
	if inCur {
		change.CurrentState = cur.Outcome.Status.String()
		change.CurrentProtocol = detectedProtocol(cur)
	}

	prevStatus, curStatus := prev.Outcome.Status, cur.Outcome.Status
	switch {
	case !inPrev:
		change.Kind = changeAdded
	case !inCur:
		change.Kind = changeRemoved
	case prevStatus != model.StatusOpen && curStatus == model.StatusOpen:
		change.Kind = changeOpened
	case prevStatus == model.StatusOpen && curStatus != model.StatusOpen:
		change.Kind = changeClosed
	case prevStatus != curStatus:
		change.Kind = changeState
	case change.PreviousProtocol != change.CurrentProtocol:
		change.Kind = changeService
	case prev.Outcome.Digest != "" && cur.Outcome.Digest != "" && prev.Outcome.Digest != cur.Outcome.Digest:
		change.Kind = changeBanner
	default:
		return PortChange{}, false
	}
	return change, true
}

func detectedProtocol(pr model.PortResult) string {
	if pr.Detection.IsUnknown() {
		return ""
	}
	return pr.Detection.Protocol
}

// findingSet keys every finding by port, title and value.
func findingSet(r *model.ScanResult) map[string]PortFinding {
	set := make(map[string]PortFinding)
	for _, pr := range r.Ports {
		for _, f := range pr.Detection.Findings {
			key := strconv.Itoa(int(pr.Port)) + "|" + f.Title + "|" + f.Value
			set[key] = PortFinding{Port: pr.Port, Finding: f}
		}
	}
	return set
}

func sortedKeys(m map[string]PortFinding) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		fa, fb := m[a], m[b]
		if fa.Port != fb.Port {
			return int(fa.Port) - int(fb.Port)
		}
		return strings.Compare(a, b)
	})
	return keys
}

// severityWeight weighs findings so one critical outweighs many infos.
func severityWeight(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 100
	case model.SeverityHigh:
		return 50
	case model.SeverityMedium:
		return 10
	case model.SeverityLow:
		return 5
	default:
		return 1
	}
}

// exposureScore weighs open ports and findings.
func exposureScore(r *model.ScanResult) int {
	score := 0
	for _, pr := range r.Ports {
		if pr.Outcome.Status == model.StatusOpen {
			score += 10
		}
		for _, f := range pr.Detection.Findings {
			score += severityWeight(f.Severity)
		}
	}
	return score
}

// calculateExposureChange calculates the change in exposure between two scans.
func calculateExposureChange(previous, current *model.ScanResult) ExposureChange {
	ps, cs := previous.Summary(), current.Summary()
	change := ExposureChange{
		OpenDelta:     cs.Open - ps.Open,
		FindingsDelta: cs.Findings - ps.Findings,
	}

	previousScore, currentScore := exposureScore(previous), exposureScore(current)
	switch {
	case currentScore < previousScore:
		change.Direction = exposureImproved
	case currentScore > previousScore:
		change.Direction = exposureWorsened
	default:
		change.Direction = exposureUnchanged
	}
	return change
}

// outputComparisonJSON outputs the comparison result in JSON format.
func outputComparisonJSON(out io.Writer, result *ComparisonResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// outputComparisonMarkdown outputs the comparison result in Markdown format.
func outputComparisonMarkdown(out io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(out, "# Scan Comparison: %s\n\n", result.Host)

	fmt.Fprintln(out, "## Summary")
	fmt.Fprintf(out, "\n**Exposure:** %s\n\n", formatExposureDirection(result.Exposure.Direction))

	prev, cur := result.PreviousScan, result.CurrentScan
	fmt.Fprintln(out, "| Metric | Previous | Current | Change |")
	fmt.Fprintln(out, "|--------|----------|---------|--------|")
	fmt.Fprintf(out, "| Date | %s | %s | - |\n",
		prev.FinishedAt.Local().Format("2006-01-02 15:04"),
		cur.FinishedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "| Scan type | %s | %s | - |\n", prev.ScanType, cur.ScanType)
	fmt.Fprintf(out, "| Open | %d | %d | %s |\n", prev.Open, cur.Open, formatDelta(result.Exposure.OpenDelta))
	fmt.Fprintf(out, "| Open or filtered | %d | %d | %s |\n",
		prev.OpenFiltered, cur.OpenFiltered, formatDelta(cur.OpenFiltered-prev.OpenFiltered))
	fmt.Fprintf(out, "| **Findings** | **%d** | **%d** | **%s** |\n",
		prev.Findings, cur.Findings, formatDelta(result.Exposure.FindingsDelta))

	if len(result.Changes) > 0 {
		fmt.Fprintf(out, "\n## Port Changes (%d)\n\n", len(result.Changes))
		fmt.Fprintln(out, "| Port | Change | Previous | Current |")
		fmt.Fprintln(out, "|------|--------|----------|---------|")
		for _, c := range result.Changes {
			fmt.Fprintf(out, "| %d | %s | %s | %s |\n", c.Port, c.Kind,
				escapeCell(portState(c.PreviousState, c.PreviousProtocol)),
				escapeCell(portState(c.CurrentState, c.CurrentProtocol)))
		}
	}

	if len(result.NewFindings) > 0 {
		fmt.Fprintf(out, "\n## New Findings (%d)\n\n", len(result.NewFindings))
		for _, pf := range result.NewFindings {
			fmt.Fprintf(out, "- **[%s]** %s (port %d): %s\n", pf.Finding.Severity, pf.Finding.Title, pf.Port, pf.Finding.Value)
		}
	}

	if len(result.ResolvedFindings) > 0 {
		fmt.Fprintf(out, "\n## Resolved Findings (%d)\n\n", len(result.ResolvedFindings))
		for _, pf := range result.ResolvedFindings {
			fmt.Fprintf(out, "- ~~**[%s]** %s (port %d): %s~~\n", pf.Finding.Severity, pf.Finding.Title, pf.Port, pf.Finding.Value)
		}
	}

	if result.UnchangedPorts > 0 {
		fmt.Fprintf(out, "\n---\n\n*%d ports unchanged*\n", result.UnchangedPorts)
	}
	return nil
}

// outputComparisonText outputs the comparison result in human-readable text format.
func outputComparisonText(out io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(out, "Scan Comparison: %s\n", result.Host)
	fmt.Fprintln(out, strings.Repeat("=", 60))

	fmt.Fprintf(out, "\nExposure: %s\n", formatExposureDirection(result.Exposure.Direction))

	prev, cur := result.PreviousScan, result.CurrentScan
	fmt.Fprintf(out, "\nPrevious scan: %s (%s)\n", prev.FinishedAt.Local().Format("2006-01-02 15:04:05"), prev.ScanType)
	fmt.Fprintf(out, "Current scan:  %s (%s)\n", cur.FinishedAt.Local().Format("2006-01-02 15:04:05"), cur.ScanType)

	fmt.Fprintln(out, "\nSummary:")
	fmt.Fprintf(out, "  %-16s  %-10s  %-10s  %-10s\n", "Metric", "Previous", "Current", "Change")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 52))
	fmt.Fprintf(out, "  %-16s  %-10d  %-10d  %-10s\n", "Open",
		prev.Open, cur.Open, formatDelta(result.Exposure.OpenDelta))
	fmt.Fprintf(out, "  %-16s  %-10d  %-10d  %-10s\n", "Open|filtered",
		prev.OpenFiltered, cur.OpenFiltered, formatDelta(cur.OpenFiltered-prev.OpenFiltered))
	fmt.Fprintf(out, "  %-16s  %-10d  %-10d  %-10s\n", "Findings",
		prev.Findings, cur.Findings, formatDelta(result.Exposure.FindingsDelta))

	if len(result.Changes) > 0 {
		fmt.Fprintf(out, "\nPort Changes (%d):\n", len(result.Changes))
		for _, c := range result.Changes {
			fmt.Fprintf(out, "  %s %-6d %-8s %s -> %s\n", changeMarker(c.Kind), c.Port, c.Kind,
				portState(c.PreviousState, c.PreviousProtocol),
				portState(c.CurrentState, c.CurrentProtocol))
		}
	}

	if len(result.NewFindings) > 0 {
		fmt.Fprintf(out, "\nNew Findings (%d):\n", len(result.NewFindings))
		for _, pf := range result.NewFindings {
			fmt.Fprintf(out, "  [+] [%s] %s (port %d): %s\n", pf.Finding.Severity, pf.Finding.Title, pf.Port, pf.Finding.Value)
		}
	}

	if len(result.ResolvedFindings) > 0 {
		fmt.Fprintf(out, "\nResolved Findings (%d):\n", len(result.ResolvedFindings))
		for _, pf := range result.ResolvedFindings {
			fmt.Fprintf(out, "  [-] [%s] %s (port %d): %s\n", pf.Finding.Severity, pf.Finding.Title, pf.Port, pf.Finding.Value)
		}
	}

	if result.UnchangedPorts > 0 {
		fmt.Fprintf(out, "\nUnchanged: %d ports\n", result.UnchangedPorts)
	}
	return nil
}

func changeMarker(kind string) string {
	switch kind {
	case changeOpened, changeAdded:
		return "[+]"
	case changeClosed, changeRemoved:
		return "[-]"
	default:
		return "[~]"
	}
}

// portState renders a state with its protocol, e.g. "open (ssh)".
func portState(state, protocol string) string {
	if state == "" {
		return "-"
	}
	if protocol == "" {
		return state
	}
	return state + " (" + protocol + ")"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// formatExposureDirection formats the exposure change direction for display.
func formatExposureDirection(direction string) string {
	switch direction {
	case exposureImproved:
		return "IMPROVED (exposure decreased)"
	case exposureWorsened:
		return "WORSENED (exposure increased)"
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	} else if delta < 0 {
		return strconv.Itoa(delta)
	}
	return "0"
}
