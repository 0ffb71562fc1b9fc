package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/portscan/internal/database"
	"github.com/nao1215/portscan/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testScanResult builds a result with ssh on 22 and http on 80. With
// exposed set, 80 is open and carries findings; otherwise it is closed.
func testScanResult(host string, finished time.Time, exposed bool) *model.ScanResult {
	ssh := model.PortResult{
		Port:      22,
		Service:   "ssh",
		Outcome:   model.NewProbeOutcome(model.StatusOpen, 2*time.Millisecond, []byte("SSH-2.0-OpenSSH_9.6\r\n")),
		Detection: model.DetectionResult{Protocol: "ssh", Confidence: 95, Evidence: "banner"},
	}
	http := model.PortResult{
		Port:      80,
		Service:   "http",
		Outcome:   model.NewProbeOutcome(model.StatusClosed, time.Millisecond, nil),
		Detection: model.UnknownDetection(""),
	}
	if exposed {
		http.Outcome = model.NewProbeOutcome(model.StatusOpen, time.Millisecond, []byte("HTTP/1.0 200 OK\r\n\r\n"))
		http.Detection = model.DetectionResult{
			Protocol:   "http",
			Confidence: 90,
			Evidence:   "status line",
			Findings: []model.Finding{
				{Title: "Plain HTTP service", Severity: model.SeverityMedium, Value: "HTTP/1.0 200 OK"},
			},
		}
	}

	return &model.ScanResult{
		RunID:      model.NewRunID(),
		Host:       netip.MustParseAddr(host),
		Name:       "gw.example",
		ScanType:   model.ScanConnect,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Ports:      []model.PortResult{ssh, http},
	}
}

// setupCompareDB opens a database in a temp dir holding the given results.
func setupCompareDB(t *testing.T, results ...*model.ScanResult) (string, *database.ScanDB, []int64) {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i], err = db.SaveScanResult(context.Background(), r)
		if err != nil {
			t.Fatalf("failed to save result: %v", err)
		}
	}
	return dir, db, ids
}

// TestNewCompareCmd tests the compare command creation.
func TestNewCompareCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCompareCmd()

	if cmd.Use != "compare [host]" {
		t.Errorf("unexpected Use: got %q", cmd.Use)
	}

	flagsWithShort := map[string]string{
		"list":         "l",
		"list-hosts":   "L",
		"port":         "P",
		"with-scan-id": "i",
		"since":        "s",
		"json":         "j",
		"markdown":     "m",
	}
	for name, short := range flagsWithShort {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Errorf("expected %s flag", name)
			continue
		}
		if flag.Shorthand != short {
			t.Errorf("%s: expected shorthand %q, got %q", name, short, flag.Shorthand)
		}
	}
	if cmd.Flags().Lookup("db-dir") == nil {
		t.Error("expected db-dir flag")
	}
}

// TestNormalizeHost tests host argument normalization.
func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"ipv4", " 192.0.2.10 ", "192.0.2.10", false},
		{"mapped ipv4", "::ffff:192.0.2.10", "192.0.2.10", false},
		{"ipv6", "2001:DB8::1", "2001:db8::1", false},
		{"name", "GW.Example", "gw.example", false},
		{"empty", "  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := normalizeHost(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeHost(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeHost(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestCompareResults tests diffing two results.
func TestCompareResults(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("port opened with finding", func(t *testing.T) {
		t.Parallel()

		prev := testScanResult("192.0.2.10", base, false)
		cur := testScanResult("192.0.2.10", base.Add(time.Hour), true)

		result := compareResults(prev, cur)
		if result.Host != "192.0.2.10" {
			t.Errorf("unexpected host %q", result.Host)
		}
		if len(result.Changes) != 1 {
			t.Fatalf("expected 1 change, got %d", len(result.Changes))
		}
		c := result.Changes[0]
		if c.Port != 80 || c.Kind != changeOpened || c.PreviousState != "closed" || c.CurrentProtocol != "http" {
			t.Errorf("unexpected change: %+v", c)
		}
		if result.UnchangedPorts != 1 {
			t.Errorf("expected 1 unchanged port, got %d", result.UnchangedPorts)
		}
		if len(result.NewFindings) != 1 || result.NewFindings[0].Port != 80 {
			t.Errorf("unexpected new findings: %+v", result.NewFindings)
		}
		if len(result.ResolvedFindings) != 0 {
			t.Errorf("expected no resolved findings, got %d", len(result.ResolvedFindings))
		}
		if result.Exposure.Direction != exposureWorsened || result.Exposure.OpenDelta != 1 || result.Exposure.FindingsDelta != 1 {
			t.Errorf("unexpected exposure: %+v", result.Exposure)
		}
	})

	t.Run("port closed resolves finding", func(t *testing.T) {
		t.Parallel()

		prev := testScanResult("192.0.2.10", base, true)
		cur := testScanResult("192.0.2.10", base.Add(time.Hour), false)

		result := compareResults(prev, cur)
		if len(result.Changes) != 1 || result.Changes[0].Kind != changeClosed {
			t.Fatalf("unexpected changes: %+v", result.Changes)
		}
		if len(result.ResolvedFindings) != 1 {
			t.Errorf("expected 1 resolved finding, got %d", len(result.ResolvedFindings))
		}
		if result.Exposure.Direction != exposureImproved {
			t.Errorf("expected improved, got %s", result.Exposure.Direction)
		}
	})

	t.Run("identical scans", func(t *testing.T) {
		t.Parallel()

		prev := testScanResult("192.0.2.10", base, true)
		cur := testScanResult("192.0.2.10", base.Add(time.Hour), true)

		result := compareResults(prev, cur)
		if len(result.Changes) != 0 || result.UnchangedPorts != 2 {
			t.Errorf("expected no changes, got %+v", result.Changes)
		}
		if result.Exposure.Direction != exposureUnchanged {
			t.Errorf("expected unchanged, got %s", result.Exposure.Direction)
		}
	})

	t.Run("banner change and added port", func(t *testing.T) {
		t.Parallel()

		prev := testScanResult("192.0.2.10", base, false)
		cur := testScanResult("192.0.2.10", base.Add(time.Hour), false)
		cur.Ports[0].Outcome = model.NewProbeOutcome(model.StatusOpen, time.Millisecond, []byte("SSH-2.0-OpenSSH_9.8\r\n"))
		cur.Ports = append(cur.Ports, model.PortResult{
			Port:      443,
			Outcome:   model.NewProbeOutcome(model.StatusFiltered, 0, nil),
			Detection: model.UnknownDetection(""),
		})

		result := compareResults(prev, cur)
		if len(result.Changes) != 2 {
			t.Fatalf("expected 2 changes, got %+v", result.Changes)
		}
		if result.Changes[0].Port != 22 || result.Changes[0].Kind != changeBanner {
			t.Errorf("expected banner change on 22, got %+v", result.Changes[0])
		}
		if result.Changes[1].Port != 443 || result.Changes[1].Kind != changeAdded || result.Changes[1].PreviousState != "" {
			t.Errorf("expected added 443, got %+v", result.Changes[1])
		}
	})

	t.Run("protocol change", func(t *testing.T) {
		t.Parallel()

		prev := testScanResult("192.0.2.10", base, false)
		cur := testScanResult("192.0.2.10", base.Add(time.Hour), false)
		cur.Ports[0].Detection = model.UnknownDetection("")

		result := compareResults(prev, cur)
		if len(result.Changes) != 1 || result.Changes[0].Kind != changeService {
			t.Errorf("expected service change, got %+v", result.Changes)
		}
	})
}

// TestFormatDelta tests delta formatting.
func TestFormatDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		delta int
		want  string
	}{
		{3, "+3"},
		{-2, "-2"},
		{0, "0"},
	}
	for _, tt := range tests {
		if got := formatDelta(tt.delta); got != tt.want {
			t.Errorf("formatDelta(%d) = %q, want %q", tt.delta, got, tt.want)
		}
	}
}

// TestFormatExposureDirection tests direction labels.
func TestFormatExposureDirection(t *testing.T) {
	t.Parallel()

	if got := formatExposureDirection(exposureImproved); !strings.HasPrefix(got, "IMPROVED") {
		t.Errorf("unexpected label %q", got)
	}
	if got := formatExposureDirection(exposureWorsened); !strings.HasPrefix(got, "WORSENED") {
		t.Errorf("unexpected label %q", got)
	}
	if got := formatExposureDirection("other"); got != "UNCHANGED" {
		t.Errorf("unexpected label %q", got)
	}
}

// TestFormatScanSummary tests history summary lines.
func TestFormatScanSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta database.ScanMetadata
		want string
	}{
		{"host down", database.ScanMetadata{HostDown: true}, "host down"},
		{"nothing open", database.ScanMetadata{}, noOpenPorts},
		{
			"open with findings",
			database.ScanMetadata{Summary: model.Summary{Open: 2, Findings: 1}},
			"open:2 findings:1",
		},
		{
			"cancelled",
			database.ScanMetadata{Cancelled: true, Summary: model.Summary{Open: 1, OpenFiltered: 3}},
			"open:1 open|filtered:3 (cancelled)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatScanSummary(tt.meta); got != tt.want {
				t.Errorf("formatScanSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestComparisonOutput tests the three output formats.
func TestComparisonOutput(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result := compareResults(
		testScanResult("192.0.2.10", base, false),
		testScanResult("192.0.2.10", base.Add(time.Hour), true),
	)

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := outputComparisonText(&buf, result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{
			"Scan Comparison: 192.0.2.10",
			"WORSENED",
			"Port Changes (1)",
			"[+] 80",
			"closed -> open (http)",
			"New Findings (1)",
			"[MEDIUM] Plain HTTP service (port 80)",
			"Unchanged: 1 ports",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := outputComparisonMarkdown(&buf, result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{
			"# Scan Comparison: 192.0.2.10",
			"| Open | 1 | 2 | +1 |",
			"## Port Changes (1)",
			"| 80 | opened | closed | open (http) |",
			"## New Findings (1)",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := outputComparisonJSON(&buf, result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var decoded ComparisonResult
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.Host != "192.0.2.10" || len(decoded.Changes) != 1 || decoded.Exposure.Direction != exposureWorsened {
			t.Errorf("unexpected decoded result: %+v", decoded)
		}
		if decoded.NewFindings[0].Finding.Severity != model.SeverityMedium {
			t.Errorf("expected severity to round trip, got %s", decoded.NewFindings[0].Finding.Severity)
		}
	})
}

// TestRunComparison tests scan selection against a database.
func TestRunComparison(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := testScanResult("192.0.2.10", base, false)
	second := testScanResult("192.0.2.10", base.Add(24*time.Hour), true)
	third := testScanResult("192.0.2.10", base.Add(48*time.Hour), true)
	other := testScanResult("198.51.100.7", base, false)
	other.Name = ""
	_, db, ids := setupCompareDB(t, first, second, third, other)
	ctx := context.Background()

	t.Run("latest two", func(t *testing.T) {
		t.Parallel()

		result, err := runComparison(ctx, db, "192.0.2.10", 0, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.PreviousScan.RunID != second.RunID || result.CurrentScan.RunID != third.RunID {
			t.Error("expected the latest two scans to be compared")
		}
	})

	t.Run("by name", func(t *testing.T) {
		t.Parallel()

		result, err := runComparison(ctx, db, "gw.example", 0, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.CurrentScan.RunID != third.RunID {
			t.Error("expected lookup by name to find the host")
		}
	})

	t.Run("with scan id", func(t *testing.T) {
		t.Parallel()

		result, err := runComparison(ctx, db, "192.0.2.10", ids[0], "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.PreviousScan.RunID != first.RunID {
			t.Error("expected the chosen scan as previous")
		}
		if len(result.Changes) != 1 {
			t.Errorf("expected 1 change, got %d", len(result.Changes))
		}
	})

	t.Run("since date", func(t *testing.T) {
		t.Parallel()

		result, err := runComparison(ctx, db, "192.0.2.10", 0, "2026-03-02")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.PreviousScan.RunID != second.RunID {
			t.Error("expected the first scan since the date as previous")
		}
	})

	errorTests := []struct {
		name   string
		host   string
		scanID int64
		since  string
		want   string
	}{
		{"unknown host", "203.0.113.1", 0, "", "no scan history"},
		{"single scan", "198.51.100.7", 0, "", "at least 2 scans"},
		{"missing scan id", "192.0.2.10", 999, "", "not found"},
		{"scan id of other host", "192.0.2.10", ids[3], "", "belongs to"},
		{"bad date", "192.0.2.10", 0, "03/01/2026", "invalid date format"},
		{"date after every scan", "192.0.2.10", 0, "2027-01-01", "no scans found since"},
		{"only latest since date", "192.0.2.10", 0, "2026-03-03", "only one scan"},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := runComparison(ctx, db, tt.host, tt.scanID, tt.since)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

// TestRunCompareCmd tests the command against a database directory.
func TestRunCompareCmd(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir, _, _ := setupCompareDB(t,
		testScanResult("192.0.2.10", base, false),
		testScanResult("192.0.2.10", base.Add(time.Hour), true),
	)

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()

		var buf bytes.Buffer
		cmd := NewCompareCmd()
		cmd.SetOut(&buf)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append([]string{"--db-dir", dir}, args...))
		err := cmd.Execute()
		return buf.String(), err
	}

	// Subtests share one database file and run sequentially.

	t.Run("requires host", func(t *testing.T) {
		_, err := run(t)
		if err == nil || !strings.Contains(err.Error(), "host is required") {
			t.Errorf("expected host required error, got %v", err)
		}
	})

	t.Run("rejects two formats", func(t *testing.T) {
		_, err := run(t, "--json", "--markdown", "192.0.2.10")
		if err == nil {
			t.Error("expected error for --json with --markdown")
		}
	})

	t.Run("list hosts", func(t *testing.T) {
		out, err := run(t, "--list-hosts")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "Scanned hosts (1)") || !strings.Contains(out, "192.0.2.10") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("list history", func(t *testing.T) {
		out, err := run(t, "--list", "192.0.2.10")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "(2 scans)") || !strings.Contains(out, "open:2 findings:1") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("list history of unknown host", func(t *testing.T) {
		out, err := run(t, "--list", "203.0.113.1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "No scan history found") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("port history", func(t *testing.T) {
		out, err := run(t, "--port", "80", "gw.example")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "History of port 80") || !strings.Contains(out, "(2 observations)") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if strings.Index(out, "open") > strings.Index(out, "closed") {
			t.Errorf("expected newest observation first:\n%s", out)
		}
	})

	t.Run("json comparison", func(t *testing.T) {
		out, err := run(t, "-j", "192.0.2.10")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var result ComparisonResult
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, out)
		}
		if result.Exposure.Direction != exposureWorsened {
			t.Errorf("expected worsened, got %s", result.Exposure.Direction)
		}
	})
}
