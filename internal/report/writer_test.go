package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/portscan/internal/model"
)

// createTestResult creates a host result with one port in every state.
func createTestResult() *model.ScanResult {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	open := model.NewProbeOutcome(model.StatusOpen, 3*time.Millisecond, []byte("SSH-2.0-OpenSSH_9.6\r\n"))

	return &model.ScanResult{
		RunID:      "run-1",
		Host:       netip.MustParseAddr("192.0.2.10"),
		Name:       "gw.example",
		ScanType:   model.ScanSYN,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Ports: []model.PortResult{
			{
				Port:    22,
				Service: "ssh",
				Outcome: open,
				Detection: model.DetectionResult{
					Protocol:   "ssh",
					Confidence: 95,
					Evidence:   "banner SSH-2.0",
					Findings: []model.Finding{
						{Title: "SSH version banner", Severity: model.SeverityInfo, Value: "OpenSSH_9.6"},
						{Title: "Redis without authentication", Severity: model.SeverityCritical},
					},
				},
			},
			{Port: 23, Service: "telnet", Outcome: model.NewProbeOutcome(model.StatusClosed, time.Millisecond, nil), Detection: model.UnknownDetection("")},
			{Port: 25, Service: "smtp", Outcome: model.NewProbeOutcome(model.StatusFiltered, 0, nil), Detection: model.UnknownDetection("")},
			{Port: 161, Outcome: model.NewProbeOutcome(model.StatusOpenFiltered, 0, nil), Detection: model.UnknownDetection("")},
			{Port: 8080, Outcome: model.NewErrorOutcome(model.ErrorResource), Detection: model.UnknownDetection("")},
		},
	}
}

func createDownResult() *model.ScanResult {
	r := createTestResult()
	r.Host = netip.MustParseAddr("192.0.2.11")
	r.Name = ""
	r.HostDown = true
	for i := range r.Ports {
		r.Ports[i].Outcome = model.NewProbeOutcome(model.StatusFiltered, 0, nil).WithAttempts(0)
		r.Ports[i].Detection = model.UnknownDetection("")
	}
	return r
}

// TestNew tests the format factory.
func TestNew(t *testing.T) {
	t.Parallel()

	for _, format := range []string{FormatHuman, FormatJSON, FormatMarkdown, FormatCSV, FormatXML} {
		if w, err := New(format, &bytes.Buffer{}); err != nil || w == nil {
			t.Errorf("%s: unexpected error: %v", format, err)
		}
	}
	if _, err := New("yaml", &bytes.Buffer{}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

// TestHumanWriter tests the terminal writer.
func TestHumanWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes host header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewHumanWriter(&buf).Write(createTestResult())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("expected %d bytes reported, got %d", buf.Len(), n)
		}
		output := buf.String()
		for _, want := range []string{"192.0.2.10 (gw.example)", "syn (5 ports)", "Status:    Complete"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output:\n%s", want, output)
			}
		}
	})

	t.Run("hides closed and filtered by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHumanWriter(&buf).Write(createTestResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if strings.Contains(output, "23/tcp") || strings.Contains(output, "25/tcp") {
			t.Errorf("expected closed and filtered rows hidden:\n%s", output)
		}
		for _, want := range []string{"22/tcp", "ssh (95%)", "161/tcp", "error (resource)", "Not shown: 1 closed, 1 filtered"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output:\n%s", want, output)
			}
		}
	})

	t.Run("show closed lists every port", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHumanWriter(&buf, WithShowClosed(true)).Write(createTestResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "23/tcp") || !strings.Contains(output, "25/tcp") {
			t.Errorf("expected closed and filtered rows:\n%s", output)
		}
		if strings.Contains(output, "Not shown") {
			t.Errorf("expected no hidden count:\n%s", output)
		}
	})

	t.Run("findings are sorted by severity", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHumanWriter(&buf).Write(createTestResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		critical := strings.Index(output, "[CRITICAL]")
		info := strings.Index(output, "[INFO]")
		if critical < 0 || info < 0 || critical > info {
			t.Errorf("expected critical before info:\n%s", output)
		}
	})

	t.Run("down host has no port table", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHumanWriter(&buf).Write(createDownResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "Host down") || strings.Contains(output, "PORT") {
			t.Errorf("unexpected down host output:\n%s", output)
		}
	})

	t.Run("summary counts the run", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		results := []*model.ScanResult{createTestResult(), createDownResult()}
		if _, err := NewHumanWriter(&buf, WithVersion("v1.2.3")).WriteSummary(results); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"SCAN SUMMARY", "2 (1 up, 1 down, 0 cancelled)", "Protocols: ssh", "v1.2.3", "run-1"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected %q in output:\n%s", want, output)
			}
		}
	})
}

// TestJSONWriter tests the JSON stream writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("compact output is json lines", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewJSONWriter(&buf)
		if _, err := w.Write(createTestResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := w.WriteSummary([]*model.ScanResult{createTestResult()}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(lines))
		}

		var host HostRecord
		if err := json.Unmarshal([]byte(lines[0]), &host); err != nil {
			t.Fatalf("invalid host record: %v", err)
		}
		if host.Type != RecordHost || host.Result.Host.String() != "192.0.2.10" || host.Summary.Open != 1 {
			t.Errorf("unexpected host record: %+v", host)
		}
		if got, _ := host.Result.Port(22); string(got.Outcome.Response) != "SSH-2.0-OpenSSH_9.6\r\n" {
			t.Errorf("expected response to round trip, got %q", got.Outcome.Response)
		}

		var summary SummaryRecord
		if err := json.Unmarshal([]byte(lines[1]), &summary); err != nil {
			t.Fatalf("invalid summary record: %v", err)
		}
		if summary.Type != RecordSummary || summary.Totals.Hosts != 1 || len(summary.Hosts) != 1 {
			t.Errorf("unexpected summary record: %+v", summary)
		}
	})

	t.Run("pretty print indents", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPretty(true)).Write(createTestResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"type\": \"host\"") {
			t.Errorf("expected indented output, got:\n%s", buf.String())
		}
	})
}

// TestMarkdownWriter tests the Markdown writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	write := func(t *testing.T, opts ...Option) string {
		t.Helper()

		var buf bytes.Buffer
		w := NewMarkdownWriter(&buf, opts...)
		if _, err := w.Write(createTestResult()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := w.WriteSummary([]*model.ScanResult{createTestResult()}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return buf.String()
	}

	t.Run("writes title once", func(t *testing.T) {
		t.Parallel()

		output := write(t)
		if strings.Count(output, "# Port Scan Report") != 1 {
			t.Errorf("expected one title:\n%s", output)
		}
		if !strings.Contains(output, "## 192.0.2.10 (gw.example)") {
			t.Errorf("expected host heading:\n%s", output)
		}
	})

	t.Run("includes pie chart", func(t *testing.T) {
		t.Parallel()

		output := write(t)
		if !strings.Contains(output, "```mermaid") || !strings.Contains(output, "Port States") {
			t.Errorf("expected mermaid pie chart:\n%s", output)
		}
	})

	t.Run("critical finding raises caution alert", func(t *testing.T) {
		t.Parallel()

		output := write(t)
		if !strings.Contains(output, "[!CAUTION]") {
			t.Errorf("expected caution alert:\n%s", output)
		}
	})

	t.Run("hides closed rows by default", func(t *testing.T) {
		t.Parallel()

		output := write(t)
		if strings.Contains(output, "23/tcp") {
			t.Errorf("expected closed row hidden:\n%s", output)
		}
		if !strings.Contains(output, "Not shown: 1 closed, 1 filtered") {
			t.Errorf("expected hidden count:\n%s", output)
		}
		if !strings.Contains(output, `open\|filtered`) {
			t.Errorf("expected escaped open|filtered cell:\n%s", output)
		}
	})

	t.Run("show closed lists every port", func(t *testing.T) {
		t.Parallel()

		output := write(t, WithShowClosed(true))
		if !strings.Contains(output, "23/tcp") {
			t.Errorf("expected closed row:\n%s", output)
		}
	})

	t.Run("writes summary and footer", func(t *testing.T) {
		t.Parallel()

		output := write(t, WithVersion("v9"))
		if !strings.Contains(output, "## Summary") || !strings.Contains(output, "portscan v9") {
			t.Errorf("expected summary and footer:\n%s", output)
		}
	})
}

// TestCSVWriter tests the CSV writer.
func TestCSVWriter(t *testing.T) {
	t.Parallel()

	t.Run("one row per port after a single header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewCSVWriter(&buf)
		for _, r := range []*model.ScanResult{createTestResult(), createDownResult()} {
			if _, err := w.Write(r); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if n, err := w.WriteSummary(nil); err != nil || n != 0 {
			t.Fatalf("expected empty summary, got %d %v", n, err)
		}

		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid csv: %v", err)
		}
		if len(records) != 11 {
			t.Fatalf("expected header and 10 rows, got %d", len(records))
		}
		first := records[1]
		if first[1] != "192.0.2.10" || first[4] != "22" || first[7] != "open" || first[11] != "ssh" || first[15] != "2" {
			t.Errorf("unexpected first row: %v", first)
		}
		if records[5][8] != "resource" {
			t.Errorf("expected error kind column, got %v", records[5])
		}
	})

	t.Run("empty run still has a header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewCSVWriter(&buf).WriteSummary(nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(buf.String(), "run_id,host,") {
			t.Errorf("expected header, got %q", buf.String())
		}
	})
}

// TestXMLWriter tests the XML writer.
func TestXMLWriter(t *testing.T) {
	t.Parallel()

	t.Run("produces one well formed document", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewXMLWriter(&buf, WithPretty(true), WithVersion("v1"))
		results := []*model.ScanResult{createTestResult(), createDownResult()}
		for _, r := range results {
			if _, err := w.Write(r); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if _, err := w.WriteSummary(results); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var doc struct {
			XMLName xml.Name  `xml:"portscanrun"`
			Version string    `xml:"version,attr"`
			Hosts   []xmlHost `xml:"host"`
			Stats   struct {
				Hosts xmlHosts `xml:"hosts"`
			} `xml:"runstats"`
		}
		if err := xml.Unmarshal(buf.Bytes(), &doc); err != nil {
			t.Fatalf("invalid xml: %v\n%s", err, buf.String())
		}
		if doc.Version != "v1" || len(doc.Hosts) != 2 {
			t.Fatalf("unexpected document: %+v", doc)
		}
		h := doc.Hosts[0]
		if h.Address.Addr != "192.0.2.10" || h.ScanInfo.Type != "syn" || len(h.Ports) != 5 {
			t.Errorf("unexpected host: %+v", h)
		}
		if h.Ports[0].Service == nil || h.Ports[0].Service.Protocol != "ssh" || h.Ports[0].Service.Method != "probed" {
			t.Errorf("unexpected service: %+v", h.Ports[0].Service)
		}
		if h.Ports[4].State.Reason != "resource" {
			t.Errorf("expected error reason, got %+v", h.Ports[4].State)
		}
		if doc.Hosts[1].Status.State != "down" {
			t.Errorf("expected down host, got %q", doc.Hosts[1].Status.State)
		}
		if doc.Stats.Hosts.Total != 2 || doc.Stats.Hosts.Down != 1 {
			t.Errorf("unexpected runstats: %+v", doc.Stats.Hosts)
		}
	})

	t.Run("summary alone closes an empty document", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewXMLWriter(&buf).WriteSummary(nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var doc struct {
			XMLName xml.Name `xml:"portscanrun"`
		}
		if err := xml.Unmarshal(buf.Bytes(), &doc); err != nil {
			t.Errorf("invalid xml: %v\n%s", err, buf.String())
		}
	})
}

// TestMultiWriter tests fan out to several writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var human, js bytes.Buffer
	m := NewMultiWriter(NewHumanWriter(&human), NewJSONWriter(&js))

	n, err := m.Write(createTestResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != human.Len()+js.Len() {
		t.Errorf("expected %d bytes, got %d", human.Len()+js.Len(), n)
	}
	if _, err := m.WriteSummary([]*model.ScanResult{createTestResult()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(human.String(), "SCAN SUMMARY") || !strings.Contains(js.String(), `"type":"summary"`) {
		t.Error("expected both writers to receive the summary")
	}
}

// TestTotals tests run aggregation.
func TestTotals(t *testing.T) {
	t.Parallel()

	cancelled := createTestResult()
	cancelled.Cancelled = true
	cancelled.FinishedAt = cancelled.StartedAt.Add(4 * time.Second)

	got := Totals([]*model.ScanResult{createTestResult(), createDownResult(), cancelled})
	if got.Hosts != 3 || got.Up != 1 || got.Down != 1 || got.Cancelled != 1 {
		t.Errorf("unexpected host counts: %+v", got)
	}
	if got.Ports != 15 || got.Open != 2 || got.Filtered != 7 || got.Errors != 2 {
		t.Errorf("unexpected port counts: %+v", got)
	}
	if got.Elapsed != 4 {
		t.Errorf("expected 4s elapsed, got %v", got.Elapsed)
	}
}
