package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const ruleWidth = 70

// HumanWriter outputs plain text for terminal display. Closed and filtered
// ports are counted but not listed unless WithShowClosed is set.
type HumanWriter struct {
	baseWriter
	opts  options
	title cases.Caser
}

// NewHumanWriter creates a HumanWriter that outputs to the given writer.
func NewHumanWriter(output io.Writer, opts ...Option) *HumanWriter {
	return &HumanWriter{
		baseWriter: newBaseWriter(output),
		opts:       newOptions(opts),
		title:      cases.Title(language.English),
	}
}

// Write outputs one host block.
func (w *HumanWriter) Write(result *model.ScanResult) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, result)
	if !result.HostDown {
		w.writePorts(&sb, result)
		w.writeFindings(&sb, result)
	}
	sb.WriteString("\n")

	return io.WriteString(&w.baseWriter, sb.String())
}

func (w *HumanWriter) writeHeader(sb *strings.Builder, r *model.ScanResult) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "Host:      %s\n", hostLabel(r))
	fmt.Fprintf(sb, "Scan:      %s (%d ports)\n", r.ScanType, len(r.Ports))
	fmt.Fprintf(sb, "Duration:  %s\n", r.Duration().Round(time.Millisecond))

	switch {
	case r.HostDown:
		sb.WriteString("Status:    Host down (no reply to discovery)\n")
	case r.Cancelled:
		sb.WriteString("Status:    Cancelled (partial results)\n")
	default:
		sb.WriteString("Status:    Complete\n")
	}
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
}

func (w *HumanWriter) writePorts(sb *strings.Builder, r *model.ScanResult) {
	tw := tabwriter.NewWriter(sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tSTATE\tSERVICE\tPROTOCOL\tRTT")

	listed := 0
	for _, pr := range r.Ports {
		if !visible(pr, w.opts.showClosed) {
			continue
		}
		listed++
		service := pr.Service
		if service == "" {
			service = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			portLabel(pr.Port, r.ScanType),
			stateLabel(pr.Outcome),
			service,
			protocolLabel(pr.Detection),
			rttLabel(pr.Outcome.RTT),
		)
	}
	_ = tw.Flush()

	if listed == 0 {
		sb.WriteString("  No open ports\n")
	}
	if closed, filtered := hiddenCounts(r, w.opts.showClosed); closed+filtered > 0 {
		fmt.Fprintf(sb, "Not shown: %d closed, %d filtered\n", closed, filtered)
	}
}

func (w *HumanWriter) writeFindings(sb *strings.Builder, r *model.ScanResult) {
	rows := findings(r)
	if len(rows) == 0 {
		return
	}
	sb.WriteString("\nFindings:\n")
	for _, row := range rows {
		fmt.Fprintf(sb, "  [%s] %s (%s)\n", row.finding.Severity, row.finding.Title, row.port)
		if row.finding.Value != "" {
			fmt.Fprintf(sb, "    Value: %s\n", truncateString(row.finding.Value, 80))
		}
	}
}

// WriteSummary outputs the run totals.
func (w *HumanWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	t := Totals(results)
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("SCAN SUMMARY\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Hosts:     %d (%d up, %d down, %d cancelled)\n", t.Hosts, t.Up, t.Down, t.Cancelled)
	fmt.Fprintf(&sb, "  Ports:     %d probed in %.2fs\n", t.Ports, t.Elapsed)

	counts := []struct {
		status model.Status
		n      int
	}{
		{model.StatusOpen, t.Open},
		{model.StatusOpenFiltered, t.OpenFiltered},
		{model.StatusFiltered, t.Filtered},
		{model.StatusClosed, t.Closed},
		{model.StatusError, t.Errors},
	}
	for _, c := range counts {
		label := w.title.String(c.status.String()) + ":"
		fmt.Fprintf(&sb, "  %-14s %d\n", label, c.n)
	}

	if len(t.Protocols) > 0 {
		fmt.Fprintf(&sb, "  Protocols: %s\n", strings.Join(t.Protocols, ", "))
	}
	fmt.Fprintf(&sb, "  Findings:  %d\n", t.Findings)
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "portscan %s  run %s\n", w.opts.version, t.RunID)

	return io.WriteString(&w.baseWriter, sb.String())
}
