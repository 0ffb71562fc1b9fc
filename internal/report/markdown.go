package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/portscan/internal/model"
)

// MarkdownWriter outputs GitHub flavored Markdown with port tables, a
// status pie chart and alerts for severe findings.
type MarkdownWriter struct {
	baseWriter
	opts    options
	started bool
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...Option) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
		opts:       newOptions(opts),
	}
}

// Write outputs one host section. The first call also writes the title.
func (w *MarkdownWriter) Write(result *model.ScanResult) (int, error) {
	mark := w.n
	md := markdown.NewMarkdown(&w.baseWriter)

	if !w.started {
		w.writeTitle(md)
	}
	w.writeHost(md, result)
	if !result.HostDown {
		w.writePorts(md, result)
		w.writePieChart(md, result)
		w.writeFindings(md, result)
	}

	err := md.Build()
	return w.since(mark), err
}

func (w *MarkdownWriter) writeTitle(md *markdown.Markdown) {
	w.started = true
	md.H1("Port Scan Report")
	md.PlainText("")
}

func (w *MarkdownWriter) writeHost(md *markdown.Markdown, r *model.ScanResult) {
	md.H2(hostLabel(r))
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Address", "`" + r.Host.String() + "`"},
			{"Scan Type", r.ScanType.String()},
			{"Started", r.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", r.Duration().String()},
			{"Ports", strconv.Itoa(len(r.Ports))},
			{"Status", statusText(r)},
		},
	})
	md.PlainText("")
}

func statusText(r *model.ScanResult) string {
	switch {
	case r.HostDown:
		return "⬇️ Host down"
	case r.Cancelled:
		return "⚠️ Cancelled (partial results)"
	default:
		return "✅ Complete"
	}
}

func (w *MarkdownWriter) writePorts(md *markdown.Markdown, r *model.ScanResult) {
	md.H3("Ports")
	md.PlainText("")

	var rows [][]string
	for _, pr := range r.Ports {
		if !visible(pr, w.opts.showClosed) {
			continue
		}
		service := pr.Service
		if service == "" {
			service = "-"
		}
		rows = append(rows, []string{
			portLabel(pr.Port, r.ScanType),
			escapePipe(stateLabel(pr.Outcome)),
			service,
			protocolLabel(pr.Detection),
			escapePipe(truncateString(pr.Detection.Evidence, 40)),
			rttLabel(pr.Outcome.RTT),
		})
	}

	if len(rows) == 0 {
		md.PlainText("No open ports.")
	} else {
		md.Table(markdown.TableSet{
			Header: []string{"Port", "State", "Service", "Protocol", "Evidence", "RTT"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	if closed, filtered := hiddenCounts(r, w.opts.showClosed); closed+filtered > 0 {
		md.PlainTextf("*Not shown: %d closed, %d filtered.*", closed, filtered)
		md.PlainText("")
	}
}

// writePieChart writes a mermaid pie chart of the status distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, r *model.ScanResult) {
	s := r.Summary()
	if s.Total == 0 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Port States"),
		piechart.WithShowData(true),
	)
	counts := map[model.Status]int{
		model.StatusOpen:         s.Open,
		model.StatusOpenFiltered: s.OpenFiltered,
		model.StatusFiltered:     s.Filtered,
		model.StatusClosed:       s.Closed,
		model.StatusError:        s.Errors,
	}
	for _, st := range model.Statuses {
		if n := counts[st]; n > 0 {
			chart.LabelAndIntValue(st.String(), uint64(n))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFindings(md *markdown.Markdown, r *model.ScanResult) {
	rows := findings(r)
	top, ok := maxSeverity(rows)
	if !ok {
		return
	}

	md.H3("Findings")
	md.PlainText("")

	switch top {
	case model.SeverityCritical:
		md.Cautionf("%d finding(s), including services that accept commands without authentication.", len(rows))
	case model.SeverityHigh:
		md.Warningf("%d finding(s), including deprecated or weak protocol versions.", len(rows))
	case model.SeverityMedium:
		md.Importantf("%d finding(s), including services that should not be reachable.", len(rows))
	default:
		md.Note("Only low severity and informational findings.")
	}
	md.PlainText("")

	table := make([][]string, len(rows))
	for i, row := range rows {
		value := row.finding.Value
		if value == "" {
			value = "-"
		}
		table[i] = []string{
			row.finding.Severity.String(),
			row.finding.Title,
			row.port,
			escapePipe(truncateString(value, 50)),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Title", "Port", "Value"},
		Rows:   table,
	})
	md.PlainText("")
}

// WriteSummary outputs the run overview and the footer.
func (w *MarkdownWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	mark := w.n
	md := markdown.NewMarkdown(&w.baseWriter)
	if !w.started {
		w.writeTitle(md)
	}

	t := Totals(results)
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Run", "`" + t.RunID + "`"},
			{"Hosts", fmt.Sprintf("%d (%d up, %d down, %d cancelled)", t.Hosts, t.Up, t.Down, t.Cancelled)},
			{"Ports probed", strconv.Itoa(t.Ports)},
			{"Open", strconv.Itoa(t.Open)},
			{"Open or filtered", strconv.Itoa(t.OpenFiltered)},
			{"Filtered", strconv.Itoa(t.Filtered)},
			{"Closed", strconv.Itoa(t.Closed)},
			{"Errors", strconv.Itoa(t.Errors)},
			{"Findings", strconv.Itoa(t.Findings)},
		},
	})
	md.PlainText("")

	if len(t.Protocols) > 0 {
		md.PlainText("Detected protocols:")
		md.PlainText("")
		md.BulletList(t.Protocols...)
		md.PlainText("")
	}
	if t.Findings == 0 {
		md.Tip("No exposure findings.")
		md.PlainText("")
	}

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by portscan %s*", w.opts.version)

	err := md.Build()
	return w.since(mark), err
}

// escapePipe keeps table cells containing "|" (as in open|filtered) intact.
func escapePipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
