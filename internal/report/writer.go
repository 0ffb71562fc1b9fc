package report

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/nao1215/portscan/internal/model"
)

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// Format names accepted by New.
const (
	FormatHuman    = "human"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
	FormatXML      = "xml"
)

// Writer defines the interface for report output.
//
// Write is called once per finalized host, in completion order, so output
// streams while the scan runs. WriteSummary is called once at the end with
// every result of the run.
type Writer interface {
	Write(result *model.ScanResult) (int, error)
	WriteSummary(results []*model.ScanResult) (int, error)
}

// Option configures a writer.
type Option func(*options)

type options struct {
	pretty     bool
	showClosed bool
	version    string
}

// WithPretty indents JSON and XML output.
func WithPretty(pretty bool) Option {
	return func(o *options) {
		o.pretty = pretty
	}
}

// WithShowClosed includes closed and filtered ports in human and Markdown output.
func WithShowClosed(show bool) Option {
	return func(o *options) {
		o.showClosed = show
	}
}

// WithVersion sets the scanner version printed in reports.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

func newOptions(opts []Option) options {
	o := options{version: "(devel)"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the writer for format.
func New(format string, output io.Writer, opts ...Option) (Writer, error) {
	switch format {
	case FormatHuman:
		return NewHumanWriter(output, opts...), nil
	case FormatJSON:
		return NewJSONWriter(output, opts...), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output, opts...), nil
	case FormatCSV:
		return NewCSVWriter(output), nil
	case FormatXML:
		return NewXMLWriter(output, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to multiple Writers, such as a file report and a
// terminal summary.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the result to every writer and stops at the first error.
func (m *MultiWriter) Write(result *model.ScanResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(result)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteSummary outputs the run summary to every writer.
func (m *MultiWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteSummary(results)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter counts the bytes written to its destination.
type baseWriter struct {
	output io.Writer
	n      int
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

func (b *baseWriter) Write(p []byte) (int, error) {
	n, err := b.output.Write(p)
	b.n += n
	return n, err
}

// since returns the bytes written since mark.
func (b *baseWriter) since(mark int) int {
	return b.n - mark
}

// RunTotals aggregates the summaries of a run.
type RunTotals struct {
	RunID        string   `json:"run_id,omitempty"`
	Hosts        int      `json:"hosts"`
	Up           int      `json:"up"`
	Down         int      `json:"down"`
	Cancelled    int      `json:"cancelled"`
	Ports        int      `json:"ports"`
	Open         int      `json:"open"`
	Closed       int      `json:"closed"`
	Filtered     int      `json:"filtered"`
	OpenFiltered int      `json:"open_filtered"`
	Errors       int      `json:"errors"`
	Findings     int      `json:"findings"`
	Protocols    []string `json:"protocols,omitempty"`
	Elapsed      float64  `json:"elapsed_seconds"`
}

// Totals sums the per-host summaries of results.
func Totals(results []*model.ScanResult) RunTotals {
	var t RunTotals
	var first, last time.Time
	for _, r := range results {
		if t.RunID == "" {
			t.RunID = r.RunID
		}
		t.Hosts++
		switch {
		case r.HostDown:
			t.Down++
		case r.Cancelled:
			t.Cancelled++
		default:
			t.Up++
		}
		s := r.Summary()
		t.Ports += s.Total
		t.Open += s.Open
		t.Closed += s.Closed
		t.Filtered += s.Filtered
		t.OpenFiltered += s.OpenFiltered
		t.Errors += s.Errors
		t.Findings += s.Findings
		for _, p := range s.Protocols {
			if !slices.Contains(t.Protocols, p) {
				t.Protocols = append(t.Protocols, p)
			}
		}
		if first.IsZero() || r.StartedAt.Before(first) {
			first = r.StartedAt
		}
		if r.FinishedAt.After(last) {
			last = r.FinishedAt
		}
	}
	slices.Sort(t.Protocols)
	if !first.IsZero() && last.After(first) {
		t.Elapsed = last.Sub(first).Seconds()
	}
	return t
}

// visible reports whether a port row is listed in human and Markdown output.
func visible(pr model.PortResult, showClosed bool) bool {
	if showClosed {
		return true
	}
	st := pr.Outcome.Status
	return st != model.StatusClosed && st != model.StatusFiltered
}

// hiddenCounts counts the rows left out of a listing, by status.
func hiddenCounts(r *model.ScanResult, showClosed bool) (closed, filtered int) {
	for _, pr := range r.Ports {
		if visible(pr, showClosed) {
			continue
		}
		if pr.Outcome.Status == model.StatusClosed {
			closed++
		} else {
			filtered++
		}
	}
	return closed, filtered
}

func portLabel(port uint16, st model.ScanType) string {
	return strconv.Itoa(int(port)) + "/" + st.Transport().String()
}

func stateLabel(o model.ProbeOutcome) string {
	if o.Status == model.StatusError && o.ErrorKind != model.ErrorNone {
		return o.Status.String() + " (" + o.ErrorKind.String() + ")"
	}
	return o.Status.String()
}

func protocolLabel(d model.DetectionResult) string {
	if d.IsUnknown() {
		return "-"
	}
	return fmt.Sprintf("%s (%d%%)", d.Protocol, d.Confidence)
}

func rttLabel(rtt time.Duration) string {
	if rtt <= 0 {
		return "-"
	}
	return rtt.Round(10 * time.Microsecond).String()
}

func hostLabel(r *model.ScanResult) string {
	if r.Name != "" {
		return fmt.Sprintf("%s (%s)", r.Host, r.Name)
	}
	return r.Host.String()
}

func hostState(r *model.ScanResult) string {
	switch {
	case r.HostDown:
		return "down"
	case r.Cancelled:
		return "cancelled"
	default:
		return "up"
	}
}

// findingRow is one finding with the port it was observed on.
type findingRow struct {
	port    string
	finding model.Finding
}

// findings returns the findings of r, most severe first.
func findings(r *model.ScanResult) []findingRow {
	var rows []findingRow
	for _, pr := range r.Ports {
		for _, f := range pr.Detection.Findings {
			rows = append(rows, findingRow{port: portLabel(pr.Port, r.ScanType), finding: f})
		}
	}
	slices.SortStableFunc(rows, func(a, b findingRow) int {
		return int(b.finding.Severity) - int(a.finding.Severity)
	})
	return rows
}

func maxSeverity(rows []findingRow) (model.Severity, bool) {
	if len(rows) == 0 {
		return model.SeverityInfo, false
	}
	return rows[0].finding.Severity, true
}

// truncateString truncates a string to maxLen bytes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
