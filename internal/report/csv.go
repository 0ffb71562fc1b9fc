package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/nao1215/portscan/internal/model"
)

// csvHeader names the columns of CSV output.
var csvHeader = []string{
	"run_id", "host", "name", "scan_type", "port", "transport", "service",
	"status", "error_kind", "rtt_ms", "attempts", "protocol", "confidence",
	"evidence", "digest", "findings",
}

// CSVWriter outputs one row per probed port, every status included.
// WriteSummary writes nothing: the rows are the whole report.
type CSVWriter struct {
	baseWriter
	headerDone bool
}

// NewCSVWriter creates a CSVWriter that outputs to the given writer.
func NewCSVWriter(output io.Writer) *CSVWriter {
	return &CSVWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the rows of one host, preceded by the header on first use.
func (w *CSVWriter) Write(result *model.ScanResult) (int, error) {
	mark := w.n
	cw := csv.NewWriter(&w.baseWriter)

	if !w.headerDone {
		if err := cw.Write(csvHeader); err != nil {
			return w.since(mark), err
		}
		w.headerDone = true
	}

	for _, pr := range result.Ports {
		o := pr.Outcome
		rtt := ""
		if o.RTT > 0 {
			rtt = strconv.FormatFloat(float64(o.RTT.Microseconds())/1000, 'f', 3, 64)
		}
		if err := cw.Write([]string{
			result.RunID,
			result.Host.String(),
			result.Name,
			result.ScanType.String(),
			strconv.Itoa(int(pr.Port)),
			result.ScanType.Transport().String(),
			pr.Service,
			o.Status.String(),
			o.ErrorKind.String(),
			rtt,
			strconv.Itoa(o.Attempts),
			pr.Detection.Protocol,
			strconv.Itoa(pr.Detection.Confidence),
			pr.Detection.Evidence,
			o.Digest,
			strconv.Itoa(len(pr.Detection.Findings)),
		}); err != nil {
			return w.since(mark), err
		}
	}

	cw.Flush()
	return w.since(mark), cw.Error()
}

// WriteSummary writes the header if no host was written, so an empty run
// still yields a valid file.
func (w *CSVWriter) WriteSummary(_ []*model.ScanResult) (int, error) {
	if w.headerDone {
		return 0, nil
	}
	mark := w.n
	cw := csv.NewWriter(&w.baseWriter)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	w.headerDone = true
	cw.Flush()
	return w.since(mark), cw.Error()
}
