package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/portscan/internal/model"
)

// Record types of the JSON stream.
const (
	RecordHost    = "host"
	RecordSummary = "summary"
)

// JSONWriter outputs one JSON document per host followed by a summary
// document. Compact output is valid JSON Lines.
type JSONWriter struct {
	baseWriter
	opts options
}

// HostRecord wraps a host result in the JSON stream.
type HostRecord struct {
	Type    string            `json:"type"`
	Result  *model.ScanResult `json:"result"`
	Summary model.Summary     `json:"summary"`
}

// SummaryRecord closes the JSON stream.
type SummaryRecord struct {
	Type    string          `json:"type"`
	Version string          `json:"version"`
	Totals  RunTotals       `json:"totals"`
	Hosts   []model.Summary `json:"hosts"`
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...Option) *JSONWriter {
	return &JSONWriter{
		baseWriter: newBaseWriter(output),
		opts:       newOptions(opts),
	}
}

// Write outputs the host record.
func (w *JSONWriter) Write(result *model.ScanResult) (int, error) {
	return w.writeJSON(HostRecord{
		Type:    RecordHost,
		Result:  result,
		Summary: result.Summary(),
	})
}

// WriteSummary outputs the summary record.
func (w *JSONWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	hosts := make([]model.Summary, len(results))
	for i, r := range results {
		hosts[i] = r.Summary()
	}
	return w.writeJSON(SummaryRecord{
		Type:    RecordSummary,
		Version: w.opts.version,
		Totals:  Totals(results),
		Hosts:   hosts,
	})
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.opts.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.baseWriter.Write(data)
}
