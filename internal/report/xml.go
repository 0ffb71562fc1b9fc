package report

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/nao1215/portscan/internal/model"
)

// XMLWriter outputs a single document with nmap-like element names. The
// root element opens on the first Write and closes in WriteSummary.
type XMLWriter struct {
	baseWriter
	opts   options
	enc    *xml.Encoder
	opened bool
}

type xmlHost struct {
	XMLName   xml.Name     `xml:"host"`
	StartTime int64        `xml:"starttime,attr"`
	EndTime   int64        `xml:"endtime,attr"`
	Status    xmlStatus    `xml:"status"`
	Address   xmlAddress   `xml:"address"`
	Hostnames []xmlName    `xml:"hostnames>hostname,omitempty"`
	ScanInfo  xmlScanInfo  `xml:"scaninfo"`
	Ports     []xmlPort    `xml:"ports>port"`
	Findings  []xmlFinding `xml:"findings>finding,omitempty"`
}

type xmlStatus struct {
	State string `xml:"state,attr"`
}

type xmlAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type xmlName struct {
	Name string `xml:"name,attr"`
}

type xmlScanInfo struct {
	Type     string `xml:"type,attr"`
	Protocol string `xml:"protocol,attr"`
	RunID    string `xml:"run_id,attr"`
}

type xmlPort struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   uint16      `xml:"portid,attr"`
	State    xmlState    `xml:"state"`
	Service  *xmlService `xml:"service,omitempty"`
}

type xmlState struct {
	State    string `xml:"state,attr"`
	Reason   string `xml:"reason,attr,omitempty"`
	RTT      string `xml:"rtt_ms,attr,omitempty"`
	Attempts int    `xml:"attempts,attr"`
	Digest   string `xml:"digest,attr,omitempty"`
}

type xmlService struct {
	Name     string `xml:"name,attr,omitempty"`
	Protocol string `xml:"protocol,attr,omitempty"`
	Method   string `xml:"method,attr"`
	Conf     int    `xml:"conf,attr,omitempty"`
	Evidence string `xml:"evidence,attr,omitempty"`
}

type xmlFinding struct {
	Severity string `xml:"severity,attr"`
	Port     string `xml:"port,attr"`
	Title    string `xml:"title,attr"`
	Value    string `xml:",chardata"`
}

type xmlRunStats struct {
	XMLName  xml.Name    `xml:"runstats"`
	Finished xmlFinished `xml:"finished"`
	Hosts    xmlHosts    `xml:"hosts"`
	Ports    xmlPorts    `xml:"ports"`
}

type xmlFinished struct {
	Elapsed string `xml:"elapsed,attr"`
}

type xmlHosts struct {
	Up        int `xml:"up,attr"`
	Down      int `xml:"down,attr"`
	Cancelled int `xml:"cancelled,attr"`
	Total     int `xml:"total,attr"`
}

type xmlPorts struct {
	Total        int `xml:"total,attr"`
	Open         int `xml:"open,attr"`
	OpenFiltered int `xml:"open_filtered,attr"`
	Filtered     int `xml:"filtered,attr"`
	Closed       int `xml:"closed,attr"`
	Errors       int `xml:"errors,attr"`
}

// NewXMLWriter creates an XMLWriter that outputs to the given writer.
func NewXMLWriter(output io.Writer, opts ...Option) *XMLWriter {
	w := &XMLWriter{
		baseWriter: newBaseWriter(output),
		opts:       newOptions(opts),
	}
	w.enc = xml.NewEncoder(&w.baseWriter)
	if w.opts.pretty {
		w.enc.Indent("", "  ")
	}
	return w
}

func (w *XMLWriter) open() error {
	if w.opened {
		return nil
	}
	w.opened = true
	if _, err := io.WriteString(&w.baseWriter, xml.Header); err != nil {
		return err
	}
	return w.enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "portscanrun"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "scanner"}, Value: "portscan"},
			{Name: xml.Name{Local: "version"}, Value: w.opts.version},
		},
	})
}

// Write outputs one host element.
func (w *XMLWriter) Write(result *model.ScanResult) (int, error) {
	mark := w.n
	if err := w.open(); err != nil {
		return w.since(mark), err
	}
	if err := w.enc.Encode(toXMLHost(result)); err != nil {
		return w.since(mark), err
	}
	err := w.enc.Flush()
	return w.since(mark), err
}

// WriteSummary outputs the run statistics and closes the document.
func (w *XMLWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	mark := w.n
	if err := w.open(); err != nil {
		return w.since(mark), err
	}

	t := Totals(results)
	stats := xmlRunStats{
		Finished: xmlFinished{Elapsed: strconv.FormatFloat(t.Elapsed, 'f', 2, 64)},
		Hosts:    xmlHosts{Up: t.Up, Down: t.Down, Cancelled: t.Cancelled, Total: t.Hosts},
		Ports: xmlPorts{
			Total:        t.Ports,
			Open:         t.Open,
			OpenFiltered: t.OpenFiltered,
			Filtered:     t.Filtered,
			Closed:       t.Closed,
			Errors:       t.Errors,
		},
	}
	if err := w.enc.Encode(stats); err != nil {
		return w.since(mark), err
	}
	if err := w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "portscanrun"}}); err != nil {
		return w.since(mark), err
	}
	if err := w.enc.Flush(); err != nil {
		return w.since(mark), err
	}
	_, err := io.WriteString(&w.baseWriter, "\n")
	return w.since(mark), err
}

func toXMLHost(r *model.ScanResult) xmlHost {
	addrType := "ipv4"
	if r.Host.Is6() {
		addrType = "ipv6"
	}
	transport := r.ScanType.Transport().String()

	h := xmlHost{
		StartTime: r.StartedAt.Unix(),
		EndTime:   r.FinishedAt.Unix(),
		Status:    xmlStatus{State: hostState(r)},
		Address:   xmlAddress{Addr: r.Host.String(), AddrType: addrType},
		ScanInfo:  xmlScanInfo{Type: r.ScanType.String(), Protocol: transport, RunID: r.RunID},
		Ports:     make([]xmlPort, len(r.Ports)),
	}
	if r.Name != "" {
		h.Hostnames = []xmlName{{Name: r.Name}}
	}

	for i, pr := range r.Ports {
		o := pr.Outcome
		p := xmlPort{
			Protocol: transport,
			PortID:   pr.Port,
			State: xmlState{
				State:    o.Status.String(),
				Reason:   o.ErrorKind.String(),
				RTT:      xmlRTT(o),
				Attempts: o.Attempts,
				Digest:   o.Digest,
			},
		}
		if pr.Service != "" || !pr.Detection.IsUnknown() {
			svc := &xmlService{Name: pr.Service, Method: "table"}
			if !pr.Detection.IsUnknown() {
				svc.Protocol = pr.Detection.Protocol
				svc.Method = "probed"
				svc.Conf = pr.Detection.Confidence
				svc.Evidence = pr.Detection.Evidence
			}
			p.Service = svc
		}
		h.Ports[i] = p
	}

	for _, row := range findings(r) {
		h.Findings = append(h.Findings, xmlFinding{
			Severity: row.finding.Severity.String(),
			Port:     row.port,
			Title:    row.finding.Title,
			Value:    row.finding.Value,
		})
	}
	return h
}

func xmlRTT(o model.ProbeOutcome) string {
	if o.RTT <= 0 {
		return ""
	}
	return strconv.FormatFloat(float64(o.RTT.Microseconds())/1000, 'f', 3, 64)
}
