package model

import (
	"net/netip"
	"slices"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a fresh identifier shared by every host result of one scan run.
func NewRunID() string {
	return uuid.NewString()
}

// PortResult pairs the outcome for one requested port with its protocol verdict.
type PortResult struct {
	Port      uint16          `json:"port"`
	Service   string          `json:"service,omitempty"`
	Outcome   ProbeOutcome    `json:"outcome"`
	Detection DetectionResult `json:"detection"`
}

// ScanResult is the finalized result for one host. Ports holds exactly one entry
// per requested port, in request order.
type ScanResult struct {
	RunID      string       `json:"run_id"`
	Host       netip.Addr   `json:"host"`
	Name       string       `json:"name,omitempty"`
	ScanType   ScanType     `json:"scan_type"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Cancelled  bool         `json:"cancelled,omitempty"`
	HostDown   bool         `json:"host_down,omitempty"`
	Ports      []PortResult `json:"ports"`
}

// Port returns the result for port p.
func (r *ScanResult) Port(p uint16) (PortResult, bool) {
	for _, pr := range r.Ports {
		if pr.Port == p {
			return pr, true
		}
	}
	return PortResult{}, false
}

// PortNumbers returns the port numbers in request order.
func (r *ScanResult) PortNumbers() []uint16 {
	out := make([]uint16, len(r.Ports))
	for i, pr := range r.Ports {
		out[i] = pr.Port
	}
	return out
}

// Duration returns how long the host took to scan.
func (r *ScanResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary condenses a ScanResult for reports and the history store.
type Summary struct {
	Host         string   `json:"host"`
	Total        int      `json:"total"`
	Open         int      `json:"open"`
	Closed       int      `json:"closed"`
	Filtered     int      `json:"filtered"`
	OpenFiltered int      `json:"open_filtered"`
	Errors       int      `json:"errors"`
	OpenPorts    []uint16 `json:"open_ports,omitempty"`
	Protocols    []string `json:"protocols,omitempty"`
	Findings     int      `json:"findings"`
}

// Summary counts statuses, open ports and distinct detected protocols.
func (r *ScanResult) Summary() Summary {
	s := Summary{Host: r.Host.String(), Total: len(r.Ports)}
	for _, pr := range r.Ports {
		switch pr.Outcome.Status {
		case StatusOpen:
			s.Open++
			s.OpenPorts = append(s.OpenPorts, pr.Port)
		case StatusClosed:
			s.Closed++
		case StatusFiltered:
			s.Filtered++
		case StatusOpenFiltered:
			s.OpenFiltered++
		case StatusError:
			s.Errors++
		}
		if !pr.Detection.IsUnknown() && !slices.Contains(s.Protocols, pr.Detection.Protocol) {
			s.Protocols = append(s.Protocols, pr.Detection.Protocol)
		}
		s.Findings += len(pr.Detection.Findings)
	}
	slices.Sort(s.OpenPorts)
	slices.Sort(s.Protocols)
	return s
}
