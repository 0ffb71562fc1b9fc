package protocol

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/portscan/internal/model"
)

// Protocol names reported by the default detectors.
const (
	ProtocolSSH        = "ssh"
	ProtocolHTTP       = "http"
	ProtocolTLS        = "tls"
	ProtocolFTP        = "ftp"
	ProtocolSMTP       = "smtp"
	ProtocolPOP3       = "pop3"
	ProtocolIMAP       = "imap"
	ProtocolMySQL      = "mysql"
	ProtocolPostgreSQL = "postgresql"
	ProtocolMongoDB    = "mongodb"
	ProtocolRedis      = "redis"
	ProtocolMemcached  = "memcached"
	ProtocolDNS        = "dns"
	ProtocolNTP        = "ntp"
	ProtocolSNMP       = "snmp"
	ProtocolVNC        = "vnc"
	ProtocolRDP        = "rdp"
	ProtocolTelnet     = "telnet"
)

// PortMismatchPenalty is subtracted from a detector's score when the port is
// not one of the detector's hints.
const PortMismatchPenalty = 15

// maxEvidenceLen bounds evidence tags and finding values taken from responses.
const maxEvidenceLen = 80

// Detector recognizes one protocol from raw response bytes.
//
// Implementations must be safe for concurrent use and must not retain data.
type Detector interface {
	// Name returns the protocol name reported on a match.
	Name() string

	// Ports returns the ports the protocol is usually found on.
	Ports() []uint16

	// MaxConfidence returns the highest confidence Detect can return.
	MaxConfidence() int

	// Detect scores data. A zero Confidence means the bytes are not this
	// protocol. The port is a hint only.
	Detect(port uint16, data []byte) Match
}

// Match is a detector's verdict for one response.
type Match struct {
	// Confidence is in [0, MaxConfidence].
	Confidence int

	// Evidence is a short tag describing what matched.
	Evidence string

	// Findings are exposure observations made while parsing the response.
	Findings []model.Finding
}

// noMatch is returned by detectors that do not recognize the bytes.
var noMatch = Match{}

// signature holds the static part every detector shares.
type signature struct {
	name  string
	ports []uint16
	max   int
}

// Name returns the protocol name.
func (s signature) Name() string { return s.name }

// Ports returns a copy of the port hints.
func (s signature) Ports() []uint16 { return slices.Clone(s.ports) }

// MaxConfidence returns the highest score the detector reports.
func (s signature) MaxConfidence() int { return s.max }

// describe returns the feature tag used as evidence for unknown responses:
// length, ratio of printable bytes and Shannon entropy in bits per byte.
func describe(data []byte) string {
	return fmt.Sprintf("len=%d printable=%.2f entropy=%.2f", len(data), printableRatio(data), entropy(data))
}

func printableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	n := 0
	for _, b := range data {
		if (b >= 0x20 && b < 0x7f) || b == '\r' || b == '\n' || b == '\t' {
			n++
		}
	}
	return float64(n) / float64(len(data))
}

func entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// firstLine returns the first line of data without its terminator.
func firstLine(data []byte) string {
	s := string(data)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return s
}

// clip makes s safe to embed in evidence: invalid UTF-8 and control
// characters are replaced and the result is bounded.
func clip(s string) string {
	s = strings.ToValidUTF8(s, "?")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxEvidenceLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxEvidenceLen-3]) + "..."
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
