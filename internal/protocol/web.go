package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/net/html"
)

// httpDetector recognizes HTTP responses by their status line.
type httpDetector struct{ signature }

func newHTTPDetector() *httpDetector {
	return &httpDetector{signature{
		name:  ProtocolHTTP,
		ports: []uint16{80, 81, 443, 591, 3000, 5000, 8000, 8008, 8080, 8081, 8443, 8888, 9000},
		max:   95,
	}}
}

// Detect scores a status line of the form "HTTP/x.y NNN reason". A bare
// HTML document without a status line scores lower.
func (d *httpDetector) Detect(_ uint16, data []byte) Match {
	line := firstLine(data)
	if !strings.HasPrefix(line, "HTTP/") {
		lower := strings.ToLower(string(data[:min(len(data), 64)]))
		if strings.HasPrefix(strings.TrimSpace(lower), "<!doctype html") || strings.HasPrefix(strings.TrimSpace(lower), "<html") {
			return Match{Confidence: 60, Evidence: "html document without status line"}
		}
		return noMatch
	}

	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !validHTTPVersion(proto) {
		return noMatch
	}
	code, _, _ := strings.Cut(rest, " ")
	if len(code) != 3 || code[0] < '1' || code[0] > '5' || !isDigits(code) {
		return noMatch
	}

	head, body, _ := bytes.Cut(data, []byte("\r\n\r\n"))
	evidence := clip(line)
	if title := htmlTitle(body); title != "" {
		evidence = clip(fmt.Sprintf("%s title=%q", line, title))
	}

	return Match{
		Confidence: 95,
		Evidence:   evidence,
		Findings:   httpHeaderFindings(head),
	}
}

func validHTTPVersion(proto string) bool {
	switch proto {
	case "HTTP/1.0", "HTTP/1.1", "HTTP/2", "HTTP/2.0", "HTTP/0.9":
		return true
	default:
		return false
	}
}

func isDigits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// httpHeaderFindings reports headers that disclose server software.
func httpHeaderFindings(head []byte) []model.Finding {
	var findings []model.Finding
	for _, line := range strings.Split(string(head), "\r\n")[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "server":
			findings = append(findings, model.Finding{
				Title:    "HTTP Server Header Disclosed",
				Severity: model.SeverityInfo,
				Value:    clip(value),
			})
		case "x-powered-by":
			findings = append(findings, model.Finding{
				Title:    "X-Powered-By Header Disclosed",
				Severity: model.SeverityInfo,
				Value:    clip(value),
			})
		}
	}
	return findings
}

// htmlTitle returns the text of the first <title> element in body, if any.
func htmlTitle(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
			return ""
		}
	}
}

// TLS record content types.
const (
	tlsChangeCipherSpec = 0x14
	tlsAlert            = 0x15
	tlsHandshake        = 0x16
	tlsApplicationData  = 0x17

	tlsServerHello = 0x02

	// tlsMaxRecord is the largest legal ciphertext record length.
	tlsMaxRecord = 16384 + 2048
)

// tlsDetector recognizes a TLS record header.
type tlsDetector struct{ signature }

func newTLSDetector() *tlsDetector {
	return &tlsDetector{signature{
		name:  ProtocolTLS,
		ports: []uint16{443, 465, 636, 853, 989, 990, 993, 995, 5061, 8443},
		max:   90,
	}}
}

// Detect validates the 5 byte record header: content type, major version 3,
// a known minor version and a sane length.
func (d *tlsDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 5 {
		return noMatch
	}
	contentType := data[0]
	if contentType < tlsChangeCipherSpec || contentType > tlsApplicationData {
		return noMatch
	}
	if data[1] != 0x03 || data[2] > 0x04 {
		return noMatch
	}
	length := binary.BigEndian.Uint16(data[3:5])
	if length == 0 || length > tlsMaxRecord {
		return noMatch
	}

	switch contentType {
	case tlsHandshake:
		if len(data) >= 11 && data[5] == tlsServerHello {
			version := binary.BigEndian.Uint16(data[9:11])
			return Match{
				Confidence: 90,
				Evidence:   "server hello " + tlsVersionName(version),
				Findings:   tlsVersionFindings(version),
			}
		}
		return Match{Confidence: 85, Evidence: "handshake record " + tlsVersionName(binary.BigEndian.Uint16(data[1:3]))}
	case tlsAlert:
		if len(data) >= 7 {
			return Match{Confidence: 80, Evidence: fmt.Sprintf("alert level=%d description=%d", data[5], data[6])}
		}
		return Match{Confidence: 80, Evidence: "alert record"}
	default:
		return Match{Confidence: 60, Evidence: fmt.Sprintf("record type=0x%02x", contentType)}
	}
}

func tlsVersionName(v uint16) string {
	switch v {
	case 0x0300:
		return "SSL3.0"
	case 0x0301:
		return "TLS1.0"
	case 0x0302:
		return "TLS1.1"
	case 0x0303:
		return "TLS1.2"
	case 0x0304:
		return "TLS1.3"
	default:
		return fmt.Sprintf("0x%04x", v)
	}
}

func tlsVersionFindings(v uint16) []model.Finding {
	switch v {
	case 0x0300:
		return []model.Finding{{Title: "SSL 3.0 Negotiated", Severity: model.SeverityHigh, Value: tlsVersionName(v)}}
	case 0x0301, 0x0302:
		return []model.Finding{{Title: "Deprecated TLS Version Negotiated", Severity: model.SeverityMedium, Value: tlsVersionName(v)}}
	default:
		return nil
	}
}
