package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/nao1215/portscan/internal/model"
	"golang.org/x/net/dns/dnsmessage"
)

// dnsDetector recognizes DNS responses, bare (UDP) or length-prefixed (TCP).
type dnsDetector struct{ signature }

func newDNSDetector() *dnsDetector {
	return &dnsDetector{signature{
		name:  ProtocolDNS,
		ports: []uint16{53, 5353, 5355},
		max:   85,
	}}
}

// Detect parses the header and question section. Only responses carrying at
// least one well-formed question count.
func (d *dnsDetector) Detect(_ uint16, data []byte) Match {
	if m, ok := parseDNSResponse(data); ok {
		return m
	}
	if len(data) > 2 && int(binary.BigEndian.Uint16(data[:2])) == len(data)-2 {
		if m, ok := parseDNSResponse(data[2:]); ok {
			return m
		}
	}
	return noMatch
}

func parseDNSResponse(data []byte) (Match, bool) {
	var p dnsmessage.Parser
	h, err := p.Start(data)
	if err != nil || !h.Response || h.OpCode != 0 {
		return noMatch, false
	}
	questions, err := p.AllQuestions()
	if err != nil || len(questions) == 0 {
		return noMatch, false
	}
	answers := 0
	for {
		if _, err := p.AnswerHeader(); err != nil {
			break
		}
		if err := p.SkipAnswer(); err != nil {
			break
		}
		answers++
	}

	m := Match{
		Confidence: 85,
		Evidence:   fmt.Sprintf("response rcode=%s answers=%d", h.RCode, answers),
	}
	if h.RecursionAvailable && h.RCode == dnsmessage.RCodeSuccess {
		m.Findings = []model.Finding{{
			Title:    "DNS Server Offers Recursion",
			Severity: model.SeverityMedium,
			Value:    questions[0].Name.String(),
		}}
	}
	return m, true
}

// NTP header fields.
const (
	ntpPacketLen     = 48
	ntpModeServer    = 4
	ntpModeBroadcast = 5
	ntpMaxStratum    = 16
)

// ntpDetector recognizes NTP server replies.
type ntpDetector struct{ signature }

func newNTPDetector() *ntpDetector {
	return &ntpDetector{signature{
		name:  ProtocolNTP,
		ports: []uint16{123},
		max:   85,
	}}
}

// Detect validates the version, mode and stratum of a 48 byte packet.
func (d *ntpDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < ntpPacketLen {
		return noMatch
	}
	version := (data[0] >> 3) & 0x07
	mode := data[0] & 0x07
	stratum := data[1]
	if version < 1 || version > 4 {
		return noMatch
	}
	if mode != ntpModeServer && mode != ntpModeBroadcast {
		return noMatch
	}
	if stratum > ntpMaxStratum {
		return noMatch
	}
	return Match{
		Confidence: 85,
		Evidence:   fmt.Sprintf("NTPv%d mode=%d stratum=%d", version, mode, stratum),
	}
}

// BER tags used by SNMP messages.
const (
	berInteger     = 0x02
	berOctetString = 0x04
	berSequence    = 0x30
)

// snmpDetector recognizes SNMP messages: a BER sequence holding the version
// and, for v1/v2c, the community string.
type snmpDetector struct{ signature }

func newSNMPDetector() *snmpDetector {
	return &snmpDetector{signature{
		name:  ProtocolSNMP,
		ports: []uint16{161, 162},
		max:   85,
	}}
}

// Detect walks the outer sequence, the version integer and the community.
func (d *snmpDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 2 || data[0] != berSequence {
		return noMatch
	}
	body, _, ok := berElement(data)
	if !ok {
		return noMatch
	}
	if len(body) < 3 || body[0] != berInteger || body[1] != 1 {
		return noMatch
	}
	version := body[2]
	rest := body[3:]

	switch version {
	case 0, 1:
		if len(rest) < 2 || rest[0] != berOctetString {
			return noMatch
		}
		community, _, ok := berElement(rest)
		if !ok {
			return noMatch
		}
		name := "SNMPv1"
		if version == 1 {
			name = "SNMPv2c"
		}
		m := Match{Confidence: 85, Evidence: clip(fmt.Sprintf("%s community=%s", name, community))}
		switch string(community) {
		case "public", "private":
			m.Findings = []model.Finding{{
				Title:    "SNMP Default Community Accepted",
				Severity: model.SeverityHigh,
				Value:    string(community),
			}}
		}
		return m
	case 3:
		if len(rest) < 2 || rest[0] != berSequence {
			return noMatch
		}
		return Match{Confidence: 80, Evidence: "SNMPv3"}
	}
	return noMatch
}

// berElement decodes the tag-length-value element at the start of data and
// returns its value and the bytes after it.
func berElement(data []byte) (value, rest []byte, ok bool) {
	if len(data) < 2 {
		return nil, nil, false
	}
	length := int(data[1])
	offset := 2
	if length&0x80 != 0 {
		n := length & 0x7f
		if n == 0 || n > 3 || len(data) < 2+n {
			return nil, nil, false
		}
		length = 0
		for _, b := range data[2 : 2+n] {
			length = length<<8 | int(b)
		}
		offset += n
	}
	if offset+length > len(data) {
		return nil, nil, false
	}
	return data[offset : offset+length], data[offset+length:], true
}
