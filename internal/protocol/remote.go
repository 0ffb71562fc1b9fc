package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/nao1215/portscan/internal/model"
)

// vncDetector recognizes the RFB ProtocolVersion message, "RFB xxx.yyy\n".
type vncDetector struct{ signature }

func newVNCDetector() *vncDetector {
	return &vncDetector{signature{
		name:  ProtocolVNC,
		ports: []uint16{5900, 5901, 5902, 5903},
		max:   95,
	}}
}

// Detect checks the fixed 12 byte layout.
func (d *vncDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 12 || string(data[:4]) != "RFB " || data[7] != '.' || data[11] != '\n' {
		return noMatch
	}
	if !isDigits(string(data[4:7])) || !isDigits(string(data[8:11])) {
		return noMatch
	}
	version := string(data[:11])
	return Match{
		Confidence: 95,
		Evidence:   version,
		Findings: []model.Finding{{
			Title:    "Remote Desktop (VNC) Exposed",
			Severity: model.SeverityMedium,
			Value:    version,
		}},
	}
}

// RDP negotiation constants (MS-RDPBCGR 2.2.1.2).
const (
	tpktVersion        = 0x03
	x224ConnectConfirm = 0xd0
	rdpNegResponse     = 0x02
	rdpNegFailure      = 0x03
	rdpProtocolRDP     = 0x00000000
)

// rdpDetector recognizes a TPKT framed X.224 Connection Confirm.
type rdpDetector struct{ signature }

func newRDPDetector() *rdpDetector {
	return &rdpDetector{signature{
		name:  ProtocolRDP,
		ports: []uint16{3389},
		max:   90,
	}}
}

// Detect validates the TPKT header, the X.224 length indicator and the
// Connection Confirm code, then reads the negotiation response if present.
func (d *rdpDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 11 || data[0] != tpktVersion || data[1] != 0 {
		return noMatch
	}
	tpktLen := int(binary.BigEndian.Uint16(data[2:4]))
	if tpktLen < 11 || tpktLen > len(data) {
		return noMatch
	}
	if int(data[4]) != tpktLen-5 || data[5]&0xf0 != x224ConnectConfirm {
		return noMatch
	}

	m := Match{Confidence: 90, Evidence: "x224 connection confirm"}
	if tpktLen >= 19 {
		switch data[11] {
		case rdpNegResponse:
			selected := binary.LittleEndian.Uint32(data[15:19])
			m.Evidence = fmt.Sprintf("negotiation response protocol=0x%x", selected)
			if selected == rdpProtocolRDP {
				m.Findings = []model.Finding{{
					Title:    "RDP Without Network Level Authentication",
					Severity: model.SeverityMedium,
					Value:    "standard RDP security selected",
				}}
			}
		case rdpNegFailure:
			m.Evidence = fmt.Sprintf("negotiation failure code=%d", binary.LittleEndian.Uint32(data[15:19]))
		}
	}
	return m
}

// Telnet option negotiation bytes.
const (
	telnetIAC  = 0xff
	telnetWILL = 0xfb
	telnetDONT = 0xfe
)

// telnetDetector recognizes a server opening with IAC option negotiation.
type telnetDetector struct{ signature }

func newTelnetDetector() *telnetDetector {
	return &telnetDetector{signature{
		name:  ProtocolTelnet,
		ports: []uint16{23, 2323},
		max:   85,
	}}
}

// Detect checks for IAC followed by WILL, WONT, DO or DONT.
func (d *telnetDetector) Detect(_ uint16, data []byte) Match {
	if len(data) < 3 || data[0] != telnetIAC || data[1] < telnetWILL || data[1] > telnetDONT {
		return noMatch
	}
	return Match{
		Confidence: 85,
		Evidence:   fmt.Sprintf("option negotiation 0x%02x 0x%02x", data[1], data[2]),
		Findings: []model.Finding{{
			Title:    "Cleartext Telnet Service",
			Severity: model.SeverityHigh,
		}},
	}
}
