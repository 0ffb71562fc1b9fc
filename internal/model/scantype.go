package model

import (
	"fmt"
	"strings"
)

// ScanType selects the probing technique used for every port of a target.
type ScanType int

const (
	// ScanConnect completes a full TCP handshake through the kernel stack.
	ScanConnect ScanType = iota

	// ScanSYN sends a lone SYN and never completes the handshake.
	ScanSYN

	// ScanFIN sends a segment with only FIN set.
	ScanFIN

	// ScanXMAS sends a segment with FIN, PSH and URG set.
	ScanXMAS

	// ScanNULL sends a segment with no flags set.
	ScanNULL

	// ScanUDP sends a datagram chosen by port hint.
	ScanUDP
)

// ScanTypes lists every supported scan type in declaration order.
var ScanTypes = []ScanType{ScanConnect, ScanSYN, ScanFIN, ScanXMAS, ScanNULL, ScanUDP}

// String returns the lowercase name used on the command line.
func (s ScanType) String() string {
	switch s {
	case ScanConnect:
		return "connect"
	case ScanSYN:
		return "syn"
	case ScanFIN:
		return "fin"
	case ScanXMAS:
		return "xmas"
	case ScanNULL:
		return "null"
	case ScanUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ParseScanType converts a command line name into a ScanType.
func ParseScanType(s string) (ScanType, error) {
	for _, st := range ScanTypes {
		if strings.EqualFold(strings.TrimSpace(s), st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScanType, s)
}

// Transport reports the transport protocol the scan type probes.
func (s ScanType) Transport() Transport {
	if s == ScanUDP {
		return TransportUDP
	}
	return TransportTCP
}

// RequiresRaw reports whether the scan type needs a raw socket.
func (s ScanType) RequiresRaw() bool {
	switch s {
	case ScanSYN, ScanFIN, ScanXMAS, ScanNULL:
		return true
	default:
		return false
	}
}

// IsStealth reports whether the scan type relies on RFC 793 behavior for
// segments that do not open a connection (FIN, XMAS, NULL).
func (s ScanType) IsStealth() bool {
	return s == ScanFIN || s == ScanXMAS || s == ScanNULL
}

// MarshalText implements encoding.TextMarshaler.
func (s ScanType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ScanType) UnmarshalText(text []byte) error {
	parsed, err := ParseScanType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Transport is the layer 4 protocol of a probe.
type Transport int

const (
	// TransportTCP probes over TCP.
	TransportTCP Transport = iota
	// TransportUDP probes over UDP.
	TransportUDP
)

// String returns "tcp" or "udp".
func (t Transport) String() string {
	if t == TransportUDP {
		return "udp"
	}
	return "tcp"
}

// MarshalText implements encoding.TextMarshaler.
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Transport) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "tcp":
		*t = TransportTCP
	case "udp":
		*t = TransportUDP
	default:
		return fmt.Errorf("unknown transport %q", string(text))
	}
	return nil
}
