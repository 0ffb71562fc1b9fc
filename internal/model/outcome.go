package model

import (
	"encoding/hex"
	"slices"
	"time"

	"golang.org/x/crypto/sha3"
)

// ProbeOutcome is the result of executing one ProbeTask. It is never modified
// after construction.
type ProbeOutcome struct {
	// Status is the terminal port state.
	Status Status `json:"status"`

	// ErrorKind is set only when Status is StatusError.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// RTT is the measured round trip time. Zero when no response arrived.
	RTT time.Duration `json:"rtt_ns"`

	// Response holds the raw application bytes received, nil if none.
	Response []byte `json:"response,omitempty"`

	// Digest is the truncated SHA3-256 of Response, used to compare banners
	// across scans without storing them twice.
	Digest string `json:"digest,omitempty"`

	// Attempts is the number of probe attempts it took to reach this outcome.
	Attempts int `json:"attempts"`

	// Timestamp is when the outcome was produced, in UTC.
	Timestamp time.Time `json:"timestamp"`
}

// NewProbeOutcome builds an outcome stamped with the current time. The response
// slice is copied; an empty response is stored as nil.
func NewProbeOutcome(status Status, rtt time.Duration, response []byte) ProbeOutcome {
	o := ProbeOutcome{
		Status:    status,
		RTT:       rtt,
		Attempts:  1,
		Timestamp: time.Now().UTC(),
	}
	if len(response) > 0 {
		o.Response = slices.Clone(response)
		o.Digest = ResponseDigest(response)
	}
	return o
}

// NewErrorOutcome builds a StatusError outcome of the given kind.
func NewErrorOutcome(kind ErrorKind) ProbeOutcome {
	return ProbeOutcome{
		Status:    StatusError,
		ErrorKind: kind,
		Attempts:  1,
		Timestamp: time.Now().UTC(),
	}
}

// WithAttempts returns a copy of the outcome recording the number of attempts.
func (o ProbeOutcome) WithAttempts(n int) ProbeOutcome {
	o.Attempts = n
	return o
}

// Responded reports whether any application bytes were received.
func (o ProbeOutcome) Responded() bool {
	return len(o.Response) > 0
}

// ResponseDigest returns the first 16 bytes of the SHA3-256 of data, hex encoded.
func ResponseDigest(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// ProtocolUnknown is the protocol name reported when no detector is confident enough.
const ProtocolUnknown = "unknown"

// DetectionResult is the protocol verdict for the bytes a port returned.
type DetectionResult struct {
	// Protocol is the detected protocol name, or ProtocolUnknown.
	Protocol string `json:"protocol"`

	// Confidence is the winning detector's score in [0,100].
	Confidence int `json:"confidence"`

	// Evidence is a short tag describing what matched.
	Evidence string `json:"evidence,omitempty"`

	// Findings are exposure observations made by the winning detector.
	Findings []Finding `json:"findings,omitempty"`
}

// UnknownDetection returns the verdict for bytes no detector claimed.
func UnknownDetection(evidence string) DetectionResult {
	return DetectionResult{Protocol: ProtocolUnknown, Evidence: evidence}
}

// IsUnknown reports whether no protocol was identified.
func (d DetectionResult) IsUnknown() bool {
	return d.Protocol == "" || d.Protocol == ProtocolUnknown
}
