package model

import (
	"fmt"
	"strings"
)

// Severity ranks how much an exposure observed on an open port matters.
type Severity int

const (
	// SeverityInfo marks observations with no direct impact, such as a version banner.
	SeverityInfo Severity = iota

	// SeverityLow marks minor disclosures, such as an operating system hint.
	SeverityLow

	// SeverityMedium marks services that should not normally be reachable,
	// such as a database listening on a public address.
	SeverityMedium

	// SeverityHigh marks deprecated or weak protocol versions.
	SeverityHigh

	// SeverityCritical marks services that accept commands without authentication.
	SeverityCritical
)

// String returns a human-readable representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for _, sev := range []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if strings.EqualFold(string(text), sev.String()) {
			*s = sev
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownSeverity, string(text))
}

// Finding is an exposure observation attached to a detection.
type Finding struct {
	// Title is a short description of the observation.
	Title string `json:"title"`

	// Severity ranks the observation.
	Severity Severity `json:"severity"`

	// Value holds the concrete evidence, such as the banner text.
	Value string `json:"value,omitempty"`
}
