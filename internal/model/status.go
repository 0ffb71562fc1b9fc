package model

import (
	"fmt"
	"strings"
)

// Status is the terminal state of a probed port.
type Status int

const (
	// StatusOpen means the port accepted the probe.
	StatusOpen Status = iota

	// StatusClosed means the host answered that nothing listens on the port.
	StatusClosed

	// StatusFiltered means a device dropped the probe or answered with an ICMP
	// unreachable, so the port state is hidden.
	StatusFiltered

	// StatusOpenFiltered means no distinguishing response arrived; the port is
	// either open or filtered.
	StatusOpenFiltered

	// StatusError means the probe could not be carried out. The ErrorKind of the
	// outcome says why.
	StatusError
)

// Statuses lists every status in report order.
var Statuses = []Status{StatusOpen, StatusOpenFiltered, StatusFiltered, StatusClosed, StatusError}

// String returns the status name used in reports.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusFiltered:
		return "filtered"
	case StatusOpenFiltered:
		return "open|filtered"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseStatus converts a report name into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ErrorKind classifies why a probe ended in StatusError.
type ErrorKind int

const (
	// ErrorNone is the kind of every non-error outcome.
	ErrorNone ErrorKind = iota

	// ErrorCancelled marks ports left unresolved when the scan was cancelled.
	ErrorCancelled

	// ErrorUnreachable means the local stack had no route to the host.
	ErrorUnreachable

	// ErrorResource means the process ran out of descriptors or buffers.
	ErrorResource

	// ErrorPermission means the kernel refused to send the probe.
	ErrorPermission

	// ErrorHostFailed marks ports skipped after the host failed repeatedly.
	ErrorHostFailed

	// ErrorIO covers any other local I/O failure.
	ErrorIO
)

var errorKindNames = map[ErrorKind]string{
	ErrorNone:        "",
	ErrorCancelled:   "cancelled",
	ErrorUnreachable: "unreachable",
	ErrorResource:    "resource",
	ErrorPermission:  "permission",
	ErrorHostFailed:  "host-failed",
	ErrorIO:          "io",
}

// String returns the kind name, or an empty string for ErrorNone.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether a probe that failed with this kind is worth another
// attempt.
func (k ErrorKind) Retryable() bool {
	return k == ErrorResource || k == ErrorIO
}

// HostLevel reports whether the kind says something about the host as a whole
// rather than about a single port.
func (k ErrorKind) HostLevel() bool {
	return k == ErrorUnreachable || k == ErrorPermission
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind, name := range errorKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownErrorKind, string(text))
}
