package model

import "errors"

var (
	// ErrInvalidHost is returned when a scan target has no valid address.
	ErrInvalidHost = errors.New("invalid host: address is not valid")

	// ErrNoPorts is returned when a scan target has an empty port set.
	ErrNoPorts = errors.New("no ports: a target needs at least one port")

	// ErrInvalidPort is returned for port 0.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrUnknownScanType is returned when parsing an unsupported scan type name.
	ErrUnknownScanType = errors.New("unknown scan type: use connect, syn, fin, xmas, null or udp")

	// ErrUnknownStatus is returned when parsing an unsupported port status name.
	ErrUnknownStatus = errors.New("unknown port status")

	// ErrUnknownErrorKind is returned when parsing an unsupported error kind name.
	ErrUnknownErrorKind = errors.New("unknown error kind")

	// ErrUnknownSeverity is returned when parsing an unsupported severity name.
	ErrUnknownSeverity = errors.New("unknown severity")
)
