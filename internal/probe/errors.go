package probe

import "errors"

var (
	// ErrInsufficientPrivilege is returned when raw sockets cannot be opened.
	// SYN, FIN, XMAS and NULL scans need root or CAP_NET_RAW.
	ErrInsufficientPrivilege = errors.New("insufficient privilege for raw socket scan (try --scan-type connect)")

	// ErrUnsupportedProxy is returned for proxy URLs x/net/proxy cannot dial through.
	ErrUnsupportedProxy = errors.New("unsupported proxy")

	// ErrEngineClosed is returned when a closed engine is asked to prepare sockets.
	ErrEngineClosed = errors.New("probe engine closed")

	// errNoSourcePort is returned when every local port for a destination is in use.
	errNoSourcePort = errors.New("no free source port")

	// errNotIPv4 is returned for raw probes against IPv6 destinations.
	errNotIPv4 = errors.New("raw scans support IPv4 destinations only")
)
