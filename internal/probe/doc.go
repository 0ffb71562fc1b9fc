// Package probe executes single port probes and turns what comes back into a
// port status.
//
// # Scan Types
//
// Each scan type is a small state machine from "probe sent" to a terminal
// status. Interpret holds the whole table:
//
//	connect:      connected -> open, refused -> closed, silence -> filtered
//	syn:          SYN-ACK -> open (answered with RST), RST -> closed,
//	              ICMP unreachable or silence -> filtered
//	fin/xmas/null: RST -> closed, ICMP unreachable -> filtered,
//	              silence -> open|filtered
//	udp:          reply -> open, ICMP port unreachable -> closed,
//	              other ICMP unreachable -> filtered, silence -> open|filtered
//
// # Raw Sockets
//
// SYN, FIN, XMAS and NULL scans share one raw TCP socket and one ICMP socket
// per Engine. Segments are built with gopacket. A single receive loop per
// socket routes replies to the waiting probe through a correlation table keyed
// by remote address, remote port and local port, and checks the
// acknowledgement number against the sequence number that was sent. Opening
// the sockets without the needed privilege fails with ErrInsufficientPrivilege.
//
// # Timeouts
//
// Unless a fixed timeout is configured, every probe asks the adaptive
// controller for its deadline and reports the measured RTT, or the expiry,
// back to it.
package probe
