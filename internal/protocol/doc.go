// Package protocol identifies the application protocol behind an open port from
// the raw bytes the port returned.
//
// # Architecture
//
// A Registry holds an ordered list of Detectors. Each Detector is a
// self-contained predicate over raw bytes: it knows which ports its protocol
// usually lives on, the highest confidence it can ever report, and how to score
// a response. Adding a protocol means adding a Detector to DefaultDetectors;
// the dispatch in Registry.Classify never changes.
//
// Classification evaluates the detectors whose port hints include the port
// first, then the rest. A detector still matches on an unexpected port, but its
// score is reduced by PortMismatchPenalty. The highest score wins and ties go to
// the detector declared first. Scores below the registry threshold are reported
// as unknown together with a short description of the bytes.
//
// # Supported Protocols
//
//   - SSH, HTTP, TLS
//   - FTP, SMTP, POP3, IMAP
//   - MySQL, PostgreSQL, MongoDB, Redis, Memcached
//   - DNS, NTP, SNMP
//   - VNC, RDP, Telnet
//
// # Requests
//
// Many services stay silent until spoken to. Request returns the bytes the
// probe engine sends to provoke a reply, selected by transport and port.
//
// # Security Considerations
//
// Requests are read-only greetings (a PING, an isMaster query, a startup
// message, a ClientHello). Nothing here authenticates or changes server state.
package protocol
