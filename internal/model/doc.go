// Package model defines the data structures shared by the scanning engine.
//
// This package contains the following main types:
//   - ScanTarget: a resolved host with its ordered port set and scan type
//   - ProbeTask: one unit of work (host, port, scan type, transport, attempt)
//   - ProbeOutcome: the immutable result of executing a ProbeTask
//   - DetectionResult: the protocol verdict for raw response bytes
//   - ScanResult: the finalized per-host mapping from port to outcome and verdict
//
// The scanner, aggregator, report writers and history store all depend on these
// types, so they live in their own package to avoid import cycles. Everything that
// leaves the engine is serializable to JSON and survives a round trip unchanged.
package model
