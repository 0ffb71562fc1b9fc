// Package aggregate collects probe outcomes into per-host scan results.
//
// The Aggregator is the single writer of every in-progress ScanResult. A host
// is opened with Begin, receives one Record per requested port and is
// finalized exactly once: either when its last port becomes terminal, or when
// it is abandoned (cancellation, host failure, host down), in which case its
// unresolved ports receive a synthetic outcome.
//
// Finalized results are streamed on Results in completion order. Close
// abandons anything still open as cancelled and closes the stream.
package aggregate
