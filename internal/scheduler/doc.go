// Package scheduler drives scan targets through the probe engine.
//
// Admission happens at two levels. An errgroup limited to MaxHosts decides
// which hosts are active; inside a host a weighted semaphore keeps at most
// MaxPortsPerHost probes in flight. Every probe attempt, retries included,
// takes a token from the shared rate limiter right before it is emitted.
//
// An attempt that gets no answer, or fails for a transient local reason, is
// retried with a doubled deadline until the attempt limit is reached. The
// limiter paces emissions only; backoff never touches it.
//
// A host that keeps failing locally (no route, permission denied) is marked
// failed after HostFailureThreshold consecutive failures and its remaining
// ports resolve to Error(host-failed) without being probed.
//
// When the scan context is cancelled the scheduler stops dispatching at once.
// Probes already on the wire keep running for the grace period, after which
// they are aborted, and every open host is finalized with its unresolved
// ports as Error(cancelled).
package scheduler
