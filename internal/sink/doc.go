// Package sink streams finalized host results to Google Cloud Pub/Sub.
//
// Each ScanResult is published as one JSON message carrying the host,
// scan_type and run_id attributes so subscribers can filter without decoding
// the body. Set PUBSUB_EMULATOR_HOST to publish to a local emulator.
package sink
