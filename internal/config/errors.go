package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when no target expression is given.
	ErrNoTarget = errors.New("no target specified: provide an address, prefix, range or hostname")

	// ErrNoPorts is returned when the port specification list is empty.
	ErrNoPorts = errors.New("no ports specified")

	// ErrInvalidTimeout is returned for a negative timeout override.
	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	// ErrInvalidRate is returned for a negative probe rate.
	ErrInvalidRate = errors.New("invalid rate: must be non-negative")

	// ErrInvalidParallelism is returned when host or port concurrency is not positive.
	ErrInvalidParallelism = errors.New("invalid parallelism: hosts and ports must be positive")

	// ErrInvalidRetries is returned for a negative retry count.
	ErrInvalidRetries = errors.New("invalid retries: must be non-negative")

	// ErrInvalidGracePeriod is returned for a negative grace period.
	ErrInvalidGracePeriod = errors.New("invalid grace period: must be non-negative")

	// ErrInvalidHostFailureThreshold is returned when the threshold is not positive.
	ErrInvalidHostFailureThreshold = errors.New("invalid host failure threshold: must be positive")

	// ErrInvalidDetectionThreshold is returned for a threshold outside [0, 100].
	ErrInvalidDetectionThreshold = errors.New("invalid detection threshold: must be between 0 and 100")

	// ErrUnknownFormat is returned for a report format that is not supported.
	ErrUnknownFormat = errors.New("unknown report format: use human, json, markdown, csv or xml")

	// ErrIncompletePubSub is returned when only one of project and topic is set.
	ErrIncompletePubSub = errors.New("incomplete pubsub settings: project and topic are both required")

	// ErrNoDBDir is returned when saving is enabled without a database directory.
	ErrNoDBDir = errors.New("no database directory configured")

	// ErrInvalidConfigFile is returned when a configuration file value cannot be used.
	ErrInvalidConfigFile = errors.New("invalid configuration file")
)
