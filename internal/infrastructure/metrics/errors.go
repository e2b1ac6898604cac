package metrics

import "errors"

// Domain-specific errors for metrics operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned when metrics are disabled in configuration.
	ErrDisabled = errors.New("metrics: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("metrics: connection failed")

	// ErrNotConnected is returned when operations are attempted on a closed client.
	ErrNotConnected = errors.New("metrics: client not connected")
)
