package sink

import "errors"

// Domain-specific errors for report delivery.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting delivery on a disconnected client.
	ErrNotConnected = errors.New("sink: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("sink: connection failed")

	// ErrDeliveryFailed is returned when a report publish fails.
	ErrDeliveryFailed = errors.New("sink: delivery failed")
)
