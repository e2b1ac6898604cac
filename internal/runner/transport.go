package runner

import (
	"context"
	"errors"
	"time"

	"github.com/opsmith-labs/opsmith-core/internal/credential"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
)

// ErrTimeout is the sentinel transports wrap when a command exceeds its
// timeout. The runner treats a timeout as a command failure subject to
// the pack's error policy.
var ErrTimeout = errors.New("transport: command timeout")

// Transport is the injected device-access collaborator. Opsmith Core
// never implements a device CLI or API client itself; the caller supplies
// one behind this interface.
type Transport interface {
	// Connect opens a session to the device using the resolved credential.
	// The credential must not be retained beyond the session's lifetime.
	Connect(ctx context.Context, device inventory.Device, cred credential.Credential) (Session, error)
}

// Session is one open connection to one device.
//
// Send executes a single command and returns its raw output. The timeout
// is enforced by the transport; on expiry Send returns an error wrapping
// ErrTimeout. Close releases the session and must be safe to call exactly
// once on every exit path.
type Session interface {
	Send(ctx context.Context, command string, timeout time.Duration) (string, error)
	Close() error
}
