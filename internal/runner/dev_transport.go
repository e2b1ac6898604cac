package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/opsmith-labs/opsmith-core/internal/credential"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
)

// DevTransport is a loopback transport for trying out pack and recipe
// definitions without touching real devices. Connect always succeeds
// and Send echoes the rendered command back as output.
//
// Production deployments embed the engine as a library and supply a
// real Transport (terminal or API client) instead.
type DevTransport struct{}

// Connect implements Transport.
func (DevTransport) Connect(ctx context.Context, device inventory.Device, _ credential.Credential) (Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &devSession{hostname: device.Hostname}, nil
}

type devSession struct {
	hostname string
}

// Send echoes the command so parsed fields stay predictable in dev runs.
func (s *devSession) Send(ctx context.Context, command string, _ time.Duration) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return fmt.Sprintf("%s# %s\n", s.hostname, command), nil
}

func (s *devSession) Close() error {
	return nil
}
