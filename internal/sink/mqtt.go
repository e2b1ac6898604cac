// Package sink delivers finished execution reports to external
// destinations.
//
// The MQTT sink publishes each report as JSON to a per-definition topic
// (<root>/<recipe-name>), letting dashboards and ticketing hooks
// subscribe to exactly the workflows they care about. Delivery is
// best-effort: a failed publish is the caller's to log, never to retry
// into a duplicate report.
package sink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/config"
	"github.com/opsmith-labs/opsmith-core/internal/report"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxPayloadSize caps report payloads (1MB). Aligns with typical
	// broker limits; a report this large indicates a runaway device list.
	maxPayloadSize = 1 << 20

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// MQTTSink publishes reports to an MQTT broker. It implements
// report.Sink.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type MQTTSink struct {
	client pahomqtt.Client
	cfg    config.SinkConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex
}

// Connect establishes a connection to the MQTT broker.
//
// It configures auto-reconnect with exponential backoff, so a broker
// outage delays delivery rather than permanently breaking the sink.
//
// Parameters:
//   - cfg: Sink configuration from config.yaml
//
// Returns:
//   - *MQTTSink: Connected sink ready for use
//   - error: If initial connection fails within timeout
func Connect(cfg config.SinkConfig) (*MQTTSink, error) {
	opts := buildClientOptions(cfg)

	s := &MQTTSink{cfg: cfg}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.connMu.Lock()
		s.connected = true
		s.connMu.Unlock()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, _ error) {
		s.connMu.Lock()
		s.connected = false
		s.connMu.Unlock()
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnectHandler runs asynchronously and may not have executed
	// yet, so set the state here too.
	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	return s, nil
}

// Deliver publishes one report as JSON to <topic-root>/<recipe-name>.
func (s *MQTTSink) Deliver(ctx context.Context, rpt *report.RecipeReport) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(rpt)
	if err != nil {
		return fmt.Errorf("%w: encoding report: %w", ErrDeliveryFailed, err)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrDeliveryFailed, len(payload), maxPayloadSize)
	}

	topic := s.cfg.Topic + "/" + rpt.Recipe
	token := s.client.Publish(topic, byte(s.cfg.QoS), false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrDeliveryFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	return nil
}

// IsConnected returns the current connection state.
func (s *MQTTSink) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected && s.client.IsConnected()
}

// HealthCheck verifies the broker connection is alive.
func (s *MQTTSink) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("sink health check: %w", ctx.Err())
	default:
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close gracefully disconnects from the MQTT broker.
func (s *MQTTSink) Close() error {
	if s.client == nil {
		return nil
	}

	s.client.Disconnect(defaultDisconnectQuiesce)

	s.connMu.Lock()
	s.connected = false
	s.connMu.Unlock()

	return nil
}

// buildClientOptions creates paho MQTT options from sink config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.SinkConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session - the sink only publishes, there is nothing to resume.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
