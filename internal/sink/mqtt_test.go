package sink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/config"
	"github.com/opsmith-labs/opsmith-core/internal/report"
)

// testConfig returns a valid sink configuration for testing.
func testConfig() config.SinkConfig {
	return config.SinkConfig{
		Enabled: true,
		Broker: config.SinkBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "opsmith-test",
			TLS:      false,
		},
		Topic: "opsmith/reports",
		QoS:   1,
		Reconnect: config.SinkReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// ─── Delivery Guards ────────────────────────────────────────────────────────

func TestDeliver_NotConnected(t *testing.T) {
	s := &MQTTSink{cfg: testConfig()}

	err := s.Deliver(context.Background(), &report.RecipeReport{Recipe: "morning-checks"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Deliver() error = %v, want ErrNotConnected", err)
	}
}

func TestDeliver_CancelledContext(t *testing.T) {
	s := &MQTTSink{cfg: testConfig()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Deliver(ctx, &report.RecipeReport{Recipe: "morning-checks"})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Deliver() error = %v, want ErrDeliveryFailed", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver() error = %v, want wrapped context.Canceled", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	s := &MQTTSink{cfg: testConfig()}

	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_NilClient(t *testing.T) {
	s := &MQTTSink{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on unconnected sink error = %v, want nil", err)
	}
}

// ─── Client Options ─────────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "publisher"
	cfg.Auth.Password = "s3cret"

	opts := buildClientOptions(cfg)

	servers := opts.Servers
	if len(servers) != 1 {
		t.Fatalf("got %d brokers, want 1", len(servers))
	}
	if servers[0].Scheme != "tcp" || servers[0].Host != "127.0.0.1:1883" {
		t.Errorf("broker = %v, want tcp://127.0.0.1:1883", servers[0])
	}
	if opts.ClientID != "opsmith-test" {
		t.Errorf("client ID = %q", opts.ClientID)
	}
	if opts.Username != "publisher" {
		t.Errorf("username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("auto-reconnect should be enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "ssl" {
		t.Errorf("brokers = %v, want one ssl:// entry", opts.Servers)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLS config should be set")
	}
	if !strings.HasPrefix(opts.Servers[0].Host, "127.0.0.1") {
		t.Errorf("broker host = %q", opts.Servers[0].Host)
	}
}
