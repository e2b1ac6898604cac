package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/config"
	"github.com/opsmith-labs/opsmith-core/internal/report"
)

// testConfig returns a metrics configuration pointing at a local dev
// InfluxDB instance.
func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "opsmith-dev-token",
		Org:           "opsmith",
		Bucket:        "executions",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// ─── Connection Tests ───────────────────────────────────────────────────────

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// ─── Disconnected Client Guards ─────────────────────────────────────────────

func TestWriteReport_NotConnected(t *testing.T) {
	c := &Client{}

	// Must be a silent no-op: a metrics outage never fails an execution.
	c.WriteReport(&report.RecipeReport{Recipe: "morning-checks"})
	c.WritePoint("inventory_cache", map[string]string{"selector": "all"},
		map[string]interface{}{"devices": 3})
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_NilClient(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestFlush_NotConnected(t *testing.T) {
	c := &Client{}
	c.Flush() // no write API, must not panic
}

func TestIsConnected_ZeroClient(t *testing.T) {
	c := &Client{}
	if c.IsConnected() {
		t.Error("zero client should report disconnected")
	}
}
