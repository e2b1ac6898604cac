package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ─── Mock CMDB Client ───────────────────────────────────────────────────────

type mockCMDBClient struct {
	records []map[string]any
	err     error
	calls   int
	mu      sync.Mutex
}

func (m *mockCMDBClient) FetchNodes(_ context.Context, _ map[string]string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

func (m *mockCMDBClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockCMDBClient) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func cmdbRecords() []map[string]any {
	return []map[string]any{
		{
			"Caption":       "core-sw-01",
			"IPAddress":     "10.0.0.1",
			"Vendor":        "Cisco Systems",
			"Platform":      "IOS XE",
			"DeviceRole":    "core",
			"Location":      "lon-dc1",
			"Tags":          "production,allow_execute",
			"CredentialRef": "core_admin",
		},
		{
			"Caption":       "edge-rtr-01",
			"IPAddress":     "10.1.0.1",
			"Vendor":        "Juniper Networks",
			"Platform":      "JunOS",
			"DeviceRole":    "edge",
			"Location":      "lon-dc2",
			"Tags":          "production",
			"CredentialRef": "edge_admin",
		},
	}
}

// ─── Normalisation ──────────────────────────────────────────────────────────

func TestNormaliseRecord(t *testing.T) {
	d := NormaliseRecord(map[string]any{
		"Caption":       "core-sw-01",
		"IPAddress":     "10.0.0.1",
		"Vendor":        "Cisco Systems",
		"Platform":      "IOS XE",
		"DeviceRole":    "core-switch",
		"Location":      "lon-dc1",
		"Tags":          "Production, allow_execute",
		"CredentialRef": "core_admin",
		"SerialNumber":  "FXS1234",
	})

	if d.Hostname != "core-sw-01" {
		t.Errorf("hostname = %q", d.Hostname)
	}
	if d.Vendor != "cisco" {
		t.Errorf("vendor = %q, want canonical cisco", d.Vendor)
	}
	if d.Platform != "ios-xe" {
		t.Errorf("platform = %q, want canonical ios-xe", d.Platform)
	}
	if d.Site != "lon-dc1" {
		t.Errorf("site = %q", d.Site)
	}
	if d.Type != "switch" {
		t.Errorf("type = %q, want switch inferred from role", d.Type)
	}
	if !d.HasTag("production") || !d.HasTag("allow_execute") {
		t.Errorf("tags = %v", d.Tags)
	}
	if d.Extra["SerialNumber"] != "FXS1234" {
		t.Errorf("unknown column should land in Extra, got %v", d.Extra)
	}
}

func TestNormaliseRecord_MissingFieldsMarkedUnset(t *testing.T) {
	d := NormaliseRecord(map[string]any{"hostname": "lonely-sw"})
	if d.ManagementIP != Unset || d.Vendor != Unset || d.Platform != Unset || d.Site != Unset {
		t.Errorf("absent canonical fields should be %q: %+v", Unset, d)
	}
}

func TestNormaliseRecord_TagListValue(t *testing.T) {
	d := NormaliseRecord(map[string]any{
		"hostname": "sw-01",
		"tags":     []any{"Prod", "lab"},
	})
	if !d.HasTag("prod") || !d.HasTag("lab") {
		t.Errorf("tags = %v", d.Tags)
	}
}

// ─── Caching ────────────────────────────────────────────────────────────────

func TestRemoteAdapter_CachesWithinTTL(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{CacheTTL: 300 * time.Second})

	sel := Selector{Filter: &Filter{Fields: map[string]string{"site": "lon-dc1"}}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := adapter.Query(ctx, sel); err != nil {
			t.Fatalf("Query %d failed: %v", i, err)
		}
	}

	if client.callCount() != 1 {
		t.Errorf("got %d backend calls, want 1 (cache hit within TTL)", client.callCount())
	}
}

func TestRemoteAdapter_RefreshesAfterTTL(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{CacheTTL: 300 * time.Second})

	current := time.Now()
	adapter.now = func() time.Time { return current }

	sel := Selector{}
	ctx := context.Background()

	if _, err := adapter.Query(ctx, sel); err != nil {
		t.Fatalf("first Query failed: %v", err)
	}
	if _, err := adapter.Query(ctx, sel); err != nil {
		t.Fatalf("cached Query failed: %v", err)
	}

	// Advance past the TTL; the next query must hit the backend again.
	current = current.Add(301 * time.Second)
	if _, err := adapter.Query(ctx, sel); err != nil {
		t.Fatalf("post-expiry Query failed: %v", err)
	}

	if client.callCount() != 2 {
		t.Errorf("got %d backend calls, want exactly 2 (one refresh)", client.callCount())
	}
}

func TestRemoteAdapter_DistinctSelectorsCacheSeparately(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{})

	ctx := context.Background()
	_, _ = adapter.Query(ctx, Selector{Filter: &Filter{Fields: map[string]string{"site": "lon-dc1"}}})
	_, _ = adapter.Query(ctx, Selector{Filter: &Filter{Fields: map[string]string{"site": "lon-dc2"}}})

	if client.callCount() != 2 {
		t.Errorf("got %d backend calls, want 2 (one per selector)", client.callCount())
	}
}

func TestRemoteAdapter_InvalidateCache(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{})

	ctx := context.Background()
	_, _ = adapter.Query(ctx, Selector{})
	adapter.InvalidateCache()
	_, _ = adapter.Query(ctx, Selector{})

	if client.callCount() != 2 {
		t.Errorf("got %d backend calls, want 2 after invalidation", client.callCount())
	}
}

func TestRemoteAdapter_CachedResultIsACopy(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{})

	ctx := context.Background()
	first, err := adapter.Query(ctx, Selector{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	first[0].Hostname = "mutated"

	second, err := adapter.Query(ctx, Selector{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if second[0].Hostname == "mutated" {
		t.Error("caller mutation must not reach the cache")
	}
}

// ─── Failure Handling ───────────────────────────────────────────────────────

func TestRemoteAdapter_UnavailableWithoutCache(t *testing.T) {
	client := &mockCMDBClient{err: errors.New("connection refused")}
	adapter := NewRemote(client, RemoteConfig{})

	_, err := adapter.Query(context.Background(), Selector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestRemoteAdapter_ServeStaleOnError(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{
		CacheTTL:          time.Second,
		ServeStaleOnError: true,
	})

	current := time.Now()
	adapter.now = func() time.Time { return current }

	ctx := context.Background()
	if _, err := adapter.Query(ctx, Selector{}); err != nil {
		t.Fatalf("priming Query failed: %v", err)
	}

	// Expire the entry, then break the backend.
	current = current.Add(2 * time.Second)
	client.setError(errors.New("connection refused"))

	devices, err := adapter.Query(ctx, Selector{})
	if err != nil {
		t.Fatalf("stale serve failed: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("got %d stale devices, want 2", len(devices))
	}
}

func TestRemoteAdapter_StaleDisabledSurfacesError(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{CacheTTL: time.Second})

	current := time.Now()
	adapter.now = func() time.Time { return current }

	ctx := context.Background()
	if _, err := adapter.Query(ctx, Selector{}); err != nil {
		t.Fatalf("priming Query failed: %v", err)
	}

	current = current.Add(2 * time.Second)
	client.setError(errors.New("connection refused"))

	_, err := adapter.Query(ctx, Selector{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable when stale serving is off", err)
	}
}

// ─── Filtering ──────────────────────────────────────────────────────────────

func TestRemoteAdapter_TagFilterAppliedAfterFetch(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{})

	devices, err := adapter.Query(context.Background(), Selector{
		Filter: &Filter{Tags: []string{"allow_execute"}},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(devices) != 1 || devices[0].Hostname != "core-sw-01" {
		t.Errorf("tag filter should keep only core-sw-01, got %v", devices)
	}
}

func TestRemoteAdapter_SkipsRecordsWithoutHostname(t *testing.T) {
	records := cmdbRecords()
	records = append(records, map[string]any{"IPAddress": "10.9.9.9"})
	client := &mockCMDBClient{records: records}
	adapter := NewRemote(client, RemoteConfig{})

	devices, err := adapter.Query(context.Background(), Selector{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("hostname-less record should be skipped, got %d devices", len(devices))
	}
}

func TestRemoteAdapter_GroupSelector(t *testing.T) {
	client := &mockCMDBClient{records: cmdbRecords()}
	adapter := NewRemote(client, RemoteConfig{
		Groups: map[string]Selector{
			"prod": {Filter: &Filter{Tags: []string{"production"}}},
		},
	})

	devices, err := adapter.Query(context.Background(), Selector{Group: "prod"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("got %d devices, want 2", len(devices))
	}

	if _, err := adapter.Query(context.Background(), Selector{Group: "missing"}); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("unknown group error = %v, want ErrGroupNotFound", err)
	}
}
