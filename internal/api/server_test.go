package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opsmith-labs/opsmith-core/internal/audit"
	"github.com/opsmith-labs/opsmith-core/internal/credential"
	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/engine"
	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/config"
	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/logging"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
	"github.com/opsmith-labs/opsmith-core/internal/parser"
	"github.com/opsmith-labs/opsmith-core/internal/policy"
	"github.com/opsmith-labs/opsmith-core/internal/report"
	"github.com/opsmith-labs/opsmith-core/internal/runner"
)

const testJWTSecret = "test-jwt-secret-at-least-32-chars-long"

// ─── Mock History and Sink ──────────────────────────────────────────────────

type mockHistory struct {
	mu         sync.Mutex
	executions []*audit.Execution
	devices    map[string][]audit.DeviceRecord
}

func newMockHistory() *mockHistory {
	return &mockHistory{devices: map[string][]audit.DeviceRecord{}}
}

func (m *mockHistory) Record(_ context.Context, exec *audit.Execution, devices []audit.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, exec)
	m.devices[exec.ID] = devices
	return nil
}

func (m *mockHistory) List(_ context.Context, _ audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	executions := make([]audit.Execution, 0, len(m.executions))
	for _, exec := range m.executions {
		executions = append(executions, *exec)
	}
	return &audit.ListResult{Executions: executions, Total: len(executions), Limit: 50}, nil
}

func (m *mockHistory) Get(_ context.Context, id string) (*audit.Execution, []audit.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, exec := range m.executions {
		if exec.ID == id {
			return exec, m.devices[id], nil
		}
	}
	return nil, nil, audit.ErrNotFound
}

func (m *mockHistory) recorded() []*audit.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]*audit.Execution, len(m.executions))
	copy(cpy, m.executions)
	return cpy
}

type mockSink struct {
	mu      sync.Mutex
	reports []*report.RecipeReport
}

func (m *mockSink) Deliver(_ context.Context, rpt *report.RecipeReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, rpt)
	return nil
}

func (m *mockSink) delivered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

type mockMetrics struct {
	mu      sync.Mutex
	reports int
}

func (m *mockMetrics) WriteReport(_ *report.RecipeReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports++
}

func (m *mockMetrics) written() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports
}

// ─── Fixture ────────────────────────────────────────────────────────────────

type apiFixture struct {
	handler http.Handler
	history *mockHistory
	sink    *mockSink
	metrics *mockMetrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	checkPack := &definition.Pack{
		Metadata: definition.Metadata{Name: "state-check", Operation: definition.OperationRead},
		Commands: []definition.CommandSpec{
			{Name: "state", Command: "show state", Parser: parser.ParserKeyValue},
		},
		Targets: &inventory.Selector{Group: "core"},
	}
	changePack := &definition.Pack{
		Metadata: definition.Metadata{
			Name:           "ntp-update",
			Operation:      definition.OperationWrite,
			RequiresTicket: true,
		},
		Commands: []definition.CommandSpec{
			{Name: "set_ntp", Command: "ntp server 10.0.0.50", Parser: parser.ParserRaw},
		},
		Targets: &inventory.Selector{Group: "core"},
	}
	lib, err := definition.NewLibrary([]*definition.Pack{checkPack, changePack}, nil)
	if err != nil {
		t.Fatalf("building library: %v", err)
	}

	inv, err := inventory.NewStatic([]inventory.Device{
		{Hostname: "core-sw-01", Platform: "ios-xe", CredentialRef: "core_admin",
			Tags: []string{"production", "allow_execute"}},
	}, map[string]inventory.Selector{
		"core": {Filter: &inventory.Filter{Tags: []string{"production"}}},
	})
	if err != nil {
		t.Fatalf("building inventory: %v", err)
	}

	pol, err := policy.New(policy.Config{})
	if err != nil {
		t.Fatalf("building policy: %v", err)
	}

	resolver := credential.NewStaticResolver(map[string]credential.Credential{
		"core_admin": credential.New("netops", "s3cret"),
	})
	eng := engine.New(lib, inv, pol, runner.New(runner.DevTransport{}, resolver, 2), engine.Config{})

	history := newMockHistory()
	sink := &mockSink{}
	mtr := &mockMetrics{}

	server, err := New(Deps{
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testJWTSecret}},
		Logger:    logging.Default(),
		Engine:    eng,
		Library:   lib,
		Inventory: inv,
		History:   history,
		Sink:      sink,
		Metrics:   mtr,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &apiFixture{handler: server.buildRouter(), history: history, sink: sink, metrics: mtr}
}

// bearerToken signs a short-lived HS256 token for test requests.
func bearerToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return "Bearer " + signed
}

func (f *apiFixture) request(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// ─── Authentication ─────────────────────────────────────────────────────────

func TestAPI_HealthNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPI_ProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	paths := []string{"/api/v1/packs", "/api/v1/devices", "/api/v1/executions"}
	for _, path := range paths {
		rec := f.request(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, rec.Code)
		}
	}

	rec := f.request(t, http.MethodGet, "/api/v1/packs", "Bearer not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", rec.Code)
	}
}

func TestAPI_WrongSecretRejected(t *testing.T) {
	f := newAPIFixture(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "intruder",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte("some-other-secret-that-is-32-chars!!"))

	rec := f.request(t, http.MethodGet, "/api/v1/packs", "Bearer "+signed, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// ─── Execution ──────────────────────────────────────────────────────────────

func TestAPI_ExecutePack(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/execute", bearerToken(t),
		map[string]any{"pack": "state-check"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Report == nil || len(result.Report.Steps) != 1 {
		t.Fatalf("unexpected report: %+v", result.Report)
	}

	// History and sink both observed the execution.
	recorded := f.history.recorded()
	if len(recorded) != 1 {
		t.Fatalf("got %d history rows, want 1", len(recorded))
	}
	if recorded[0].Kind != "pack" || recorded[0].Name != "state-check" {
		t.Errorf("history row = %+v", recorded[0])
	}
	if recorded[0].RequestedBy != "ops-user" {
		t.Errorf("requested_by = %q, want the token subject", recorded[0].RequestedBy)
	}
	if f.sink.delivered() != 1 {
		t.Errorf("sink deliveries = %d, want 1", f.sink.delivered())
	}
	if f.metrics.written() != 1 {
		t.Errorf("metrics reports = %d, want 1", f.metrics.written())
	}
}

func TestAPI_ExecuteDeniedWrite(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/execute", bearerToken(t),
		map[string]any{"pack": "ntp-update"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}

	var result engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Decision.State != policy.StateDenied {
		t.Errorf("state = %q, want denied", result.Decision.State)
	}
	if len(result.Decision.Reasons) < 2 {
		t.Errorf("reasons = %v, want the complete remediation list", result.Decision.Reasons)
	}

	// Denied requests are still recorded, with no report delivered.
	recorded := f.history.recorded()
	if len(recorded) != 1 || recorded[0].Verdict != string(policy.StateDenied) {
		t.Errorf("denied execution should be audited: %+v", recorded)
	}
	if f.sink.delivered() != 0 {
		t.Error("denied execution must not deliver a report")
	}
	if f.metrics.written() != 0 {
		t.Error("denied execution must not record telemetry")
	}
}

func TestAPI_ExecuteValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/execute", bearerToken(t),
		map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty request: status = %d, want 400", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/execute", bearerToken(t),
		map[string]any{"pack": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown pack: status = %d, want 404", rec.Code)
	}
}

// ─── Browsing ───────────────────────────────────────────────────────────────

func TestAPI_ListPacks(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/packs", bearerToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if payload.Total != 2 {
		t.Errorf("total = %d, want 2", payload.Total)
	}
}

func TestAPI_GetPack(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/packs/state-check", bearerToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/api/v1/packs/ghost", bearerToken(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAPI_QueryDevices(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/devices?group=core", bearerToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Total   int                `json:"total"`
		Devices []inventory.Device `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if payload.Total != 1 || payload.Devices[0].Hostname != "core-sw-01" {
		t.Errorf("payload = %+v", payload)
	}

	// No selector at all is a bad request.
	rec = f.request(t, http.MethodGet, "/api/v1/devices", bearerToken(t), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("selectorless query: status = %d, want 400", rec.Code)
	}

	// Unknown group is not found.
	rec = f.request(t, http.MethodGet, "/api/v1/devices?group=ghost", bearerToken(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown group: status = %d, want 404", rec.Code)
	}
}

func TestAPI_GetExecution(t *testing.T) {
	f := newAPIFixture(t)

	// Run something first so history has a row.
	rec := f.request(t, http.MethodPost, "/api/v1/execute", bearerToken(t),
		map[string]any{"pack": "state-check"})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d", rec.Code)
	}
	id := f.history.recorded()[0].ID

	rec = f.request(t, http.MethodGet, "/api/v1/executions/"+id, bearerToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/api/v1/executions/ghost", bearerToken(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
