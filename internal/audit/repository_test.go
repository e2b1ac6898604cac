package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/database"
)

// newTestRepository opens a migrated SQLite database in a temp dir.
func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5000,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func sampleExecution(id string) *Execution {
	started := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	return &Execution{
		ID:            id,
		Kind:          "pack",
		Name:          "interface-health",
		Operation:     "read",
		Verdict:       "authorized",
		Status:        "passed",
		RequestedBy:   "ci-pipeline",
		DevicesTotal:  2,
		DevicesPassed: 2,
		StartedAt:     started,
		CompletedAt:   started.Add(30 * time.Second),
	}
}

// ─── Record and Get ─────────────────────────────────────────────────────────

func TestRepository_RecordAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	exec := sampleExecution("exec-001")
	devices := []DeviceRecord{
		{Step: "interface-health", Hostname: "core-sw-01", Status: "ok", Attempts: 1, Duration: 1200 * time.Millisecond},
		{Step: "interface-health", Hostname: "core-sw-02", Status: "ok", Attempts: 2, Duration: 3400 * time.Millisecond},
	}

	if err := repo.Record(ctx, exec, devices); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, gotDevices, err := repo.Get(ctx, "exec-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Name != "interface-health" || got.Verdict != "authorized" || got.Status != "passed" {
		t.Errorf("execution round-trip mismatch: %+v", got)
	}
	if got.RequestedBy != "ci-pipeline" {
		t.Errorf("requested_by = %q", got.RequestedBy)
	}
	if !got.StartedAt.Equal(exec.StartedAt) || !got.CompletedAt.Equal(exec.CompletedAt) {
		t.Errorf("timestamps mismatch: %v / %v", got.StartedAt, got.CompletedAt)
	}

	if len(gotDevices) != 2 {
		t.Fatalf("got %d device rows, want 2", len(gotDevices))
	}
	if gotDevices[0].Hostname != "core-sw-01" || gotDevices[1].Hostname != "core-sw-02" {
		t.Errorf("device rows not hostname-ordered: %+v", gotDevices)
	}
	if gotDevices[1].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", gotDevices[1].Attempts)
	}
	if gotDevices[1].Duration != 3400*time.Millisecond {
		t.Errorf("duration = %v, want 3.4s", gotDevices[1].Duration)
	}
}

func TestRepository_RecordDeniedExecution(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	exec := sampleExecution("exec-denied")
	exec.Kind = "pack"
	exec.Name = "ntp-update"
	exec.Operation = "write"
	exec.Verdict = "denied"
	exec.Status = "denied"
	exec.Reasons = []string{"MissingTicket", "MissingConfirmation", "DeviceNotAuthorized:core-sw-01"}
	exec.DevicesTotal = 0
	exec.DevicesPassed = 0

	if err := repo.Record(ctx, exec, nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, gotDevices, err := repo.Get(ctx, "exec-denied")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Reasons) != 3 || got.Reasons[2] != "DeviceNotAuthorized:core-sw-01" {
		t.Errorf("reasons round-trip mismatch: %v", got.Reasons)
	}
	if len(gotDevices) != 0 {
		t.Errorf("denied execution should have no device rows, got %d", len(gotDevices))
	}
}

func TestRepository_RecordRequiresID(t *testing.T) {
	repo := newTestRepository(t)
	exec := sampleExecution("")
	if err := repo.Record(context.Background(), exec, nil); err == nil {
		t.Error("record without ID must fail")
	}
}

func TestRepository_GetNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, _, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// ─── List ───────────────────────────────────────────────────────────────────

func seedHistory(t *testing.T, repo *SQLiteRepository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

	fixtures := []struct {
		id, kind, name, verdict string
	}{
		{"e1", "pack", "interface-health", "authorized"},
		{"e2", "pack", "ntp-update", "denied"},
		{"e3", "recipe", "maintenance", "authorized"},
		{"e4", "pack", "interface-health", "authorized"},
	}
	for i, fx := range fixtures {
		exec := sampleExecution(fx.id)
		exec.Kind = fx.kind
		exec.Name = fx.name
		exec.Verdict = fx.verdict
		exec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		exec.CompletedAt = exec.StartedAt.Add(10 * time.Second)
		if err := repo.Record(ctx, exec, nil); err != nil {
			t.Fatalf("seeding %s: %v", fx.id, err)
		}
	}
}

func TestRepository_List(t *testing.T) {
	repo := newTestRepository(t)
	seedHistory(t, repo)
	ctx := context.Background()

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 4 || len(result.Executions) != 4 {
		t.Fatalf("total = %d, rows = %d, want 4/4", result.Total, len(result.Executions))
	}
	// Most recent first.
	if result.Executions[0].ID != "e4" {
		t.Errorf("first row = %s, want the most recent e4", result.Executions[0].ID)
	}
	if result.Limit != 50 {
		t.Errorf("limit = %d, want default 50", result.Limit)
	}
}

func TestRepository_ListFilters(t *testing.T) {
	repo := newTestRepository(t)
	seedHistory(t, repo)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by kind", Filter{Kind: "recipe"}, 1},
		{"by name", Filter{Name: "interface-health"}, 2},
		{"by verdict", Filter{Verdict: "denied"}, 1},
		{"combined", Filter{Kind: "pack", Verdict: "authorized"}, 2},
		{"no match", Filter{Name: "ghost"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if result.Total != tt.want {
				t.Errorf("total = %d, want %d", result.Total, tt.want)
			}
		})
	}
}

func TestRepository_ListPagination(t *testing.T) {
	repo := newTestRepository(t)
	seedHistory(t, repo)
	ctx := context.Background()

	page, err := repo.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Executions) != 2 || page.Total != 4 {
		t.Fatalf("page rows = %d, total = %d", len(page.Executions), page.Total)
	}

	next, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(next.Executions) != 2 {
		t.Fatalf("next page rows = %d", len(next.Executions))
	}
	if page.Executions[0].ID == next.Executions[0].ID {
		t.Error("pages should not overlap")
	}
}

func TestRepository_ListClampsLimit(t *testing.T) {
	repo := newTestRepository(t)
	result, err := repo.List(context.Background(), Filter{Limit: 10000})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Limit != 200 {
		t.Errorf("limit = %d, want clamped to 200", result.Limit)
	}
}
