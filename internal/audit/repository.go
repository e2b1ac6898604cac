// Package audit records execution history: one row per request with its
// policy verdict and outcome, plus per-device rows for drill-down.
//
// Credentials and raw command output are never written here. The history
// answers "who ran what, where, and how did it go", not "what did the
// device say".
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Execution is one recorded request, allowed or denied.
type Execution struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"` // pack or recipe
	Name      string `json:"name"`
	Operation string `json:"operation"` // read or write

	// Verdict is the policy state (authorized or denied).
	Verdict string `json:"verdict"`

	// Reasons holds the deny reasons, comma separated in storage.
	Reasons []string `json:"reasons,omitempty"`

	// Status is the report's overall status, or "denied".
	Status string `json:"status"`

	TicketRef   string `json:"ticket_ref,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`

	DevicesTotal    int `json:"devices_total"`
	DevicesPassed   int `json:"devices_passed"`
	DevicesWarning  int `json:"devices_warning"`
	DevicesCritical int `json:"devices_critical"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// DeviceRecord is one device's outcome within an execution.
type DeviceRecord struct {
	ExecutionID string        `json:"execution_id"`
	Step        string        `json:"step"`
	Hostname    string        `json:"hostname"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration_ms"`
}

// Filter controls which executions to return.
type Filter struct {
	Kind    string // optional: pack or recipe
	Name    string // optional: definition name
	Verdict string // optional: authorized or denied
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains the paginated execution history.
type ListResult struct {
	Executions []Execution `json:"executions"`
	Total      int         `json:"total"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// Repository defines the interface for execution history operations.
type Repository interface {
	Record(ctx context.Context, exec *Execution, devices []DeviceRecord) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Get(ctx context.Context, id string) (*Execution, []DeviceRecord, error)
}

// ErrNotFound is returned when an execution ID has no history row.
var ErrNotFound = errors.New("audit: execution not found")

// SQLiteRepository persists execution history in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new execution history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an execution and its device rows in one transaction.
func (r *SQLiteRepository) Record(ctx context.Context, exec *Execution, devices []DeviceRecord) error {
	if exec.ID == "" {
		return fmt.Errorf("audit: execution id is required")
	}
	if exec.CompletedAt.IsZero() {
		exec.CompletedAt = time.Now().UTC()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = exec.CompletedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, kind, name, operation, verdict, reasons, status,
		    ticket_ref, requested_by,
		    devices_total, devices_passed, devices_warning, devices_critical,
		    started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Kind, exec.Name, exec.Operation,
		exec.Verdict, strings.Join(exec.Reasons, ","), exec.Status,
		exec.TicketRef, exec.RequestedBy,
		exec.DevicesTotal, exec.DevicesPassed, exec.DevicesWarning, exec.DevicesCritical,
		exec.StartedAt.UTC().Format(time.RFC3339), exec.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}

	for _, d := range devices {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO execution_devices (execution_id, step, hostname, status, error, attempts, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			exec.ID, d.Step, d.Hostname, d.Status, d.Error, d.Attempts,
			d.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting device record for %s: %w", d.Hostname, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing execution history: %w", err)
	}
	return nil
}

// List returns executions matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for history queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Verdict != "" {
		conditions = append(conditions, "verdict = ?")
		args = append(args, filter.Verdict)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM executions %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT %s FROM executions %s ORDER BY started_at DESC LIMIT ? OFFSET ?",
		executionColumns, where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	executions := []Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	return &ListResult{
		Executions: executions,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}, nil
}

// Get returns one execution and its device rows.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Execution, []DeviceRecord, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM executions WHERE id = ?", executionColumns), id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT step, hostname, status, error, attempts, duration_ms
		 FROM execution_devices WHERE execution_id = ? ORDER BY step, hostname`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("querying device records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var devices []DeviceRecord
	for rows.Next() {
		d := DeviceRecord{ExecutionID: id}
		var durationMs int64
		if err := rows.Scan(&d.Step, &d.Hostname, &d.Status, &d.Error, &d.Attempts, &durationMs); err != nil {
			return nil, nil, fmt.Errorf("scanning device record: %w", err)
		}
		d.Duration = time.Duration(durationMs) * time.Millisecond
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating device records: %w", err)
	}

	return exec, devices, nil
}

const executionColumns = `id, kind, name, operation, verdict, reasons, status,
	ticket_ref, requested_by,
	devices_total, devices_passed, devices_warning, devices_critical,
	started_at, completed_at`

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var exec Execution
	var reasons, startedAt, completedAt string

	err := row.Scan(&exec.ID, &exec.Kind, &exec.Name, &exec.Operation,
		&exec.Verdict, &reasons, &exec.Status,
		&exec.TicketRef, &exec.RequestedBy,
		&exec.DevicesTotal, &exec.DevicesPassed, &exec.DevicesWarning, &exec.DevicesCritical,
		&startedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning execution: %w", err)
	}

	if reasons != "" {
		exec.Reasons = strings.Split(reasons, ",")
	}

	if exec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at %q: %w", startedAt, err)
	}
	if exec.CompletedAt, err = time.Parse(time.RFC3339, completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at %q: %w", completedAt, err)
	}

	return &exec, nil
}
