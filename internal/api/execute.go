package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/opsmith-labs/opsmith-core/internal/audit"
	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/engine"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
	"github.com/opsmith-labs/opsmith-core/internal/policy"
	"github.com/opsmith-labs/opsmith-core/internal/report"
)

// handleExecute runs one pack or recipe and returns the result.
//
// Denied requests return 403 with the full reason list so the caller
// can fix every failing condition in one pass.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	startedAt := time.Now().UTC()
	result, err := s.engine.Execute(r.Context(), req)

	switch {
	case err == nil:
		s.finishExecution(r, req, result, startedAt)
		writeJSON(w, http.StatusOK, result)

	case errors.Is(err, engine.ErrDenied):
		s.finishExecution(r, req, result, startedAt)
		writeJSON(w, http.StatusForbidden, result)

	case errors.Is(err, engine.ErrBadRequest):
		writeBadRequest(w, err.Error())

	case errors.Is(err, engine.ErrNoTargets):
		writeBadRequest(w, err.Error())

	case errors.Is(err, definition.ErrPackNotFound),
		errors.Is(err, definition.ErrRecipeNotFound):
		writeNotFound(w, err.Error())

	case errors.Is(err, inventory.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, err.Error())

	default:
		s.logger.Error("execution failed", "error", err)
		writeInternalError(w, "execution failed")
	}
}

// finishExecution records history and delivers the report. Both are
// best-effort: a history or sink failure is logged, never surfaced to
// the execution caller.
func (s *Server) finishExecution(r *http.Request, req engine.Request, result *engine.Result, startedAt time.Time) {
	if result == nil {
		return
	}

	if s.history != nil {
		exec, devices := historyRecord(req, result, startedAt, subjectFrom(r.Context()))
		if err := s.history.Record(r.Context(), exec, devices); err != nil {
			s.logger.Error("recording execution history", "id", result.ID, "error", err)
		}
	}

	if s.sink != nil && result.Report != nil {
		if err := s.sink.Deliver(r.Context(), result.Report); err != nil {
			s.logger.Warn("delivering report", "id", result.ID, "error", err)
		}
	}

	if s.metrics != nil && result.Report != nil {
		s.metrics.WriteReport(result.Report)
	}
}

// historyRecord flattens an execution result into audit rows.
func historyRecord(req engine.Request, result *engine.Result, startedAt time.Time, subject string) (*audit.Execution, []audit.DeviceRecord) {
	exec := &audit.Execution{
		ID:          result.ID,
		Kind:        "pack",
		Name:        req.Pack,
		Operation:   string(result.Decision.Operation),
		Verdict:     string(result.Decision.State),
		Reasons:     result.Decision.Reasons,
		Status:      "denied",
		TicketRef:   req.TicketRef,
		RequestedBy: subject,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	if req.Recipe != "" {
		exec.Kind = "recipe"
		exec.Name = req.Recipe
	}

	if result.Decision.State != policy.StateDenied {
		exec.Verdict = string(policy.StateAuthorized)
	}

	rpt := result.Report
	if rpt == nil {
		return exec, nil
	}

	exec.Status = string(rpt.Overall)
	exec.DevicesPassed = rpt.Summary.DevicesPassed
	exec.DevicesWarning = rpt.Summary.DevicesWarning
	exec.DevicesCritical = rpt.Summary.DevicesCritical

	var devices []audit.DeviceRecord
	for _, step := range rpt.Steps {
		if step.Skipped {
			continue
		}
		for _, d := range step.Devices {
			exec.DevicesTotal++
			devices = append(devices, audit.DeviceRecord{
				ExecutionID: exec.ID,
				Step:        step.Name,
				Hostname:    d.Hostname,
				Status:      string(report.DeviceStatus(d)),
				Error:       d.Error,
				Attempts:    d.Attempts,
				Duration:    d.CompletedAt.Sub(d.StartedAt),
			})
		}
	}

	return exec, devices
}
