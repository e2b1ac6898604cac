// Package report aggregates execution results into a single structured
// artifact.
//
// The aggregator performs no I/O: it folds step results into a
// RecipeReport with a summary, ordered step detail, and a flat list of
// triggered validation failures suitable for forwarding to a ticketing
// hook. Delivery belongs to a Sink implementation chosen by the caller.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opsmith-labs/opsmith-core/internal/parser"
	"github.com/opsmith-labs/opsmith-core/internal/runner"
)

// OverallStatus classifies a step or a whole report.
type OverallStatus string

const (
	StatusPassed   OverallStatus = "passed"
	StatusWarning  OverallStatus = "warning"
	StatusCritical OverallStatus = "critical"
	StatusSkipped  OverallStatus = "skipped"
)

// severityRank orders statuses for worst-of aggregation. Skipped steps
// never contribute to the overall verdict.
var severityRank = map[OverallStatus]int{
	StatusSkipped:  -1,
	StatusPassed:   0,
	StatusWarning:  1,
	StatusCritical: 2,
}

// Worse returns the more severe of two statuses.
func Worse(a, b OverallStatus) OverallStatus {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// StepResult aggregates device-level results for one recipe step.
// For a bare pack execution the report holds exactly one step.
type StepResult struct {
	Name     string        `json:"name"`
	Pack     string        `json:"pack"`
	Status   OverallStatus `json:"status"`
	Skipped  bool          `json:"skipped"`
	NoTarget bool          `json:"no_targets,omitempty"`

	// Devices in deterministic hostname order (the runner sorts).
	Devices []runner.DeviceResult `json:"devices,omitempty"`
}

// TriggeredFailure is one failed validation flattened for external hooks.
type TriggeredFailure struct {
	Step     string          `json:"step"`
	Device   string          `json:"device"`
	Rule     string          `json:"rule"`
	Field    string          `json:"field"`
	Severity parser.Severity `json:"severity"`
	Message  string          `json:"message"`
}

// Summary carries the report's headline counts.
type Summary struct {
	DevicesPassed   int `json:"devices_passed"`
	DevicesWarning  int `json:"devices_warning"`
	DevicesCritical int `json:"devices_critical"`
	StepsSkipped    int `json:"steps_skipped"`
}

// RecipeReport is the final artifact for one execution request.
type RecipeReport struct {
	ID          string             `json:"id"`
	Recipe      string             `json:"recipe"`
	Overall     OverallStatus      `json:"overall"`
	Summary     Summary            `json:"summary"`
	Steps       []StepResult       `json:"steps"`
	Failures    []TriggeredFailure `json:"failures,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Sink delivers a finished report to an external destination (file,
// message bus, ticketing API). The core defines only the artifact shape.
type Sink interface {
	Deliver(ctx context.Context, report *RecipeReport) error
}

// DeviceStatus maps a device's runner status onto report severity.
// Validation-only warnings stay warnings; hard failures are critical.
func DeviceStatus(d runner.DeviceResult) OverallStatus {
	switch d.Status {
	case runner.StatusOK:
		return StatusPassed
	case runner.StatusValidationFailed:
		if len(d.CriticalFailures()) > 0 {
			return StatusCritical
		}
		return StatusWarning
	case runner.StatusExcluded:
		// A deliberate platform or credential gate, not an outage.
		return StatusWarning
	default:
		return StatusCritical
	}
}

// StepStatus derives a step's status from its devices.
// A step with no devices at all is a passed no-op ("no targets").
func StepStatus(devices []runner.DeviceResult) OverallStatus {
	status := StatusPassed
	for _, d := range devices {
		status = Worse(status, DeviceStatus(d))
	}
	return status
}

// Aggregate folds ordered step results into the final report.
//
// Step order is preserved. The overall status is the worst status among
// executed (non-skipped) steps; skipped steps are counted but never
// change the verdict.
func Aggregate(recipeName string, steps []StepResult) *RecipeReport {
	rpt := &RecipeReport{
		ID:          uuid.New().String(),
		Recipe:      recipeName,
		Overall:     StatusPassed,
		Steps:       steps,
		GeneratedAt: time.Now().UTC(),
	}

	for _, step := range steps {
		if step.Skipped {
			rpt.Summary.StepsSkipped++
			continue
		}
		rpt.Overall = Worse(rpt.Overall, step.Status)

		for _, device := range step.Devices {
			switch DeviceStatus(device) {
			case StatusPassed:
				rpt.Summary.DevicesPassed++
			case StatusWarning:
				rpt.Summary.DevicesWarning++
			case StatusCritical:
				rpt.Summary.DevicesCritical++
			}

			for _, failure := range device.FailedValidations() {
				rpt.Failures = append(rpt.Failures, TriggeredFailure{
					Step:     step.Name,
					Device:   device.Hostname,
					Rule:     failure.Rule,
					Field:    failure.Field,
					Severity: failure.Severity,
					Message:  failure.Message,
				})
			}
		}
	}

	return rpt
}
