package runner

import (
	"time"

	"github.com/opsmith-labs/opsmith-core/internal/parser"
)

// Status is the terminal outcome for a command or a device.
type Status string

const (
	StatusOK               Status = "ok"
	StatusCommandFailed    Status = "command_failed"
	StatusConnectionFailed Status = "connection_failed"
	StatusParseFailed      Status = "parse_failed"
	StatusValidationFailed Status = "validation_failed"
	StatusCredentialFailed Status = "credential_failed"
	StatusExcluded         Status = "excluded"
	StatusCancelled        Status = "cancelled"
	StatusSkipped          Status = "skipped"
)

// statusRank orders statuses from best to worst for deriving a device's
// terminal status from its command outcomes.
var statusRank = map[Status]int{
	StatusOK:               0,
	StatusSkipped:          1,
	StatusValidationFailed: 2,
	StatusParseFailed:      3,
	StatusCommandFailed:    4,
	StatusConnectionFailed: 5,
	StatusCredentialFailed: 6,
	StatusExcluded:         7,
	StatusCancelled:        8,
}

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// CommandResult is the outcome of one command on one device.
type CommandResult struct {
	// Name is the command's declared name from the pack.
	Name string `json:"name"`

	// Command is the rendered text actually sent to the device.
	Command string `json:"command"`

	RawOutput string        `json:"raw_output,omitempty"`
	Fields    parser.Fields `json:"fields,omitempty"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// DeviceResult aggregates one device's execution of a pack.
type DeviceResult struct {
	Hostname string `json:"hostname"`

	// Status is the device's terminal status: the worst of its command
	// statuses, escalated by validation failures.
	Status Status `json:"status"`

	// Error carries the device-scoped failure reason (connection,
	// credential, exclusion) when Status is not ok.
	Error string `json:"error,omitempty"`

	// Commands in pack-declared order. Commands never attempted (after a
	// fail-fast command failure or cancellation) are absent.
	Commands []CommandResult `json:"commands,omitempty"`

	// Validations are the pack's rule outcomes over the device's merged
	// parsed fields, in rule order.
	Validations []parser.Outcome `json:"validations,omitempty"`

	// Attempts counts session attempts, including retries.
	Attempts int `json:"attempts"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// CriticalFailures returns the failed validation outcomes with critical
// severity.
func (r DeviceResult) CriticalFailures() []parser.Outcome {
	var failures []parser.Outcome
	for _, o := range r.Validations {
		if !o.Passed && o.Severity == parser.SeverityCritical {
			failures = append(failures, o)
		}
	}
	return failures
}

// FailedValidations returns every failed validation outcome.
func (r DeviceResult) FailedValidations() []parser.Outcome {
	var failures []parser.Outcome
	for _, o := range r.Validations {
		if !o.Passed {
			failures = append(failures, o)
		}
	}
	return failures
}
