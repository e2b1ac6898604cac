package definition

import (
	"time"

	"github.com/opsmith-labs/opsmith-core/internal/inventory"
	"github.com/opsmith-labs/opsmith-core/internal/parser"
)

// OperationType classifies what a pack does to a device.
type OperationType string

const (
	// OperationRead packs only observe state and are never gated.
	OperationRead OperationType = "read"

	// OperationWrite packs change device state and require a ticket,
	// an explicit confirmation, and per-device authorization.
	OperationWrite OperationType = "write"
)

// FailureAction is the per-failure-class response declared by a pack.
type FailureAction string

const (
	// ActionRetry re-attempts the whole device session up to the
	// configured count with a backoff delay.
	ActionRetry FailureAction = "retry"

	// ActionFail marks the device failed and stops its remaining commands.
	ActionFail FailureAction = "fail"

	// ActionContinue marks the command failed and proceeds to the next
	// command on the same session if it is still usable.
	ActionContinue FailureAction = "continue"
)

// StepFailurePolicy controls what a recipe does after a failed step.
type StepFailurePolicy string

const (
	StepContinue StepFailurePolicy = "continue"
	StepStop     StepFailurePolicy = "stop"
)

// Metadata describes a pack: identity, classification, and applicability.
type Metadata struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Version     string `yaml:"version,omitempty"`
	Category    string `yaml:"category,omitempty"`
	Vendor      string `yaml:"vendor,omitempty"`

	// Platforms restricts which device platforms the pack may run against.
	// Empty means any platform.
	Platforms []string `yaml:"platforms,omitempty"`

	// Operation is the read/write classification the policy engine gates on.
	Operation OperationType `yaml:"operation_type"`

	// RequiresTicket must be true for every write pack (checked at load).
	RequiresTicket bool `yaml:"requires_ticket"`

	Tags []string `yaml:"tags,omitempty"`
}

// Execution holds pack-level execution parameters.
type Execution struct {
	// TimeoutSeconds is the default per-command timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RetryCount bounds session retries when the error policy says retry.
	RetryCount int `yaml:"retry_count"`

	// RetryDelaySeconds is the backoff between session retries.
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`
}

// Timeout returns the default command timeout as a Duration.
func (e Execution) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// RetryDelay returns the retry backoff as a Duration.
func (e Execution) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelaySeconds) * time.Second
}

// ErrorPolicy maps failure classes to actions.
type ErrorPolicy struct {
	// OnConnectionFailure: retry or fail (continue makes no sense without
	// a session and is rejected at load).
	OnConnectionFailure FailureAction `yaml:"on_connection_failure"`

	// OnCommandFailure: retry, fail, or continue. Command timeouts are
	// command failures.
	OnCommandFailure FailureAction `yaml:"on_command_failure"`
}

// CommandSpec is one command in a pack's ordered sequence.
type CommandSpec struct {
	// Name keys the command's parsed output in results.
	Name string `yaml:"name"`

	// Command is the text sent to the device. It may reference the
	// placeholders {{ hostname }} and {{ management_ip }}.
	Command string `yaml:"command"`

	// Parser identifies the output parser (see the parser package).
	Parser string `yaml:"parser"`

	// Pattern is the named-group regex for the regex parser.
	Pattern string `yaml:"pattern,omitempty"`

	// TimeoutSeconds overrides the pack default when non-zero.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the effective command timeout given the pack default.
func (c CommandSpec) Timeout(packDefault time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return packDefault
}

// Pack is a single automation unit: command sequence, parsing, and
// validation rules for one operational task. Packs are immutable once
// loaded.
type Pack struct {
	Metadata    Metadata            `yaml:"metadata"`
	Execution   Execution           `yaml:"execution"`
	ErrorPolicy ErrorPolicy         `yaml:"error_policy"`
	Commands    []CommandSpec       `yaml:"commands"`
	Validations []parser.Rule       `yaml:"validations,omitempty"`
	Targets     *inventory.Selector `yaml:"targets,omitempty"`
}

// Name returns the pack's identity.
func (p *Pack) Name() string {
	return p.Metadata.Name
}

// IsWrite reports whether the pack changes device state.
func (p *Pack) IsWrite() bool {
	return p.Metadata.Operation == OperationWrite
}

// AllowsPlatform reports whether the pack may run against the platform.
func (p *Pack) AllowsPlatform(platform string) bool {
	if len(p.Metadata.Platforms) == 0 {
		return true
	}
	for _, allowed := range p.Metadata.Platforms {
		if allowed == platform {
			return true
		}
	}
	return false
}

// Step is one pack execution inside a recipe.
type Step struct {
	// Name labels the step in reports. Defaults to the pack name.
	Name string `yaml:"name,omitempty"`

	// Pack references a pack definition by name.
	Pack string `yaml:"pack"`

	// Selector overrides the recipe-level selector when set.
	Selector *inventory.Selector `yaml:"selector,omitempty"`

	// OnFailure decides whether later steps run after this one fails.
	// Default: stop.
	OnFailure StepFailurePolicy `yaml:"on_failure,omitempty"`
}

// Recipe is an ordered multi-step workflow over packs. Step order is
// significant and preserved through execution and reporting.
type Recipe struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	Selector    inventory.Selector `yaml:"selector"`
	Steps       []Step             `yaml:"steps"`
}
