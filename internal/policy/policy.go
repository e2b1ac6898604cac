// Package policy implements pre-execution gating for automation requests.
//
// Every request passes through a small state machine before any device is
// contacted:
//
//	Unclassified → Classified → Authorized | Denied
//
// Classification derives read/write from the pack definition. Read
// requests authorise directly. Write requests must carry a syntactically
// valid ticket reference, an explicit confirmation from the caller, and
// every targeted device must hold the authorization tag. All three
// conditions are evaluated on every call, with no short-circuit, so a
// denial lists the complete remediation set.
//
// The engine is stateless: tags and tickets are inputs to a pure
// evaluation, never session state. A revoked tag or expired ticket is
// reflected on the very next request.
package policy

import (
	"fmt"
	"regexp"

	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
)

// State is a node in the gating state machine.
type State string

const (
	StateUnclassified State = "unclassified"
	StateClassified   State = "classified"
	StateAuthorized   State = "authorized"
	StateDenied       State = "denied"
)

// Deny reason codes. DeviceNotAuthorized reasons carry the hostname:
// "DeviceNotAuthorized:core-sw-01".
const (
	ReasonMissingTicket       = "MissingTicket"
	ReasonInvalidTicket       = "InvalidTicket"
	ReasonMissingConfirmation = "MissingConfirmation"
	ReasonDeviceNotAuthorized = "DeviceNotAuthorized"
)

// DefaultAuthorizationTag is the device tag required for write operations
// when the deployment does not configure its own.
const DefaultAuthorizationTag = "allow_execute"

// defaultTicketPattern accepts change-management style references such as
// CHG0012345 or TICKET-842.
const defaultTicketPattern = `^[A-Z][A-Z0-9]{1,9}-?[0-9]{1,10}$`

// Input is what the engine evaluates: the caller-supplied write gate
// fields. Reads leave both empty.
type Input struct {
	// TicketRef is the change ticket reference for write operations.
	TicketRef string

	// Confirmed is the caller's explicit confirmation. It is never
	// inferred; only a literal true set by the caller counts.
	Confirmed bool
}

// Decision is the terminal verdict for one request.
type Decision struct {
	State     State                    `json:"state"`
	Operation definition.OperationType `json:"operation"`

	// Reasons lists every failed condition when State is denied.
	// Format: reason code, optionally ":<identifier>".
	Reasons []string `json:"reasons,omitempty"`
}

// Allowed reports whether execution may proceed.
func (d Decision) Allowed() bool {
	return d.State == StateAuthorized
}

// Engine evaluates gating rules. It holds only configuration, never
// request state, so a single Engine serves all requests concurrently.
type Engine struct {
	authorizationTag string
	ticketPattern    *regexp.Regexp
}

// Config controls the gating rules.
type Config struct {
	// AuthorizationTag is the device tag required for writes.
	// Default: allow_execute.
	AuthorizationTag string

	// TicketPattern overrides the ticket reference syntax.
	TicketPattern string
}

// New creates a policy engine.
func New(cfg Config) (*Engine, error) {
	tag := cfg.AuthorizationTag
	if tag == "" {
		tag = DefaultAuthorizationTag
	}

	pattern := cfg.TicketPattern
	if pattern == "" {
		pattern = defaultTicketPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling ticket pattern: %w", err)
	}

	return &Engine{authorizationTag: tag, ticketPattern: re}, nil
}

// AuthorizationTag returns the configured write-gate tag.
func (e *Engine) AuthorizationTag() string {
	return e.authorizationTag
}

// Evaluate gates one request against one pack and its resolved targets.
//
// The decision is terminal for the request. Evaluating the same request
// and device set twice yields the same verdict.
func (e *Engine) Evaluate(pack *definition.Pack, input Input, devices []inventory.Device) Decision {
	decision := Decision{
		State:     StateClassified,
		Operation: pack.Metadata.Operation,
	}

	if !pack.IsWrite() {
		decision.State = StateAuthorized
		return decision
	}

	// Write path: every condition is checked, every failure reported.
	var reasons []string

	switch {
	case input.TicketRef == "":
		reasons = append(reasons, ReasonMissingTicket)
	case !e.ticketPattern.MatchString(input.TicketRef):
		reasons = append(reasons, ReasonInvalidTicket+":"+input.TicketRef)
	}

	if !input.Confirmed {
		reasons = append(reasons, ReasonMissingConfirmation)
	}

	for _, device := range devices {
		if !device.HasTag(e.authorizationTag) {
			reasons = append(reasons, ReasonDeviceNotAuthorized+":"+device.Hostname)
		}
	}

	if len(reasons) > 0 {
		decision.State = StateDenied
		decision.Reasons = reasons
		return decision
	}

	decision.State = StateAuthorized
	return decision
}
