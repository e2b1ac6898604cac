package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
	"github.com/opsmith-labs/opsmith-core/internal/policy"
	"github.com/opsmith-labs/opsmith-core/internal/report"
	"github.com/opsmith-labs/opsmith-core/internal/runner"
)

// Logger is the minimal logging interface the engine depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Request names exactly one pack or one recipe to execute, plus the
// caller-supplied gate fields for write operations.
type Request struct {
	// Pack names a pack definition. Mutually exclusive with Recipe.
	Pack string `json:"pack,omitempty"`

	// Recipe names a recipe definition. Mutually exclusive with Pack.
	Recipe string `json:"recipe,omitempty"`

	// Selector overrides the definition's target selector when set.
	Selector *inventory.Selector `json:"selector,omitempty"`

	// TicketRef is the change ticket reference required for writes.
	TicketRef string `json:"ticket_ref,omitempty"`

	// Confirmed is the caller's explicit write confirmation.
	Confirmed bool `json:"confirmed,omitempty"`
}

// Result is the terminal outcome of one execution request.
type Result struct {
	// ID identifies the request across report, audit, and logs.
	ID string `json:"id"`

	// Decision is the policy verdict. For a recipe it merges every
	// step's verdict: denied if any step is denied, with the combined
	// deduplicated reason list.
	Decision policy.Decision `json:"decision"`

	// Report is the aggregated artifact. Nil when the request was denied
	// before execution.
	Report *report.RecipeReport `json:"report,omitempty"`
}

// Config tunes engine behaviour.
type Config struct {
	// StopSeverity is the minimum step severity that triggers a recipe
	// stop when the failed step's on_failure policy is stop.
	// Default: critical, so warning-level steps never halt a workflow.
	StopSeverity report.OverallStatus
}

// Engine sequences definition lookup, target resolution, policy gating,
// execution, and report aggregation. Safe for concurrent use.
type Engine struct {
	library   *definition.Library
	inventory inventory.Adapter
	policy    *policy.Engine
	runner    *runner.Runner
	stopAt    report.OverallStatus
	logger    Logger
}

// New creates an engine over its four collaborators.
func New(lib *definition.Library, inv inventory.Adapter, pol *policy.Engine, run *runner.Runner, cfg Config) *Engine {
	stopAt := cfg.StopSeverity
	if stopAt == "" {
		stopAt = report.StatusCritical
	}
	return &Engine{
		library:   lib,
		inventory: inv,
		policy:    pol,
		runner:    run,
		stopAt:    stopAt,
		logger:    noopLogger{},
	}
}

// SetLogger installs a logger. Must be called before Execute.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute runs one request end to end and returns its result.
//
// The policy gate runs before any device session opens. A denied request
// returns ErrDenied together with a Result whose Decision lists every
// failed condition; the Report is nil and no device was contacted.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	switch {
	case req.Pack == "" && req.Recipe == "":
		return nil, fmt.Errorf("%w: no pack or recipe named", ErrBadRequest)
	case req.Pack != "" && req.Recipe != "":
		return nil, fmt.Errorf("%w: pack and recipe are mutually exclusive", ErrBadRequest)
	}

	if req.Pack != "" {
		return e.executePack(ctx, req)
	}
	return e.executeRecipe(ctx, req)
}

func (e *Engine) executePack(ctx context.Context, req Request) (*Result, error) {
	pack, err := e.library.Pack(req.Pack)
	if err != nil {
		return nil, err
	}

	selector := req.Selector
	if selector == nil {
		selector = pack.Targets
	}
	if selector == nil || selector.IsZero() {
		return nil, fmt.Errorf("%w: pack %q", ErrNoTargets, pack.Name())
	}

	devices, err := e.inventory.Query(ctx, *selector)
	if err != nil {
		return nil, fmt.Errorf("resolving targets for pack %q: %w", pack.Name(), err)
	}

	input := policy.Input{TicketRef: req.TicketRef, Confirmed: req.Confirmed}
	decision := e.policy.Evaluate(pack, input, devices)
	if !decision.Allowed() {
		e.logger.Warn("execution denied",
			"pack", pack.Name(),
			"reasons", decision.Reasons)
		return &Result{ID: uuid.New().String(), Decision: decision}, ErrDenied
	}

	e.logger.Info("executing pack",
		"pack", pack.Name(),
		"operation", string(pack.Metadata.Operation),
		"devices", len(devices))

	results, err := e.runner.Run(ctx, pack, devices)
	if err != nil {
		return nil, fmt.Errorf("running pack %q: %w", pack.Name(), err)
	}

	step := report.StepResult{
		Name:     pack.Name(),
		Pack:     pack.Name(),
		Status:   report.StepStatus(results),
		NoTarget: len(results) == 0,
		Devices:  results,
	}
	rpt := report.Aggregate(pack.Name(), []report.StepResult{step})

	return &Result{ID: rpt.ID, Decision: decision, Report: rpt}, nil
}

// resolvedStep pairs a recipe step with its pack and target devices.
type resolvedStep struct {
	step    definition.Step
	pack    *definition.Pack
	devices []inventory.Device
}

func (e *Engine) executeRecipe(ctx context.Context, req Request) (*Result, error) {
	recipe, err := e.library.Recipe(req.Recipe)
	if err != nil {
		return nil, err
	}

	// Resolve every step's targets up front so the whole workflow is
	// gated before the first session opens.
	resolved := make([]resolvedStep, 0, len(recipe.Steps))
	for _, step := range recipe.Steps {
		pack, err := e.library.Pack(step.Pack)
		if err != nil {
			return nil, err
		}

		selector := step.Selector
		if selector == nil {
			if req.Selector != nil {
				selector = req.Selector
			} else {
				selector = &recipe.Selector
			}
		}
		if selector.IsZero() {
			return nil, fmt.Errorf("%w: step %q", ErrNoTargets, stepName(step))
		}

		devices, err := e.inventory.Query(ctx, *selector)
		if err != nil {
			return nil, fmt.Errorf("resolving targets for step %q: %w", stepName(step), err)
		}
		resolved = append(resolved, resolvedStep{step: step, pack: pack, devices: devices})
	}

	input := policy.Input{TicketRef: req.TicketRef, Confirmed: req.Confirmed}
	decision := e.gateRecipe(input, resolved)
	if !decision.Allowed() {
		e.logger.Warn("execution denied",
			"recipe", recipe.Name,
			"reasons", decision.Reasons)
		return &Result{ID: uuid.New().String(), Decision: decision}, ErrDenied
	}

	e.logger.Info("executing recipe",
		"recipe", recipe.Name,
		"steps", len(resolved))

	steps := make([]report.StepResult, 0, len(resolved))
	stopped := false
	for _, rs := range resolved {
		if stopped {
			steps = append(steps, report.StepResult{
				Name:    stepName(rs.step),
				Pack:    rs.pack.Name(),
				Status:  report.StatusSkipped,
				Skipped: true,
			})
			continue
		}

		results, err := e.runner.Run(ctx, rs.pack, rs.devices)
		if err != nil {
			return nil, fmt.Errorf("running step %q: %w", stepName(rs.step), err)
		}

		status := report.StepStatus(results)
		steps = append(steps, report.StepResult{
			Name:     stepName(rs.step),
			Pack:     rs.pack.Name(),
			Status:   status,
			NoTarget: len(results) == 0,
			Devices:  results,
		})

		if e.stopTriggered(status) && rs.step.OnFailure != definition.StepContinue {
			e.logger.Warn("recipe stopped",
				"recipe", recipe.Name,
				"step", stepName(rs.step),
				"status", string(status))
			stopped = true
		}
	}

	rpt := report.Aggregate(recipe.Name, steps)
	return &Result{ID: rpt.ID, Decision: decision, Report: rpt}, nil
}

// gateRecipe evaluates the policy for every step and merges the
// verdicts. A single denied step denies the whole recipe; reasons are
// combined and deduplicated so the caller sees one remediation set.
func (e *Engine) gateRecipe(input policy.Input, resolved []resolvedStep) policy.Decision {
	merged := policy.Decision{
		State:     policy.StateAuthorized,
		Operation: definition.OperationRead,
	}

	seen := make(map[string]bool)
	for _, rs := range resolved {
		if rs.pack.IsWrite() {
			merged.Operation = definition.OperationWrite
		}

		decision := e.policy.Evaluate(rs.pack, input, rs.devices)
		if decision.Allowed() {
			continue
		}
		merged.State = policy.StateDenied
		for _, reason := range decision.Reasons {
			if !seen[reason] {
				seen[reason] = true
				merged.Reasons = append(merged.Reasons, reason)
			}
		}
	}

	return merged
}

// stopTriggered reports whether a step status is at or above the
// configured stop severity.
func (e *Engine) stopTriggered(status report.OverallStatus) bool {
	return report.Worse(e.stopAt, status) == status
}

func stepName(step definition.Step) string {
	if step.Name != "" {
		return step.Name
	}
	return step.Pack
}
