package definition

import (
	"regexp"
	"strings"

	"github.com/opsmith-labs/opsmith-core/internal/parser"
)

// credentialRefPattern is the only acceptable shape for a credential
// reference: an opaque identifier, never secret material.
var credentialRefPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-.]*$`)

// inlineSecretPattern flags command or metadata text that looks like a
// literal secret rather than a reference. Matching is deliberately broad;
// a false positive is a renamed variable, a false negative is a leaked
// password in version control.
var inlineSecretPattern = regexp.MustCompile(`(?i)\b(password|passwd|secret|community|api[_-]?key|token)\b\s*[:=]\s*\S+`)

// commandPlaceholderPattern matches {{ name }} template references.
var commandPlaceholderPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// allowedPlaceholders are the device fields commands may template.
var allowedPlaceholders = map[string]struct{}{
	"hostname":      {},
	"management_ip": {},
}

// ValidatePack checks a pack structurally. It never contacts a device.
// All problems are collected and returned together as *ValidationErrors.
func ValidatePack(p *Pack) error {
	v := &ValidationErrors{Name: p.Metadata.Name}

	validateMetadata(v, p)
	validateExecution(v, p)
	validateErrorPolicy(v, p)
	validateCommands(v, p)
	validateRules(v, p)

	return v.orNil()
}

func validateMetadata(v *ValidationErrors, p *Pack) {
	if p.Metadata.Name == "" {
		v.add("metadata.name is required")
	}
	switch p.Metadata.Operation {
	case OperationRead, OperationWrite:
	case "":
		v.add("metadata.operation_type is required")
	default:
		v.add("metadata.operation_type %q is not read or write", p.Metadata.Operation)
	}

	// Fail closed: a state-changing pack that skips the ticket gate is a
	// configuration error, not a warning.
	if p.Metadata.Operation == OperationWrite && !p.Metadata.RequiresTicket {
		v.add("write pack must declare requires_ticket: true")
	}
}

func validateExecution(v *ValidationErrors, p *Pack) {
	if p.Execution.TimeoutSeconds < 0 {
		v.add("execution.timeout_seconds must not be negative")
	}
	if p.Execution.RetryCount < 0 {
		v.add("execution.retry_count must not be negative")
	}
	if p.Execution.RetryDelaySeconds < 0 {
		v.add("execution.retry_delay_seconds must not be negative")
	}
}

func validateErrorPolicy(v *ValidationErrors, p *Pack) {
	switch p.ErrorPolicy.OnConnectionFailure {
	case ActionRetry, ActionFail, "":
	case ActionContinue:
		v.add("error_policy.on_connection_failure cannot be continue (no session to continue on)")
	default:
		v.add("error_policy.on_connection_failure %q is not retry or fail", p.ErrorPolicy.OnConnectionFailure)
	}

	switch p.ErrorPolicy.OnCommandFailure {
	case ActionRetry, ActionFail, ActionContinue, "":
	default:
		v.add("error_policy.on_command_failure %q is not retry, fail, or continue", p.ErrorPolicy.OnCommandFailure)
	}
}

func validateCommands(v *ValidationErrors, p *Pack) {
	if len(p.Commands) == 0 {
		v.add("pack must declare at least one command")
	}

	seen := make(map[string]struct{}, len(p.Commands))
	for i, cmd := range p.Commands {
		label := cmd.Name
		if label == "" {
			v.add("commands[%d]: name is required", i)
			label = "?"
		}
		if _, dup := seen[cmd.Name]; dup && cmd.Name != "" {
			v.add("commands[%d]: duplicate name %q", i, cmd.Name)
		}
		seen[cmd.Name] = struct{}{}

		if cmd.Command == "" {
			v.add("command %q: command text is required", label)
		}
		if !parser.Known(cmd.Parser) {
			v.add("command %q: unknown parser %q", label, cmd.Parser)
		} else if parser.NeedsPattern(cmd.Parser) {
			if err := parser.CompilePattern(cmd.Pattern); err != nil {
				v.add("command %q: %v", label, err)
			}
		}
		if cmd.TimeoutSeconds < 0 {
			v.add("command %q: timeout_seconds must not be negative", label)
		}

		validateCommandText(v, label, cmd.Command)
	}
}

// validateCommandText rejects inline secrets and unknown placeholders.
func validateCommandText(v *ValidationErrors, label, text string) {
	if inlineSecretPattern.MatchString(text) {
		v.add("command %q: contains material resembling an inline secret; use a credential reference", label)
	}

	for _, m := range commandPlaceholderPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := allowedPlaceholders[m[1]]; !ok {
			v.add("command %q: unknown placeholder {{ %s }}", label, m[1])
		}
	}
}

func validateRules(v *ValidationErrors, p *Pack) {
	for i, rule := range p.Validations {
		label := rule.Name
		if label == "" {
			v.add("validations[%d]: name is required", i)
			label = "?"
		}
		if rule.Field == "" {
			v.add("validation %q: field is required", label)
		}
		if !parser.ValidSeverity(rule.Severity) {
			v.add("validation %q: severity %q is not warning or critical", label, rule.Severity)
		}
		if !parser.ValidCondition(rule.Condition) {
			v.add("validation %q: condition %q is not a recognised comparison", label, rule.Condition)
		}
	}
}

// ValidateCredentialRef checks that a reference is an opaque identifier.
// Anything that looks like literal secret material is rejected.
func ValidateCredentialRef(ref string) bool {
	if ref == "" {
		return false
	}
	if strings.ContainsAny(ref, " \t") {
		return false
	}
	return credentialRefPattern.MatchString(strings.ToLower(ref))
}

// ValidateRecipe checks a recipe structurally against the packs it
// references. The packs map is the already-validated pack library.
func ValidateRecipe(r *Recipe, packs map[string]*Pack) error {
	v := &ValidationErrors{Name: r.Name}

	if r.Name == "" {
		v.add("recipe name is required")
	}
	if len(r.Steps) == 0 {
		v.add("recipe must declare at least one step")
	}

	for i, step := range r.Steps {
		label := step.Name
		if label == "" {
			label = step.Pack
		}
		if step.Pack == "" {
			v.add("steps[%d]: pack reference is required", i)
			continue
		}
		if _, ok := packs[step.Pack]; !ok {
			v.add("step %q: references undefined pack %q", label, step.Pack)
		}
		switch step.OnFailure {
		case StepContinue, StepStop, "":
		default:
			v.add("step %q: on_failure %q is not continue or stop", label, step.OnFailure)
		}
		if step.Selector == nil && r.Selector.IsZero() {
			v.add("step %q: no selector and recipe has no default selector", label)
		}
	}

	return v.orNil()
}
