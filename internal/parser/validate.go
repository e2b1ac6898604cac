package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity classifies how serious a failed validation is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether the severity value is recognised.
func ValidSeverity(s Severity) bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Rule is a single validation check over parsed fields.
type Rule struct {
	Name      string   `yaml:"name" json:"name"`
	Field     string   `yaml:"field" json:"field"`
	Condition string   `yaml:"condition" json:"condition"`
	Severity  Severity `yaml:"severity" json:"severity"`
	Message   string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// Outcome records the evaluation of one rule.
type Outcome struct {
	Rule     string   `json:"rule"`
	Field    string   `json:"field"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Condition grammars.
var (
	numericCondition = regexp.MustCompile(`^(<=|>=|==|!=|<|>|=)\s*(-?\d+\.?\d*)$`)
	stringCondition  = regexp.MustCompile(`^(==|!=|=)\s*['"](.*)['"]$`)
)

// ValidCondition reports whether a condition string is well formed.
// The definition validator uses this at load time.
func ValidCondition(condition string) bool {
	c := strings.TrimSpace(condition)
	if c == "present" || c == "absent" {
		return true
	}
	return numericCondition.MatchString(c) || stringCondition.MatchString(c)
}

// Validate evaluates rules against parsed fields, in rule order.
//
// A rule referencing a field the output did not produce fails with
// severity critical regardless of the rule's own severity: missing data
// is itself a detectable condition, not a crash.
func Validate(fields Fields, rules []Rule) []Outcome {
	outcomes := make([]Outcome, 0, len(rules))
	for _, rule := range rules {
		outcomes = append(outcomes, evaluate(fields, rule))
	}
	return outcomes
}

// evaluate runs a single rule.
func evaluate(fields Fields, rule Rule) Outcome {
	outcome := Outcome{
		Rule:     rule.Name,
		Field:    rule.Field,
		Expected: rule.Condition,
		Severity: rule.Severity,
	}

	actual, present := fields[rule.Field]
	condition := strings.TrimSpace(rule.Condition)

	// Presence checks evaluate before the missing-field escalation: for
	// them, absence is an answer rather than missing data.
	switch condition {
	case "present":
		outcome.Actual = actual
		outcome.Passed = present
		outcome.Message = resultMessage(rule, outcome.Passed, actual)
		return outcome
	case "absent":
		outcome.Actual = actual
		outcome.Passed = !present
		outcome.Message = resultMessage(rule, outcome.Passed, actual)
		return outcome
	}

	if !present {
		outcome.Actual = ""
		outcome.Passed = false
		outcome.Severity = SeverityCritical
		outcome.Message = fmt.Sprintf("field %q missing from parsed output", rule.Field)
		return outcome
	}

	outcome.Actual = actual
	outcome.Passed = evaluateCondition(actual, condition)
	outcome.Message = resultMessage(rule, outcome.Passed, actual)
	return outcome
}

// evaluateCondition applies a numeric or string comparison.
func evaluateCondition(actual, condition string) bool {
	if m := numericCondition.FindStringSubmatch(condition); m != nil {
		expected, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return false
		}
		value, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(actual), "%"), 64)
		if err != nil {
			return false
		}

		switch m[1] {
		case "<":
			return value < expected
		case "<=":
			return value <= expected
		case ">":
			return value > expected
		case ">=":
			return value >= expected
		case "==", "=":
			return value == expected
		case "!=":
			return value != expected
		}
		return false
	}

	if m := stringCondition.FindStringSubmatch(condition); m != nil {
		switch m[1] {
		case "==", "=":
			return actual == m[2]
		case "!=":
			return actual != m[2]
		}
	}

	return false
}

// resultMessage builds the outcome message, preferring the rule's own.
func resultMessage(rule Rule, passed bool, actual string) string {
	if rule.Message != "" {
		return rule.Message
	}
	status := "PASS"
	if !passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%s: %s %s (actual: %s)", status, rule.Field, rule.Condition, actual)
}
