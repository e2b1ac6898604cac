// Package parser turns raw command output into structured fields and
// evaluates validation rules against them.
//
// Parsing and validation are pure functions: deterministic, no I/O, no
// side effects. Unknown parser identifiers are rejected by the definition
// validator at load time, so Parse treats one at runtime as a programming
// error rather than a user error.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Parser identifiers.
const (
	ParserRaw      = "raw"
	ParserKeyValue = "key_value"
	ParserRegex    = "regex"
	ParserTable    = "table"
)

// ErrParse is returned when output cannot be parsed by the requested
// parser (for example, a regex pattern that matches nothing). Callers
// record it as a parse_failed outcome, not an engine failure.
var ErrParse = errors.New("parser: parse failed")

// Fields is the structured result of parsing one command's output.
type Fields map[string]string

// Known reports whether the parser identifier is registered.
// The definition validator uses this at load time.
func Known(id string) bool {
	switch id {
	case ParserRaw, ParserKeyValue, ParserRegex, ParserTable:
		return true
	default:
		return false
	}
}

// NeedsPattern reports whether the parser requires a pattern argument.
func NeedsPattern(id string) bool {
	return id == ParserRegex
}

// CompilePattern validates a regex parser pattern. The definition
// validator calls this so malformed patterns fail at load time.
func CompilePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex parser requires a pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling pattern: %w", err)
	}
	named := 0
	for _, name := range re.SubexpNames() {
		if name != "" {
			named++
		}
	}
	if named == 0 {
		return fmt.Errorf("pattern has no named capture groups")
	}
	return nil
}

// Parse parses raw command output with the identified parser.
//
// The pattern argument is only consulted by the regex parser. Parsing is
// deterministic: the same input always yields the same fields.
func Parse(id, pattern, raw string) (Fields, error) {
	switch id {
	case ParserRaw:
		return Fields{"raw": raw}, nil
	case ParserKeyValue:
		return parseKeyValue(raw), nil
	case ParserRegex:
		return parseRegex(pattern, raw)
	case ParserTable:
		return parseTable(raw)
	default:
		return nil, fmt.Errorf("unknown parser %q (definition validation should have caught this)", id)
	}
}

// parseKeyValue extracts "key: value" and "key = value" lines.
// Keys are snake_cased; later duplicates win.
func parseKeyValue(raw string) Fields {
	fields := make(Fields)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}

		key := snakeCase(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if key == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

// parseRegex applies a pattern with named capture groups.
func parseRegex(pattern, raw string) (Fields, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern: %v", ErrParse, err)
	}

	match := re.FindStringSubmatch(raw)
	if match == nil {
		return nil, fmt.Errorf("%w: pattern matched nothing", ErrParse)
	}

	fields := make(Fields)
	for i, name := range re.SubexpNames() {
		if name == "" || i >= len(match) {
			continue
		}
		fields[name] = match[i]
	}
	return fields, nil
}

// parseTable parses whitespace-aligned tabular output: the first non-empty
// line is the header, subsequent lines are rows. The first data row's
// cells become fields keyed by snake_cased column name, and row_count
// carries the total row count. Suited to single-row summaries; multi-row
// detail belongs to purpose-built regex patterns.
func parseTable(raw string) (Fields, error) {
	var header []string
	fields := make(Fields)
	rows := 0

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cells := strings.Fields(line)

		if header == nil {
			header = cells
			continue
		}

		rows++
		if rows == 1 {
			for i, col := range header {
				if i >= len(cells) {
					break
				}
				fields[snakeCase(col)] = cells[i]
			}
		}
	}

	if header == nil {
		return nil, fmt.Errorf("%w: no header line", ErrParse)
	}
	fields["row_count"] = fmt.Sprintf("%d", rows)
	return fields, nil
}

// snakeCase lowercases and replaces separators for use as a field key.
func snakeCase(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
