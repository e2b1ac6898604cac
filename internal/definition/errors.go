package definition

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the definition package.
var (
	// ErrPackNotFound is returned when a pack name is not in the library.
	ErrPackNotFound = errors.New("definition: pack not found")

	// ErrRecipeNotFound is returned when a recipe name is not in the library.
	ErrRecipeNotFound = errors.New("definition: recipe not found")

	// ErrInvalid is the sentinel wrapped by ValidationErrors.
	ErrInvalid = errors.New("definition: invalid")
)

// ValidationErrors collects every structural problem found in a definition
// so authors see the complete remediation list in one pass, not just the
// first failure.
type ValidationErrors struct {
	// Name identifies the offending pack or recipe.
	Name string

	// Problems are the individual validation failures, in discovery order.
	Problems []string
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("definition %q invalid: %s", v.Name, strings.Join(v.Problems, "; "))
}

// Unwrap lets errors.Is(err, ErrInvalid) match.
func (v *ValidationErrors) Unwrap() error {
	return ErrInvalid
}

// add records a problem.
func (v *ValidationErrors) add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

// orNil returns the error when problems were found, nil otherwise.
func (v *ValidationErrors) orNil() error {
	if len(v.Problems) == 0 {
		return nil
	}
	return v
}
