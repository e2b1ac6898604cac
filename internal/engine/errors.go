package engine

import "errors"

var (
	// ErrBadRequest marks a malformed execution request (no target named,
	// or both a pack and a recipe named).
	ErrBadRequest = errors.New("engine: bad request")

	// ErrNoTargets marks a request whose definition declares no selector
	// and whose request supplies none either.
	ErrNoTargets = errors.New("engine: no targets declared")

	// ErrDenied marks a request refused by the policy gate. The returned
	// Result carries the decision with the complete reason list.
	ErrDenied = errors.New("engine: denied by policy")
)
