// Package credential resolves opaque credential references against an
// external secret store.
//
// Definitions and device records only ever carry references; the secret
// material itself lives behind the Resolver and is handed to the transport
// for the lifetime of a single session. Credentials are never logged,
// never serialised into reports, and never cached by the core.
package credential

import (
	"context"
	"errors"
)

// Domain errors for the credential package.
var (
	// ErrNotFound is returned when a credential reference is absent from
	// the backing store.
	ErrNotFound = errors.New("credential: not found")

	// ErrAccessDenied is returned when the caller lacks rights to read
	// the referenced credential.
	ErrAccessDenied = errors.New("credential: access denied")
)

// Credential is an opaque secret handle. The zero value is unusable.
//
// String and the JSON/YAML marshallers deliberately redact the material so
// a credential can never leak through logging or report serialisation.
type Credential struct {
	// Username is not secret and may appear in session logs.
	Username string

	secret string
}

// New builds a credential from resolved secret material.
func New(username, secret string) Credential {
	return Credential{Username: username, secret: secret}
}

// Secret returns the secret material. Callers must pass it straight to the
// transport and drop it; holding onto it defeats the no-caching rule.
func (c Credential) Secret() string {
	return c.secret
}

// IsZero reports whether the credential carries no material.
func (c Credential) IsZero() bool {
	return c.Username == "" && c.secret == ""
}

// String implements fmt.Stringer with the secret redacted.
func (c Credential) String() string {
	return "credential(" + c.Username + ", ***)"
}

// MarshalJSON redacts the credential entirely.
func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"***"`), nil
}

// Resolver resolves a credential reference into secret material.
//
// Implementations must return ErrNotFound for absent references and
// ErrAccessDenied when the caller lacks rights, so the runner can report
// the distinction per device.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Credential, error)
}

// StaticResolver is an in-memory Resolver backed by a reference map.
// It backs local deployments and tests; production deployments wrap the
// real secret store behind the same interface.
type StaticResolver struct {
	creds map[string]Credential
}

// NewStaticResolver builds a resolver over a fixed reference map.
func NewStaticResolver(creds map[string]Credential) *StaticResolver {
	if creds == nil {
		creds = map[string]Credential{}
	}
	return &StaticResolver{creds: creds}
}

// Resolve looks up a credential reference.
func (r *StaticResolver) Resolve(_ context.Context, ref string) (Credential, error) {
	cred, ok := r.creds[ref]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}
