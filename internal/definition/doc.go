// Package definition models and loads automation packs and recipes.
//
// A pack is a single automation unit: an ordered command sequence, a
// parser per command, validation rules over the parsed output, and an
// error policy. A recipe sequences packs into a multi-step workflow.
//
// Loading is strictly structural: the loader parses YAML, validates every
// invariant it can check without touching a device, and either returns an
// immutable definition or a *ValidationErrors carrying every problem found.
// The load-time invariants are the safety-critical ones:
//
//   - a write pack must declare requires_ticket: true (fail closed)
//   - every command's parser identifier must be registered
//   - regex parsers must carry a compilable named-group pattern
//   - no definition may contain material resembling an inline secret
//
// Validation errors are collected, not short-circuited, so an author sees
// the complete remediation list in one pass.
package definition
