// Package engine is the single entry point for executing packs and
// recipes.
//
// Architecture:
//
//	Request ──▶ Engine.Execute
//	              │
//	              ├─ definition.Library   (what to run)
//	              ├─ inventory.Adapter    (where to run it)
//	              ├─ policy.Engine        (whether it may run)
//	              ├─ runner.Runner        (run it, bounded concurrency)
//	              └─ report.Aggregate     (one artifact per request)
//
// The engine owns sequencing and gating. Every request is classified
// and gated before any device session opens: a denied write produces a
// decision with the full reason list and zero device contact. Recipe
// steps execute strictly in order; a failed step at or above the
// configured stop severity marks the remaining steps skipped when its
// on_failure policy says stop.
package engine
