// Package inventory provides device inventory access for Opsmith Core.
//
// The inventory is the source of truth for which devices exist and how they
// are addressed. Two adapters share the same contract:
//
//   - StaticAdapter: an in-memory snapshot loaded once from a YAML file,
//     suited to small estates and testing.
//   - RemoteAdapter: a live CMDB query client with per-selector caching,
//     schema normalisation, and TTL-based refresh.
//
// # Key Types
//
//   - Device: the canonical device record (hostname, management IP,
//     classification, tags, credential reference, metadata bag)
//   - Selector: a device-group name or a conjunctive field/tag filter
//   - Adapter: the query contract shared by both adapters
//
// All canonical normalisation happens here. Downstream components (policy,
// runner, orchestrator) only ever see the canonical Device shape; missing
// fields carry the explicit Unset marker so they are never confused with
// real empty values.
//
// # Thread Safety
//
// Both adapters are safe for concurrent use. The RemoteAdapter cache is
// refreshed copy-on-write, so concurrent queries never observe a partially
// updated entry.
package inventory
