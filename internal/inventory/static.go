package inventory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Adapter is the inventory query contract shared by the static and remote
// adapters.
//
// Query resolves a selector into an ordered, deduplicated device set. An
// empty result is valid, not an error; the caller decides what "no targets"
// means. Groups returns the named group selectors the source defines.
type Adapter interface {
	Query(ctx context.Context, sel Selector) ([]Device, error)
	Groups(ctx context.Context) (map[string]Selector, error)
}

// snapshot is the on-disk shape of a static inventory file.
type snapshot struct {
	Devices []Device            `yaml:"devices"`
	Groups  map[string]Selector `yaml:"groups"`
}

// StaticAdapter serves inventory queries from an in-memory snapshot loaded
// once at startup. The snapshot is never refreshed; restart to pick up
// changes.
type StaticAdapter struct {
	devices []Device
	groups  map[string]Selector
}

// LoadStatic reads a YAML inventory snapshot from disk and builds a
// StaticAdapter. Devices missing a hostname or credential reference are
// rejected, since neither can be defaulted safely.
func LoadStatic(path string) (*StaticAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory snapshot: %w", err)
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrSnapshotInvalid, path, err)
	}

	return NewStatic(snap.Devices, snap.Groups)
}

// NewStatic builds a StaticAdapter from an already-parsed device list and
// group map. Tags are normalised and missing canonical fields are marked
// Unset so the static source meets the same contract as the remote one.
func NewStatic(devices []Device, groups map[string]Selector) (*StaticAdapter, error) {
	prepared := make([]Device, 0, len(devices))
	for i, d := range devices {
		if d.Hostname == "" {
			return nil, fmt.Errorf("%w: device[%d] has no hostname", ErrSnapshotInvalid, i)
		}
		if d.CredentialRef == "" {
			return nil, fmt.Errorf("%w: device %q has no credential_ref", ErrSnapshotInvalid, d.Hostname)
		}
		prepared = append(prepared, canonicalise(d))
	}

	if groups == nil {
		groups = map[string]Selector{}
	}

	return &StaticAdapter{devices: prepared, groups: groups}, nil
}

// Query resolves a selector against the snapshot.
func (a *StaticAdapter) Query(ctx context.Context, sel Selector) ([]Device, error) {
	filter, err := a.resolveFilter(sel)
	if err != nil {
		return nil, err
	}

	var matched []Device
	for _, d := range a.devices {
		if filter.Matches(d) {
			matched = append(matched, d)
		}
	}

	matched = dedupeDevices(matched)
	sortDevices(matched)
	return matched, ctx.Err()
}

// Groups returns the group selectors defined in the snapshot.
func (a *StaticAdapter) Groups(_ context.Context) (map[string]Selector, error) {
	out := make(map[string]Selector, len(a.groups))
	for name, sel := range a.groups {
		out[name] = sel
	}
	return out, nil
}

// resolveFilter expands a group selector into its underlying filter.
func (a *StaticAdapter) resolveFilter(sel Selector) (*Filter, error) {
	if sel.Group == "" {
		return sel.Filter, nil
	}

	group, ok := a.groups[sel.Group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGroupNotFound, sel.Group)
	}
	// Groups may not reference other groups; one level only.
	return group.Filter, nil
}

// canonicalise fills Unset markers and normalises tags for a device from
// any source.
func canonicalise(d Device) Device {
	if d.ManagementIP == "" {
		d.ManagementIP = Unset
	}
	if d.Type == "" {
		d.Type = Unset
	}
	if d.Role == "" {
		d.Role = Unset
	}
	if d.Vendor == "" {
		d.Vendor = Unset
	}
	if d.Platform == "" {
		d.Platform = Unset
	}
	if d.Site == "" {
		d.Site = Unset
	}
	d.Tags = normaliseTags(d.Tags)
	return d
}
