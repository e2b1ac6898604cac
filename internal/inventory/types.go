package inventory

import (
	"sort"
	"strings"
)

// Unset marks a canonical field the source could not provide. It is
// distinct from the empty string so a blank CMDB value is never mistaken
// for "field absent".
const Unset = "(unset)"

// Device is the canonical device record produced by an inventory query.
//
// Devices are transient: they are built per query, never mutated, and never
// persisted by the core. Persistence, if any, belongs to the adapter's
// backing source.
type Device struct {
	// Identity
	Hostname     string `yaml:"hostname" json:"hostname"`
	ManagementIP string `yaml:"management_ip" json:"management_ip"`

	// Classification
	Type     string `yaml:"device_type" json:"device_type"`
	Role     string `yaml:"device_role" json:"device_role"`
	Vendor   string `yaml:"vendor" json:"vendor"`
	Platform string `yaml:"platform" json:"platform"`

	// Locality
	Site string `yaml:"site" json:"site"`

	// Free-form tags (normalised: lowercase, deduplicated, sorted)
	Tags []string `yaml:"tags" json:"tags"`

	// CredentialRef is an opaque reference into the external secret store.
	// It must resolve to exactly one credential at execution time.
	CredentialRef string `yaml:"credential_ref" json:"credential_ref"`

	// Extra holds vendor-specific properties that have no canonical field.
	// Unknown source columns land here rather than being dropped.
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// HasTag reports whether the device carries the given tag.
// Comparison is case-insensitive.
func (d Device) HasTag(tag string) bool {
	want := normaliseTag(tag)
	for _, t := range d.Tags {
		if t == want {
			return true
		}
	}
	return false
}

// Filter is a conjunctive device predicate: every field equality and every
// tag membership must hold for a device to match.
type Filter struct {
	// Fields maps canonical field names to required values.
	// Supported names: hostname, management_ip, device_type, device_role,
	// vendor, platform, site.
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`

	// Tags the device must carry (all of them).
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Selector identifies a target device set: either a named group defined by
// the inventory source, or an inline filter. Exactly one should be set;
// when both are present the group takes precedence.
type Selector struct {
	Group  string  `yaml:"group,omitempty" json:"group,omitempty"`
	Filter *Filter `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// IsZero reports whether the selector selects nothing at all
// (no group and no filter).
func (s Selector) IsZero() bool {
	return s.Group == "" && s.Filter == nil
}

// Key returns a deterministic cache key for the selector. Field and tag
// ordering does not affect the key.
func (s Selector) Key() string {
	if s.Group != "" {
		return "group=" + s.Group
	}
	if s.Filter == nil {
		return "all"
	}

	parts := make([]string, 0, len(s.Filter.Fields)+len(s.Filter.Tags))
	for k, v := range s.Filter.Fields {
		parts = append(parts, k+"="+v)
	}
	for _, t := range s.Filter.Tags {
		parts = append(parts, "tag="+normaliseTag(t))
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// Matches reports whether the device satisfies the filter.
// A nil filter matches every device.
func (f *Filter) Matches(d Device) bool {
	if f == nil {
		return true
	}

	for field, want := range f.Fields {
		if fieldValue(d, field) != want {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !d.HasTag(tag) {
			return false
		}
	}
	return true
}

// fieldValue returns the canonical field value by name, or Unset for
// unknown field names so a bad filter never silently matches.
func fieldValue(d Device, field string) string {
	switch field {
	case "hostname":
		return d.Hostname
	case "management_ip":
		return d.ManagementIP
	case "device_type":
		return d.Type
	case "device_role":
		return d.Role
	case "vendor":
		return d.Vendor
	case "platform":
		return d.Platform
	case "site":
		return d.Site
	default:
		return Unset
	}
}

// sortDevices orders devices by hostname for reproducible results.
func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Hostname < devices[j].Hostname
	})
}

// dedupeDevices removes duplicate hostnames, keeping the first occurrence.
func dedupeDevices(devices []Device) []Device {
	seen := make(map[string]struct{}, len(devices))
	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if _, ok := seen[d.Hostname]; ok {
			continue
		}
		seen[d.Hostname] = struct{}{}
		result = append(result, d)
	}
	return result
}

// normaliseTag trims whitespace and lowercases a tag value.
func normaliseTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// normaliseTags normalises, deduplicates, and sorts a tag slice.
func normaliseTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))
	var normalised []string
	for _, tag := range tags {
		n := normaliseTag(tag)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalised = append(normalised, n)
	}

	sort.Strings(normalised)
	return normalised
}
