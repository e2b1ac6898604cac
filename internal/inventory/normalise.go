package inventory

import "strings"

// Canonical record keys recognised by NormaliseRecord. CMDB exports vary
// in casing and naming, so several aliases map to each canonical field.
var canonicalKeys = map[string]string{
	"hostname":       "hostname",
	"caption":        "hostname",
	"name":           "hostname",
	"management_ip":  "management_ip",
	"ipaddress":      "management_ip",
	"ip":             "management_ip",
	"device_type":    "device_type",
	"machinetype":    "machine_type", // kept in Extra; type is inferred
	"device_role":    "device_role",
	"devicerole":     "device_role",
	"vendor":         "vendor",
	"platform":       "platform",
	"site":           "site",
	"location":       "site",
	"tags":           "tags",
	"credential_ref": "credential_ref",
	"credentialref":  "credential_ref",
}

// vendorMap normalises vendor display names to canonical lowercase names.
var vendorMap = map[string]string{
	"cisco systems":    "cisco",
	"cisco":            "cisco",
	"arista networks":  "arista",
	"arista":           "arista",
	"juniper networks": "juniper",
	"juniper":          "juniper",
	"hp":               "hp",
	"dell":             "dell",
}

// platformMap normalises platform identifiers to canonical lowercase names.
var platformMap = map[string]string{
	"ios":    "ios",
	"ios-xe": "ios-xe",
	"ios xe": "ios-xe",
	"nx-os":  "nxos",
	"nxos":   "nxos",
	"asa":    "asa",
	"junos":  "junos",
	"eos":    "eos",
}

// NormaliseRecord maps a raw CMDB record into the canonical Device shape.
//
// Known keys (case-insensitive) populate canonical fields; everything else
// is preserved in the Extra bag so schema drift never loses data. Canonical
// fields the record does not provide are set to Unset.
func NormaliseRecord(record map[string]any) Device {
	d := Device{
		ManagementIP: Unset,
		Type:         Unset,
		Role:         Unset,
		Vendor:       Unset,
		Platform:     Unset,
		Site:         Unset,
	}
	extra := make(map[string]any)

	for key, value := range record {
		canonical, known := canonicalKeys[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			extra[key] = value
			continue
		}

		switch canonical {
		case "hostname":
			d.Hostname = asString(value)
		case "management_ip":
			setIfPresent(&d.ManagementIP, value)
		case "device_type":
			setIfPresent(&d.Type, value)
		case "device_role":
			setIfPresent(&d.Role, value)
		case "vendor":
			if v := asString(value); v != "" {
				d.Vendor = normaliseVendor(v)
			}
		case "platform":
			if v := asString(value); v != "" {
				d.Platform = normalisePlatform(v)
			}
		case "site":
			setIfPresent(&d.Site, value)
		case "tags":
			d.Tags = parseTags(value)
		case "credential_ref":
			d.CredentialRef = asString(value)
		default:
			// Alias recognised but intentionally kept out of the canonical
			// shape (e.g. machine_type feeds inference only).
			extra[canonical] = value
		}
	}

	if d.Type == Unset {
		if inferred := inferType(d.Role, asString(extra["machine_type"])); inferred != "" {
			d.Type = inferred
		}
	}
	if len(extra) > 0 {
		d.Extra = extra
	}
	return d
}

// normaliseVendor maps a vendor display name to its canonical form,
// falling back to lowercase.
func normaliseVendor(vendor string) string {
	if v, ok := vendorMap[strings.ToLower(strings.TrimSpace(vendor))]; ok {
		return v
	}
	return strings.ToLower(strings.TrimSpace(vendor))
}

// normalisePlatform maps a platform identifier to its canonical form,
// falling back to lowercase.
func normalisePlatform(platform string) string {
	if p, ok := platformMap[strings.ToLower(strings.TrimSpace(platform))]; ok {
		return p
	}
	return strings.ToLower(strings.TrimSpace(platform))
}

// inferType derives a device type from role or machine type hints.
func inferType(role, machineType string) string {
	r := strings.ToLower(role)
	m := strings.ToLower(machineType)

	switch {
	case strings.Contains(r, "router") || strings.Contains(r, "rtr"):
		return "router"
	case strings.Contains(r, "switch") || strings.Contains(r, "sw"):
		return "switch"
	case strings.Contains(r, "firewall") || strings.Contains(r, "fw") || strings.Contains(m, "asa"):
		return "firewall"
	case strings.Contains(m, "router"):
		return "router"
	case strings.Contains(m, "switch"):
		return "switch"
	default:
		return ""
	}
}

// parseTags accepts either a comma-separated string or a list value.
func parseTags(value any) []string {
	switch v := value.(type) {
	case string:
		return normaliseTags(strings.Split(v, ","))
	case []string:
		return normaliseTags(v)
	case []any:
		tags := make([]string, 0, len(v))
		for _, item := range v {
			tags = append(tags, asString(item))
		}
		return normaliseTags(tags)
	default:
		return nil
	}
}

// setIfPresent overwrites the target only when the value is a non-empty
// string, preserving the Unset marker otherwise.
func setIfPresent(target *string, value any) {
	if s := asString(value); s != "" {
		*target = s
	}
}

// asString converts a record value to a trimmed string, or "" when it is
// nil or not a string.
func asString(value any) string {
	s, _ := value.(string)
	return strings.TrimSpace(s)
}
