package report

import (
	"fmt"
	"strings"

	"github.com/opsmith-labs/opsmith-core/internal/runner"
)

// Markdown renders the report as a human-readable summary suitable for
// pasting into a change ticket or chat channel.
func Markdown(rpt *RecipeReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Execution Report: %s\n\n", rpt.Recipe)
	fmt.Fprintf(&b, "- **Overall:** %s\n", rpt.Overall)
	fmt.Fprintf(&b, "- **Generated:** %s\n", rpt.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Devices:** %d passed, %d warning, %d critical\n",
		rpt.Summary.DevicesPassed, rpt.Summary.DevicesWarning, rpt.Summary.DevicesCritical)
	if rpt.Summary.StepsSkipped > 0 {
		fmt.Fprintf(&b, "- **Steps skipped:** %d\n", rpt.Summary.StepsSkipped)
	}
	b.WriteString("\n")

	for _, step := range rpt.Steps {
		fmt.Fprintf(&b, "## %s (%s)\n\n", step.Name, step.Pack)
		if step.Skipped {
			b.WriteString("Skipped: an earlier step failed.\n\n")
			continue
		}
		if len(step.Devices) == 0 {
			b.WriteString("No matching devices.\n\n")
			continue
		}

		b.WriteString("| Device | Status | Detail |\n")
		b.WriteString("|--------|--------|--------|\n")
		for _, device := range step.Devices {
			fmt.Fprintf(&b, "| %s | %s | %s |\n",
				device.Hostname, DeviceStatus(device), deviceDetail(device))
		}
		b.WriteString("\n")
	}

	if len(rpt.Failures) > 0 {
		b.WriteString("## Triggered Failures\n\n")
		for _, f := range rpt.Failures {
			fmt.Fprintf(&b, "- [%s] %s / %s: %s\n", f.Severity, f.Device, f.Rule, f.Message)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// deviceDetail summarises a device row: the error for hard failures,
// failed validation counts otherwise.
func deviceDetail(d runner.DeviceResult) string {
	if d.Error != "" {
		return d.Error
	}
	failed := d.FailedValidations()
	if len(failed) == 0 {
		return fmt.Sprintf("%d commands ok", len(d.Commands))
	}
	names := make([]string, 0, len(failed))
	for _, o := range failed {
		names = append(names, o.Rule)
	}
	return "failed: " + strings.Join(names, ", ")
}
