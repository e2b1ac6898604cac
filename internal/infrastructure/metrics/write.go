package metrics

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/opsmith-labs/opsmith-core/internal/report"
	"github.com/opsmith-labs/opsmith-core/internal/runner"
)

// WriteReport records one finished execution: a summary point plus one
// point per device.
//
// Writes are non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - rpt: The aggregated execution report
func (c *Client) WriteReport(rpt *report.RecipeReport) {
	if !c.IsConnected() {
		return
	}

	summary := write.NewPoint(
		"execution",
		map[string]string{
			"recipe":  rpt.Recipe,
			"overall": string(rpt.Overall),
		},
		map[string]interface{}{
			"devices_passed":   rpt.Summary.DevicesPassed,
			"devices_warning":  rpt.Summary.DevicesWarning,
			"devices_critical": rpt.Summary.DevicesCritical,
			"steps_skipped":    rpt.Summary.StepsSkipped,
		},
		rpt.GeneratedAt,
	)
	c.writeAPI.WritePoint(summary)

	for _, step := range rpt.Steps {
		if step.Skipped {
			continue
		}
		for _, device := range step.Devices {
			c.writeDevicePoint(rpt.Recipe, step.Name, device)
		}
	}
}

// writeDevicePoint records one device's outcome within a step.
func (c *Client) writeDevicePoint(recipe, step string, device runner.DeviceResult) {
	point := write.NewPoint(
		"execution_device",
		map[string]string{
			"recipe":   recipe,
			"step":     step,
			"hostname": device.Hostname,
			"status":   string(device.Status),
		},
		map[string]interface{}{
			"attempts":           device.Attempts,
			"duration_ms":        device.CompletedAt.Sub(device.StartedAt).Milliseconds(),
			"failed_validations": len(device.FailedValidations()),
		},
		device.CompletedAt,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Example:
//
//	client.WritePoint("inventory_cache",
//	    map[string]string{"selector": "core-switches"},
//	    map[string]interface{}{"devices": 42, "stale": false})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
