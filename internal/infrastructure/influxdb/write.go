package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementScan is the measurement scan results are written to.
const MeasurementScan = "mbus_scan"

// ScanMetric is one finished scan.
type ScanMetric struct {
	ScanType     string // resource type, e.g. "MBUS"
	Status       string // terminal status
	DevicesFound int
	Duration     time.Duration
	FinishedAt   time.Time
}

// WriteScanMetric records a finished scan. Non-blocking; dropped silently
// when the client is not connected.
//
// Tags: scan_type, status. Fields: devices_found, duration_ms.
func (c *Client) WriteScanMetric(m ScanMetric) {
	if !c.IsConnected() {
		return
	}

	ts := m.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementScan,
		map[string]string{
			"scan_type": m.ScanType,
			"status":    m.Status,
		},
		map[string]interface{}{
			"devices_found": m.DevicesFound,
			"duration_ms":   m.Duration.Milliseconds(),
		},
		ts,
	))
}

// WritePoint writes an arbitrary point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
