package influxdb

import (
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// ScanWriter accepts finished-scan metrics. *Client implements it.
type ScanWriter interface {
	WriteScanMetric(m ScanMetric)
}

// ScanRecorder is a resource.Notifier that writes one ScanMetric per
// resource reaching a terminal status. Other events are ignored.
type ScanRecorder struct {
	w       ScanWriter
	devices func(snapshot any) int
}

// NewScanRecorder returns a recorder writing to w. devices extracts the
// number of discovered devices from an event snapshot; nil counts zero.
func NewScanRecorder(w ScanWriter, devices func(snapshot any) int) *ScanRecorder {
	return &ScanRecorder{w: w, devices: devices}
}

// Notify implements resource.Notifier.
func (r *ScanRecorder) Notify(e resource.Event) {
	if e.Kind != resource.EventFinished || e.CompletedAt.IsZero() {
		return
	}

	n := 0
	if r.devices != nil {
		n = r.devices(e.Snapshot)
	}

	r.w.WriteScanMetric(ScanMetric{
		ScanType:     e.ResourceType,
		Status:       string(e.Status),
		DevicesFound: n,
		Duration:     e.CompletedAt.Sub(e.CreatedAt),
		FinishedAt:   e.CompletedAt,
	})
}
