package mbus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// DeviceScanResult describes one slave found by a scan.
type DeviceScanResult struct {
	PrimaryAddress   int    `json:"primary_address"`
	SecondaryAddress string `json:"secondary_address,omitempty"`
	ID               string `json:"id,omitempty"`
	Manufacturer     string `json:"manufacturer,omitempty"`
	Version          int    `json:"version"`
	Medium           string `json:"medium,omitempty"`
	MediumCode       int    `json:"medium_code"`
	AccessNumber     int    `json:"access_number"`
	Status           int    `json:"status"`
	HeaderKnown      bool   `json:"header_known"`
}

// DeviceFromFrame builds a scan result from an RSP_UD frame. Responses
// without the fixed header only carry the primary address.
func DeviceFromFrame(f Frame) (DeviceScanResult, error) {
	if !f.IsUserDataResponse() {
		return DeviceScanResult{}, fmt.Errorf("%w: not a user data response", ErrUnexpectedFrame)
	}

	d := DeviceScanResult{PrimaryAddress: int(f.Address)}
	if f.CI != CIRspVariable {
		return d, nil
	}

	h, err := ParseFixedHeader(f.Data)
	if err != nil {
		return DeviceScanResult{}, err
	}
	d.HeaderKnown = true
	d.SecondaryAddress = h.SecondaryAddress()
	d.ID = fmt.Sprintf("%08d", h.ID)
	d.Manufacturer = h.Manufacturer
	d.Version = int(h.Version)
	d.Medium = MediumName(h.Medium)
	d.MediumCode = int(h.Medium)
	d.AccessNumber = int(h.AccessNumber)
	d.Status = int(h.Status)
	return d, nil
}

// ScanResult is the payload of an M-Bus scan resource.
type ScanResult struct {
	Devices []DeviceScanResult `json:"devices"`
}

// MarshalJSON renders a nil device list as [].
func (r ScanResult) MarshalJSON() ([]byte, error) {
	type plain ScanResult
	if r.Devices == nil {
		r.Devices = []DeviceScanResult{}
	}
	return json.Marshal(plain(r))
}

// DevicesFound returns the device count of a resource event snapshot, or
// 0 when the snapshot is not an M-Bus scan.
func DevicesFound(snapshot any) int {
	switch s := snapshot.(type) {
	case resource.Snapshot[ScanResult]:
		return len(s.Result.Devices)
	case *resource.Snapshot[ScanResult]:
		if s != nil {
			return len(s.Result.Devices)
		}
	}
	return 0
}

// DeviceList accumulates scan results. Appends copy the backing slice, so
// every slice handed out by Snapshot stays immutable and can be shared
// with readers without locking.
type DeviceList struct {
	mu      sync.Mutex
	devices []DeviceScanResult
}

// Append adds d and returns the new snapshot.
func (l *DeviceList) Append(d DeviceScanResult) []DeviceScanResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]DeviceScanResult, len(l.devices), len(l.devices)+1)
	copy(next, l.devices)
	l.devices = append(next, d)
	return l.devices
}

// Snapshot returns the current devices. Never nil.
func (l *DeviceList) Snapshot() []DeviceScanResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.devices == nil {
		return []DeviceScanResult{}
	}
	return l.devices
}

// Len returns the number of devices.
func (l *DeviceList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.devices)
}
