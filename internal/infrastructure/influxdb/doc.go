// Package influxdb writes scan telemetry to InfluxDB 2.x.
//
// Each finished scan becomes one point in the mbus_scan measurement,
// tagged with the scan type and terminal status and carrying the number of
// devices found and the run time. ScanRecorder plugs into the resource
// registry as a notifier so no scan code has to know about telemetry.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // telemetry off
//	case err != nil:
//	    return err
//	}
//	defer client.Close()
//
//	recorder := influxdb.NewScanRecorder(client, mbus.DevicesFound)
package influxdb
