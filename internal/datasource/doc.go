// Package datasource manages the configured acquisition data sources and
// their runtime state.
//
// Configuration (XID, name, type, enabled flag, driver config) lives in
// SQLite. Whether a source is currently polling is runtime state reported
// by the acquisition runtime over MQTT and held only in memory. A scan that
// names a data source is refused while that source is running, so the
// scan does not fight the poller for the bus.
package datasource
