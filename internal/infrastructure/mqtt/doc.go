// Package mqtt connects the scan service to the site MQTT broker.
//
// Two flows use the broker:
//
//   - Outbound: every temporary-resource event (created, progress,
//     finished, removed) is published as JSON to
//     graylogic/core/resource/{type}/{id} by ResourcePublisher, which
//     plugs into the resource registry as a notifier.
//   - Inbound: data-source runtimes publish their state on
//     graylogic/health/datasource/{xid}; DataSourceHealthHandler feeds it
//     to the data-source registry so scans refuse to contend with a
//     running poller.
//
// The Client publishes a retained online status on every connect and sets
// a Last Will so subscribers see "offline" if the process dies.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewResourcePublisher(client, client.QoS(), 0)
//	defer pub.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDataSourceHealth(), 1,
//	    mqtt.DataSourceHealthHandler(sources.SetRunning))
package mqtt
