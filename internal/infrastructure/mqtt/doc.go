// Package mqtt provides MQTT client connectivity for the benchline station.
//
// This package manages:
//   - Connection to the plant broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The station publishes its live state onto the plant MQTT bus so
// dashboards and the line controller can follow a run without polling
// the HTTP API:
//
//	benchline station → MQTT broker → dashboards / line controller
//
// Per-board status is published retained, so a dashboard that connects
// mid-run immediately renders the current grid. Cycle lifecycle events
// are plain (non-retained) messages. When mqtt.commands is enabled the
// station also subscribes to its command topics and a line controller
// can start, cancel, and retry cycles remotely.
//
// # Security Considerations
//
//   - TLS is available for brokers outside the bench LAN (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff per mqtt.reconnect settings
//   - Message volume: one retained publish per board state change
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a board status update, retained
//	topic := client.Topics().BoardStatus("relay8-v3", 2, 5)
//	client.PublishRetained(topic, payload)
//
//	// Watch for remote commands
//	err = client.Subscribe(client.Topics().AllCommands("bench-01"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
