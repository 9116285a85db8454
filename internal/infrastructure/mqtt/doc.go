// Package mqtt provides the MQTT publisher used to relay hub events.
//
// This package manages:
//   - Connection to a broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Topic naming below a configurable prefix
//
// # Topics
//
//	<prefix>/state/<entity_id>   retained entity state
//	<prefix>/notification        hub notifications
//	<prefix>/hub/status          retained hub connection status
//	<prefix>/system/status       retained Prism status and LWT
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) for brokers off the local host
//   - Payloads carry entity attributes; restrict subscribers with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().EntityState("light.kitchen")
//	client.PublishRetained(topic, []byte(`{"state":"on"}`))
package mqtt
