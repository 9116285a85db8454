// Package relay republishes hub events onto an MQTT broker.
//
// MQTTRelay is a realtime.Observer. Entity state changes are published
// retained so a subscriber joining later sees the latest state of every
// watched entity; notifications are published once and not retained.
// Hub connectivity is mirrored to a retained status topic.
//
// The relay never blocks the event client directly. Register it on the
// consumer side of a realtime.Dispatcher:
//
//	pub, _ := mqtt.Connect(cfg.MQTT)
//	r := relay.NewMQTTRelay(pub, pub.Topics())
//	for ev := range dispatcher.Events() {
//	    realtime.Deliver(ev, r)
//	}
package relay
