// Package mqtt provides the MQTT publisher used by the Particle bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// The bridge publishes two kinds of messages:
//
//	{prefix}/reading/{device}   every accepted reading (QoS from config, not retained)
//	{prefix}/health/bridge      periodic health status (QoS 1, retained, also the LWT topic)
//
// # Security Considerations
//
//   - Enable TLS for brokers outside the local network (cfg.Broker.TLS=true)
//   - Credentials should come from PARTICLE_BRIDGE_MQTT_USERNAME/PASSWORD
//
// # Usage
//
//	lwt, _ := reporter.LWTPayload()
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(reporter.Topic(), lwt))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Publish("particle/reading/d1", payload, 1, false)
package mqtt
