// Package mqtt provides MQTT connectivity for the channel bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Publishing with QoS validation and a payload size limit
//   - Subscriptions that are restored after a reconnect
//   - A retained service status topic with Last Will and Testament
//
// # Architecture
//
// MQTT is how values enter and leave the resource graph. Field devices and
// other services publish writes; the channel bridge applies them to mapped
// resources and publishes value changes back out.
//
//	devices ↔ MQTT broker ↔ channel.Bridge ↔ resource.Graph
//
// # Security Considerations
//
//   - Enable cfg.Broker.TLS for anything beyond a local broker
//   - Credentials come from GRAYLOGIC_MQTT_USERNAME / _PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllResourceSets(), 1,
//	    func(topic string, payload []byte) error {
//	        path, _ := mqtt.Topics{}.PathFromSetTopic(topic)
//	        return apply(path, payload)
//	    })
package mqtt
