// Package channel carries resource values between the graph and MQTT.
//
// A mapping file binds resource paths to topics. Inbound mappings write
// received values into the graph on behalf of a configured writer, so they
// take part in access arbitration like any other writer. Outbound mappings
// publish each value change as a JSON message:
//
//	{"path":"livingRoom/valve/setting/stateControl","value":0.4,"writer":"ui","timestamp":"..."}
//
// Inbound payloads are either {"value": ...} or a bare JSON value.
//
// A PatternFeed publishes the instance lifecycle of selected patterns on
// graylogic/resgraph/pattern/{name} without claiming any write access.
//
// # Usage
//
//	mappings, err := channel.LoadMappings(cfg.Channels.MappingFile)
//	if err != nil {
//	    return err
//	}
//	bridge, err := channel.NewBridge(channel.Options{
//	    Graph:    graph,
//	    Client:   mqttClient,
//	    Mappings: mappings,
//	    Writer:   resource.Writer{Owner: "channel", Priority: resource.PriorityNormal},
//	    QoS:      1,
//	})
//	if err != nil {
//	    return err
//	}
//	go bridge.Run(ctx)
package channel
