// Package mqtt provides the message bus connection for heatpump-link.
//
// This package manages:
//   - Connection to the broker with paho's auto-reconnect
//   - Publishing retained value updates with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament on <prefix>$implementation/status
//
// # Topics
//
// All topics are built by Topics, which prepends the configured prefix verbatim:
//
//	topics := mqtt.Topics{Prefix: "home/"}
//	topics.Value("house/actual_temp")     // "home/house/actual_temp"
//	topics.ImplementationConfig()         // "home/$implementation/config"
//	topics.ParameterSetWildcard()         // "home/heatpump/parameter/+/set"
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(topics.Value("house/actual_temp"), []byte("21.3"), 1, true)
//
// Publish blocks until the broker acknowledges (bounded by a timeout), so
// successive publishes from one goroutine are delivered in call order.
package mqtt
