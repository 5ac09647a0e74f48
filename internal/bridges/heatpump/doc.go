// Package heatpump implements the serial heat pump bridge for heatpump-link.
//
// The controller speaks a small ASCII protocol over a half-duplex serial
// line. This package polls it on a fixed wall-clock grid and publishes each
// value to MQTT.
//
// # Architecture
//
//	┌─────────────┐   MQTT   ┌──────────────────┐  19200 8N1  ┌────────────┐
//	│   Broker    │◄────────►│  Bridge / Poller │◄───────────►│ Controller │
//	└─────────────┘          └──────────────────┘             └────────────┘
//
// Data flows Poller -> Registry (resolve descriptor) -> Session -> codec,
// and results flow back out through the Publisher.
//
// # Wire Protocol
//
// A request is one command byte, optionally followed by one index byte
// equal to '0'+index:
//
//	t  temperature  (index 0-10)
//	p  parameter    (index 0-17)
//	o  output       (index 0-1)
//	s  status
//	c  counter      (unsigned 16-bit, reported signed)
//	e  error
//
// The response is ASCII numeric text terminated by '#'.
//
//	d := heatpump.Descriptor{Command: heatpump.CommandTemperature, Index: 0, HasIndex: true}
//	v, err := session.Request(ctx, d)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(v) // "21.3"
//
// # Thread Safety
//
// Session serialises all requests; at most one request is on the line at a
// time. Registry is immutable. Poller and Bridge are safe for concurrent
// use, but Run must only be called once.
package heatpump
