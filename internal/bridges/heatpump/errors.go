package heatpump

import "errors"

// Domain errors for the heat pump bridge package.
var (
	// ErrMalformedResponse is returned when a device response cannot be
	// parsed as the expected numeric kind, or exceeds the byte bound
	// without a terminator.
	ErrMalformedResponse = errors.New("heatpump: malformed response")

	// ErrDeviceTimeout is returned when no terminator arrives within the
	// response timeout.
	ErrDeviceTimeout = errors.New("heatpump: device timeout")

	// ErrUnknownName is returned when a value or parameter name is not in
	// the registry.
	ErrUnknownName = errors.New("heatpump: unknown name")

	// ErrBusUnavailable is returned when publishing to the message bus fails.
	ErrBusUnavailable = errors.New("heatpump: bus unavailable")

	// ErrInvalidDescriptor is returned when a descriptor has an unknown
	// command or an index outside the command's range.
	ErrInvalidDescriptor = errors.New("heatpump: invalid descriptor")

	// ErrSessionClosed is returned when a request is made on a closed session.
	ErrSessionClosed = errors.New("heatpump: session closed")

	// ErrPortOpenFailed is returned when the serial port cannot be opened.
	ErrPortOpenFailed = errors.New("heatpump: serial port open failed")
)
