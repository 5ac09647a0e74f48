package heatpump

import (
	"fmt"

	"go.bug.st/serial"
)

// Ensure the serial library's port satisfies Port.
var _ Port = (serial.Port)(nil)

// OpenSerialPort opens the controller's serial line at baud, 8N1.
//
// The returned port is owned by the caller until handed to NewSession.
func OpenSerialPort(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPortOpenFailed, path, err)
	}
	return port, nil
}
