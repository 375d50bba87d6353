// Package serial reaches a photometer connected to a USB serial port.
package serial

import (
	"context"
	"fmt"
	"io"

	bugserial "go.bug.st/serial"
)

// DefaultBaudRate is the TESS-W serial line speed
const DefaultBaudRate = 9600

// Transport opens the serial port a photometer is attached to
type Transport struct {
	port     string
	baudRate int
}

// NewTransport creates a serial transport. A zero baud rate selects DefaultBaudRate.
func NewTransport(port string, baudRate int) *Transport {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Transport{port: port, baudRate: baudRate}
}

// Open opens the port. The returned reader is closed by the caller.
func (t *Transport) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := bugserial.Open(t.port, &bugserial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", t.port, err)
	}

	return port, nil
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "serial:" + t.port
}

// Ports lists the serial ports available on the host
func Ports() ([]string, error) {
	return bugserial.GetPortsList()
}
