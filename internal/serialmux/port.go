package serialmux

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// SerialPorter is what the mux needs from a port. Tests substitute pipes.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// listPorts is swapped out in tests.
var listPorts = serial.GetPortsList

// NewRealSerialMux opens the GNSS receiver at path. Sentences the driver
// buffered before we opened the port are discarded so the first fix is
// current. When the open fails, the error lists the ports that do exist.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w%s", path, err, portHint())
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset %s input: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

func portHint() string {
	ports, err := listPorts()
	if err != nil {
		return ""
	}
	if len(ports) == 0 {
		return " (no serial ports found)"
	}
	return " (available: " + strings.Join(ports, ", ") + ")"
}
