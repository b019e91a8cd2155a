package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the NMEA 0183 standard rate most receivers ship with.
const DefaultBaudRate = 9600

// PortOptions are the serial parameters for the GNSS receiver.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var stopBits = map[int]serial.StopBits{1: serial.OneStopBit, 2: serial.TwoStopBits}

var parityAliases = map[string]string{"": "N", "NONE": "N", "EVEN": "E", "ODD": "O"}

// Normalize fills in 9600 8N1 for unset fields and rejects framings the
// serial driver cannot open.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	parity := strings.ToUpper(strings.TrimSpace(o.Parity))
	if alias, ok := parityAliases[parity]; ok {
		parity = alias
	}
	if _, ok := parities[parity]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = parity
	return o, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: stopBits[opts.StopBits],
		Parity:   parities[opts.Parity],
	}, nil
}

// String renders the options as "9600 8N1".
func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// ParseFraming reads a compact framing string such as "8N1" or "7E2" into
// the data bits, parity and stop bits of the options.
func (o PortOptions) ParseFraming(framing string) (PortOptions, error) {
	framing = strings.TrimSpace(strings.ToUpper(framing))
	if len(framing) != 3 {
		return o, fmt.Errorf("invalid framing %q: expected e.g. 8N1", framing)
	}
	opts := o
	opts.DataBits = int(framing[0] - '0')
	opts.Parity = string(framing[1])
	opts.StopBits = int(framing[2] - '0')
	if opts.DataBits == 0 || opts.StopBits == 0 {
		return o, fmt.Errorf("invalid framing %q: zero bits", framing)
	}
	return opts.Normalize()
}
