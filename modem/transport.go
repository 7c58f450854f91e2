package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a SIM800 modem.
//
// A Transport is assumed to be already connected and ready for use. Reads
// honour the timeout set by SetReadTimeout: a Read that times out returns
// 0 bytes and a nil error, which is how go.bug.st/serial ports behave.
// Typical implementations are serial ports or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds how long a single Read blocks waiting for data.
	SetReadTimeout(t time.Duration) error
}

// Dialer opens a Transport to a SIM800 modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port or a test double) and is intended to be used during modem
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// Clock is the tick source of the engine. Deadlines are measured as the
// difference between two Now readings, so the clock has to be monotonic.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the Clock backed by the runtime's monotonic clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SerialDialer opens a SIM800 modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the line settings. When nil, BaudRate 8N1 is used.
	Mode *serial.Mode
}

// Dial opens the serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("sim800: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("sim800: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud <= 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("sim800: open %s: %w", d.PortName, err)
	}
	return port, nil
}
