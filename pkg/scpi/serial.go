package scpi

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// DefaultBaud is the instrument's USB-serial line rate (8N1).
const DefaultBaud = 921600

// SerialConn is a SCPI connection over an RS-232 or USB-serial port.
type SerialConn struct {
	port *serial.Port
	r    *bufio.Reader

	// Trace, if set, observes every line on the wire, as on TCPConn.
	Trace func(dir, line string)
}

// DialSerial opens a serial SCPI connection. baud <= 0 selects DefaultBaud.
func DialSerial(device string, baud int) (*SerialConn, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "scpi: open serial %s", device)
	}
	return &SerialConn{port: port, r: bufio.NewReader(port)}, nil
}

func (c *SerialConn) Send(cmd Command) error {
	return c.writeLine(cmd.String())
}

func (c *SerialConn) Query(cmd Command) (string, error) {
	if err := c.writeLine(cmd.String()); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "scpi: read response")
	}
	line = strings.TrimRight(line, "\r\n")
	if c.Trace != nil {
		c.Trace("<", line)
	}
	return line, nil
}

func (c *SerialConn) Close() error {
	return c.port.Close()
}

func (c *SerialConn) writeLine(line string) error {
	if c.Trace != nil {
		c.Trace(">", line)
	}
	if _, err := c.port.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(err, "scpi: write %q", line)
	}
	return nil
}
