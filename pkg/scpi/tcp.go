package scpi

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultPort is the raw socket SCPI port.
const DefaultPort = "5025"

// DialTimeout bounds connection establishment.
const DialTimeout = 5 * time.Second

// TCPConn is a SCPI connection over a raw TCP socket (port 5025).
type TCPConn struct {
	conn net.Conn
	r    *bufio.Reader

	// Trace, if set, observes every line on the wire: dir is ">" for
	// transmitted commands and "<" for received responses.
	Trace func(dir, line string)
}

// Dial opens a raw socket SCPI connection. A missing port defaults to 5025.
func Dial(address string) (*TCPConn, error) {
	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, DefaultPort)
	}
	conn, err := net.DialTimeout("tcp", address, DialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "scpi: dial %s", address)
	}
	return &TCPConn{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (c *TCPConn) Send(cmd Command) error {
	return c.writeLine(cmd.String())
}

func (c *TCPConn) Query(cmd Command) (string, error) {
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

func (c *TCPConn) Close() error {
	return c.conn.Close()
}

func (c *TCPConn) writeLine(line string) error {
	if c.Trace != nil {
		c.Trace(">", line)
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(err, "scpi: write %q", line)
	}
	return nil
}
