package scpi

import (
	"bytes"
	"strings"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// USBConn is a SCPI connection over USB bulk endpoints, for instruments that
// expose their SCPI port on a vendor-specific interface instead of (or in
// addition to) LAN and serial.
type USBConn struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	intf  *gousb.Interface
	done  func()
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	pending bytes.Buffer

	// Trace, if set, observes every line on the wire, as on TCPConn.
	Trace func(dir, line string)
}

// DialUSB opens the first device matching vid/pid and claims the first
// interface that carries a bulk IN/OUT endpoint pair.
func DialUSB(vid, pid uint16) (*USBConn, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, errors.Wrap(err, "scpi: open USB device")
	}
	if dev == nil {
		ctx.Close()
		return nil, errors.Errorf("scpi: USB device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}
	// Auto-detach is not supported on all platforms; a failure here is not
	// fatal as long as the interface can still be claimed.
	_ = dev.SetAutoDetach(true)

	c := &USBConn{ctx: ctx, dev: dev}
	if err := c.claimInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return c, nil
}

func (c *USBConn) claimInterface() error {
	intf, done, err := c.dev.DefaultInterface()
	if err != nil {
		return errors.Wrap(err, "scpi: claim USB interface")
	}
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && c.epIn == nil {
			in, err := intf.InEndpoint(ep.Number)
			if err != nil {
				done()
				return errors.Wrap(err, "scpi: open IN endpoint")
			}
			c.epIn = in
		}
		if ep.Direction == gousb.EndpointDirectionOut && c.epOut == nil {
			out, err := intf.OutEndpoint(ep.Number)
			if err != nil {
				done()
				return errors.Wrap(err, "scpi: open OUT endpoint")
			}
			c.epOut = out
		}
	}
	if c.epIn == nil || c.epOut == nil {
		done()
		return errors.New("scpi: no bulk endpoint pair on USB interface")
	}
	c.intf = intf
	c.done = done
	return nil
}

func (c *USBConn) Send(cmd Command) error {
	return c.writeLine(cmd.String())
}

func (c *USBConn) Query(cmd Command) (string, error) {
	if err := c.writeLine(cmd.String()); err != nil {
		return "", err
	}
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	if c.Trace != nil {
		c.Trace("<", line)
	}
	return line, nil
}

func (c *USBConn) Close() error {
	if c.done != nil {
		c.done()
	}
	if err := c.dev.Close(); err != nil {
		c.ctx.Close()
		return errors.Wrap(err, "scpi: close USB device")
	}
	return c.ctx.Close()
}

func (c *USBConn) writeLine(line string) error {
	if c.Trace != nil {
		c.Trace(">", line)
	}
	if _, err := c.epOut.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(err, "scpi: write %q", line)
	}
	return nil
}

// readLine accumulates bulk IN transfers until a newline arrives; responses
// are not aligned to USB packet boundaries.
func (c *USBConn) readLine() (string, error) {
	buf := make([]byte, c.epIn.Desc.MaxPacketSize)
	for {
		if i := bytes.IndexByte(c.pending.Bytes(), '\n'); i >= 0 {
			line := string(c.pending.Next(i + 1))
			return strings.TrimRight(line, "\r\n"), nil
		}
		n, err := c.epIn.Read(buf)
		if err != nil {
			return "", errors.Wrap(err, "scpi: read response")
		}
		c.pending.Write(buf[:n])
	}
}
