package qdac

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

// Channel is a stateless proxy for one output channel. It owns no hardware
// state, only forwards commands to the instrument it belongs to.
type Channel struct {
	instrument *Instrument
	number     int
}

// Number is the 1-based channel number.
func (ch *Channel) Number() int { return ch.number }

// Instrument returns the owning instrument.
func (ch *Channel) Instrument() *Instrument { return ch.instrument }

// SetVoltage forces the channel into fixed output mode and immediately
// programs the voltage.
func (ch *Channel) SetVoltage(v float64) error {
	if err := ch.send("volt:mode", scpi.Sym("fix")); err != nil {
		return err
	}
	return ch.send("volt", scpi.Float(v))
}

// Voltage reads back the programmed fixed voltage.
func (ch *Channel) Voltage() (float64, error) {
	return ch.queryFloat("volt")
}

// OutputRange selects the output voltage range ("low" or "high").
func (ch *Channel) OutputRange(r string) error {
	if r != "low" && r != "high" {
		return fmt.Errorf("qdac: output range must be low or high, got %q", r)
	}
	return ch.send("rang", scpi.Sym(r))
}

// OutputFilter selects the output low-pass filter ("dc", "med" or "hig").
func (ch *Channel) OutputFilter(f string) error {
	if f != "dc" && f != "med" && f != "hig" {
		return fmt.Errorf("qdac: output filter must be dc, med or hig, got %q", f)
	}
	return ch.send("filt", scpi.Sym(f))
}

// MeasurementRange selects the current sense range ("low" or "high").
func (ch *Channel) MeasurementRange(r string) error {
	if r != "low" && r != "high" {
		return fmt.Errorf("qdac: measurement range must be low or high, got %q", r)
	}
	return ch.instrument.Send(scpi.Cmd(scpi.HN("sens", ch.number, "rang"), scpi.Sym(r)))
}

// NPLC sets the current sense integration time in power-line cycles.
func (ch *Channel) NPLC(nplc int) error {
	return ch.instrument.Send(scpi.Cmd(scpi.HN("sens", ch.number, "nplc"), scpi.Int(nplc)))
}

// Aperture sets the current sense integration time in seconds.
func (ch *Channel) Aperture(seconds float64) error {
	return ch.instrument.Send(scpi.Cmd(scpi.HN("sens", ch.number, "aper"), scpi.Float(seconds)))
}

// Current performs a single triggered current read on the channel.
func (ch *Channel) Current() (float64, error) {
	resp, err := ch.instrument.Query(scpi.Qry(scpi.HN("read", ch.number, "")))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("qdac: channel %d: bad current %q: %w", ch.number, resp, err)
	}
	return v, nil
}

func (ch *Channel) send(suffix string, args ...scpi.Value) error {
	return ch.instrument.Send(scpi.Cmd(scpi.HN("sour", ch.number, suffix), args...))
}

func (ch *Channel) query(suffix string) (string, error) {
	return ch.instrument.Query(scpi.Qry(scpi.HN("sour", ch.number, suffix)))
}

func (ch *Channel) queryFloat(suffix string) (float64, error) {
	resp, err := ch.query(suffix)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("qdac: channel %d: bad response %q: %w", ch.number, resp, err)
	}
	return v, nil
}

func (ch *Channel) queryInt(suffix string) (int, error) {
	resp, err := ch.query(suffix)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("qdac: channel %d: bad response %q: %w", ch.number, resp, err)
	}
	return n, nil
}
