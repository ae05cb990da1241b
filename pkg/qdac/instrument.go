package qdac

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

const (
	// NumChannels is the channel count of a fully populated instrument.
	NumChannels = 24
	// NumExternalInputs and NumExternalOutputs are the external trigger
	// port counts.
	NumExternalInputs  = 4
	NumExternalOutputs = 5
)

// Model is the expected *idn? model field.
const Model = "QDAC-II"

// Instrument is one physical multi-channel DC voltage source. It owns the
// connection, the internal trigger pool and the channel proxies. The name
// only disambiguates instruments from each other (and routes commands in a
// multi-instrument array); it is never sent to the hardware.
type Instrument struct {
	name     string
	conn     scpi.Conn
	triggers *TriggerPool
	channels []*Channel
}

// New wraps a connection as an instrument. It never probes the hardware;
// use Verify for that.
func New(name string, conn scpi.Conn) *Instrument {
	in := &Instrument{
		name:     name,
		conn:     conn,
		triggers: NewTriggerPool(),
	}
	in.channels = make([]*Channel, NumChannels)
	for i := range in.channels {
		in.channels[i] = &Channel{instrument: in, number: i + 1}
	}
	return in
}

// Name returns the instrument's unique name.
func (in *Instrument) Name() string { return in.name }

// Triggers exposes the internal trigger pool.
func (in *Instrument) Triggers() *TriggerPool { return in.triggers }

// Channel returns the proxy for a 1-based channel number.
func (in *Instrument) Channel(n int) (*Channel, error) {
	if n < 1 || n > len(in.channels) {
		return nil, fmt.Errorf("qdac: %s has no channel %d", in.name, n)
	}
	return in.channels[n-1], nil
}

// Send forwards a command to the instrument.
func (in *Instrument) Send(cmd scpi.Command) error {
	if err := in.conn.Send(cmd); err != nil {
		return fmt.Errorf("qdac: %s: %w", in.name, err)
	}
	return nil
}

// Query forwards a query and returns the response line.
func (in *Instrument) Query(cmd scpi.Command) (string, error) {
	resp, err := in.conn.Query(cmd)
	if err != nil {
		return "", fmt.Errorf("qdac: %s: %w", in.name, err)
	}
	return resp, nil
}

// Close closes the underlying connection. Trigger bookkeeping is dropped
// with the instrument; the hardware keeps its state.
func (in *Instrument) Close() error {
	return in.conn.Close()
}

// Verify queries *idn? and checks that the instrument is the expected model.
func (in *Instrument) Verify() (scpi.IDN, error) {
	resp, err := in.Query(scpi.Qry(scpi.H("*idn")))
	if err != nil {
		return scpi.IDN{}, err
	}
	idn, err := scpi.ParseIDN(resp)
	if err != nil {
		return scpi.IDN{}, fmt.Errorf("qdac: %s: %w", in.name, err)
	}
	if idn.Model != Model {
		return idn, fmt.Errorf("qdac: %s: unexpected model %q", in.name, idn.Model)
	}
	return idn, nil
}

// FireInternal manually fires an internal trigger line.
func (in *Instrument) FireInternal(t *Trigger) error {
	return in.Send(scpi.Cmd(scpi.H("tint"), scpi.Int(t.Value())))
}

// BusTrigger fires the global SCPI bus trigger (*trg): every generator that
// is armed on the bus source starts.
func (in *Instrument) BusTrigger() error {
	return in.Send(scpi.Cmd(scpi.H("*trg")))
}

// AbortAll stops every running generator on the instrument.
func (in *Instrument) AbortAll() error {
	return in.Send(scpi.Cmd(scpi.H("abor")))
}

// ExternalOut returns the routing proxy for an external output trigger port.
func (in *Instrument) ExternalOut(port int) (*ExternalOut, error) {
	if port < 1 || port > NumExternalOutputs {
		return nil, fmt.Errorf("qdac: %s has no external output %d", in.name, port)
	}
	return &ExternalOut{instrument: in, port: port}, nil
}

// Errors drains and returns the instrument's error queue.
func (in *Instrument) Errors() (string, error) {
	return in.Query(scpi.Qry(scpi.H("syst:err:all")))
}

// NextError pops a single entry off the error queue.
func (in *Instrument) NextError() (string, error) {
	return in.Query(scpi.Qry(scpi.H("syst:err")))
}

// ErrorCount peeks at the number of queued errors.
func (in *Instrument) ErrorCount() (int, error) {
	resp, err := in.Query(scpi.Qry(scpi.H("syst:err:coun")))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("qdac: %s: bad error count %q: %w", in.name, resp, err)
	}
	return n, nil
}

// StatusByte queries *stb?. The query doubles as a pipeline flush: the
// response only arrives once all previously sent commands have been
// processed, e.g. after switching current-sense relays.
func (in *Instrument) StatusByte() (int, error) {
	resp, err := in.Query(scpi.Qry(scpi.H("*stb")))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("qdac: %s: bad status byte %q: %w", in.name, resp, err)
	}
	return n, nil
}

// MACAddress returns the instrument's LAN MAC address in AA-BB-CC-DD-EE-FF
// form. The instrument answers with an undelimited quoted string of twelve
// hex digits.
func (in *Instrument) MACAddress() (string, error) {
	resp, err := in.Query(scpi.Qry(scpi.H("syst:comm:lan:mac")))
	if err != nil {
		return "", err
	}
	raw := strings.Trim(strings.TrimSpace(resp), `"`)
	if len(raw) < 12 {
		return "", fmt.Errorf("qdac: %s: bad MAC response %q", in.name, resp)
	}
	parts := make([]string, 0, 6)
	for i := 0; i+2 <= len(raw) && len(parts) < 6; i += 2 {
		parts = append(parts, raw[i:i+2])
	}
	return strings.Join(parts, "-"), nil
}

// Clock primitives for multi-instrument synchronization.

// ClockSend starts or stops distributing the instrument's internal clock on
// the sync-out connector.
func (in *Instrument) ClockSend(on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	return in.Send(scpi.Cmd(scpi.H("syst:cloc:send"), scpi.Sym(state)))
}

// ClockSource selects the internal or external reference clock.
func (in *Instrument) ClockSource(source string) error {
	if source != "int" && source != "ext" {
		return fmt.Errorf("qdac: clock source must be int or ext, got %q", source)
	}
	return in.Send(scpi.Cmd(scpi.H("syst:cloc:sour"), scpi.Sym(source)))
}

// ClockSync aligns the channel generators to the selected clock.
func (in *Instrument) ClockSync() error {
	return in.Send(scpi.Cmd(scpi.H("syst:cloc:sync")))
}

// SyncSignal emits the one-shot synchronization pulse on the sync-out
// connector.
func (in *Instrument) SyncSignal() error {
	return in.Send(scpi.Cmd(scpi.H("outp:sync:sign")))
}

// ExternalOut routes internal triggers onto a physical output connector.
type ExternalOut struct {
	instrument *Instrument
	port       int
}

// Port returns the 1-based connector number.
func (e *ExternalOut) Port() int { return e.port }

// Source routes an internal trigger to this connector.
func (e *ExternalOut) Source(t *Trigger) error {
	return e.instrument.Send(scpi.Cmd(
		scpi.HN("outp:trig", e.port, "sour"), scpi.Symf("int%d", t.Value())))
}

// Width sets the output pulse width in seconds.
func (e *ExternalOut) Width(seconds float64) error {
	return e.instrument.Send(scpi.Cmd(
		scpi.HN("outp:trig", e.port, "widt"), scpi.Float(seconds)))
}

// Polarity sets the output pulse polarity ("norm" or "inv").
func (e *ExternalOut) Polarity(polarity string) error {
	if polarity != "norm" && polarity != "inv" {
		return fmt.Errorf("qdac: polarity must be norm or inv, got %q", polarity)
	}
	return e.instrument.Send(scpi.Cmd(
		scpi.HN("outp:trig", e.port, "pol"), scpi.Sym(polarity)))
}

// Delay sets the delay in seconds between the internal trigger and the
// output pulse.
func (e *ExternalOut) Delay(seconds float64) error {
	return e.instrument.Send(scpi.Cmd(
		scpi.HN("outp:trig", e.port, "del"), scpi.Float(seconds)))
}
