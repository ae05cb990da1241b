package qdac

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

// ListOptions configure a DC list generator.
type ListOptions struct {
	// Voltages is the sequence played back by the list generator.
	Voltages []float64
	// Dwell is the time spent on each step.
	Dwell time.Duration
	// Delay is inserted between the trigger and the first step.
	Delay time.Duration
	// Repetitions is the playback count; 0 means 1, -1 means infinite.
	Repetitions int
	// Backwards plays the list from the last value to the first.
	Backwards bool
	// Stepped advances on external step triggers instead of the dwell
	// timer.
	Stepped bool
}

func (o *ListOptions) normalize() error {
	if len(o.Voltages) == 0 {
		return fmt.Errorf("qdac: list needs at least one voltage")
	}
	if o.Dwell <= 0 {
		return fmt.Errorf("qdac: list dwell must be positive, got %v", o.Dwell)
	}
	if o.Repetitions == 0 {
		o.Repetitions = 1
	}
	return nil
}

// SweepOptions configure a hardware linear DC sweep.
type SweepOptions struct {
	Start       float64
	Stop        float64
	Points      int
	Dwell       time.Duration
	Delay       time.Duration
	Repetitions int
	Backwards   bool
	Stepped     bool
}

func (o *SweepOptions) normalize() error {
	if o.Points < 2 {
		return fmt.Errorf("qdac: sweep needs at least 2 points, got %d", o.Points)
	}
	if o.Dwell <= 0 {
		return fmt.Errorf("qdac: sweep dwell must be positive, got %v", o.Dwell)
	}
	if o.Repetitions == 0 {
		o.Repetitions = 1
	}
	return nil
}

// ListContext is an armed DC list (or hardware sweep) generator on one
// channel. Construction uploads the full configuration and leaves the
// generator armed on the bus trigger; binding and starting are separate
// steps so many channels can share one start condition.
type ListContext struct {
	channel *Channel
	sub     string // "list" or "swe"

	trigger *Trigger // bound start trigger, owned by the caller

	markStart     *Trigger
	markEnd       *Trigger
	markStepStart *Trigger
	markStepEnd   *Trigger
	borrowedSST   *Trigger

	closed bool
}

// DCList validates the options, then arms a list generator. No command is
// emitted if validation fails. The frame is always emitted in the same
// order, ending with the generator armed on the bus trigger.
func (ch *Channel) DCList(opts ListOptions) (*ListContext, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	ctx := &ListContext{channel: ch, sub: "list"}
	steps := []scpi.Command{
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:trig:sour"), scpi.Sym("hold")),
		scpi.Cmd(scpi.HN("sour", ch.number, "volt:mode"), scpi.Sym("list")),
		scpi.Cmd(scpi.HN("sour", ch.number, "list:volt"), scpi.Floats(opts.Voltages)),
		scpi.Cmd(scpi.HN("sour", ch.number, "list:tmod"), scpi.Sym(triggerMode(opts.Stepped))),
		scpi.Cmd(scpi.HN("sour", ch.number, "list:dwel"), scpi.Float(opts.Dwell.Seconds())),
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:del"), scpi.Float(opts.Delay.Seconds())),
		scpi.Cmd(scpi.HN("sour", ch.number, "list:dir"), scpi.Sym(direction(opts.Backwards))),
		scpi.Cmd(scpi.HN("sour", ch.number, "list:coun"), scpi.Int(opts.Repetitions)),
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:trig:sour"), scpi.Sym("bus")),
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:init:cont"), scpi.Sym("on")),
	}
	for _, cmd := range steps {
		if err := ch.instrument.Send(cmd); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// DCSweep arms a hardware linear sweep: the same frame as DCList with the
// start/stop/points triple in place of the uploaded list.
func (ch *Channel) DCSweep(opts SweepOptions) (*ListContext, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	ctx := &ListContext{channel: ch, sub: "swe"}
	steps := []scpi.Command{
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:trig:sour"), scpi.Sym("hold")),
		scpi.Cmd(scpi.HN("sour", ch.number, "volt:mode"), scpi.Sym("swe")),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:star"), scpi.Float(opts.Start)),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:stop"), scpi.Float(opts.Stop)),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:poin"), scpi.Int(opts.Points)),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:gen"), scpi.Sym(sweepGen(opts.Stepped))),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:dwel"), scpi.Float(opts.Dwell.Seconds())),
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:del"), scpi.Float(opts.Delay.Seconds())),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:dir"), scpi.Sym(direction(opts.Backwards))),
		scpi.Cmd(scpi.HN("sour", ch.number, "swe:coun"), scpi.Int(opts.Repetitions)),
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:trig:sour"), scpi.Sym("bus")),
		scpi.Cmd(scpi.HN("sour", ch.number, "dc:init:cont"), scpi.Sym("on")),
	}
	for _, cmd := range steps {
		if err := ch.instrument.Send(cmd); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// Channel returns the channel this generator runs on.
func (c *ListContext) Channel() *Channel { return c.channel }

// Append extends the uploaded list and re-arms the generator.
func (c *ListContext) Append(voltages []float64) error {
	if c.sub != "list" {
		return fmt.Errorf("qdac: cannot append to a hardware sweep")
	}
	if len(voltages) == 0 {
		return fmt.Errorf("qdac: nothing to append")
	}
	if err := c.send("list:volt:app", scpi.Floats(voltages)); err != nil {
		return err
	}
	return c.makeReady()
}

// StartOn binds the generator to an internal trigger and re-arms continuous
// triggering so it stays ready for repeated fires. Ownership of the trigger
// stays with the caller.
func (c *ListContext) StartOn(t *Trigger) error {
	c.trigger = t
	if err := c.send("dc:trig:sour", scpi.Symf("int%d", t.Value())); err != nil {
		return err
	}
	return c.makeReady()
}

// StartOnExternal binds the generator to an external input trigger port.
func (c *ListContext) StartOnExternal(port int) error {
	if port < 1 || port > NumExternalInputs {
		return fmt.Errorf("qdac: no external input %d", port)
	}
	c.trigger = nil
	if err := c.send("dc:trig:sour", scpi.Symf("ext%d", port)); err != nil {
		return err
	}
	return c.makeReady()
}

// Start fires the generator. With a bound internal trigger it re-arms and
// fires that trigger; unbound, it switches to the immediate source and
// initiates directly.
func (c *ListContext) Start() error {
	if c.trigger != nil {
		if err := c.makeReady(); err != nil {
			return err
		}
		return c.channel.instrument.FireInternal(c.trigger)
	}
	if err := c.send("dc:init:cont", scpi.Sym("off")); err != nil {
		return err
	}
	if err := c.send("dc:trig:sour", scpi.Sym("imm")); err != nil {
		return err
	}
	return c.send("dc:init")
}

// Abort stops any in-flight playback.
func (c *ListContext) Abort() error {
	return c.send("dc:abor")
}

// StartMarker allocates (once) an internal trigger that fires when playback
// begins.
func (c *ListContext) StartMarker() (*Trigger, error) {
	return c.marker(&c.markStart, "dc:mark:star")
}

// EndMarker allocates (once) an internal trigger that fires when playback
// ends.
func (c *ListContext) EndMarker() (*Trigger, error) {
	return c.marker(&c.markEnd, "dc:mark:end")
}

// StepStartMarker allocates (once) an internal trigger that fires at the
// start of every step.
func (c *ListContext) StepStartMarker() (*Trigger, error) {
	return c.marker(&c.markStepStart, "dc:mark:sst")
}

// StepEndMarker allocates (once) an internal trigger that fires at the end
// of every step.
func (c *ListContext) StepEndMarker() (*Trigger, error) {
	return c.marker(&c.markStepEnd, "dc:mark:send")
}

// UseStepStartMarker routes a caller-owned trigger as the step-start marker.
// Close zeroes the marker but does not release the trigger.
func (c *ListContext) UseStepStartMarker(t *Trigger) error {
	c.borrowedSST = t
	return c.send("dc:mark:sst", scpi.Int(t.Value()))
}

// Points queries the number of steps in the list or sweep.
func (c *ListContext) Points() (int, error) {
	return c.channel.queryInt(c.sub + ":poin")
}

// CyclesRemaining queries how many playback cycles are left.
func (c *ListContext) CyclesRemaining() (int, error) {
	return c.channel.queryInt(c.sub + ":ncl")
}

// Values reads back the uploaded voltage list.
func (c *ListContext) Values() ([]float64, error) {
	resp, err := c.channel.query("list:volt")
	if err != nil {
		return nil, err
	}
	return scpi.ParseFloats(resp)
}

// Close aborts playback, releases the markers this context allocated, and
// returns the trigger source to immediate so a later ad-hoc start is not
// accidentally gated. Safe to call whether or not Start was ever invoked,
// and idempotent.
func (c *ListContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(c.Abort())
	if c.markStart != nil {
		c.markStart.Release()
		keep(c.send("dc:mark:star", scpi.Int(0)))
	}
	if c.markEnd != nil {
		c.markEnd.Release()
		keep(c.send("dc:mark:end", scpi.Int(0)))
	}
	if c.markStepStart != nil {
		c.markStepStart.Release()
		keep(c.send("dc:mark:sst", scpi.Int(0)))
	}
	if c.markStepEnd != nil {
		c.markStepEnd.Release()
		keep(c.send("dc:mark:send", scpi.Int(0)))
	}
	if c.borrowedSST != nil {
		keep(c.send("dc:mark:sst", scpi.Int(0)))
	}
	keep(c.send("dc:trig:sour", scpi.Sym("imm")))
	return firstErr
}

func (c *ListContext) marker(slot **Trigger, suffix string) (*Trigger, error) {
	if *slot == nil {
		t, err := c.channel.instrument.triggers.Allocate()
		if err != nil {
			return nil, err
		}
		*slot = t
	}
	if err := c.send(suffix, scpi.Int((*slot).Value())); err != nil {
		return nil, err
	}
	return *slot, nil
}

func (c *ListContext) makeReady() error {
	return c.send("dc:init:cont", scpi.Sym("on"))
}

func (c *ListContext) send(suffix string, args ...scpi.Value) error {
	return c.channel.send(suffix, args...)
}

func triggerMode(stepped bool) string {
	if stepped {
		return "step"
	}
	return "auto"
}

func sweepGen(stepped bool) string {
	if stepped {
		return "step"
	}
	return "auto"
}

func direction(backwards bool) string {
	if backwards {
		return "down"
	}
	return "up"
}
