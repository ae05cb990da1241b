package qdac

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

// WaveOptions configure a periodic function generator (square, sine or
// triangle).
type WaveOptions struct {
	// Frequency in Hz, or Period as its reciprocal; setting both is an
	// error, setting neither defaults to 1 kHz.
	Frequency float64
	Period    time.Duration
	// Span and Offset shape the output; a zero span produces a flat
	// waveform, useful for its markers alone.
	Span   float64
	Offset float64
	// Repetitions is the cycle count; 0 means infinite.
	Repetitions int
	// Inverted flips the polarity.
	Inverted bool
	// Delay is inserted between the trigger and the first cycle.
	Delay time.Duration
	// DutyCycle is the percentage on-time, square and triangle only
	// (0 selects 50%).
	DutyCycle float64
}

func (o *WaveOptions) normalize() error {
	if o.Frequency != 0 && o.Period != 0 {
		return fmt.Errorf("qdac: specify frequency or period, not both")
	}
	if o.Frequency == 0 && o.Period == 0 {
		o.Frequency = 1000
	}
	if o.Repetitions == 0 {
		o.Repetitions = -1
	}
	if o.DutyCycle == 0 {
		o.DutyCycle = 50
	}
	return nil
}

// WaveContext is an armed function generator on one channel. The trigger and
// marker discipline matches ListContext: construction arms on the bus
// trigger, binding and starting are separate, Close restores an idle
// immediate-trigger state.
type WaveContext struct {
	channel *Channel
	kind    string // "squ", "sine" or "tri"

	trigger *Trigger // bound start trigger, owned by the caller

	markStart       *Trigger
	markEnd         *Trigger
	markPeriodStart *Trigger
	markPeriodEnd   *Trigger
	borrowedPStart  *Trigger

	closed bool
}

// SquareWave arms a square-wave generator on the channel.
func (ch *Channel) SquareWave(opts WaveOptions) (*WaveContext, error) {
	return ch.wave("squ", opts, true)
}

// SineWave arms a sine-wave generator on the channel. A span-0 sine with a
// period-start marker is the usual building block for a slow trigger clock.
func (ch *Channel) SineWave(opts WaveOptions) (*WaveContext, error) {
	return ch.wave("sine", opts, false)
}

// TriangleWave arms a triangle-wave generator on the channel.
func (ch *Channel) TriangleWave(opts WaveOptions) (*WaveContext, error) {
	return ch.wave("tri", opts, true)
}

func (ch *Channel) wave(kind string, opts WaveOptions, hasDuty bool) (*WaveContext, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	ctx := &WaveContext{channel: ch, kind: kind}
	if err := ctx.send("trig:sour", scpi.Sym("hold")); err != nil {
		return nil, err
	}
	if opts.Frequency != 0 {
		if err := ctx.send("freq", scpi.Float(opts.Frequency)); err != nil {
			return nil, err
		}
	} else {
		if err := ctx.send("per", scpi.Float(opts.Period.Seconds())); err != nil {
			return nil, err
		}
	}
	if hasDuty {
		if err := ctx.send("dcyc", scpi.Float(opts.DutyCycle)); err != nil {
			return nil, err
		}
	}
	if err := ctx.send("pol", scpi.Sym(polarity(opts.Inverted))); err != nil {
		return nil, err
	}
	if err := ctx.send("span", scpi.Float(opts.Span)); err != nil {
		return nil, err
	}
	if err := ctx.send("offs", scpi.Float(opts.Offset)); err != nil {
		return nil, err
	}
	if err := ctx.send("del", scpi.Float(opts.Delay.Seconds())); err != nil {
		return nil, err
	}
	if err := ctx.send("coun", scpi.Int(opts.Repetitions)); err != nil {
		return nil, err
	}
	if err := ctx.send("trig:sour", scpi.Sym("bus")); err != nil {
		return nil, err
	}
	if err := ctx.makeReady(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Channel returns the channel this generator runs on.
func (c *WaveContext) Channel() *Channel { return c.channel }

// StartOn binds the generator to an internal trigger; ownership stays with
// the caller.
func (c *WaveContext) StartOn(t *Trigger) error {
	c.trigger = t
	if err := c.send("trig:sour", scpi.Symf("int%d", t.Value())); err != nil {
		return err
	}
	return c.makeReady()
}

// StartOnExternal binds the generator to an external input trigger port.
func (c *WaveContext) StartOnExternal(port int) error {
	if port < 1 || port > NumExternalInputs {
		return fmt.Errorf("qdac: no external input %d", port)
	}
	c.trigger = nil
	if err := c.send("trig:sour", scpi.Symf("ext%d", port)); err != nil {
		return err
	}
	return c.makeReady()
}

// Start fires the generator, via its bound trigger if one is attached.
func (c *WaveContext) Start() error {
	if c.trigger != nil {
		if err := c.makeReady(); err != nil {
			return err
		}
		return c.channel.instrument.FireInternal(c.trigger)
	}
	if err := c.send("init:cont", scpi.Sym("off")); err != nil {
		return err
	}
	if err := c.send("trig:sour", scpi.Sym("imm")); err != nil {
		return err
	}
	return c.send("init")
}

// Abort stops the generator.
func (c *WaveContext) Abort() error {
	return c.send("abor")
}

// CyclesRemaining queries how many cycles are left.
func (c *WaveContext) CyclesRemaining() (int, error) {
	return c.channel.queryInt(c.kind + ":ncl")
}

// StartMarker allocates (once) an internal trigger that fires when the
// waveform starts.
func (c *WaveContext) StartMarker() (*Trigger, error) {
	return c.marker(&c.markStart, "mark:star")
}

// EndMarker allocates (once) an internal trigger that fires when the
// waveform ends.
func (c *WaveContext) EndMarker() (*Trigger, error) {
	return c.marker(&c.markEnd, "mark:end")
}

// PeriodStartMarker allocates (once) an internal trigger that fires at the
// start of every period.
func (c *WaveContext) PeriodStartMarker() (*Trigger, error) {
	return c.marker(&c.markPeriodStart, "mark:pstart")
}

// PeriodEndMarker allocates (once) an internal trigger that fires at the end
// of every period.
func (c *WaveContext) PeriodEndMarker() (*Trigger, error) {
	return c.marker(&c.markPeriodEnd, "mark:pend")
}

// UsePeriodStartMarker routes a caller-owned trigger as the period-start
// marker. Close zeroes the marker but does not release the trigger.
func (c *WaveContext) UsePeriodStartMarker(t *Trigger) error {
	c.borrowedPStart = t
	return c.send("mark:pstart", scpi.Int(t.Value()))
}

// Close aborts the generator, releases its own markers and restores the
// immediate trigger source. Idempotent.
func (c *WaveContext) Close() error {
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
		keep(c.send("mark:star", scpi.Int(0)))
	}
	if c.markEnd != nil {
		c.markEnd.Release()
		keep(c.send("mark:end", scpi.Int(0)))
	}
	if c.markPeriodStart != nil {
		c.markPeriodStart.Release()
		keep(c.send("mark:pstart", scpi.Int(0)))
	}
	if c.markPeriodEnd != nil {
		c.markPeriodEnd.Release()
		keep(c.send("mark:pend", scpi.Int(0)))
	}
	if c.borrowedPStart != nil {
		keep(c.send("mark:pstart", scpi.Int(0)))
	}
	keep(c.send("trig:sour", scpi.Sym("imm")))
	return firstErr
}

func (c *WaveContext) marker(slot **Trigger, suffix string) (*Trigger, error) {
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

func (c *WaveContext) makeReady() error {
	return c.send("init:cont", scpi.Sym("on"))
}

func (c *WaveContext) send(suffix string, args ...scpi.Value) error {
	return c.channel.send(c.kind+":"+suffix, args...)
}

func polarity(inverted bool) string {
	if inverted {
		return "inv"
	}
	return "norm"
}
