// Package gates maps named contacts onto physical voltage-source channels
// through a correction matrix, so callers work in virtual gate voltages while
// the hardware receives cross-coupling-compensated physical voltages. On top
// of the mapping it builds hardware-synchronized 1-D, 2-D and detune sweeps
// and a finite-difference leakage characterizer.
package gates

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
)

var (
	// ErrUnknownContact is returned for a contact name the arrangement
	// does not hold.
	ErrUnknownContact = errors.New("gates: unknown contact")
	// ErrUnknownTrigger is returned for a trigger name that was not
	// requested at construction.
	ErrUnknownTrigger = errors.New("gates: unknown trigger")
	// ErrNoOuterTriggerChannel is returned when a 2-D sweep requests an
	// outer step trigger but the layout designates no helper channel.
	ErrNoOuterTriggerChannel = errors.New("gates: no outer trigger channel configured")
)

// DefaultLineFrequency is the assumed power-line frequency used to size
// current integration windows.
const DefaultLineFrequency = 50.0

// Contact binds a name to a 1-based channel number. The binding is immutable
// after construction.
type Contact struct {
	Name    string
	Channel int
}

// OutputTrigger binds a name to an external output trigger port. The named
// trigger is allocated internally and routed to the port at construction.
type OutputTrigger struct {
	Name string
	Port int
}

// Layout describes an arrangement before construction. The contact order
// defines the index order of the virtual voltage vector and of every emitted
// command sequence.
type Layout struct {
	Contacts         []Contact
	OutputTriggers   []OutputTrigger
	InternalTriggers []string
	// OuterTriggerChannel designates a spare channel that clocks the
	// outer axis of 2-D sweeps; 0 means none.
	OuterTriggerChannel int
	// LineFrequency in Hz; 0 selects DefaultLineFrequency.
	LineFrequency float64
}

// Arrangement owns an ordered set of contacts, the correction matrix C and
// the virtual voltage vector v. The invariant physical = C·v holds after
// every mutation: each mutator recomputes the full physical vector and
// programs every channel, in contact-index order.
type Arrangement struct {
	instrument *qdac.Instrument
	names      []string
	indices    map[string]int
	channels   []*qdac.Channel

	correction *mat.Dense
	virtual    []float64

	triggers     map[string]*qdac.Trigger
	outputPorts  map[string]int
	outerChannel *qdac.Channel

	lineFrequency float64
	closed        bool
}

// Arrange validates the layout, allocates its named internal triggers and
// routes its output triggers. Validation failures surface before any trigger
// is allocated or any command sent; a failure during trigger routing releases
// what was already allocated.
func Arrange(instrument *qdac.Instrument, layout Layout) (*Arrangement, error) {
	if len(layout.Contacts) == 0 {
		return nil, fmt.Errorf("gates: arrangement needs at least one contact")
	}
	a := &Arrangement{
		instrument:    instrument,
		indices:       make(map[string]int, len(layout.Contacts)),
		triggers:      make(map[string]*qdac.Trigger),
		outputPorts:   make(map[string]int),
		lineFrequency: layout.LineFrequency,
	}
	if a.lineFrequency == 0 {
		a.lineFrequency = DefaultLineFrequency
	}
	for i, contact := range layout.Contacts {
		if _, dup := a.indices[contact.Name]; dup {
			return nil, fmt.Errorf("gates: duplicate contact name %q", contact.Name)
		}
		ch, err := instrument.Channel(contact.Channel)
		if err != nil {
			return nil, fmt.Errorf("gates: contact %q: %w", contact.Name, err)
		}
		a.indices[contact.Name] = i
		a.names = append(a.names, contact.Name)
		a.channels = append(a.channels, ch)
	}
	usedPorts := make(map[int]string)
	for _, output := range layout.OutputTriggers {
		if output.Port < 1 || output.Port > qdac.NumExternalOutputs {
			return nil, fmt.Errorf("gates: output trigger %q: no external output %d",
				output.Name, output.Port)
		}
		if owner, dup := usedPorts[output.Port]; dup {
			return nil, fmt.Errorf("gates: output port %d assigned to both %q and %q",
				output.Port, owner, output.Name)
		}
		usedPorts[output.Port] = output.Name
		if _, dup := a.triggers[output.Name]; dup {
			return nil, fmt.Errorf("gates: duplicate trigger name %q", output.Name)
		}
		a.triggers[output.Name] = nil // reserve the name before allocation
		a.outputPorts[output.Name] = output.Port
	}
	for _, name := range layout.InternalTriggers {
		if _, dup := a.triggers[name]; dup {
			return nil, fmt.Errorf("gates: duplicate trigger name %q", name)
		}
		a.triggers[name] = nil
	}
	if layout.OuterTriggerChannel != 0 {
		ch, err := instrument.Channel(layout.OuterTriggerChannel)
		if err != nil {
			return nil, fmt.Errorf("gates: outer trigger channel: %w", err)
		}
		a.outerChannel = ch
	}

	n := len(a.names)
	a.correction = identity(n)
	a.virtual = make([]float64, n)

	for _, name := range layout.InternalTriggers {
		t, err := instrument.Triggers().Allocate()
		if err != nil {
			a.freeTriggers()
			return nil, fmt.Errorf("gates: trigger %q: %w", name, err)
		}
		a.triggers[name] = t
	}
	for _, output := range layout.OutputTriggers {
		t, err := instrument.Triggers().Allocate()
		if err != nil {
			a.freeTriggers()
			return nil, fmt.Errorf("gates: output trigger %q: %w", output.Name, err)
		}
		a.triggers[output.Name] = t
		out, err := instrument.ExternalOut(output.Port)
		if err != nil {
			a.freeTriggers()
			return nil, fmt.Errorf("gates: output trigger %q: %w", output.Name, err)
		}
		if err := out.Source(t); err != nil {
			a.freeTriggers()
			return nil, err
		}
	}
	return a, nil
}

// Instrument returns the instrument the arrangement is bound to.
func (a *Arrangement) Instrument() *qdac.Instrument { return a.instrument }

// Contacts returns the contact names in index order.
func (a *Arrangement) Contacts() []string {
	return append([]string(nil), a.names...)
}

// Size is the number of contacts.
func (a *Arrangement) Size() int { return len(a.names) }

// LineFrequency is the power-line frequency assumed for current integration.
func (a *Arrangement) LineFrequency() float64 { return a.lineFrequency }

// Index returns the contact's position in the voltage vector.
func (a *Arrangement) Index(name string) (int, error) {
	i, ok := a.indices[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownContact, name)
	}
	return i, nil
}

// Channel returns the physical channel a contact is bound to.
func (a *Arrangement) Channel(name string) (*qdac.Channel, error) {
	i, err := a.Index(name)
	if err != nil {
		return nil, err
	}
	return a.channels[i], nil
}

// ChannelNumbers returns the bound channel numbers in contact-index order.
func (a *Arrangement) ChannelNumbers() []int {
	numbers := make([]int, len(a.channels))
	for i, ch := range a.channels {
		numbers[i] = ch.Number()
	}
	return numbers
}

// Trigger returns the internal trigger requested under the given name at
// construction.
func (a *Arrangement) Trigger(name string) (*qdac.Trigger, error) {
	t, ok := a.triggers[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	return t, nil
}

// VirtualVoltage returns the virtual (pre-correction) voltage of a contact.
func (a *Arrangement) VirtualVoltage(name string) (float64, error) {
	i, err := a.Index(name)
	if err != nil {
		return 0, err
	}
	return a.virtual[i], nil
}

// VirtualVoltages returns the virtual voltage vector in contact-index order.
func (a *Arrangement) VirtualVoltages() []float64 {
	return append([]float64(nil), a.virtual...)
}

// ActualVoltages returns C·v, the physical voltages in contact-index order.
func (a *Arrangement) ActualVoltages() []float64 {
	out := make([]float64, len(a.virtual))
	v := mat.NewVecDense(len(a.virtual), a.virtual)
	result := mat.NewVecDense(len(a.virtual), out)
	result.MulVec(a.correction, v)
	return out
}

// CorrectionMatrix returns a copy of C.
func (a *Arrangement) CorrectionMatrix() *mat.Dense {
	return mat.DenseCopyOf(a.correction)
}

// SetVirtualVoltage updates one entry of v and pushes the recomputed
// physical vector to every channel. All channels are reprogrammed because
// the correction matrix may couple any contact to any channel.
func (a *Arrangement) SetVirtualVoltage(name string, voltage float64) error {
	i, err := a.Index(name)
	if err != nil {
		return err
	}
	a.virtual[i] = voltage
	return a.effectuate()
}

// SetVirtualVoltages updates all the given entries of v first, then pushes a
// single consistent physical snapshot: one SetVoltage per channel, in
// contact-index order.
func (a *Arrangement) SetVirtualVoltages(voltages map[string]float64) error {
	for name, voltage := range voltages {
		i, err := a.Index(name)
		if err != nil {
			return err
		}
		a.virtual[i] = voltage
	}
	return a.effectuate()
}

// InitiateCorrection replaces the correction-matrix row belonging to the
// contact, discarding any prior correction of that row, and re-effectuates.
func (a *Arrangement) InitiateCorrection(name string, row []float64) error {
	i, err := a.Index(name)
	if err != nil {
		return err
	}
	if len(row) != len(a.names) {
		return fmt.Errorf("gates: correction row for %q has %d factors, want %d",
			name, len(row), len(a.names))
	}
	a.correction.SetRow(i, row)
	return a.effectuate()
}

// AddCorrection composes a new correction on top of the existing one:
// C' = M·C where M is the identity with the contact's row replaced. Prior
// corrections of other contacts keep their effect. Repeated calls compose
// indefinitely; use InitiateCorrection to start over for a row.
func (a *Arrangement) AddCorrection(name string, row []float64) error {
	i, err := a.Index(name)
	if err != nil {
		return err
	}
	if len(row) != len(a.names) {
		return fmt.Errorf("gates: correction row for %q has %d factors, want %d",
			name, len(row), len(a.names))
	}
	multiplier := identity(len(a.names))
	multiplier.SetRow(i, row)
	var composed mat.Dense
	composed.Mul(multiplier, a.correction)
	a.correction = &composed
	return a.effectuate()
}

// Close releases every internal trigger the arrangement allocated, named
// and output-routed alike. Live sweeps hold their own trigger allocations,
// so closing the arrangement cannot corrupt them, but they should be closed
// first. Idempotent.
func (a *Arrangement) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.freeTriggers()
	return nil
}

func (a *Arrangement) freeTriggers() {
	for _, t := range a.triggers {
		if t != nil {
			t.Release()
		}
	}
}

// effectuate pushes C·v to the hardware, one channel at a time in
// contact-index order.
func (a *Arrangement) effectuate() error {
	actual := a.ActualVoltages()
	for i, ch := range a.channels {
		if err := ch.SetVoltage(actual[i]); err != nil {
			return err
		}
	}
	return nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
