// Package array composes several voltage-source instruments — one controller
// and any number of listeners sharing the controller's clock and a cross-wired
// trigger line — into a single logical device for virtual-gate arrangements,
// sweeps and leakage characterization.
package array

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/gates"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
)

const (
	// TriggerOutPort is the controller's external output wired to every
	// instrument's common trigger input.
	TriggerOutPort = 4
	// SyncOutPort carries the controller's clock/sync signal.
	SyncOutPort = 5
	// CommonTriggerInput is the external input port each instrument
	// receives the cross-wired trigger on.
	CommonTriggerInput = 3
)

// Array is one controller instrument plus its listeners. The order is
// significant: the controller is always first, and composite contact order
// is controller-first.
type Array struct {
	controller  *qdac.Instrument
	instruments []*qdac.Instrument
}

// New validates that all instrument names are unique and returns the array.
func New(controller *qdac.Instrument, listeners ...*qdac.Instrument) (*Array, error) {
	arr := &Array{
		controller:  controller,
		instruments: append([]*qdac.Instrument{controller}, listeners...),
	}
	seen := make(map[string]bool, len(arr.instruments))
	for _, in := range arr.instruments {
		if seen[in.Name()] {
			return nil, fmt.Errorf("array: instruments need unique names, %q repeats", in.Name())
		}
		seen[in.Name()] = true
	}
	return arr, nil
}

// Controller returns the controlling instrument.
func (arr *Array) Controller() *qdac.Instrument { return arr.controller }

// Names returns the instrument names, controller first.
func (arr *Array) Names() []string {
	names := make([]string, len(arr.instruments))
	for i, in := range arr.instruments {
		names[i] = in.Name()
	}
	return names
}

// Instrument looks an instrument up by name.
func (arr *Array) Instrument(name string) (*qdac.Instrument, error) {
	for _, in := range arr.instruments {
		if in.Name() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("array: no instrument named %q", name)
}

// SyncClocks distributes the controller's clock to every listener: the
// controller starts sending its clock, each listener switches to the
// external clock and aligns to it, then the controller aligns itself and
// emits the one-shot sync pulse. A failure partway leaves earlier
// instruments configured; the returned error names the instrument that
// failed.
func (arr *Array) SyncClocks() error {
	if len(arr.instruments) < 2 {
		return fmt.Errorf("array: need at least two instruments to sync, have %d", len(arr.instruments))
	}
	if err := arr.controller.ClockSend(true); err != nil {
		return err
	}
	for _, listener := range arr.instruments[1:] {
		if err := listener.ClockSource("ext"); err != nil {
			return err
		}
		if err := listener.ClockSync(); err != nil {
			return err
		}
	}
	if err := arr.controller.ClockSync(); err != nil {
		return err
	}
	return arr.controller.SyncSignal()
}

// AllocateTrigger allocates an internal trigger on the controller, the only
// instrument whose triggers can reach every box through the cross-wired
// line.
func (arr *Array) AllocateTrigger() (*qdac.Trigger, error) {
	return arr.controller.Triggers().Allocate()
}

// ConnectCommonTrigger routes a controller trigger onto the cross-wired
// line: out the controller's TriggerOutPort and armed as the common external
// input everywhere it is needed by generators bound via StartOnExternal.
func (arr *Array) ConnectCommonTrigger(t *qdac.Trigger) error {
	out, err := arr.controller.ExternalOut(TriggerOutPort)
	if err != nil {
		return err
	}
	return out.Source(t)
}

// Binding places one contact on one instrument's channel.
type Binding struct {
	Instrument string
	Contact    gates.Contact
}

// OutputBinding places a named output trigger on one instrument's port.
type OutputBinding struct {
	Instrument string
	Output     gates.OutputTrigger
}

// Layout describes an array-wide arrangement: contacts across instruments,
// optional per-instrument output triggers and the internal trigger names to
// allocate on the controller.
type Layout struct {
	Bindings         []Binding
	OutputTriggers   []OutputBinding
	InternalTriggers []string
	// LineFrequency is the mains frequency in Hz shared by the whole
	// setup; 0 selects the 50 Hz default.
	LineFrequency float64
}

// Arrange partitions the layout per instrument, constructs one real
// arrangement per participating instrument (internal triggers only on the
// controller, where cross-instrument synchronization originates) and returns
// the composite. Contact names must be unique across the whole array, and
// the controller's reserved sync/trigger output ports may not be requested.
func (arr *Array) Arrange(layout Layout) (*Arrangement, error) {
	for _, output := range layout.OutputTriggers {
		if output.Instrument == arr.controller.Name() &&
			(output.Output.Port == TriggerOutPort || output.Output.Port == SyncOutPort) {
			return nil, fmt.Errorf("array: external output %d on %q is reserved for array synchronization",
				output.Output.Port, output.Instrument)
		}
	}
	owners := make(map[string]string)
	perInstrument := make(map[string]*gates.Layout)
	layoutFor := func(name string) (*gates.Layout, error) {
		if l, ok := perInstrument[name]; ok {
			return l, nil
		}
		if _, err := arr.Instrument(name); err != nil {
			return nil, err
		}
		l := &gates.Layout{LineFrequency: layout.LineFrequency}
		perInstrument[name] = l
		return l, nil
	}
	for _, binding := range layout.Bindings {
		if owner, dup := owners[binding.Contact.Name]; dup {
			return nil, fmt.Errorf("array: contact name %q used on both %q and %q",
				binding.Contact.Name, owner, binding.Instrument)
		}
		owners[binding.Contact.Name] = binding.Instrument
		l, err := layoutFor(binding.Instrument)
		if err != nil {
			return nil, err
		}
		l.Contacts = append(l.Contacts, binding.Contact)
	}
	for _, output := range layout.OutputTriggers {
		l, err := layoutFor(output.Instrument)
		if err != nil {
			return nil, err
		}
		l.OutputTriggers = append(l.OutputTriggers, output.Output)
	}

	composite := &Arrangement{
		array:        arr,
		arrangements: make(map[string]*gates.Arrangement),
		owners:       owners,
		triggers:     make(map[string]*qdac.Trigger),
	}
	// Instrument order, controller first, defines composite contact order.
	for _, in := range arr.instruments {
		l, ok := perInstrument[in.Name()]
		if !ok || len(l.Contacts) == 0 {
			continue
		}
		if in == arr.controller {
			l.InternalTriggers = layout.InternalTriggers
		}
		arrangement, err := gates.Arrange(in, *l)
		if err != nil {
			composite.Close()
			return nil, fmt.Errorf("array: %s: %w", in.Name(), err)
		}
		composite.arrangements[in.Name()] = arrangement
		composite.order = append(composite.order, in.Name())
		for _, contact := range l.Contacts {
			composite.contacts = append(composite.contacts, contact.Name)
		}
	}
	if len(composite.contacts) == 0 {
		return nil, fmt.Errorf("array: arrangement needs at least one contact")
	}
	// Internal triggers always live on the controller. With no controller
	// contacts there is no controller arrangement to carry them, so lease
	// them from the controller's pool directly.
	if _, ok := composite.arrangements[arr.controller.Name()]; !ok {
		for _, name := range layout.InternalTriggers {
			if _, dup := composite.triggers[name]; dup {
				composite.Close()
				return nil, fmt.Errorf("array: duplicate trigger name %q", name)
			}
			t, err := arr.controller.Triggers().Allocate()
			if err != nil {
				composite.Close()
				return nil, fmt.Errorf("array: trigger %q: %w", name, err)
			}
			composite.triggers[name] = t
		}
	}
	return composite, nil
}
