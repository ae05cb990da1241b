package array

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/gates"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
)

// Arrangement is the composite view over one real arrangement per
// participating instrument. Lookups route to the owning instrument;
// cross-instrument operations run phase by phase across every instrument so
// the hardware stays in lockstep. Correction matrices remain per-instrument:
// there is no cross-box coupling.
type Arrangement struct {
	array        *Array
	arrangements map[string]*gates.Arrangement
	order        []string // instrument names with contacts, controller first
	owners       map[string]string
	contacts     []string
	// triggers holds named internal triggers leased straight from the
	// controller's pool when the controller owns no contacts and
	// therefore has no arrangement of its own.
	triggers map[string]*qdac.Trigger
	closed   bool
}

// Contacts returns every contact name, controller instrument first, each
// instrument's contacts in binding order.
func (a *Arrangement) Contacts() []string {
	return append([]string(nil), a.contacts...)
}

// On returns the real arrangement living on the named instrument.
func (a *Arrangement) On(instrument string) (*gates.Arrangement, error) {
	arrangement, ok := a.arrangements[instrument]
	if !ok {
		return nil, fmt.Errorf("array: no arrangement on instrument %q", instrument)
	}
	return arrangement, nil
}

// Trigger returns a named internal trigger; these always live on the
// controller.
func (a *Arrangement) Trigger(name string) (*qdac.Trigger, error) {
	if t, ok := a.triggers[name]; ok {
		return t, nil
	}
	controller, err := a.On(a.array.controller.Name())
	if err != nil {
		return nil, fmt.Errorf("array: no trigger %q", name)
	}
	return controller.Trigger(name)
}

// Channel routes a contact lookup to the owning instrument's arrangement.
func (a *Arrangement) Channel(contact string) (*qdac.Channel, error) {
	owner, err := a.ownerOf(contact)
	if err != nil {
		return nil, err
	}
	return a.arrangements[owner].Channel(contact)
}

// VirtualVoltage returns the contact's virtual voltage from its owning
// arrangement.
func (a *Arrangement) VirtualVoltage(contact string) (float64, error) {
	owner, err := a.ownerOf(contact)
	if err != nil {
		return 0, err
	}
	return a.arrangements[owner].VirtualVoltage(contact)
}

// SetVirtualVoltage sets one contact's virtual voltage on its owning
// instrument; only that instrument's channels are reprogrammed.
func (a *Arrangement) SetVirtualVoltage(contact string, voltage float64) error {
	owner, err := a.ownerOf(contact)
	if err != nil {
		return err
	}
	return a.arrangements[owner].SetVirtualVoltage(contact, voltage)
}

// SetVirtualVoltages partitions the batch by owning instrument and applies
// each partition as one snapshot. Instruments are visited in composite
// order; a failure leaves earlier instruments at their new snapshot and the
// error names the instrument that failed.
func (a *Arrangement) SetVirtualVoltages(voltages map[string]float64) error {
	partitions := make(map[string]map[string]float64)
	for contact, voltage := range voltages {
		owner, err := a.ownerOf(contact)
		if err != nil {
			return err
		}
		if partitions[owner] == nil {
			partitions[owner] = make(map[string]float64)
		}
		partitions[owner][contact] = voltage
	}
	for _, name := range a.order {
		partition, ok := partitions[name]
		if !ok {
			continue
		}
		if err := a.arrangements[name].SetVirtualVoltages(partition); err != nil {
			return fmt.Errorf("array: %s: %w", name, err)
		}
	}
	return nil
}

// Currents measures every contact's current across the whole array. Each
// batched phase (range, pipeline-flush plus integration time, read) runs on
// every instrument before the next phase starts, with one shared integration
// sleep, so all sensors integrate over the same window. Results are in
// composite contact order.
func (a *Arrangement) Currents(nplc int, currentRange string) ([]float64, error) {
	if nplc < 1 {
		return nil, fmt.Errorf("array: nplc must be at least 1, got %d", nplc)
	}
	for _, name := range a.order {
		if err := a.arrangements[name].PrepareSenseRange(currentRange); err != nil {
			return nil, fmt.Errorf("array: %s: %w", name, err)
		}
	}
	var wait time.Duration
	for _, name := range a.order {
		arrangement := a.arrangements[name]
		if err := arrangement.PrepareSenseNPLC(nplc); err != nil {
			return nil, fmt.Errorf("array: %s: %w", name, err)
		}
		if w := arrangement.IntegrationWait(nplc); w > wait {
			wait = w
		}
	}
	time.Sleep(wait)
	var currents []float64
	for _, name := range a.order {
		values, err := a.arrangements[name].ReadCurrents()
		if err != nil {
			return nil, fmt.Errorf("array: %s: %w", name, err)
		}
		currents = append(currents, values...)
	}
	return currents, nil
}

// Leakage measures the finite-difference Jacobian across the whole array:
// contacts are perturbed in composite order and every row holds one reading
// per contact of the whole array. Perturbed voltages are restored exactly,
// also when a read fails partway through.
func (a *Arrangement) Leakage(modulationV float64, nplc int) (*mat.Dense, error) {
	if modulationV == 0 {
		return nil, fmt.Errorf("array: leakage modulation must be non-zero")
	}
	if _, err := a.Currents(nplc, "low"); err != nil {
		return nil, err
	}
	n := len(a.contacts)
	result := mat.NewDense(n, n, nil)
	for i, contact := range a.contacts {
		plus, minus, err := a.perturbedCurrents(contact, modulationV, nplc)
		if err != nil {
			return nil, err
		}
		for j := 0; j < n; j++ {
			result.Set(i, j, (plus[j]-minus[j])/modulationV)
		}
	}
	return result, nil
}

// Resistances is the operator-facing Ω view of a leakage matrix.
func Resistances(leakage *mat.Dense) *mat.Dense {
	return gates.Resistances(leakage)
}

func (a *Arrangement) perturbedCurrents(contact string, modulationV float64, nplc int) (plus, minus []float64, err error) {
	original, err := a.VirtualVoltage(contact)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if rerr := a.SetVirtualVoltage(contact, original); rerr != nil && err == nil {
			err = rerr
		}
	}()
	if err = a.SetVirtualVoltage(contact, original+modulationV/2); err != nil {
		return nil, nil, err
	}
	if plus, err = a.Currents(nplc, "low"); err != nil {
		return nil, nil, err
	}
	if err = a.SetVirtualVoltage(contact, original-modulationV/2); err != nil {
		return nil, nil, err
	}
	if minus, err = a.Currents(nplc, "low"); err != nil {
		return nil, nil, err
	}
	return plus, minus, nil
}

// Close closes every per-instrument arrangement, releasing all triggers the
// composite allocated. Idempotent.
func (a *Arrangement) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var firstErr error
	for _, arrangement := range a.arrangements {
		if err := arrangement.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, t := range a.triggers {
		t.Release()
	}
	return firstErr
}

func (a *Arrangement) ownerOf(contact string) (string, error) {
	owner, ok := a.owners[contact]
	if !ok {
		return "", fmt.Errorf("%w: %q", gates.ErrUnknownContact, contact)
	}
	return owner, nil
}
