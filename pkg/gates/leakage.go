package gates

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Current measurement and the finite-difference leakage characterizer.

// IntegrationWait is how long the current sensors need after reconfiguration
// before a read has data: one settling cycle plus the integration window.
func (a *Arrangement) IntegrationWait(nplc int) time.Duration {
	return time.Duration(float64(nplc+1) / a.lineFrequency * float64(time.Second))
}

// PrepareSenseRange switches every contact's channel to a consistent current
// range in one batched command.
func (a *Arrangement) PrepareSenseRange(currentRange string) error {
	return a.instrument.SetCurrentRange(currentRange, a.ChannelNumbers())
}

// PrepareSenseNPLC sets the integration time on every contact's channel. The
// preceding status-byte query blocks until the range relays have finished
// switching.
func (a *Arrangement) PrepareSenseNPLC(nplc int) error {
	if _, err := a.instrument.StatusByte(); err != nil {
		return err
	}
	return a.instrument.SetNPLC(nplc, a.ChannelNumbers())
}

// ReadCurrents triggers a batched read and returns one current per contact,
// in contact-index order. Call only after the integration window has
// elapsed.
func (a *Arrangement) ReadCurrents() ([]float64, error) {
	return a.instrument.ReadCurrents(a.ChannelNumbers())
}

// Currents measures the current on every contact: batched range and
// integration-time configuration, a blocking wait for the integration
// window, then one batched read. The wait always runs to completion; there
// is no cancellation hook.
func (a *Arrangement) Currents(nplc int, currentRange string) ([]float64, error) {
	if nplc < 1 {
		return nil, fmt.Errorf("gates: nplc must be at least 1, got %d", nplc)
	}
	if err := a.PrepareSenseRange(currentRange); err != nil {
		return nil, err
	}
	if err := a.PrepareSenseNPLC(nplc); err != nil {
		return nil, err
	}
	time.Sleep(a.IntegrationWait(nplc))
	return a.ReadCurrents()
}

// Leakage measures the N×N finite-difference Jacobian of contact currents
// with respect to virtual voltages. Each contact in turn is perturbed by
// ±modulation/2 around its nominal voltage and row i becomes
// (I₊ − I₋)/modulation, so entry [i][j] approximates ∂I(j)/∂v(i). The
// nominal voltage is restored exactly after every perturbation, also when a
// read fails partway through.
func (a *Arrangement) Leakage(modulationV float64, nplc int) (*mat.Dense, error) {
	if modulationV == 0 {
		return nil, fmt.Errorf("gates: leakage modulation must be non-zero")
	}
	// Baseline read: settles the sensors on the shared range before the
	// perturbation rounds.
	if _, err := a.Currents(nplc, "low"); err != nil {
		return nil, err
	}
	n := a.Size()
	result := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		plus, minus, err := a.perturbedCurrents(i, modulationV, nplc)
		if err != nil {
			return nil, err
		}
		for j := 0; j < n; j++ {
			result.Set(i, j, (plus[j]-minus[j])/modulationV)
		}
	}
	return result, nil
}

// perturbedCurrents reads currents at ±modulation/2 around the contact's
// nominal voltage. Restoration is deferred so an error cannot leave the
// contact perturbed.
func (a *Arrangement) perturbedCurrents(index int, modulationV float64, nplc int) (plus, minus []float64, err error) {
	original := a.virtual[index]
	defer func() {
		if rerr := a.effectuateIndex(index, original); rerr != nil && err == nil {
			err = rerr
		}
	}()
	if err = a.effectuateIndex(index, original+modulationV/2); err != nil {
		return nil, nil, err
	}
	if plus, err = a.Currents(nplc, "low"); err != nil {
		return nil, nil, err
	}
	if err = a.effectuateIndex(index, original-modulationV/2); err != nil {
		return nil, nil, err
	}
	if minus, err = a.Currents(nplc, "low"); err != nil {
		return nil, nil, err
	}
	return plus, minus, nil
}

func (a *Arrangement) effectuateIndex(index int, voltage float64) error {
	a.virtual[index] = voltage
	return a.effectuate()
}

// Resistances converts a leakage matrix into the operator-facing Ω view:
// the absolute reciprocal of each entry, +Inf where no current responded.
func Resistances(leakage *mat.Dense) *mat.Dense {
	rows, cols := leakage.Dims()
	result := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			entry := leakage.At(i, j)
			if entry == 0 {
				result.Set(i, j, math.Inf(1))
				continue
			}
			result.Set(i, j, math.Abs(1/entry))
		}
	}
	return result
}
