package qdac

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

// Batched current sensing across many channels in one command, used by the
// leakage characterizer to keep all sensors on a consistent configuration.

// SetCurrentRange selects the current sense range ("low" or "high") on all
// the given channels at once.
func (in *Instrument) SetCurrentRange(r string, channels []int) error {
	if r != "low" && r != "high" {
		return fmt.Errorf("qdac: current range must be low or high, got %q", r)
	}
	if len(channels) == 0 {
		return fmt.Errorf("qdac: no channels to configure")
	}
	return in.Send(scpi.Cmd(scpi.H("sens:rang"), scpi.Sym(r), scpi.Channels(channels...)))
}

// SetNPLC sets the integration time in power-line cycles on all the given
// channels at once.
func (in *Instrument) SetNPLC(nplc int, channels []int) error {
	if nplc < 1 {
		return fmt.Errorf("qdac: nplc must be at least 1, got %d", nplc)
	}
	if len(channels) == 0 {
		return fmt.Errorf("qdac: no channels to configure")
	}
	return in.Send(scpi.Cmd(scpi.H("sens:nplc"), scpi.Int(nplc), scpi.Channels(channels...)))
}

// ReadCurrents triggers a synchronous current read on all the given channels
// and returns one reading per channel, in the order given.
func (in *Instrument) ReadCurrents(channels []int) ([]float64, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("qdac: no channels to read")
	}
	resp, err := in.Query(scpi.Qry(scpi.H("read"), scpi.Channels(channels...)))
	if err != nil {
		return nil, err
	}
	currents, err := scpi.ParseFloats(resp)
	if err != nil {
		return nil, fmt.Errorf("qdac: %s: %w", in.name, err)
	}
	if len(currents) != len(channels) {
		return nil, fmt.Errorf("qdac: %s: got %d readings for %d channels",
			in.name, len(currents), len(channels))
	}
	return currents, nil
}
