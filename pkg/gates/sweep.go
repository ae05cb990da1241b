package gates

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
)

// SweepConfig configures the synchronized start of a virtual sweep.
type SweepConfig struct {
	// StepTime is the dwell per (inner) sweep point.
	StepTime time.Duration
	// Repetitions is the playback count; 0 means 1, -1 means infinite.
	Repetitions int
	// StartTrigger names an arrangement-owned internal trigger to start
	// on; empty allocates an anonymous trigger owned by the sweep.
	StartTrigger string
	// StepTrigger names an arrangement-owned trigger to pulse at every
	// inner step boundary.
	StepTrigger string
	// OuterStepTrigger names an arrangement-owned trigger to pulse at
	// every outer step boundary (2-D sweeps only). Requires the layout to
	// designate an outer trigger channel.
	OuterStepTrigger string
}

// Sweep is an armed, hardware-synchronized voltage sweep. Construction has
// already uploaded every channel's physical sequence as an inert list and
// bound all lists to one shared start trigger; Start fires that trigger, the
// only operation that changes physical voltages after construction.
type Sweep struct {
	arrangement *Arrangement
	grid        [][]float64 // points × contacts
	lists       []*qdac.ListContext
	start       *qdac.Trigger
	ownsStart   bool
	helper      *qdac.WaveContext
	closed      bool
}

// VirtualSweep1D sweeps one contact through the given virtual voltages while
// every other contact stays at its current virtual voltage. The arrangement's
// voltage vector is unchanged when the call returns; only Start moves the
// hardware through the sequence.
func (a *Arrangement) VirtualSweep1D(contact string, voltages []float64, cfg SweepConfig) (*Sweep, error) {
	if len(voltages) == 0 {
		return nil, fmt.Errorf("gates: sweep needs at least one voltage")
	}
	index, err := a.Index(contact)
	if err != nil {
		return nil, err
	}
	grid := a.sweep1DValues(index, voltages)
	return a.newSweep(grid, cfg, 0, 0)
}

// VirtualSweep2D sweeps the inner contact through its voltages once per
// outer value, outer-major: the per-channel sequence length is
// len(outer)×len(inner) with the inner axis varying fastest.
func (a *Arrangement) VirtualSweep2D(innerContact string, innerVoltages []float64,
	outerContact string, outerVoltages []float64, cfg SweepConfig) (*Sweep, error) {
	if len(innerVoltages) == 0 || len(outerVoltages) == 0 {
		return nil, fmt.Errorf("gates: sweep needs at least one voltage per axis")
	}
	innerIndex, err := a.Index(innerContact)
	if err != nil {
		return nil, err
	}
	outerIndex, err := a.Index(outerContact)
	if err != nil {
		return nil, err
	}
	grid := a.sweep2DValues(innerIndex, innerVoltages, outerIndex, outerVoltages)
	return a.newSweep(grid, cfg, len(innerVoltages), len(outerVoltages))
}

// VirtualDetune sweeps several contacts together, each interpolating
// linearly from its start voltage to its end voltage and back, using the
// forward-then-reflected traversal of ForwardAndBack so repetitions join
// without a voltage jump.
func (a *Arrangement) VirtualDetune(contacts []string, startV, endV []float64,
	steps int, cfg SweepConfig) (*Sweep, error) {
	if len(contacts) != len(startV) || len(contacts) != len(endV) {
		return nil, fmt.Errorf("gates: %d contacts need exactly one start and end voltage each, got %d and %d",
			len(contacts), len(startV), len(endV))
	}
	if len(contacts) == 0 {
		return nil, fmt.Errorf("gates: detune needs at least one contact")
	}
	if steps < 2 {
		return nil, fmt.Errorf("gates: detune needs at least 2 steps, got %d", steps)
	}
	indices := make([]int, len(contacts))
	for i, contact := range contacts {
		index, err := a.Index(contact)
		if err != nil {
			return nil, err
		}
		indices[i] = index
	}
	grid := a.detuneValues(indices, startV, endV, steps)
	return a.newSweep(grid, cfg, 0, 0)
}

// newSweep arms the sweep: validates the trigger configuration, uploads one
// list per channel, binds every list to the shared start trigger and, for
// 2-D sweeps with an outer step trigger, starts a span-0 sine on the
// designated helper channel whose period-start marker clocks the outer axis.
func (a *Arrangement) newSweep(grid [][]float64, cfg SweepConfig, innerLen, outerLen int) (*Sweep, error) {
	if cfg.StepTime <= 0 {
		return nil, fmt.Errorf("gates: sweep step time must be positive, got %v", cfg.StepTime)
	}
	var stepTrigger, outerTrigger *qdac.Trigger
	var err error
	if cfg.StepTrigger != "" {
		if stepTrigger, err = a.Trigger(cfg.StepTrigger); err != nil {
			return nil, err
		}
	}
	if cfg.OuterStepTrigger != "" {
		if innerLen == 0 {
			return nil, fmt.Errorf("gates: outer step trigger requires a 2-D sweep")
		}
		if a.outerChannel == nil {
			return nil, ErrNoOuterTriggerChannel
		}
		if outerTrigger, err = a.Trigger(cfg.OuterStepTrigger); err != nil {
			return nil, err
		}
	}
	s := &Sweep{arrangement: a, grid: grid}
	if cfg.StartTrigger != "" {
		if s.start, err = a.Trigger(cfg.StartTrigger); err != nil {
			return nil, err
		}
	} else {
		if s.start, err = a.instrument.Triggers().Allocate(); err != nil {
			return nil, err
		}
		s.ownsStart = true
	}
	for i, ch := range a.channels {
		list, err := ch.DCList(qdac.ListOptions{
			Voltages:    column(grid, i),
			Dwell:       cfg.StepTime,
			Repetitions: cfg.Repetitions,
		})
		if err != nil {
			s.abandon()
			return nil, err
		}
		s.lists = append(s.lists, list)
		if err := list.StartOn(s.start); err != nil {
			s.abandon()
			return nil, err
		}
	}
	if stepTrigger != nil {
		// All channels step in lockstep, so the first channel's marker
		// stands for the whole sweep.
		if err := s.lists[0].UseStepStartMarker(stepTrigger); err != nil {
			s.abandon()
			return nil, err
		}
	}
	if outerTrigger != nil {
		helper, err := a.outerChannel.SineWave(qdac.WaveOptions{
			Period:      time.Duration(innerLen) * cfg.StepTime,
			Span:        0,
			Repetitions: outerLen,
		})
		if err != nil {
			s.abandon()
			return nil, err
		}
		s.helper = helper
		if err := helper.StartOn(s.start); err != nil {
			s.abandon()
			return nil, err
		}
		if err := helper.UsePeriodStartMarker(outerTrigger); err != nil {
			s.abandon()
			return nil, err
		}
	}
	return s, nil
}

// Start fires the shared start trigger: every participating channel begins
// playback in the same hardware cycle.
func (s *Sweep) Start() error {
	return s.arrangement.instrument.FireInternal(s.start)
}

// ActualValues returns the physical voltage sequence that was loaded for a
// contact's channel.
func (s *Sweep) ActualValues(contact string) ([]float64, error) {
	index, err := s.arrangement.Index(contact)
	if err != nil {
		return nil, err
	}
	return column(s.grid, index), nil
}

// Points is the per-channel sequence length.
func (s *Sweep) Points() int { return len(s.grid) }

// Close aborts every participating channel, stops the outer helper and
// releases the trigger the sweep allocated. Safe to call whether or not
// Start was ever invoked, and idempotent.
func (s *Sweep) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if s.helper != nil {
		if err := s.helper.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, list := range s.lists {
		if err := list.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ownsStart {
		s.start.Release()
	}
	return firstErr
}

// abandon cleans up a partially constructed sweep.
func (s *Sweep) abandon() {
	s.closed = true
	if s.helper != nil {
		_ = s.helper.Close()
	}
	for _, list := range s.lists {
		_ = list.Close()
	}
	if s.ownsStart {
		s.start.Release()
	}
}

// sweep1DValues substitutes each sweep voltage into the virtual vector and
// collects the physical snapshot per point. The vector is restored before
// returning.
func (a *Arrangement) sweep1DValues(index int, voltages []float64) [][]float64 {
	original := a.virtual[index]
	defer func() { a.virtual[index] = original }()
	grid := make([][]float64, 0, len(voltages))
	for _, v := range voltages {
		a.virtual[index] = v
		grid = append(grid, a.ActualVoltages())
	}
	return grid
}

func (a *Arrangement) sweep2DValues(innerIndex int, innerVoltages []float64,
	outerIndex int, outerVoltages []float64) [][]float64 {
	originalInner := a.virtual[innerIndex]
	originalOuter := a.virtual[outerIndex]
	defer func() {
		a.virtual[innerIndex] = originalInner
		a.virtual[outerIndex] = originalOuter
	}()
	grid := make([][]float64, 0, len(outerVoltages)*len(innerVoltages))
	for _, outer := range outerVoltages {
		a.virtual[outerIndex] = outer
		for _, inner := range innerVoltages {
			a.virtual[innerIndex] = inner
			grid = append(grid, a.ActualVoltages())
		}
	}
	return grid
}

func (a *Arrangement) detuneValues(indices []int, startV, endV []float64, steps int) [][]float64 {
	originals := make([]float64, len(indices))
	for i, index := range indices {
		originals[i] = a.virtual[index]
	}
	defer func() {
		for i, index := range indices {
			a.virtual[index] = originals[i]
		}
	}()
	waves := make([][]float64, len(indices))
	for i := range indices {
		waves[i] = ForwardAndBack(startV[i], endV[i], steps)
	}
	grid := make([][]float64, 0, len(waves[0]))
	for point := 0; point < len(waves[0]); point++ {
		for i, index := range indices {
			a.virtual[index] = waves[i][point]
		}
		grid = append(grid, a.ActualVoltages())
	}
	return grid
}

// ForwardAndBack interpolates linearly from start to end in the given number
// of steps, then returns toward start without repeating either extreme:
// ForwardAndBack(-1, 1, 3) is [-1, 0, 1, 0]. The result is one period of a
// jump-free triangle traversal.
func ForwardAndBack(start, end float64, steps int) []float64 {
	forward := linspace(start, end, steps)
	values := make([]float64, 0, 2*steps-2)
	values = append(values, forward...)
	for i := steps - 2; i >= 1; i-- {
		values = append(values, forward[i])
	}
	return values
}

func linspace(start, end float64, steps int) []float64 {
	if steps < 2 {
		return []float64{start}
	}
	dst := make([]float64, steps)
	floats.Span(dst, start, end)
	return dst
}

func column(grid [][]float64, index int) []float64 {
	col := make([]float64, len(grid))
	for i, row := range grid {
		col[i] = row[index]
	}
	return col
}
