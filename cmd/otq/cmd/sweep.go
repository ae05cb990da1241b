package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/OpenTraceLab/OpenTraceQDAC/internal/station"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/gates"
)

var (
	sweepContact string
	sweepFrom    float64
	sweepTo      float64
	sweepPoints  int
	sweepStep    time.Duration
	sweepReps    int

	outerContact string
	outerFrom    float64
	outerTo      float64
	outerPoints  int

	detuneContacts []string
	detuneFrom     []float64
	detuneTo       []float64
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a synchronized virtual gate sweep",
	Long: `Sweep one virtual gate through a linear ramp while the instrument
steps every coupled channel in hardware. --outer-contact turns it into a 2-D
raster, one inner pass per outer point. --detune-contacts ramps several gates
along independent linear trajectories in lockstep.

All contacts of a sweep must live on the same instrument.

Examples:
  otq sweep --contact g1 --from -1 --to 1 --points 101 --step-time 2ms
  otq sweep --contact inner --points 51 --outer-contact outer --outer-from 0 \
      --outer-to 0.4 --outer-points 21 --step-time 1ms
  otq sweep --detune-contacts g1,g2 --detune-from 0,0.4 --detune-to 0.4,0 \
      --points 41 --step-time 5ms`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepContact, "contact", "", "contact to sweep")
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 0, "sweep start voltage")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 0, "sweep end voltage")
	sweepCmd.Flags().IntVar(&sweepPoints, "points", 2, "points along the (inner) axis")
	sweepCmd.Flags().DurationVar(&sweepStep, "step-time", 2*time.Millisecond, "dwell per point")
	sweepCmd.Flags().IntVar(&sweepReps, "repetitions", 1, "playback count, -1 repeats forever")

	sweepCmd.Flags().StringVar(&outerContact, "outer-contact", "", "outer axis contact (2-D)")
	sweepCmd.Flags().Float64Var(&outerFrom, "outer-from", 0, "outer axis start voltage")
	sweepCmd.Flags().Float64Var(&outerTo, "outer-to", 0, "outer axis end voltage")
	sweepCmd.Flags().IntVar(&outerPoints, "outer-points", 2, "points along the outer axis")

	sweepCmd.Flags().StringSliceVar(&detuneContacts, "detune-contacts", nil,
		"contacts for a detune ramp")
	sweepCmd.Flags().Float64SliceVar(&detuneFrom, "detune-from", nil,
		"per-contact detune start voltages")
	sweepCmd.Flags().Float64SliceVar(&detuneTo, "detune-to", nil,
		"per-contact detune end voltages")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, instruments, closeAll, err := connectStation()
	if err != nil {
		return err
	}
	defer closeAll()

	contacts := detuneContacts
	if len(contacts) == 0 {
		if sweepContact == "" {
			return fmt.Errorf("need --contact or --detune-contacts")
		}
		contacts = []string{sweepContact}
		if outerContact != "" {
			contacts = append(contacts, outerContact)
		}
	}
	owner, err := sweepInstrument(cfg, contacts)
	if err != nil {
		return err
	}
	in, err := instrumentByName(instruments, owner)
	if err != nil {
		return err
	}
	arrangement, err := gates.Arrange(in, cfg.GatesLayout(owner))
	if err != nil {
		return err
	}
	defer arrangement.Close()
	for _, contact := range cfg.GatesLayout(owner).Contacts {
		if row, ok := cfg.Correction[contact.Name]; ok {
			if err := arrangement.InitiateCorrection(contact.Name, row); err != nil {
				return err
			}
		}
	}

	config := gates.SweepConfig{StepTime: sweepStep, Repetitions: sweepReps}
	var sweep *gates.Sweep
	switch {
	case len(detuneContacts) > 0:
		sweep, err = arrangement.VirtualDetune(detuneContacts, detuneFrom, detuneTo, sweepPoints, config)
	case outerContact != "":
		sweep, err = arrangement.VirtualSweep2D(
			sweepContact, ramp(sweepFrom, sweepTo, sweepPoints),
			outerContact, ramp(outerFrom, outerTo, outerPoints), config)
	default:
		sweep, err = arrangement.VirtualSweep1D(sweepContact, ramp(sweepFrom, sweepTo, sweepPoints), config)
	}
	if err != nil {
		return err
	}
	defer sweep.Close()

	if verbose {
		for _, contact := range contacts {
			values, err := sweep.ActualValues(contact)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %v\n", contact, values)
		}
	}

	if err := sweep.Start(); err != nil {
		return err
	}
	points := sweep.Points()
	fmt.Printf("sweeping %d points at %v per point on %s\n", points, sweepStep, owner)
	if sweepReps > 0 {
		// Let the hardware play out before Close aborts the generators.
		time.Sleep(time.Duration(points*sweepReps) * sweepStep)
	}
	return nil
}

// sweepInstrument checks all swept contacts share one instrument and returns
// its name.
func sweepInstrument(cfg *station.Config, contacts []string) (string, error) {
	owner := ""
	for _, name := range contacts {
		contact, err := cfg.FindContact(name)
		if err != nil {
			return "", err
		}
		if owner == "" {
			owner = contact.Instrument
		} else if contact.Instrument != owner {
			return "", fmt.Errorf("contacts %q span instruments %q and %q, sweeps are per-instrument",
				contacts, owner, contact.Instrument)
		}
	}
	return owner, nil
}

func ramp(from, to float64, points int) []float64 {
	if points < 2 {
		return []float64{from}
	}
	return floats.Span(make([]float64, points), from, to)
}
