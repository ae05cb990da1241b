package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/array"
)

var (
	leakageModulation float64
	leakageNPLC       int
	leakageResistance bool
)

var leakageCmd = &cobra.Command{
	Use:   "leakage",
	Short: "Measure the gate-to-gate leakage matrix",
	Long: `Perturb every contact of the station in turn and read the current
response on all contacts, producing the leakage conductance matrix in A/V.
Perturbed voltages are restored exactly afterwards.

Examples:
  otq leakage --modulation 0.005 --nplc 2
  otq leakage --modulation 0.01 --resistance   # print ohms instead`,
	RunE: runLeakage,
}

func init() {
	rootCmd.AddCommand(leakageCmd)
	leakageCmd.Flags().Float64Var(&leakageModulation, "modulation", 0.005,
		"voltage step applied to each contact")
	leakageCmd.Flags().IntVar(&leakageNPLC, "nplc", 2,
		"integration time in power-line cycles")
	leakageCmd.Flags().BoolVar(&leakageResistance, "resistance", false,
		"print resistances in ohms instead of conductances")
}

func runLeakage(cmd *cobra.Command, args []string) error {
	cfg, instruments, closeAll, err := connectStation()
	if err != nil {
		return err
	}
	defer closeAll()

	arr, err := array.New(instruments[0], instruments[1:]...)
	if err != nil {
		return err
	}
	arrangement, err := arr.Arrange(cfg.ArrayLayout())
	if err != nil {
		return err
	}
	defer arrangement.Close()
	if err := cfg.ApplyCorrection(arrangement); err != nil {
		return err
	}

	leakage, err := arrangement.Leakage(leakageModulation, leakageNPLC)
	if err != nil {
		return err
	}

	result := leakage
	unit := "A/V"
	if leakageResistance {
		result = array.Resistances(leakage)
		unit = "ohm"
	}
	fmt.Printf("contacts: %v (%s)\n", arrangement.Contacts(), unit)
	fmt.Printf("%v\n", mat.Formatted(result, mat.Squeeze()))
	return nil
}
