package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/array"
)

var setContact string

var setCmd = &cobra.Command{
	Use:   "set [channel] <voltage>",
	Short: "Set a channel or virtual gate voltage",
	Long: `Set a DC voltage. With a channel number the voltage goes straight to
that channel on the first instrument. With --contact the voltage is a virtual
gate voltage: the station's correction matrix is applied and every coupled
channel on the owning instrument is reprogrammed.

Examples:
  otq set 7 0.25
  otq set --contact plunger -- -0.5`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().StringVar(&setContact, "contact", "", "virtual gate contact name")
}

func runSet(cmd *cobra.Command, args []string) error {
	cfg, instruments, closeAll, err := connectStation()
	if err != nil {
		return err
	}
	defer closeAll()

	if setContact != "" {
		if len(args) != 1 {
			return fmt.Errorf("--contact takes exactly one voltage argument")
		}
		voltage, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad voltage %q: %w", args[0], err)
		}
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
		if err := arrangement.SetVirtualVoltage(setContact, voltage); err != nil {
			return err
		}
		fmt.Printf("%s = %g V\n", setContact, voltage)
		return nil
	}

	if len(args) != 2 {
		return fmt.Errorf("need a channel number and a voltage")
	}
	number, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad channel %q: %w", args[0], err)
	}
	voltage, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad voltage %q: %w", args[1], err)
	}
	channel, err := instruments[0].Channel(number)
	if err != nil {
		return err
	}
	if err := channel.SetVoltage(voltage); err != nil {
		return err
	}
	fmt.Printf("%s channel %d = %g V\n", instruments[0].Name(), number, voltage)
	return nil
}
