package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Identify every configured instrument",
	Long: `Query *idn? on every instrument in the station, report the LAN MAC
address and drain the error queue.

Examples:
  otq info --sim
  otq info --config lab-station.yaml`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	_, instruments, closeAll, err := connectStation()
	if err != nil {
		return err
	}
	defer closeAll()

	for _, in := range instruments {
		idn, err := in.Verify()
		if err != nil {
			return fmt.Errorf("%s: %w", in.Name(), err)
		}
		fmt.Printf("%s: %s %s, serial %s, firmware %s\n",
			in.Name(), idn.Manufacturer, idn.Model, idn.Serial, idn.Firmware)

		if mac, err := in.MACAddress(); err == nil {
			fmt.Printf("  MAC: %s\n", mac)
		}

		count, err := in.ErrorCount()
		if err != nil {
			return fmt.Errorf("%s: %w", in.Name(), err)
		}
		if count > 0 {
			all, err := in.Errors()
			if err != nil {
				return fmt.Errorf("%s: %w", in.Name(), err)
			}
			fmt.Printf("  %d queued errors: %s\n", count, all)
		} else if verbose {
			fmt.Printf("  error queue empty\n")
		}
	}
	return nil
}
