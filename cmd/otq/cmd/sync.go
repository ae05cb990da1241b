package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/array"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Distribute the controller clock across the array",
	Long: `Make the first configured instrument the clock source: every other
instrument switches to the external clock input and aligns to it, then the
controller emits the one-shot sync pulse. Needs at least two instruments.

Examples:
  otq sync --config lab-station.yaml`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	_, instruments, closeAll, err := connectStation()
	if err != nil {
		return err
	}
	defer closeAll()

	arr, err := array.New(instruments[0], instruments[1:]...)
	if err != nil {
		return err
	}
	if err := arr.SyncClocks(); err != nil {
		return err
	}
	fmt.Printf("clock distributed from %s to %d listeners\n",
		arr.Controller().Name(), len(instruments)-1)
	return nil
}
