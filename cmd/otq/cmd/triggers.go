package cmd

import (
	"fmt"

	"github.com/l0nax/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/array"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
)

var debugDump bool

var pprint = spew.ConfigState{
	Indent:           "  ",
	SortKeys:         true,
	ContinueOnMethod: true,
}

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Show trigger resources and array routing",
	Long: `Report the internal trigger pool and the fixed external trigger
wiring of the station: the controller output ports reserved for array
synchronization and the common trigger input every instrument listens on.

Examples:
  otq triggers
  otq triggers --debug   # dump the full station state`,
	RunE: runTriggers,
}

func init() {
	rootCmd.AddCommand(triggersCmd)
	triggersCmd.Flags().BoolVar(&debugDump, "debug", false, "dump internal state")
}

func runTriggers(cmd *cobra.Command, args []string) error {
	cfg, instruments, closeAll, err := connectStation()
	if err != nil {
		return err
	}
	defer closeAll()

	for _, in := range instruments {
		pool := in.Triggers()
		fmt.Printf("%s: %d of %d internal trigger lines free, %d external inputs, %d external outputs\n",
			in.Name(), pool.Free(), qdac.NumTriggers,
			qdac.NumExternalInputs, qdac.NumExternalOutputs)
	}
	if len(instruments) > 1 {
		fmt.Printf("array wiring: controller output %d -> common trigger input %d, output %d carries the clock\n",
			array.TriggerOutPort, array.CommonTriggerInput, array.SyncOutPort)
	}

	if debugDump {
		pprint.Dump(cfg)
	}
	return nil
}
