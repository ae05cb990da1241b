package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceQDAC/internal/station"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
)

var (
	// Global flags
	configFile   string
	address      string
	serialDevice string
	useUSB       bool
	usbVID       int
	usbPID       int
	useSim       bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "otq",
	Short: "OpenTraceQDAC - multi-channel DC voltage source control",
	Long: `OpenTraceQDAC (otq) drives QDAC-II class voltage sources: direct
channel control, virtual-gate arrangements with correction matrices,
synchronized sweeps and leakage characterization across instrument arrays.

Examples:
  otq info                                        # Identify configured instruments
  otq set 7 0.25                                  # Put 0.25 V on channel 7
  otq set --contact plunger -- -0.5               # Set a virtual gate voltage
  otq sweep --contact g1 --from -1 --to 1 --points 101 --step-time 2ms
  otq leakage --modulation 0.005 --nplc 2         # Leakage matrix in A/V
  otq sync                                        # Distribute the controller clock
  otq triggers --debug                            # Dump trigger routing state`,
	Version: "0.9.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "station.yaml",
		"station configuration file")
	rootCmd.PersistentFlags().StringVar(&address, "address", "",
		"connect to a single instrument at this IP instead of the station file")
	rootCmd.PersistentFlags().StringVar(&serialDevice, "serial", "",
		"connect over this serial device instead of the station file")
	rootCmd.PersistentFlags().BoolVar(&useUSB, "usb", false,
		"connect over USB instead of the station file (needs --vid and --pid)")
	rootCmd.PersistentFlags().IntVar(&usbVID, "vid", 0, "USB vendor ID")
	rootCmd.PersistentFlags().IntVar(&usbPID, "pid", 0, "USB product ID")
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false,
		"run against an in-process simulated instrument")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadStation returns the station description. A transport override flag
// replaces the station file with a single unnamed-contact instrument, so
// channel-number operations work without any configuration.
func loadStation() (*station.Config, error) {
	override := func(in station.Instrument) *station.Config {
		return &station.Config{
			LineFrequency: 50,
			Instruments:   []station.Instrument{in},
		}
	}
	switch {
	case useSim:
		return override(station.Instrument{Name: "sim", Sim: true}), nil
	case address != "":
		return override(station.Instrument{Name: "qdac", Address: address}), nil
	case serialDevice != "":
		return override(station.Instrument{Name: "qdac", SerialDevice: serialDevice}), nil
	case useUSB:
		if usbVID == 0 || usbPID == 0 {
			return nil, fmt.Errorf("--usb needs --vid and --pid")
		}
		return override(station.Instrument{Name: "qdac", USB: true, VID: usbVID, PID: usbPID}), nil
	}
	return station.Load(configFile)
}

// connectStation loads the station and dials every instrument. The returned
// closer shuts all connections down.
func connectStation() (*station.Config, []*qdac.Instrument, func(), error) {
	cfg, err := loadStation()
	if err != nil {
		return nil, nil, nil, err
	}
	instruments, err := cfg.Connect()
	if err != nil {
		return nil, nil, nil, err
	}
	closer := func() {
		for _, in := range instruments {
			in.Close()
		}
	}
	return cfg, instruments, closer, nil
}

func instrumentByName(instruments []*qdac.Instrument, name string) (*qdac.Instrument, error) {
	for _, in := range instruments {
		if in.Name() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no connected instrument named %q", name)
}
