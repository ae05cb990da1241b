// Package station loads the CLI-side description of a measurement setup: the
// instruments on the bench, which contact sits on which channel, the
// correction matrix rows and the mains frequency. The library packages take
// explicit handles; only the CLI reads this file.
package station

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/array"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/gates"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdacsim"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

// Config is one parsed station file. The first instrument is the array
// controller when more than one is configured.
type Config struct {
	LineFrequency float64      `mapstructure:"line_frequency"`
	Instruments   []Instrument `mapstructure:"instruments"`
	Contacts      []Contact    `mapstructure:"contacts"`
	// Correction maps a contact name to its correction-matrix row over
	// the contacts of the same instrument, in station file order.
	Correction map[string][]float64 `mapstructure:"correction"`
}

// Instrument is one voltage source and how to reach it. Exactly one of
// Address, SerialDevice, USB or Sim selects the transport.
type Instrument struct {
	Name         string `mapstructure:"name"`
	Address      string `mapstructure:"address"`
	SerialDevice string `mapstructure:"serial_device"`
	Baud         int    `mapstructure:"baud"`
	USB          bool   `mapstructure:"usb"`
	VID          int    `mapstructure:"vid"`
	PID          int    `mapstructure:"pid"`
	Sim          bool   `mapstructure:"sim"`
}

// Contact binds a named device contact to an instrument channel.
type Contact struct {
	Name       string `mapstructure:"name"`
	Instrument string `mapstructure:"instrument"`
	Channel    int    `mapstructure:"channel"`
}

// Load reads and validates a station YAML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("line_frequency", gates.DefaultLineFrequency)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("station: read %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("station: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("station: no instruments configured")
	}
	names := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if in.Name == "" {
			return fmt.Errorf("station: instrument without a name")
		}
		if names[in.Name] {
			return fmt.Errorf("station: duplicate instrument name %q", in.Name)
		}
		names[in.Name] = true
		transports := 0
		if in.Address != "" {
			transports++
		}
		if in.SerialDevice != "" {
			transports++
		}
		if in.USB {
			transports++
		}
		if in.Sim {
			transports++
		}
		if transports != 1 {
			return fmt.Errorf("station: instrument %q needs exactly one of address, serial_device, usb or sim", in.Name)
		}
		if in.USB && (in.VID == 0 || in.PID == 0) {
			return fmt.Errorf("station: instrument %q needs vid and pid for usb", in.Name)
		}
	}
	contacts := make(map[string]bool, len(c.Contacts))
	for _, contact := range c.Contacts {
		if contacts[contact.Name] {
			return fmt.Errorf("station: duplicate contact name %q", contact.Name)
		}
		contacts[contact.Name] = true
		if !names[contact.Instrument] {
			return fmt.Errorf("station: contact %q refers to unknown instrument %q",
				contact.Name, contact.Instrument)
		}
		if contact.Channel < 1 || contact.Channel > qdac.NumChannels {
			return fmt.Errorf("station: contact %q on invalid channel %d", contact.Name, contact.Channel)
		}
	}
	for name, row := range c.Correction {
		if !contacts[name] {
			return fmt.Errorf("station: correction row for unknown contact %q", name)
		}
		owner := c.contactInstrument(name)
		if want := len(c.instrumentContacts(owner)); len(row) != want {
			return fmt.Errorf("station: correction row for %q has %d entries, instrument %q has %d contacts",
				name, len(row), owner, want)
		}
	}
	return nil
}

// Dial opens the configured transport for one instrument.
func Dial(in Instrument) (scpi.Conn, error) {
	switch {
	case in.Sim:
		sim, err := qdacsim.New(in.Name)
		if err != nil {
			return nil, err
		}
		return sim, nil
	case in.Address != "":
		conn, err := scpi.Dial(in.Address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case in.SerialDevice != "":
		conn, err := scpi.DialSerial(in.SerialDevice, in.Baud)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case in.USB:
		conn, err := scpi.DialUSB(uint16(in.VID), uint16(in.PID))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, fmt.Errorf("station: instrument %q has no transport", in.Name)
}

// Connect dials every configured instrument, in file order. On failure the
// already-opened connections are closed and the error names the instrument.
func (c *Config) Connect() ([]*qdac.Instrument, error) {
	instruments := make([]*qdac.Instrument, 0, len(c.Instruments))
	for _, in := range c.Instruments {
		conn, err := Dial(in)
		if err != nil {
			for _, open := range instruments {
				open.Close()
			}
			return nil, fmt.Errorf("station: %s: %w", in.Name, err)
		}
		instruments = append(instruments, qdac.New(in.Name, conn))
	}
	return instruments, nil
}

// ArrayLayout builds the arrangement layout spanning every bound contact.
func (c *Config) ArrayLayout() array.Layout {
	layout := array.Layout{LineFrequency: c.LineFrequency}
	for _, contact := range c.Contacts {
		layout.Bindings = append(layout.Bindings, array.Binding{
			Instrument: contact.Instrument,
			Contact:    gates.Contact{Name: contact.Name, Channel: contact.Channel},
		})
	}
	return layout
}

// GatesLayout builds the single-instrument layout for the named instrument.
func (c *Config) GatesLayout(instrument string) gates.Layout {
	layout := gates.Layout{LineFrequency: c.LineFrequency}
	for _, contact := range c.instrumentContacts(instrument) {
		layout.Contacts = append(layout.Contacts, gates.Contact{
			Name: contact.Name, Channel: contact.Channel,
		})
	}
	return layout
}

// ApplyCorrection installs every configured correction row on the composite
// arrangement.
func (c *Config) ApplyCorrection(arrangement *array.Arrangement) error {
	for _, contact := range c.Contacts {
		row, ok := c.Correction[contact.Name]
		if !ok {
			continue
		}
		owner, err := arrangement.On(contact.Instrument)
		if err != nil {
			return err
		}
		if err := owner.InitiateCorrection(contact.Name, row); err != nil {
			return err
		}
	}
	return nil
}

// FindContact returns the binding for a contact name.
func (c *Config) FindContact(name string) (Contact, error) {
	for _, contact := range c.Contacts {
		if contact.Name == name {
			return contact, nil
		}
	}
	return Contact{}, fmt.Errorf("station: no contact named %q", name)
}

func (c *Config) contactInstrument(name string) string {
	for _, contact := range c.Contacts {
		if contact.Name == name {
			return contact.Instrument
		}
	}
	return ""
}

func (c *Config) instrumentContacts(instrument string) []Contact {
	var bound []Contact
	for _, contact := range c.Contacts {
		if contact.Instrument == instrument {
			bound = append(bound, contact)
		}
	}
	return bound
}
