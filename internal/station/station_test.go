package station

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStation(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write station file: %v", err)
	}
	return path
}

const twoBoxStation = `
line_frequency: 60
instruments:
  - name: left
    sim: true
  - name: right
    address: 192.168.8.17
contacts:
  - name: plunger
    instrument: left
    channel: 1
  - name: barrier
    instrument: left
    channel: 2
  - name: sensor
    instrument: right
    channel: 1
correction:
  plunger: [1.0, -0.12]
`

func TestLoadStation(t *testing.T) {
	cfg, err := Load(writeStation(t, twoBoxStation))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LineFrequency != 60 {
		t.Errorf("line frequency = %v, want 60", cfg.LineFrequency)
	}
	if len(cfg.Instruments) != 2 || cfg.Instruments[0].Name != "left" {
		t.Fatalf("instruments = %+v", cfg.Instruments)
	}
	if !cfg.Instruments[0].Sim {
		t.Errorf("left should be simulated")
	}
	if cfg.Instruments[1].Address != "192.168.8.17" {
		t.Errorf("right address = %q", cfg.Instruments[1].Address)
	}
	contact, err := cfg.FindContact("barrier")
	if err != nil {
		t.Fatalf("FindContact failed: %v", err)
	}
	if contact.Instrument != "left" || contact.Channel != 2 {
		t.Errorf("barrier binding = %+v", contact)
	}
	row := cfg.Correction["plunger"]
	if len(row) != 2 || row[1] != -0.12 {
		t.Errorf("correction row = %v", row)
	}
}

func TestDefaultLineFrequency(t *testing.T) {
	cfg, err := Load(writeStation(t, `
instruments:
  - name: solo
    sim: true
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LineFrequency != 50 {
		t.Errorf("line frequency = %v, want default 50", cfg.LineFrequency)
	}
}

func TestLayouts(t *testing.T) {
	cfg, err := Load(writeStation(t, twoBoxStation))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	arrayLayout := cfg.ArrayLayout()
	if len(arrayLayout.Bindings) != 3 {
		t.Fatalf("bindings = %+v", arrayLayout.Bindings)
	}
	if arrayLayout.Bindings[2].Instrument != "right" || arrayLayout.Bindings[2].Contact.Name != "sensor" {
		t.Errorf("third binding = %+v", arrayLayout.Bindings[2])
	}
	if arrayLayout.LineFrequency != 60 {
		t.Errorf("array line frequency = %v, want 60", arrayLayout.LineFrequency)
	}
	left := cfg.GatesLayout("left")
	if len(left.Contacts) != 2 || left.Contacts[0].Name != "plunger" {
		t.Errorf("left layout = %+v", left.Contacts)
	}
	if left.LineFrequency != 60 {
		t.Errorf("left line frequency = %v", left.LineFrequency)
	}
}

func TestValidationRejects(t *testing.T) {
	cases := []struct {
		name, yaml, want string
	}{
		{
			"no instruments",
			`contacts: []`,
			"no instruments",
		},
		{
			"duplicate instrument",
			"instruments:\n  - name: a\n    sim: true\n  - name: a\n    sim: true\n",
			"duplicate instrument",
		},
		{
			"two transports",
			"instruments:\n  - name: a\n    sim: true\n    address: localhost\n",
			"exactly one",
		},
		{
			"unknown contact instrument",
			"instruments:\n  - name: a\n    sim: true\ncontacts:\n  - name: g\n    instrument: b\n    channel: 1\n",
			"unknown instrument",
		},
		{
			"channel out of range",
			"instruments:\n  - name: a\n    sim: true\ncontacts:\n  - name: g\n    instrument: a\n    channel: 25\n",
			"invalid channel",
		},
		{
			"correction for unknown contact",
			"instruments:\n  - name: a\n    sim: true\ncorrection:\n  ghost: [1]\n",
			"unknown contact",
		},
		{
			"bad correction row length",
			"instruments:\n  - name: a\n    sim: true\ncontacts:\n  - name: g\n    instrument: a\n    channel: 1\ncorrection:\n  g: [1, 0]\n",
			"correction row",
		},
	}
	for _, tc := range cases {
		_, err := Load(writeStation(t, tc.yaml))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestConnectSimulated(t *testing.T) {
	cfg, err := Load(writeStation(t, `
instruments:
  - name: sim1
    sim: true
  - name: sim2
    sim: true
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	instruments, err := cfg.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if len(instruments) != 2 {
		t.Fatalf("connected %d instruments", len(instruments))
	}
	for i, want := range []string{"sim1", "sim2"} {
		if instruments[i].Name() != want {
			t.Errorf("instrument %d = %q, want %q", i, instruments[i].Name(), want)
		}
		if _, err := instruments[i].Verify(); err != nil {
			t.Errorf("verify %s: %v", want, err)
		}
		instruments[i].Close()
	}
}
