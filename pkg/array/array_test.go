package array

import (
	"errors"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/gates"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/qdac"
	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

func testArray(t *testing.T) (*Array, map[string]*scpi.Recorder) {
	t.Helper()
	recorders := make(map[string]*scpi.Recorder)
	instruments := make([]*qdac.Instrument, 0, 3)
	for _, name := range []string{"ctrl", "lis1", "lis2"} {
		rec := &scpi.Recorder{}
		rec.Reply = func(query string) (string, error) { return "0", nil }
		recorders[name] = rec
		instruments = append(instruments, qdac.New(name, rec))
	}
	arr, err := New(instruments[0], instruments[1], instruments[2])
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return arr, recorders
}

func TestUniqueInstrumentNames(t *testing.T) {
	a := qdac.New("twin", &scpi.Recorder{})
	b := qdac.New("twin", &scpi.Recorder{})
	if _, err := New(a, b); err == nil {
		t.Fatal("expected error for duplicate instrument names")
	}
}

func TestSyncClocksCommandOrder(t *testing.T) {
	arr, recorders := testArray(t)
	if err := arr.SyncClocks(); err != nil {
		t.Fatalf("SyncClocks failed: %v", err)
	}
	wantCtrl := []string{"syst:cloc:send on", "syst:cloc:sync", "outp:sync:sign"}
	got := recorders["ctrl"].Take()
	if len(got) != len(wantCtrl) {
		t.Fatalf("controller sent %v, want %v", got, wantCtrl)
	}
	for i := range wantCtrl {
		if got[i] != wantCtrl[i] {
			t.Errorf("controller[%d] = %q, want %q", i, got[i], wantCtrl[i])
		}
	}
	for _, name := range []string{"lis1", "lis2"} {
		wantListener := []string{"syst:cloc:sour ext", "syst:cloc:sync"}
		got := recorders[name].Take()
		if len(got) != len(wantListener) {
			t.Fatalf("%s sent %v, want %v", name, got, wantListener)
		}
		for i := range wantListener {
			if got[i] != wantListener[i] {
				t.Errorf("%s[%d] = %q, want %q", name, i, got[i], wantListener[i])
			}
		}
	}
}

func TestSyncNeedsTwoInstruments(t *testing.T) {
	solo, err := New(qdac.New("solo", &scpi.Recorder{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := solo.SyncClocks(); err == nil {
		t.Fatal("expected error for single-instrument sync")
	}
}

func TestArrangeRejectsReservedPorts(t *testing.T) {
	arr, _ := testArray(t)
	for _, port := range []int{TriggerOutPort, SyncOutPort} {
		_, err := arr.Arrange(Layout{
			Bindings: []Binding{
				{Instrument: "ctrl", Contact: gates.Contact{Name: "g1", Channel: 1}},
			},
			OutputTriggers: []OutputBinding{
				{Instrument: "ctrl", Output: gates.OutputTrigger{Name: "scope", Port: port}},
			},
		})
		if err == nil {
			t.Fatalf("expected error for reserved port %d", port)
		}
		if !strings.Contains(err.Error(), "reserved") {
			t.Errorf("error does not identify the reserved port: %v", err)
		}
	}
}

func TestArrangeRejectsDuplicateContacts(t *testing.T) {
	arr, _ := testArray(t)
	_, err := arr.Arrange(Layout{
		Bindings: []Binding{
			{Instrument: "ctrl", Contact: gates.Contact{Name: "g1", Channel: 1}},
			{Instrument: "lis1", Contact: gates.Contact{Name: "g1", Channel: 2}},
		},
	})
	if err == nil {
		t.Fatal("expected error for duplicate contact name across instruments")
	}
	if !strings.Contains(err.Error(), "g1") {
		t.Errorf("error does not name the contact: %v", err)
	}
}

func TestListenerOnlyArrangementGetsControllerTriggers(t *testing.T) {
	arr, _ := testArray(t)
	arrangement, err := arr.Arrange(Layout{
		Bindings: []Binding{
			{Instrument: "lis1", Contact: gates.Contact{Name: "plunger", Channel: 1}},
			{Instrument: "lis2", Contact: gates.Contact{Name: "barrier", Channel: 2}},
		},
		InternalTriggers: []string{"go"},
	})
	if err != nil {
		t.Fatalf("Arrange failed: %v", err)
	}
	trig, err := arrangement.Trigger("go")
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if trig.Value() < 1 || trig.Value() > qdac.NumTriggers {
		t.Errorf("trigger value = %d, out of range", trig.Value())
	}
	pool := arr.Controller().Triggers()
	if free := pool.Free(); free != qdac.NumTriggers-1 {
		t.Errorf("controller pool free = %d, want %d", free, qdac.NumTriggers-1)
	}
	if _, err := arrangement.Trigger("stop"); err == nil {
		t.Error("unknown trigger name did not error")
	}
	if err := arrangement.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if free := pool.Free(); free != qdac.NumTriggers {
		t.Errorf("controller pool free after Close = %d, want %d", free, qdac.NumTriggers)
	}
}

func TestCompositeContactOrderAndRouting(t *testing.T) {
	arr, recorders := testArray(t)
	arrangement, err := arr.Arrange(Layout{
		Bindings: []Binding{
			{Instrument: "lis1", Contact: gates.Contact{Name: "sensor", Channel: 3}},
			{Instrument: "ctrl", Contact: gates.Contact{Name: "plunger", Channel: 1}},
			{Instrument: "lis1", Contact: gates.Contact{Name: "barrier", Channel: 4}},
		},
		InternalTriggers: []string{"go"},
	})
	if err != nil {
		t.Fatalf("Arrange failed: %v", err)
	}
	defer arrangement.Close()
	// Controller-first, per-instrument binding order.
	want := []string{"plunger", "sensor", "barrier"}
	got := arrangement.Contacts()
	if len(got) != len(want) {
		t.Fatalf("contacts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("contacts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if _, err := arrangement.Trigger("go"); err != nil {
		t.Errorf("controller trigger lookup failed: %v", err)
	}
	recorders["ctrl"].Clear()
	recorders["lis1"].Clear()
	if err := arrangement.SetVirtualVoltage("sensor", 0.5); err != nil {
		t.Fatalf("SetVirtualVoltage failed: %v", err)
	}
	if sent := recorders["ctrl"].Take(); len(sent) != 0 {
		t.Errorf("controller received commands for a listener contact: %v", sent)
	}
	sent := recorders["lis1"].Take()
	found := false
	for _, cmd := range sent {
		if cmd == "sour3:volt 0.5" {
			found = true
		}
	}
	if !found {
		t.Errorf("listener did not receive the voltage: %v", sent)
	}
	if _, err := arrangement.Channel("plunger"); err != nil {
		t.Errorf("Channel(plunger) failed: %v", err)
	}
	if _, err := arrangement.Channel("nope"); !errors.Is(err, gates.ErrUnknownContact) {
		t.Errorf("expected ErrUnknownContact, got %v", err)
	}
}

func TestArrayCurrentsRunsPhasesAcrossInstruments(t *testing.T) {
	arr, recorders := testArray(t)
	var trace []string
	for name, rec := range recorders {
		name, rec := name, rec
		rec.SendErr = func(cmd string) error {
			trace = append(trace, name+": "+cmd)
			return nil
		}
		rec.Reply = func(query string) (string, error) {
			trace = append(trace, name+": "+query)
			if strings.HasPrefix(query, "read?") {
				return "1e-09", nil
			}
			return "0", nil
		}
	}
	arrangement, err := arr.Arrange(Layout{
		Bindings: []Binding{
			{Instrument: "ctrl", Contact: gates.Contact{Name: "a", Channel: 1}},
			{Instrument: "lis1", Contact: gates.Contact{Name: "b", Channel: 2}},
		},
	})
	if err != nil {
		t.Fatalf("Arrange failed: %v", err)
	}
	defer arrangement.Close()
	trace = nil
	currents, err := arrangement.Currents(1, "low")
	if err != nil {
		t.Fatalf("Currents failed: %v", err)
	}
	if len(currents) != 2 {
		t.Fatalf("currents = %v, want 2 readings", currents)
	}
	want := []string{
		"ctrl: sens:rang low,(@1)",
		"lis1: sens:rang low,(@2)",
		"ctrl: *stb?",
		"ctrl: sens:nplc 1,(@1)",
		"lis1: *stb?",
		"lis1: sens:nplc 1,(@2)",
		"ctrl: read? (@1)",
		"lis1: read? (@2)",
	}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("trace[%d] = %q, want %q", i, trace[i], want[i])
		}
	}
}

func TestErrorNamesFailingInstrument(t *testing.T) {
	arr, recorders := testArray(t)
	arrangement, err := arr.Arrange(Layout{
		Bindings: []Binding{
			{Instrument: "ctrl", Contact: gates.Contact{Name: "a", Channel: 1}},
			{Instrument: "lis2", Contact: gates.Contact{Name: "b", Channel: 2}},
		},
	})
	if err != nil {
		t.Fatalf("Arrange failed: %v", err)
	}
	defer arrangement.Close()
	recorders["lis2"].Reply = func(query string) (string, error) {
		return "", errors.New("connection dropped")
	}
	_, err = arrangement.Currents(1, "low")
	if err == nil {
		t.Fatal("expected failure to surface")
	}
	if !strings.Contains(err.Error(), "lis2") {
		t.Errorf("error does not name the failing instrument: %v", err)
	}
}
