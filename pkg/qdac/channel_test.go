package qdac

import (
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

func assertSent(t *testing.T, rec *scpi.Recorder, want []string) {
	t.Helper()
	got := rec.Take()
	if len(got) != len(want) {
		t.Fatalf("sent %d commands, want %d:\n got %v\nwant %v", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func testChannel(t *testing.T, n int) (*Channel, *scpi.Recorder) {
	t.Helper()
	rec := &scpi.Recorder{}
	in := New("gate-source", rec)
	ch, err := in.Channel(n)
	if err != nil {
		t.Fatalf("Channel(%d) failed: %v", n, err)
	}
	return ch, rec
}

func TestSetVoltageForcesFixedMode(t *testing.T) {
	ch, rec := testChannel(t, 7)
	if err := ch.SetVoltage(-0.125); err != nil {
		t.Fatalf("SetVoltage failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour7:volt:mode fix",
		"sour7:volt -0.125",
	})
}

func TestDCListArmingOrder(t *testing.T) {
	ch, rec := testChannel(t, 2)
	_, err := ch.DCList(ListOptions{
		Voltages:    []float64{-1, 0, 1},
		Dwell:       10 * time.Microsecond,
		Repetitions: -1,
	})
	if err != nil {
		t.Fatalf("DCList failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour2:dc:trig:sour hold",
		"sour2:volt:mode list",
		"sour2:list:volt -1,0,1",
		"sour2:list:tmod auto",
		"sour2:list:dwel 1e-05",
		"sour2:dc:del 0",
		"sour2:list:dir up",
		"sour2:list:coun -1",
		"sour2:dc:trig:sour bus",
		"sour2:dc:init:cont on",
	})
}

func TestDCListValidatesBeforeWriting(t *testing.T) {
	ch, rec := testChannel(t, 1)
	if _, err := ch.DCList(ListOptions{Dwell: time.Millisecond}); err == nil {
		t.Fatal("expected error for empty voltage list")
	}
	if _, err := ch.DCList(ListOptions{Voltages: []float64{1}}); err == nil {
		t.Fatal("expected error for missing dwell")
	}
	if len(rec.Sent) != 0 {
		t.Errorf("validation failure still emitted commands: %v", rec.Sent)
	}
}

func TestListStartOnTriggerAndFire(t *testing.T) {
	ch, rec := testChannel(t, 3)
	ctx, err := ch.DCList(ListOptions{Voltages: []float64{0, 1}, Dwell: time.Millisecond})
	if err != nil {
		t.Fatalf("DCList failed: %v", err)
	}
	trig, err := ch.Instrument().Triggers().Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	rec.Clear()
	if err := ctx.StartOn(trig); err != nil {
		t.Fatalf("StartOn failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour3:dc:trig:sour int1",
		"sour3:dc:init:cont on",
	})
	if err := ctx.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour3:dc:init:cont on",
		"tint 1",
	})
}

func TestListStartImmediateWithoutBinding(t *testing.T) {
	ch, rec := testChannel(t, 5)
	ctx, err := ch.DCList(ListOptions{Voltages: []float64{0.5}, Dwell: time.Millisecond})
	if err != nil {
		t.Fatalf("DCList failed: %v", err)
	}
	rec.Clear()
	if err := ctx.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour5:dc:init:cont off",
		"sour5:dc:trig:sour imm",
		"sour5:dc:init",
	})
}

func TestListCloseRestoresImmediateTrigger(t *testing.T) {
	ch, rec := testChannel(t, 4)
	ctx, err := ch.DCList(ListOptions{Voltages: []float64{0, 1}, Dwell: time.Millisecond})
	if err != nil {
		t.Fatalf("DCList failed: %v", err)
	}
	if _, err := ctx.StepStartMarker(); err != nil {
		t.Fatalf("StepStartMarker failed: %v", err)
	}
	free := ch.Instrument().Triggers().Free()
	rec.Clear()
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour4:dc:abor",
		"sour4:dc:mark:sst 0",
		"sour4:dc:trig:sour imm",
	})
	if got := ch.Instrument().Triggers().Free(); got != free+1 {
		t.Errorf("marker trigger not released: free %d, want %d", got, free+1)
	}
	// Close is idempotent and silent the second time.
	if err := ctx.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if extra := rec.Take(); len(extra) != 0 {
		t.Errorf("second Close emitted commands: %v", extra)
	}
}

func TestDCSweepFrame(t *testing.T) {
	ch, rec := testChannel(t, 6)
	_, err := ch.DCSweep(SweepOptions{
		Start:  -1,
		Stop:   1,
		Points: 5,
		Dwell:  2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("DCSweep failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour6:dc:trig:sour hold",
		"sour6:volt:mode swe",
		"sour6:swe:star -1",
		"sour6:swe:stop 1",
		"sour6:swe:poin 5",
		"sour6:swe:gen auto",
		"sour6:swe:dwel 0.002",
		"sour6:dc:del 0",
		"sour6:swe:dir up",
		"sour6:swe:coun 1",
		"sour6:dc:trig:sour bus",
		"sour6:dc:init:cont on",
	})
}

func TestBatchedSensing(t *testing.T) {
	rec := &scpi.Recorder{}
	rec.Reply = func(query string) (string, error) {
		if query == "read? (@1,2,3)" {
			return "1e-09,-2e-09,3e-09", nil
		}
		return "0", nil
	}
	in := New("gate-source", rec)
	if err := in.SetCurrentRange("low", []int{1, 2, 3}); err != nil {
		t.Fatalf("SetCurrentRange failed: %v", err)
	}
	if err := in.SetNPLC(2, []int{1, 2, 3}); err != nil {
		t.Fatalf("SetNPLC failed: %v", err)
	}
	currents, err := in.ReadCurrents([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("ReadCurrents failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sens:rang low,(@1,2,3)",
		"sens:nplc 2,(@1,2,3)",
		"read? (@1,2,3)",
	})
	want := []float64{1e-09, -2e-09, 3e-09}
	for i := range want {
		if currents[i] != want[i] {
			t.Errorf("currents[%d] = %v, want %v", i, currents[i], want[i])
		}
	}
}

func TestSineWaveFrame(t *testing.T) {
	ch, rec := testChannel(t, 9)
	_, err := ch.SineWave(WaveOptions{
		Period:      40 * time.Millisecond,
		Span:        0,
		Repetitions: 3,
	})
	if err != nil {
		t.Fatalf("SineWave failed: %v", err)
	}
	assertSent(t, rec, []string{
		"sour9:sine:trig:sour hold",
		"sour9:sine:per 0.04",
		"sour9:sine:pol norm",
		"sour9:sine:span 0",
		"sour9:sine:offs 0",
		"sour9:sine:del 0",
		"sour9:sine:coun 3",
		"sour9:sine:trig:sour bus",
		"sour9:sine:init:cont on",
	})
}

func TestVerifyChecksModel(t *testing.T) {
	rec := &scpi.Recorder{}
	rec.Reply = func(query string) (string, error) {
		return "QDevil, QDAC-II, 42, 13.2-1.17", nil
	}
	in := New("gate-source", rec)
	idn, err := in.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if idn.Serial != "42" {
		t.Errorf("serial = %q, want 42", idn.Serial)
	}
	rec.Reply = func(query string) (string, error) {
		return "Acme, Frobnicator, 1, 0.1", nil
	}
	if _, err := in.Verify(); err == nil {
		t.Error("expected model mismatch error")
	}
}
