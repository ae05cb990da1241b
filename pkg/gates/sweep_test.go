package gates

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestForwardAndBack(t *testing.T) {
	cases := []struct {
		start, end float64
		steps      int
		want       []float64
	}{
		{-1, 1, 3, []float64{-1, 0, 1, 0}},
		{-2, 2, 5, []float64{-2, -1, 0, 1, 2, 1, 0, -1}},
		{0, 1, 2, []float64{0, 1}},
	}
	for _, c := range cases {
		got := ForwardAndBack(c.start, c.end, c.steps)
		if len(got) != len(c.want) {
			t.Errorf("ForwardAndBack(%v, %v, %d) = %v, want %v", c.start, c.end, c.steps, got, c.want)
			continue
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Errorf("ForwardAndBack(%v, %v, %d)[%d] = %v, want %v",
					c.start, c.end, c.steps, i, got[i], c.want[i])
			}
		}
	}
}

func TestSweep1DLeavesVirtualVoltagesUntouched(t *testing.T) {
	a, _ := testArrangement(t, plungers())
	if err := a.SetVirtualVoltage("plunger1", 0.125); err != nil {
		t.Fatalf("SetVirtualVoltage failed: %v", err)
	}
	sweep, err := a.VirtualSweep1D("plunger1", []float64{-1, 0, 1}, SweepConfig{
		StepTime: 10 * time.Microsecond,
	})
	if err != nil {
		t.Fatalf("VirtualSweep1D failed: %v", err)
	}
	defer sweep.Close()
	if v, _ := a.VirtualVoltage("plunger1"); v != 0.125 {
		t.Errorf("virtual voltage mutated by sweep construction: %v", v)
	}
	values, err := sweep.ActualValues("plunger1")
	if err != nil {
		t.Fatalf("ActualValues failed: %v", err)
	}
	want := []float64{-1, 0, 1}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("values[%d] = %v, want %v", i, values[i], want[i])
		}
	}
}

func TestSweep1DLoadsAndBindsEveryChannel(t *testing.T) {
	a, rec := testArrangement(t, plungers())
	sweep, err := a.VirtualSweep1D("plunger2", []float64{0, 0.5}, SweepConfig{
		StepTime: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("VirtualSweep1D failed: %v", err)
	}
	sent := rec.Take()
	// Both channels get a full list upload; plunger1 holds its current
	// voltage while plunger2 plays the sweep.
	for _, want := range []string{
		"sour1:list:volt 0,0",
		"sour2:list:volt 0,0.5",
		"sour1:dc:trig:sour int1",
		"sour2:dc:trig:sour int1",
	} {
		if !contains(sent, want) {
			t.Errorf("missing %q in %v", want, sent)
		}
	}
	if err := sweep.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	assertSent(t, rec, []string{"tint 1"})
}

func TestSweep2DOuterMajorOrdering(t *testing.T) {
	a, _ := testArrangement(t, plungers())
	sweep, err := a.VirtualSweep2D(
		"plunger1", []float64{10, 20},
		"plunger2", []float64{0, 1},
		SweepConfig{StepTime: time.Millisecond},
	)
	if err != nil {
		t.Fatalf("VirtualSweep2D failed: %v", err)
	}
	defer sweep.Close()
	if sweep.Points() != 4 {
		t.Fatalf("points = %d, want len(outer)*len(inner) = 4", sweep.Points())
	}
	inner, err := sweep.ActualValues("plunger1")
	if err != nil {
		t.Fatalf("ActualValues failed: %v", err)
	}
	outer, err := sweep.ActualValues("plunger2")
	if err != nil {
		t.Fatalf("ActualValues failed: %v", err)
	}
	wantInner := []float64{10, 20, 10, 20}
	wantOuter := []float64{0, 0, 1, 1}
	for i := range wantInner {
		if inner[i] != wantInner[i] {
			t.Errorf("inner[%d] = %v, want %v", i, inner[i], wantInner[i])
		}
		if outer[i] != wantOuter[i] {
			t.Errorf("outer[%d] = %v, want %v", i, outer[i], wantOuter[i])
		}
	}
}

func TestSweep2DOuterTriggerNeedsHelperChannel(t *testing.T) {
	layout := plungers()
	layout.InternalTriggers = []string{"detector"}
	a, rec := testArrangement(t, layout)
	_, err := a.VirtualSweep2D(
		"plunger1", []float64{0, 1},
		"plunger2", []float64{0, 1},
		SweepConfig{StepTime: time.Millisecond, OuterStepTrigger: "detector"},
	)
	if !errors.Is(err, ErrNoOuterTriggerChannel) {
		t.Fatalf("expected ErrNoOuterTriggerChannel, got %v", err)
	}
	if len(rec.Sent) != 0 {
		t.Errorf("failed construction still emitted commands: %v", rec.Sent)
	}
}

func TestSweep2DOuterTriggerHelper(t *testing.T) {
	layout := plungers()
	layout.InternalTriggers = []string{"detector"}
	layout.OuterTriggerChannel = 3
	a, rec := testArrangement(t, layout)
	sweep, err := a.VirtualSweep2D(
		"plunger1", []float64{0, 1, 2},
		"plunger2", []float64{0, 1},
		SweepConfig{StepTime: 10 * time.Millisecond, OuterStepTrigger: "detector"},
	)
	if err != nil {
		t.Fatalf("VirtualSweep2D failed: %v", err)
	}
	defer sweep.Close()
	sent := rec.Take()
	// The helper channel runs a span-0 sine whose period equals one inner
	// pass and whose period-start marker drives the outer trigger.
	detector, err := a.Trigger("detector")
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	for _, want := range []string{
		"sour3:sine:per 0.03",
		"sour3:sine:span 0",
		"sour3:sine:coun 2",
		"sour3:sine:mark:pstart " + strconv.Itoa(detector.Value()),
	} {
		if !contains(sent, want) {
			t.Errorf("missing %q in %v", want, sent)
		}
	}
}

func TestDetuneLengthValidation(t *testing.T) {
	a, rec := testArrangement(t, plungers())
	_, err := a.VirtualDetune(
		[]string{"plunger1", "plunger2"},
		[]float64{-0.3, 0.6},
		[]float64{0.3},
		5, SweepConfig{StepTime: time.Millisecond},
	)
	if err == nil {
		t.Fatal("expected error for mismatched start/end voltage counts")
	}
	if len(rec.Sent) != 0 {
		t.Errorf("failed validation still emitted commands: %v", rec.Sent)
	}
}

func TestDetuneSequences(t *testing.T) {
	a, _ := testArrangement(t, plungers())
	sweep, err := a.VirtualDetune(
		[]string{"plunger1", "plunger2"},
		[]float64{-1, 2},
		[]float64{1, -2},
		3, SweepConfig{StepTime: time.Millisecond},
	)
	if err != nil {
		t.Fatalf("VirtualDetune failed: %v", err)
	}
	defer sweep.Close()
	first, _ := sweep.ActualValues("plunger1")
	second, _ := sweep.ActualValues("plunger2")
	wantFirst := []float64{-1, 0, 1, 0}
	wantSecond := []float64{2, 0, -2, 0}
	for i := range wantFirst {
		if first[i] != wantFirst[i] {
			t.Errorf("plunger1[%d] = %v, want %v", i, first[i], wantFirst[i])
		}
		if second[i] != wantSecond[i] {
			t.Errorf("plunger2[%d] = %v, want %v", i, second[i], wantSecond[i])
		}
	}
}

func TestSweepCloseReleasesTriggerAndAborts(t *testing.T) {
	a, rec := testArrangement(t, plungers())
	free := a.Instrument().Triggers().Free()
	sweep, err := a.VirtualSweep1D("plunger1", []float64{0, 1}, SweepConfig{
		StepTime: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("VirtualSweep1D failed: %v", err)
	}
	if got := a.Instrument().Triggers().Free(); got != free-1 {
		t.Errorf("free triggers = %d while sweep live, want %d", got, free-1)
	}
	rec.Clear()
	// Close without ever starting.
	if err := sweep.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := a.Instrument().Triggers().Free(); got != free {
		t.Errorf("free triggers = %d after Close, want %d", got, free)
	}
	sent := rec.Take()
	for _, want := range []string{
		"sour1:dc:abor",
		"sour2:dc:abor",
		"sour1:dc:trig:sour imm",
		"sour2:dc:trig:sour imm",
	} {
		if !contains(sent, want) {
			t.Errorf("missing %q in %v", want, sent)
		}
	}
}

func TestSweepNamedStartTriggerStaysWithArrangement(t *testing.T) {
	layout := plungers()
	layout.InternalTriggers = []string{"go"}
	a, _ := testArrangement(t, layout)
	free := a.Instrument().Triggers().Free()
	sweep, err := a.VirtualSweep1D("plunger1", []float64{0, 1}, SweepConfig{
		StepTime:     time.Millisecond,
		StartTrigger: "go",
	})
	if err != nil {
		t.Fatalf("VirtualSweep1D failed: %v", err)
	}
	if got := a.Instrument().Triggers().Free(); got != free {
		t.Errorf("named start trigger allocated a new lease: free = %d, want %d", got, free)
	}
	if err := sweep.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// The arrangement still owns the trigger after the sweep is gone.
	if _, err := a.Trigger("go"); err != nil {
		t.Errorf("arrangement lost its trigger: %v", err)
	}
	if got := a.Instrument().Triggers().Free(); got != free {
		t.Errorf("sweep Close released a borrowed trigger: free = %d, want %d", got, free)
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
