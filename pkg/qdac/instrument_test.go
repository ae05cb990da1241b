package qdac

import (
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

func TestMACAddressGroupsRawDigits(t *testing.T) {
	rec := &scpi.Recorder{
		Reply: func(string) (string, error) { return `"0B4AC6F1A2B3"`, nil },
	}
	in := New("gate-source", rec)
	mac, err := in.MACAddress()
	if err != nil {
		t.Fatalf("MACAddress failed: %v", err)
	}
	if mac != "0B-4A-C6-F1-A2-B3" {
		t.Errorf("MACAddress = %q, want %q", mac, "0B-4A-C6-F1-A2-B3")
	}
	assertSent(t, rec, []string{"syst:comm:lan:mac?"})
}

func TestMACAddressRejectsShortResponse(t *testing.T) {
	rec := &scpi.Recorder{
		Reply: func(string) (string, error) { return `"0B4AC6"`, nil },
	}
	in := New("gate-source", rec)
	if _, err := in.MACAddress(); err == nil {
		t.Fatal("MACAddress accepted a truncated response")
	} else if !strings.Contains(err.Error(), "bad MAC response") {
		t.Errorf("error = %v, want mention of the bad response", err)
	}
}
