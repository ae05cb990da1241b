// Package qdacsim is an in-process stand-in for a QDAC-II voltage source.
// It implements scpi.Conn, parses every command with the pkg/scpi grammar
// and keeps per-channel state, so driver code runs against it unchanged.
// Unknown commands land in the instrument error queue instead of failing
// the transport, matching the hardware's behavior.
package qdacsim

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceQDAC/pkg/scpi"
)

const numChannels = 24

// Simulator is one simulated instrument. The zero value is not usable;
// construct with New.
type Simulator struct {
	parser   *scpi.Parser
	serial   string
	channels [numChannels + 1]channelState // 1-based
	errq     []string
	closed   bool

	clockSending bool
	clockSource  string

	// CurrentSource scripts what read? reports per channel, in amps.
	// Nil reads as zero current everywhere.
	CurrentSource func(channel int) float64

	// Log collects every line the simulator accepted, in order.
	Log []string
}

type channelState struct {
	mode    string // fix, list or swe
	voltage float64

	list      []float64
	listDown  bool
	sweStart  float64
	sweStop   float64
	swePoints int

	dcTrigSource string
	dcContinuous bool

	senseRange string
	nplc       float64

	// everything set-only the driver configures but the simulation does
	// not act on (filters, dwell, markers, waveform frames)
	params map[string]string
}

// New builds a simulator reporting the given serial number on *idn?.
func New(serial string) (*Simulator, error) {
	parser, err := scpi.NewParser()
	if err != nil {
		return nil, err
	}
	sim := &Simulator{parser: parser, serial: serial, clockSource: "int"}
	for n := 1; n <= numChannels; n++ {
		sim.channels[n] = channelState{
			mode:         "fix",
			dcTrigSource: "imm",
			senseRange:   "low",
			nplc:         1,
			params:       make(map[string]string),
		}
	}
	return sim, nil
}

// Serial returns the configured serial number.
func (s *Simulator) Serial() string { return s.serial }

// Voltage returns the fixed-mode voltage currently on a channel, which is
// also where finished list playback lands.
func (s *Simulator) Voltage(channel int) float64 {
	if channel < 1 || channel > numChannels {
		return 0
	}
	return s.channels[channel].voltage
}

// Send implements scpi.Conn.
func (s *Simulator) Send(cmd scpi.Command) error {
	if s.closed {
		return fmt.Errorf("qdacsim: connection closed")
	}
	line := cmd.String()
	s.Log = append(s.Log, line)
	parsed, err := s.parser.Parse(line)
	if err != nil {
		s.pushError(fmt.Sprintf(`-100,"Command error; %s"`, line))
		return nil
	}
	if !s.dispatchSet(parsed) {
		s.pushError(fmt.Sprintf(`-113,"Undefined header; %s"`, line))
	}
	return nil
}

// Query implements scpi.Conn.
func (s *Simulator) Query(cmd scpi.Command) (string, error) {
	if s.closed {
		return "", fmt.Errorf("qdacsim: connection closed")
	}
	line := cmd.String()
	s.Log = append(s.Log, line)
	parsed, err := s.parser.Parse(line)
	if err != nil {
		s.pushError(fmt.Sprintf(`-100,"Command error; %s"`, line))
		return "", fmt.Errorf("qdacsim: unparseable query %q", line)
	}
	resp, ok := s.dispatchQuery(parsed)
	if !ok {
		s.pushError(fmt.Sprintf(`-113,"Undefined header; %s"`, line))
		return "", fmt.Errorf("qdacsim: unknown query %q", line)
	}
	return resp, nil
}

// Close implements scpi.Conn.
func (s *Simulator) Close() error {
	s.closed = true
	return nil
}

func (s *Simulator) pushError(entry string) {
	s.errq = append(s.errq, entry)
}

func (s *Simulator) channel(cmd scpi.Command) (*channelState, bool) {
	n := scpi.HeadNum(cmd.Head)
	if n < 1 || n > numChannels {
		return nil, false
	}
	return &s.channels[n], true
}

// fire starts every DC generator armed on the given trigger source.
// Playback is instantaneous: the channel lands on the list's final value
// (its first when running backwards).
func (s *Simulator) fire(source string) {
	for n := 1; n <= numChannels; n++ {
		ch := &s.channels[n]
		if ch.dcTrigSource != source || !ch.dcContinuous {
			continue
		}
		s.play(ch)
	}
}

func (s *Simulator) play(ch *channelState) {
	switch ch.mode {
	case "list":
		if len(ch.list) == 0 {
			return
		}
		if ch.listDown {
			ch.voltage = ch.list[0]
		} else {
			ch.voltage = ch.list[len(ch.list)-1]
		}
	case "swe":
		if ch.listDown {
			ch.voltage = ch.sweStart
		} else {
			ch.voltage = ch.sweStop
		}
	}
}

func (s *Simulator) dispatchSet(cmd scpi.Command) bool {
	pattern := scpi.HeadPattern(cmd.Head)
	switch pattern {
	case "tint":
		k, ok := scpi.AsInt(arg(cmd, 0))
		if !ok {
			return false
		}
		s.fire(fmt.Sprintf("int%d", k))
		return true
	case "*trg":
		s.fire("bus")
		return true
	case "abor":
		return true
	case "syst:cloc:send":
		sym, _ := scpi.AsSym(arg(cmd, 0))
		s.clockSending = sym == "on"
		return true
	case "syst:cloc:sour":
		sym, ok := scpi.AsSym(arg(cmd, 0))
		if !ok || (sym != "int" && sym != "ext") {
			return false
		}
		s.clockSource = sym
		return true
	case "syst:cloc:sync", "outp:sync:sign":
		return true
	case "sens:rang":
		if scpi.HeadNum(cmd.Head) == 0 {
			return s.setSenseBatch(cmd, func(ch *channelState, v scpi.Value) bool {
				r, ok := scpi.AsSym(v)
				if ok {
					ch.senseRange = r
				}
				return ok
			})
		}
	case "sens:nplc":
		if scpi.HeadNum(cmd.Head) == 0 {
			return s.setSenseBatch(cmd, func(ch *channelState, v scpi.Value) bool {
				nplc, ok := scpi.AsFloat(v)
				if ok {
					ch.nplc = nplc
				}
				return ok
			})
		}
	}
	if strings.HasPrefix(pattern, "outp:trig:") {
		port := scpi.HeadNum(cmd.Head)
		return port >= 1 && port <= 5
	}
	if strings.HasPrefix(pattern, "sens:") {
		ch, ok := s.channel(cmd)
		if !ok {
			return false
		}
		switch strings.TrimPrefix(pattern, "sens:") {
		case "rang":
			r, ok := scpi.AsSym(arg(cmd, 0))
			if ok {
				ch.senseRange = r
			}
			return ok
		case "nplc":
			nplc, ok := scpi.AsFloat(arg(cmd, 0))
			if ok {
				ch.nplc = nplc
			}
			return ok
		case "aper":
			return true
		}
		return false
	}
	if strings.HasPrefix(pattern, "sour:") {
		ch, ok := s.channel(cmd)
		if !ok {
			return false
		}
		return s.setSource(ch, strings.TrimPrefix(pattern, "sour:"), cmd)
	}
	return false
}

func (s *Simulator) setSource(ch *channelState, sub string, cmd scpi.Command) bool {
	switch sub {
	case "volt:mode":
		mode, ok := scpi.AsSym(arg(cmd, 0))
		if !ok || (mode != "fix" && mode != "list" && mode != "swe") {
			return false
		}
		ch.mode = mode
		return true
	case "volt":
		v, ok := scpi.AsFloat(arg(cmd, 0))
		if ok {
			ch.voltage = v
		}
		return ok
	case "rang", "filt":
		_, ok := scpi.AsSym(arg(cmd, 0))
		return ok
	case "list:volt":
		list, ok := floatArgs(cmd)
		if ok {
			ch.list = list
		}
		return ok
	case "list:volt:app":
		more, ok := floatArgs(cmd)
		if ok {
			ch.list = append(ch.list, more...)
		}
		return ok
	case "list:dir", "swe:dir":
		dir, ok := scpi.AsSym(arg(cmd, 0))
		if !ok || (dir != "up" && dir != "down") {
			return false
		}
		ch.listDown = dir == "down"
		return true
	case "swe:star":
		v, ok := scpi.AsFloat(arg(cmd, 0))
		if ok {
			ch.sweStart = v
		}
		return ok
	case "swe:stop":
		v, ok := scpi.AsFloat(arg(cmd, 0))
		if ok {
			ch.sweStop = v
		}
		return ok
	case "swe:poin":
		n, ok := scpi.AsInt(arg(cmd, 0))
		if ok {
			ch.swePoints = n
		}
		return ok
	case "dc:trig:sour":
		source, ok := scpi.AsSym(arg(cmd, 0))
		if !ok {
			return false
		}
		ch.dcTrigSource = source
		return true
	case "dc:init:cont":
		state, ok := scpi.AsSym(arg(cmd, 0))
		if !ok || (state != "on" && state != "off") {
			return false
		}
		ch.dcContinuous = state == "on"
		return true
	case "dc:init":
		s.play(ch)
		return true
	case "dc:abor":
		return true
	}
	// Dwell, delays, markers and waveform frames are configuration the
	// untimed simulation records but does not act on.
	if recognizedSourceParam(sub) {
		ch.params[sub] = renderArgs(cmd)
		return true
	}
	return false
}

func recognizedSourceParam(sub string) bool {
	switch sub {
	case "list:tmod", "list:dwel", "list:coun",
		"swe:gen", "swe:dwel", "swe:coun",
		"dc:del",
		"dc:mark:star", "dc:mark:end", "dc:mark:sst", "dc:mark:send":
		return true
	}
	for _, kind := range []string{"squ:", "sine:", "tri:"} {
		if !strings.HasPrefix(sub, kind) {
			continue
		}
		switch strings.TrimPrefix(sub, kind) {
		case "freq", "per", "dcyc", "pol", "span", "offs", "del", "coun",
			"trig:sour", "init:cont", "init", "abor",
			"mark:star", "mark:end", "mark:pstart", "mark:pend":
			return true
		}
	}
	return false
}

func (s *Simulator) setSenseBatch(cmd scpi.Command, apply func(*channelState, scpi.Value) bool) bool {
	if len(cmd.Args) != 2 {
		return false
	}
	channels, ok := scpi.AsChannels(cmd.Args[1])
	if !ok {
		return false
	}
	for _, n := range channels {
		if n < 1 || n > numChannels {
			return false
		}
		if !apply(&s.channels[n], cmd.Args[0]) {
			return false
		}
	}
	return true
}

func (s *Simulator) dispatchQuery(cmd scpi.Command) (string, bool) {
	pattern := scpi.HeadPattern(cmd.Head)
	switch pattern {
	case "*idn":
		return fmt.Sprintf("QDevil, QDAC-II, %s, 13-1.58", s.serial), true
	case "*stb":
		return "0", true
	case "syst:err":
		if len(s.errq) == 0 {
			return `0,"No error"`, true
		}
		next := s.errq[0]
		s.errq = s.errq[1:]
		return next, true
	case "syst:err:all":
		if len(s.errq) == 0 {
			return `0,"No error"`, true
		}
		all := strings.Join(s.errq, ",")
		s.errq = nil
		return all, true
	case "syst:err:coun":
		return fmt.Sprintf("%d", len(s.errq)), true
	case "syst:comm:lan:mac":
		return `"02005E005301"`, true
	case "read":
		if n := scpi.HeadNum(cmd.Head); n > 0 {
			if n > numChannels {
				return "", false
			}
			return scpi.FormatFloat(s.current(n)), true
		}
		channels, ok := scpi.AsChannels(arg(cmd, 0))
		if !ok {
			return "", false
		}
		readings := make([]string, len(channels))
		for i, n := range channels {
			if n < 1 || n > numChannels {
				return "", false
			}
			readings[i] = scpi.FormatFloat(s.current(n))
		}
		return strings.Join(readings, ", "), true
	}
	if strings.HasPrefix(pattern, "sour:") {
		ch, ok := s.channel(cmd)
		if !ok {
			return "", false
		}
		switch strings.TrimPrefix(pattern, "sour:") {
		case "volt":
			return scpi.FormatFloat(ch.voltage), true
		case "list:volt":
			values := make([]string, len(ch.list))
			for i, v := range ch.list {
				values[i] = scpi.FormatFloat(v)
			}
			return strings.Join(values, ", "), true
		case "list:poin":
			return fmt.Sprintf("%d", len(ch.list)), true
		case "swe:poin":
			return fmt.Sprintf("%d", ch.swePoints), true
		case "list:ncl", "swe:ncl", "squ:ncl", "sine:ncl", "tri:ncl":
			return "0", true
		}
	}
	return "", false
}

func (s *Simulator) current(channel int) float64 {
	if s.CurrentSource != nil {
		return s.CurrentSource(channel)
	}
	return 0
}

func arg(cmd scpi.Command, i int) scpi.Value {
	if i >= len(cmd.Args) {
		return nil
	}
	return cmd.Args[i]
}

func floatArgs(cmd scpi.Command) ([]float64, bool) {
	if len(cmd.Args) == 0 {
		return nil, false
	}
	values := make([]float64, len(cmd.Args))
	for i, a := range cmd.Args {
		v, ok := scpi.AsFloat(a)
		if !ok {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func renderArgs(cmd scpi.Command) string {
	full := cmd.String()
	if i := strings.IndexByte(full, ' '); i >= 0 {
		return full[i+1:]
	}
	return ""
}
