package scpi

import (
	"fmt"
	"strconv"
	"strings"
)

// Seg is one mnemonic segment of a command header. Num > 0 renders as a
// suffix directly on the mnemonic, e.g. {sour 3} -> "sour3".
type Seg struct {
	Name string
	Num  int
}

// Head is the colon-joined header of a command.
type Head []Seg

// H builds a header from a colon-separated mnemonic path without numeric
// suffixes, e.g. H("syst:cloc:send").
func H(path string) Head {
	parts := strings.Split(path, ":")
	head := make(Head, 0, len(parts))
	for _, p := range parts {
		head = append(head, Seg{Name: p})
	}
	return head
}

// HN builds a header whose last prefix segment carries a numeric suffix:
// HN("sour", 3, "list:volt") -> sour3:list:volt, and
// HN("outp:trig", 4, "sour") -> outp:trig4:sour.
func HN(prefix string, num int, rest string) Head {
	head := H(prefix)
	head[len(head)-1].Num = num
	if rest != "" {
		head = append(head, H(rest)...)
	}
	return head
}

// Command is a single SCPI command or query held in structured form until a
// connection renders it onto the wire.
type Command struct {
	Head  Head
	Args  []Value
	Query bool
}

// Cmd builds a set command.
func Cmd(head Head, args ...Value) Command {
	return Command{Head: head, Args: args}
}

// Qry builds a query.
func Qry(head Head, args ...Value) Command {
	return Command{Head: head, Args: args, Query: true}
}

// String renders the command to its single-line wire form.
func (c Command) String() string {
	var b strings.Builder
	for i, seg := range c.Head {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(seg.Name)
		if seg.Num > 0 {
			b.WriteString(strconv.Itoa(seg.Num))
		}
	}
	if c.Query {
		b.WriteByte('?')
	}
	if len(c.Args) > 0 {
		b.WriteByte(' ')
		for i, a := range c.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			a.render(&b)
		}
	}
	return b.String()
}

// Value is a typed command argument.
type Value interface {
	render(b *strings.Builder)
}

type intArg int

// Int is an integer argument.
func Int(v int) Value { return intArg(v) }

func (a intArg) render(b *strings.Builder) {
	b.WriteString(strconv.Itoa(int(a)))
}

type floatArg float64

// Float is a real-number argument, rendered in the shortest form that
// round-trips, e.g. 0, 0.5, 1e-06.
func Float(v float64) Value { return floatArg(v) }

func (a floatArg) render(b *strings.Builder) {
	b.WriteString(FormatFloat(float64(a)))
}

type floatsArg []float64

// Floats is a comma-joined list argument of real numbers.
func Floats(vs []float64) Value { return floatsArg(vs) }

func (a floatsArg) render(b *strings.Builder) {
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(FormatFloat(v))
	}
}

type symArg string

// Sym is a bare symbolic argument such as "fix" or "hold".
func Sym(s string) Value { return symArg(s) }

// Symf builds a symbolic argument from a format string, e.g.
// Symf("int%d", 3) -> int3.
func Symf(format string, args ...any) Value {
	return symArg(fmt.Sprintf(format, args...))
}

func (a symArg) render(b *strings.Builder) {
	b.WriteString(string(a))
}

type strArg string

// Str is a double-quoted string argument.
func Str(s string) Value { return strArg(s) }

func (a strArg) render(b *strings.Builder) {
	b.WriteByte('"')
	b.WriteString(string(a))
	b.WriteByte('"')
}

type chansArg []int

// Channels is a channel-list argument, rendered as (@1,2,3).
func Channels(chs ...int) Value { return chansArg(chs) }

func (a chansArg) render(b *strings.Builder) {
	b.WriteString("(@")
	for i, ch := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(ch))
	}
	b.WriteByte(')')
}

// FormatFloat renders a float the way command arguments are rendered.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
