package scpi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// SCPILexer defines the lexical structure of a single SCPI program message:
// a colon-joined header (mnemonics with optional numeric suffixes, or a
// star-prefixed common command), an optional ?, and comma-separated arguments.
var SCPILexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "ChannelList", Pattern: `\(@[0-9, ]*\)`},
	{Name: "Number", Pattern: `[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`},
	{Name: "Ident", Pattern: `\*?[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Colon", Pattern: `:`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Query", Pattern: `\?`},
})

type commandAST struct {
	Segments []string `parser:"@Ident (Colon @Ident)*"`
	Query    string   `parser:"@Query?"`
	Args     []argAST `parser:"(@@ (Comma @@)*)?"`
}

type argAST struct {
	Number   *float64 `parser:"  @Number"`
	Symbol   *string  `parser:"| @Ident"`
	String   *string  `parser:"| @String"`
	Channels *string  `parser:"| @ChannelList"`
}

// Parser parses SCPI wire text back into typed Commands. It accepts exactly
// the forms this library renders, which is what the simulator needs.
type Parser struct {
	parser *participle.Parser[commandAST]
}

// NewParser builds a SCPI command parser.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[commandAST](
		participle.Lexer(SCPILexer),
		participle.Elide("Whitespace"),
	)
	if err != nil {
		return nil, fmt.Errorf("scpi: build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses one program message. The result round-trips: rendering the
// returned Command reproduces the input up to numeric formatting.
func (p *Parser) Parse(line string) (Command, error) {
	ast, err := p.parser.ParseString("", line)
	if err != nil {
		return Command{}, fmt.Errorf("scpi: parse %q: %w", line, err)
	}
	cmd := Command{Query: ast.Query == "?"}
	for _, seg := range ast.Segments {
		cmd.Head = append(cmd.Head, splitSegment(seg))
	}
	for _, arg := range ast.Args {
		v, err := arg.value()
		if err != nil {
			return Command{}, fmt.Errorf("scpi: parse %q: %w", line, err)
		}
		cmd.Args = append(cmd.Args, v)
	}
	return cmd, nil
}

func (a argAST) value() (Value, error) {
	switch {
	case a.Number != nil:
		return Float(*a.Number), nil
	case a.Symbol != nil:
		return Sym(*a.Symbol), nil
	case a.String != nil:
		return Str(strings.Trim(*a.String, `"`)), nil
	case a.Channels != nil:
		return parseChannelList(*a.Channels)
	}
	return nil, fmt.Errorf("empty argument")
}

// splitSegment separates a trailing channel number from a mnemonic, so
// "sour3" becomes {sour 3}. Star commands and unnumbered mnemonics pass
// through whole.
func splitSegment(seg string) Seg {
	i := len(seg)
	for i > 0 && seg[i-1] >= '0' && seg[i-1] <= '9' {
		i--
	}
	if i == 0 || i == len(seg) {
		return Seg{Name: seg}
	}
	num, err := strconv.Atoi(seg[i:])
	if err != nil {
		return Seg{Name: seg}
	}
	return Seg{Name: seg[:i], Num: num}
}

func parseChannelList(text string) (Value, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(text, "(@"), ")")
	var chans []int
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad channel list %q: %w", text, err)
		}
		chans = append(chans, ch)
	}
	return Channels(chans...), nil
}

// HeadPattern is the number-free form of a header used for dispatch, e.g.
// "sour3:list:volt" has pattern "sour:list:volt".
func HeadPattern(head Head) string {
	var b strings.Builder
	for i, seg := range head {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(seg.Name)
	}
	return b.String()
}

// HeadNum returns the first numeric suffix in the header, or 0.
func HeadNum(head Head) int {
	for _, seg := range head {
		if seg.Num > 0 {
			return seg.Num
		}
	}
	return 0
}
