package fits

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	BlockSize = 2880 // every header and data block is padded to this
	CardSize  = 80
)

type ValueKind int

const (
	KindUndefined ValueKind = iota // "KEY     =" with no value
	KindString
	KindInt
	KindFloat
	KindBool
	KindComplex // kept as the raw text, we never need it as a number
	KindComment // COMMENT, HISTORY, blank keyword, or no value indicator
)

var kindNames = map[ValueKind]string{
	KindUndefined: "undefined",
	KindString:    "string",
	KindInt:       "int",
	KindFloat:     "float",
	KindBool:      "bool",
	KindComplex:   "complex",
	KindComment:   "comment",
}

func (k ValueKind) String() string { return kindNames[k] }

// A Value is the typed value of one header card.
type Value struct {
	Kind  ValueKind
	Str   string // strings, complex and comment text
	Int   int64
	Float float64
	Bool  bool
}

// AsFloat returns numeric values (int or float) as a float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// AsInt returns integer values, and floats that hold an exact integer
// (some writers put "NAXIS1 = 512." into headers).
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindFloat:
		if i := int64(v.Float); float64(i) == v.Float {
			return i, true
		}
	}
	return 0, false
}

func (v Value) String() string {
	switch v.Kind {
	case KindString, KindComplex, KindComment:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'G', -1, 64)
	case KindBool:
		if v.Bool {
			return "T"
		}
		return "F"
	}
	return ""
}

// A Card is one 80 byte header record.
type Card struct {
	Keyword string
	Value   Value
	Comment string
}

func (c Card) String() string {
	if c.Value.Kind == KindComment {
		return fmt.Sprintf("%-8s %s", c.Keyword, c.Value.Str)
	}
	s := fmt.Sprintf("%-8s= %v", c.Keyword, c.Value)
	if c.Comment != "" {
		s += " / " + c.Comment
	}
	return s
}

func isCommentary(keyword string) bool {
	return keyword == "" || keyword == "COMMENT" || keyword == "HISTORY"
}

// parseCard decodes a single 80 byte record. It reports whether the
// record was the END marker.
func parseCard(raw []byte) (Card, bool, error) {
	for i, b := range raw {
		if b < 0x20 || b > 0x7e {
			return Card{}, false, fmt.Errorf("%w: non-printable byte 0x%02x at column %d", ErrInvalidKeyword, b, i+1)
		}
	}
	text := string(raw)

	name := text[:8]
	keyword := strings.TrimRight(name, " ")
	if err := checkKeyword(name, keyword); err != nil {
		return Card{}, false, err
	}

	if keyword == "END" {
		return Card{Keyword: keyword}, true, nil
	}

	if keyword == "HIERARCH" {
		return parseHierarch(text[8:])
	}

	if isCommentary(keyword) || text[8:10] != "= " {
		return Card{
			Keyword: keyword,
			Value:   Value{Kind: KindComment, Str: strings.TrimRight(text[8:], " ")},
		}, false, nil
	}

	val, comment, err := parseValue(text[10:])
	if err != nil {
		return Card{}, false, fmt.Errorf("%w: keyword %s: %v", ErrInvalidKeyword, keyword, err)
	}
	return Card{Keyword: keyword, Value: val, Comment: comment}, false, nil
}

// Keywords are left justified, upper case letters, digits, hyphen and
// underscore, padded with spaces.
func checkKeyword(name, keyword string) error {
	for i := 0; i < len(keyword); i++ {
		c := keyword[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: bad character %q in keyword %q", ErrInvalidKeyword, c, name)
		}
	}
	return nil
}

// ESO style long keywords: "HIERARCH ESO DET CHIP NAME = 'x' / comment"
func parseHierarch(rest string) (Card, bool, error) {
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return Card{Keyword: "HIERARCH", Value: Value{Kind: KindComment, Str: strings.TrimRight(rest, " ")}}, false, nil
	}
	keyword := strings.TrimSpace(rest[:eq])
	val, comment, err := parseValue(rest[eq+1:])
	if err != nil {
		return Card{}, false, fmt.Errorf("%w: HIERARCH %s: %v", ErrInvalidKeyword, keyword, err)
	}
	return Card{Keyword: keyword, Value: val, Comment: comment}, false, nil
}

func parseValue(s string) (Value, string, error) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return Value{Kind: KindUndefined}, "", nil
	}
	if s[0] == '/' {
		return Value{Kind: KindUndefined}, strings.TrimSpace(s[1:]), nil
	}

	if s[0] == '\'' {
		str, rest, err := parseQuoted(s)
		if err != nil {
			return Value{}, "", err
		}
		comment, err := trailingComment(rest)
		return Value{Kind: KindString, Str: str}, comment, err
	}

	token, comment := s, ""
	if i := strings.IndexByte(s, '/'); i >= 0 {
		token, comment = s[:i], strings.TrimSpace(s[i+1:])
	}
	token = strings.TrimSpace(token)

	switch {
	case token == "T":
		return Value{Kind: KindBool, Bool: true}, comment, nil
	case token == "F":
		return Value{Kind: KindBool, Bool: false}, comment, nil
	case strings.HasPrefix(token, "("):
		if !strings.HasSuffix(token, ")") {
			return Value{}, "", fmt.Errorf("unterminated complex value %q", token)
		}
		return Value{Kind: KindComplex, Str: token}, comment, nil
	}

	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return Value{Kind: KindInt, Int: i}, comment, nil
	}
	// Fortran writers use D for double precision exponents
	f, err := strconv.ParseFloat(strings.Replace(token, "D", "E", 1), 64)
	if err != nil {
		return Value{}, "", fmt.Errorf("cannot parse value %q", token)
	}
	return Value{Kind: KindFloat, Float: f}, comment, nil
}

// parseQuoted reads a quoted string starting at s[0]=='\”. A doubled
// quote is a literal quote; trailing spaces inside the quotes are not
// significant.
func parseQuoted(s string) (string, string, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return strings.TrimRight(b.String(), " "), s[i+1:], nil
	}
	return "", "", fmt.Errorf("unterminated string %q", s)
}

func trailingComment(rest string) (string, error) {
	rest = strings.TrimLeft(rest, " ")
	if rest == "" {
		return "", nil
	}
	if rest[0] != '/' {
		return "", fmt.Errorf("unexpected text %q after string value", rest)
	}
	return strings.TrimSpace(rest[1:]), nil
}
