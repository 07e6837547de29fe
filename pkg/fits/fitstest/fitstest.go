// Package fitstest builds small FITS files for tests.
package fitstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const blockSize = 2880

// Card formats one 80 column header record. Numbers and logicals are
// right justified to column 30, strings are quoted, nil gives a
// commentary card.
func Card(keyword string, value interface{}, comment string) string {
	var s string
	switch v := value.(type) {
	case nil:
		s = fmt.Sprintf("%-8s%s", keyword, comment)
		comment = ""
	case bool:
		t := "F"
		if v {
			t = "T"
		}
		s = fmt.Sprintf("%-8s= %20s", keyword, t)
	case int:
		s = fmt.Sprintf("%-8s= %20d", keyword, v)
	case int64:
		s = fmt.Sprintf("%-8s= %20d", keyword, v)
	case float64:
		s = fmt.Sprintf("%-8s= %20s", keyword, formatFloat(v))
	case string:
		q := "'" + strings.ReplaceAll(v, "'", "''")
		for len(q) < 9 {
			q += " "
		}
		s = fmt.Sprintf("%-8s= %s'", keyword, q)
	default:
		panic(fmt.Sprintf("fitstest: unsupported card value %T", value))
	}
	if comment != "" {
		s += " / " + comment
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return fmt.Sprintf("%-80s", s)
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%G", f)
	if !strings.ContainsAny(s, ".E") {
		s += "."
	}
	return s
}

// A Unit is one header and data unit.
type Unit struct {
	Cards []string // without END
	Data  []byte   // unpadded
}

// Primary is a primary unit with the mandatory keywords for an image of
// the given shape; extra cards follow them.
func Primary(bitpix int, axes []int, data []byte, extra ...string) Unit {
	cards := []string{Card("SIMPLE", true, "conforms to FITS")}
	return Unit{Cards: append(append(cards, shapeCards(bitpix, axes)...), extra...), Data: data}
}

// Extension is an XTENSION unit (IMAGE, BINTABLE, ...).
func Extension(xtension string, bitpix int, axes []int, data []byte, extra ...string) Unit {
	cards := []string{Card("XTENSION", xtension, "")}
	cards = append(cards, shapeCards(bitpix, axes)...)
	cards = append(cards, Card("PCOUNT", 0, ""), Card("GCOUNT", 1, ""))
	return Unit{Cards: append(cards, extra...), Data: data}
}

func shapeCards(bitpix int, axes []int) []string {
	cards := []string{Card("BITPIX", bitpix, ""), Card("NAXIS", len(axes), "")}
	for i, a := range axes {
		cards = append(cards, Card(fmt.Sprintf("NAXIS%d", i+1), a, ""))
	}
	return cards
}

// Bytes lays out the units with END cards and block padding.
func Bytes(units ...Unit) []byte {
	var buf bytes.Buffer
	for _, u := range units {
		for _, c := range u.Cards {
			buf.WriteString(c)
		}
		buf.WriteString(fmt.Sprintf("%-80s", "END"))
		pad(&buf, ' ')
		buf.Write(u.Data)
		pad(&buf, 0)
	}
	return buf.Bytes()
}

func pad(buf *bytes.Buffer, b byte) {
	if rem := buf.Len() % blockSize; rem != 0 {
		buf.Write(bytes.Repeat([]byte{b}, blockSize-rem))
	}
}

// WriteFile writes raw bytes into dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func Uint8s(vals ...uint8) []byte { return append([]byte(nil), vals...) }

func Int16s(vals ...int16) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func Int32s(vals ...int32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

func Int64s(vals ...int64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(b[8*i:], uint64(v))
	}
	return b
}

func Float32s(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func Float64s(vals ...float64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

// Ramp is a w x h x frames cube of int16 where sample (x,y,f) is
// f*1000 + y*w + x.
func Ramp(w, h, frames int) []byte {
	vals := make([]int16, 0, w*h*frames)
	for f := 0; f < frames; f++ {
		for i := 0; i < w*h; i++ {
			vals = append(vals, int16(f*1000+i))
		}
	}
	return Int16s(vals...)
}
