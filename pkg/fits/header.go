package fits

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// A Header is one header unit: its cards in file order, plus the shape
// and layout facts we pull out of the mandatory keywords.
type Header struct {
	Cards []Card
	index map[string]int // keyword -> first card carrying a value

	Offset     int64  // where the header's first block starts
	DataOffset int64  // where the data starts (end of the END block)
	XTension   string // "" for the primary header

	Bitpix int
	Axes   []int // NAXIS1 first; NAXIS1 varies fastest in the data
	PCount int64
	GCount int64
}

func (h *Header) Primary() bool { return h.XTension == "" }

// Get returns the value of the first card with this keyword.
func (h *Header) Get(keyword string) (Value, bool) {
	i, ok := h.index[keyword]
	if !ok {
		return Value{}, false
	}
	return h.Cards[i].Value, true
}

func (h *Header) Float(keyword string, def float64) float64 {
	if v, ok := h.Get(keyword); ok {
		if f, ok := v.AsFloat(); ok {
			return f
		}
	}
	return def
}

func (h *Header) Int(keyword string, def int64) int64 {
	if v, ok := h.Get(keyword); ok {
		if i, ok := v.AsInt(); ok {
			return i
		}
	}
	return def
}

func (h *Header) Text(keyword string) string {
	if v, ok := h.Get(keyword); ok {
		return v.String()
	}
	return ""
}

// Scale and Zero are BSCALE and BZERO; identity when absent.
func (h *Header) Scale() float64 { return h.Float("BSCALE", 1.0) }
func (h *Header) Zero() float64  { return h.Float("BZERO", 0.0) }

// Blank is the BLANK keyword, which only means something for integer data.
func (h *Header) Blank() (int64, bool) {
	if h.Bitpix < 0 {
		return 0, false
	}
	v, ok := h.Get("BLANK")
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// SampleBytes is the width of one stored sample.
func (h *Header) SampleBytes() int {
	if h.Bitpix < 0 {
		return -h.Bitpix / 8
	}
	return h.Bitpix / 8
}

// Elements is the product of the axis lengths (0 if there are no axes).
func (h *Header) Elements() int64 {
	if len(h.Axes) == 0 {
		return 0
	}
	n := int64(1)
	for _, a := range h.Axes {
		n *= int64(a)
	}
	return n
}

// DataSize is the unpadded length of the data block that follows.
func (h *Header) DataSize() int64 {
	if len(h.Axes) == 0 {
		return 0
	}
	return int64(h.SampleBytes()) * h.GCount * (h.PCount + h.Elements())
}

// IsImage says whether the data block is an image array we can turn
// into a DataUnit. Tables are parsed, but never rendered.
func (h *Header) IsImage() bool {
	if h.XTension != "" && h.XTension != "IMAGE" {
		return false
	}
	return len(h.Axes) >= 2 && h.Elements() > 0
}

func (h *Header) Width() int {
	if len(h.Axes) < 1 {
		return 0
	}
	return h.Axes[0]
}

func (h *Header) Height() int {
	if len(h.Axes) < 2 {
		return 0
	}
	return h.Axes[1]
}

// NextOffset is where the following HDU (if any) begins.
func (h *Header) NextOffset() int64 {
	return h.DataOffset + padded(h.DataSize())
}

func (h *Header) Name() string {
	if name := h.Text("EXTNAME"); name != "" {
		return name
	}
	if h.Primary() {
		return "PRIMARY"
	}
	return h.XTension
}

func (h *Header) Summary() string {
	return fmt.Sprintf("%s bitpix=%d axes=%v @%d", h.Name(), h.Bitpix, h.Axes, h.Offset)
}

func padded(n int64) int64 {
	if rem := n % BlockSize; rem != 0 {
		return n + BlockSize - rem
	}
	return n
}

// ReadHeader parses the header unit starting at offset, which must sit
// on a block boundary. It returns the header and the offset of the next
// unit. A clean io.EOF (unwrapped) means there is no unit at offset.
func ReadHeader(r io.ReaderAt, offset int64) (*Header, int64, error) {
	if offset%BlockSize != 0 {
		return nil, 0, parseErr(offset, ErrBlockAlignment, "header offset is not a multiple of %d", BlockSize)
	}

	h := &Header{
		Offset: offset,
		index:  map[string]int{},
		GCount: 1,
	}
	block := make([]byte, BlockSize)

	for off := offset; ; off += BlockSize {
		n, err := r.ReadAt(block, off)
		if n < BlockSize {
			switch {
			case err != nil && !errors.Is(err, io.EOF):
				return nil, 0, fmt.Errorf("read header block at %d: %w", off, err)
			case n == 0 && off == offset:
				return nil, 0, io.EOF
			case off == offset:
				return nil, 0, parseErr(off, ErrBlockAlignment, "%d trailing bytes are not a whole block", n)
			default:
				return nil, 0, parseErr(off, ErrTruncatedFile, "header has no END card")
			}
		}

		for i := 0; i < BlockSize; i += CardSize {
			card, end, err := parseCard(block[i : i+CardSize])
			if err != nil {
				return nil, 0, &ParseError{Offset: off + int64(i), Err: err}
			}
			if end {
				h.DataOffset = off + BlockSize
				if err := h.interpret(); err != nil {
					return nil, 0, err
				}
				return h, h.NextOffset(), nil
			}
			h.addCard(card)
		}
	}
}

func (h *Header) addCard(c Card) {
	if c.Value.Kind != KindComment {
		if _, seen := h.index[c.Keyword]; !seen {
			h.index[c.Keyword] = len(h.Cards)
		}
	}
	h.Cards = append(h.Cards, c)
}

// interpret checks the mandatory keywords, which must come first and in
// this order: SIMPLE or XTENSION, BITPIX, NAXIS, NAXIS1..NAXISn.
func (h *Header) interpret() error {
	want := func(pos int, keyword string) (Value, error) {
		if pos >= len(h.Cards) || h.Cards[pos].Keyword != keyword {
			return Value{}, parseErr(h.Offset, ErrMandatoryKeyword, "expected %s as card %d", keyword, pos+1)
		}
		return h.Cards[pos].Value, nil
	}

	if h.Offset == 0 {
		v, err := want(0, "SIMPLE")
		if err != nil {
			return err
		}
		if v.Kind != KindBool {
			return parseErr(h.Offset, ErrInvalidKeyword, "SIMPLE must be logical, got %s", v.Kind)
		}
	} else {
		v, err := want(0, "XTENSION")
		if err != nil {
			return err
		}
		if v.Kind != KindString || v.Str == "" {
			return parseErr(h.Offset, ErrInvalidKeyword, "XTENSION must be a non-empty string")
		}
		h.XTension = v.Str
	}

	v, err := want(1, "BITPIX")
	if err != nil {
		return err
	}
	bitpix, ok := v.AsInt()
	if !ok {
		return parseErr(h.Offset, ErrInvalidKeyword, "BITPIX must be an integer")
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
		h.Bitpix = int(bitpix)
	default:
		return parseErr(h.Offset, ErrUnsupportedSampleWidth, "BITPIX %d", bitpix)
	}

	v, err = want(2, "NAXIS")
	if err != nil {
		return err
	}
	naxis, ok := v.AsInt()
	if !ok || naxis < 0 || naxis > 999 {
		return parseErr(h.Offset, ErrInvalidKeyword, "NAXIS must be an integer in [0,999]")
	}

	h.Axes = make([]int, naxis)
	for i := range h.Axes {
		v, err := want(3+i, "NAXIS"+strconv.Itoa(i+1))
		if err != nil {
			return err
		}
		n, ok := v.AsInt()
		if !ok || n < 0 {
			return parseErr(h.Offset, ErrInvalidKeyword, "NAXIS%d must be a non-negative integer", i+1)
		}
		h.Axes[i] = int(n)
	}

	if !h.Primary() {
		h.PCount = h.Int("PCOUNT", 0)
		h.GCount = h.Int("GCOUNT", 1)
		if h.PCount < 0 || h.GCount < 0 {
			return parseErr(h.Offset, ErrInvalidKeyword, "negative PCOUNT/GCOUNT")
		}
	}

	return nil
}

// NewHeader builds a primary header from cards that did not come out
// of a FITS file, e.g. a TIFF dressed up as a single image unit.
func NewHeader(cards []Card) (*Header, error) {
	h := &Header{index: map[string]int{}, GCount: 1}
	for _, c := range cards {
		h.addCard(c)
	}
	if err := h.interpret(); err != nil {
		return nil, err
	}
	return h, nil
}
