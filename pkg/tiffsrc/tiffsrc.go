// Package tiffsrc dresses a TIFF up as a single FITS image unit, so the
// rest of fex never needs to know which kind of file it is looking at.
//
// Grayscale images become 2D images (8 bit gray as BITPIX 8, 16 bit gray
// as unsigned BITPIX 16). Anything with colour becomes a cube of three
// 16 bit frames: red, green and blue. EXIF tags, where present, become
// "EXIF <name>" header cards.
//
// Only the first page of a multi-page TIFF is read as image data. The
// NPAGES card says how many pages the file holds, so a viewer can tell
// when some were left out.
package tiffsrc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	exiftiff "github.com/rwcarlsen/goexif/tiff"
	"golang.org/x/image/tiff"

	"github.com/abworrall/fex/pkg/fits"
)

// Decode reads a whole TIFF. Only the first page in the file is used.
func Decode(r io.Reader) (*fits.HDU, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	img, err := tiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tiff decode: %w", err)
	}

	bitpix, axes, buf := samples(img)
	cards := []fits.Card{
		boolCard("SIMPLE", true),
		intCard("BITPIX", int64(bitpix)),
		intCard("NAXIS", int64(len(axes))),
	}
	for i, a := range axes {
		cards = append(cards, intCard(fmt.Sprintf("NAXIS%d", i+1), int64(a)))
	}
	if bitpix == 16 {
		cards = append(cards, floatCard("BSCALE", 1), floatCard("BZERO", 1<<15))
	}
	pages, ended := pageCount(raw)
	cards = append(cards, stringCard("ORIGIN", "TIFF"), intCard("NPAGES", int64(pages)))
	if ended {
		// the EXIF decoder walks the same chain and never stops on a loop
		cards = append(cards, exifCards(raw)...)
	}

	h, err := fits.NewHeader(cards)
	if err != nil {
		return nil, err
	}
	du, err := fits.NewDataUnit(buf, h.Bitpix, h.Axes, h.Scaling())
	if err != nil {
		return nil, err
	}
	return &fits.HDU{Header: h, Data: du}, nil
}

// DecodeFile is Decode on the file at path; errors carry the path.
func DecodeFile(path string) (*fits.HDU, fits.FileIdentity, error) {
	id, err := fits.Open(path)
	if err != nil {
		return nil, id, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, id, &fits.IOError{Path: path, Err: err}
	}
	defer f.Close()

	hdu, err := Decode(f)
	if err != nil {
		return nil, id, &fits.ParseError{Path: path, Err: err}
	}
	return hdu, id, nil
}

// samples lays the pixels out as big-endian FITS data, rows top to
// bottom, planes last.
func samples(img image.Image) (int, []int, []byte) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		buf := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := m.PixOffset(b.Min.X, y)
			buf = append(buf, m.Pix[i:i+w]...)
		}
		return 8, []int{w, h}, buf

	case *image.Gray16:
		buf := make([]byte, 0, 2*w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				buf = binary.BigEndian.AppendUint16(buf, m.Gray16At(x, y).Y^0x8000)
			}
		}
		return 16, []int{w, h}, buf
	}

	plane := 2 * w * h
	buf := make([]byte, 3*plane)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			i := 2 * ((y-b.Min.Y)*w + (x - b.Min.X))
			binary.BigEndian.PutUint16(buf[i:], uint16(r)^0x8000)
			binary.BigEndian.PutUint16(buf[plane+i:], uint16(g)^0x8000)
			binary.BigEndian.PutUint16(buf[2*plane+i:], uint16(bl)^0x8000)
		}
	}
	return 16, []int{w, h, 3}, buf
}

func boolCard(k string, v bool) fits.Card {
	return fits.Card{Keyword: k, Value: fits.Value{Kind: fits.KindBool, Bool: v}}
}

func intCard(k string, v int64) fits.Card {
	return fits.Card{Keyword: k, Value: fits.Value{Kind: fits.KindInt, Int: v}}
}

func floatCard(k string, v float64) fits.Card {
	return fits.Card{Keyword: k, Value: fits.Value{Kind: fits.KindFloat, Float: v}}
}

func stringCard(k, v string) fits.Card {
	return fits.Card{Keyword: k, Value: fits.Value{Kind: fits.KindString, Str: v}}
}

// maxPages stops the page walk on files whose directory chain never ends.
const maxPages = 1 << 12

// pageCount follows the chain of image file directories. A chain that
// loops back on itself is counted once round. ended is false unless the
// chain finished cleanly on a zero offset.
func pageCount(raw []byte) (n int, ended bool) {
	defer func() {
		if recover() != nil {
			n, ended = max(n, 1), false
		}
	}()

	if len(raw) < 8 {
		return 0, false
	}
	var order binary.ByteOrder
	switch string(raw[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, false
	}

	r := bytes.NewReader(raw)
	seen := map[uint32]bool{}
	off := order.Uint32(raw[4:8])
	for ; off != 0 && !seen[off] && n < maxPages; n++ {
		seen[off] = true
		if _, err := r.Seek(int64(off), io.SeekStart); err != nil {
			return n, false
		}
		_, next, err := exiftiff.DecodeDir(r, order)
		if err != nil {
			return n, false
		}
		off = uint32(next)
	}
	return n, off == 0
}

type exifWalker struct{ cards []fits.Card }

func (ew *exifWalker) Walk(name exif.FieldName, tag *exiftiff.Tag) error {
	k := "EXIF " + string(name)
	switch tag.Format() {
	case exiftiff.StringVal:
		if s, err := tag.StringVal(); err == nil {
			ew.cards = append(ew.cards, stringCard(k, s))
		}
	case exiftiff.IntVal:
		if tag.Count == 1 {
			if v, err := tag.Int64(0); err == nil {
				ew.cards = append(ew.cards, intCard(k, v))
			}
			break
		}
		ew.cards = append(ew.cards, stringCard(k, tag.String()))
	case exiftiff.RatVal:
		if num, denom, err := tag.Rat2(0); err == nil && tag.Count == 1 && denom != 0 {
			ew.cards = append(ew.cards, floatCard(k, float64(num)/float64(denom)))
			break
		}
		ew.cards = append(ew.cards, stringCard(k, tag.String()))
	case exiftiff.FloatVal:
		if v, err := tag.Float(0); err == nil {
			ew.cards = append(ew.cards, floatCard(k, v))
		}
	}
	return nil
}

// exifCards is empty when the file carries no usable EXIF; that is
// normal for scientific TIFFs.
func exifCards(raw []byte) (cards []fits.Card) {
	// malformed EXIF blocks can panic the decoder; they are not worth
	// failing the image over
	defer func() {
		if recover() != nil {
			cards = nil
		}
	}()

	ex, err := exif.Decode(bytes.NewReader(raw))
	if ex == nil || (err != nil && exif.IsCriticalError(err)) {
		return nil
	}
	ew := &exifWalker{}
	ex.Walk(ew)
	return ew.cards
}
