package tiffsrc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/abworrall/fex/pkg/fits"
)

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("tiff.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestGray16(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 3, 2))
	vals := []uint16{0, 1, 1000, 32768, 65534, 65535}
	for i, v := range vals {
		img.SetGray16(i%3, i/3, color.Gray16{Y: v})
	}

	hdu, err := Decode(bytes.NewReader(encode(t, img)))
	if err != nil {
		t.Fatal(err)
	}
	if hdu.Bitpix != 16 || hdu.Width() != 3 || hdu.Height() != 2 || hdu.FrameCount() != 1 {
		t.Fatalf("header = %s", hdu.Summary())
	}

	got := fits.ToSamples(hdu.Data)
	for i, v := range vals {
		if got[i] != float64(v) {
			t.Errorf("sample %d = %v, want %d", i, got[i], v)
		}
	}
	if hdu.Text("ORIGIN") != "TIFF" {
		t.Errorf("ORIGIN = %q", hdu.Text("ORIGIN"))
	}
}

func TestGray8(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	copy(img.Pix, []uint8{0, 50, 200, 255})

	hdu, err := Decode(bytes.NewReader(encode(t, img)))
	if err != nil {
		t.Fatal(err)
	}
	if hdu.Bitpix != 8 {
		t.Fatalf("bitpix = %d", hdu.Bitpix)
	}
	got := fits.ToSamples(hdu.Data)
	for i, want := range []float64{0, 50, 200, 255} {
		if got[i] != want {
			t.Errorf("sample %d = %v, want %v", i, got[i], want)
		}
	}
}

func TestColourBecomesCube(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, G: 128, B: 0, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	hdu, err := Decode(bytes.NewReader(encode(t, img)))
	if err != nil {
		t.Fatal(err)
	}
	if hdu.FrameCount() != 3 {
		t.Fatalf("frames = %d, want 3", hdu.FrameCount())
	}

	want := [][]float64{
		{255 * 257, 1 * 257},
		{128 * 257, 2 * 257},
		{0, 3 * 257},
	}
	for f, w := range want {
		got, err := fits.Frame(hdu.Data, f)
		if err != nil {
			t.Fatal(err)
		}
		if got[0] != w[0] || got[1] != w[1] {
			t.Errorf("plane %d = %v, want %v", f, got, w)
		}
	}
}

func TestDecodeFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.tif")
	if err := os.WriteFile(path, []byte("this is not a tiff"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := DecodeFile(path)
	var pe *fits.ParseError
	if !errors.As(err, &pe) || pe.Path != path {
		t.Errorf("err = %v, want a ParseError for %s", err, path)
	}

	_, _, err = DecodeFile(filepath.Join(dir, "missing.tif"))
	var ioe *fits.IOError
	if !errors.As(err, &ioe) {
		t.Errorf("err = %v, want an IOError", err)
	}
}

func TestDecodeFile(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	path := filepath.Join(t.TempDir(), "flat.tiff")
	if err := os.WriteFile(path, encode(t, img), 0o644); err != nil {
		t.Fatal(err)
	}

	hdu, id, err := DecodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if id.Path != path || id.Size == 0 || hdu.Data.Len() != 16 {
		t.Errorf("id=%v len=%d", id, hdu.Data.Len())
	}
}

// twoPages appends a copy of the file's only image directory and links
// it in as a second page. With loop set, the copy links back to the
// first, as damaged files sometimes do.
func twoPages(t *testing.T, raw []byte, loop bool) []byte {
	t.Helper()
	le := binary.LittleEndian
	first := le.Uint32(raw[4:8])
	n := uint32(le.Uint16(raw[first:]))
	size := 2 + 12*n + 4

	out := append([]byte(nil), raw...)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	second := uint32(len(out))
	out = append(out, raw[first:first+size]...)

	le.PutUint32(out[first+2+12*n:], second)
	if loop {
		le.PutUint32(out[second+2+12*n:], first)
	}
	return out
}

func TestPageCount(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	copy(img.Pix, []uint8{1, 2, 3, 4})
	one := encode(t, img)

	tests := []struct {
		name  string
		raw   []byte
		want  int64
		ended bool
	}{
		{"single", one, 1, true},
		{"two pages", twoPages(t, one, false), 2, true},
		{"looping chain", twoPages(t, one, true), 2, false},
	}
	for _, tt := range tests {
		if _, ended := pageCount(tt.raw); ended != tt.ended {
			t.Errorf("%s: ended = %v, want %v", tt.name, ended, tt.ended)
		}
		hdu, err := Decode(bytes.NewReader(tt.raw))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := hdu.Int("NPAGES", 0); got != tt.want {
			t.Errorf("%s: NPAGES = %d, want %d", tt.name, got, tt.want)
		}
		if got := fits.ToSamples(hdu.Data); hdu.FrameCount() != 1 || got[3] != 4 {
			t.Errorf("%s: first page not decoded as the image: %v", tt.name, got)
		}
	}
}
