package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/abworrall/fex/pkg/fits"
)

// A Frame is a rendered, display-ready raster. It is never modified
// after Render returns it, so it can be shared between goroutines and
// held in caches.
type Frame struct {
	width, height int
	levels        []uint8
	pix           *image.RGBA
	params        Params
	stats         fits.Stats
	black, white  float64
	placeholder   bool
}

func (f *Frame) Width() int     { return f.width }
func (f *Frame) Height() int    { return f.height }
func (f *Frame) Params() Params { return f.params }

// Stats describes the samples the frame was rendered from, at full
// resolution.
func (f *Frame) Stats() fits.Stats { return f.stats }

// Range is the black and white points actually used.
func (f *Frame) Range() (black, white float64) { return f.black, f.white }

// IsPlaceholder is true for frames that stand in for data that could
// not be rendered.
func (f *Frame) IsPlaceholder() bool { return f.placeholder }

func (f *Frame) Level(x, y int) uint8 { return f.levels[y*f.width+x] }

// Levels returns a copy of the stretched 8 bit levels, row major.
func (f *Frame) Levels() []uint8 { return append([]uint8(nil), f.levels...) }

// RGBA returns a copy of the colormapped pixels.
func (f *Frame) RGBA() *image.RGBA {
	cp := *f.pix
	cp.Pix = append([]uint8(nil), f.pix.Pix...)
	return &cp
}

// SizeOf is roughly how much memory the frame holds on to.
func (f *Frame) SizeOf() int64 { return int64(len(f.levels) + len(f.pix.Pix)) }

// Equal reports whether two frames have identical pixels and levels.
func (f *Frame) Equal(other *Frame) bool {
	return f.width == other.width && f.height == other.height &&
		bytes.Equal(f.levels, other.levels) && bytes.Equal(f.pix.Pix, other.pix.Pix)
}

func (f *Frame) String() string {
	if f.placeholder {
		return fmt.Sprintf("placeholder[%dx%d]", f.width, f.height)
	}
	return fmt.Sprintf("frame[%dx%d %s range{%g,%g}]", f.width, f.height, f.params, f.black, f.white)
}

// Implement golang's image.Image interface
func (f *Frame) ColorModel() color.Model { return color.RGBAModel }
func (f *Frame) Bounds() image.Rectangle { return f.pix.Bounds() }
func (f *Frame) At(x, y int) color.Color { return f.pix.At(x, y) }
